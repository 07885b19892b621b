package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/marcus/napwatch/internal/config"
	"github.com/marcus/napwatch/internal/engine"
	"github.com/marcus/napwatch/internal/logging"
)

const (
	pidFileName = "napwatch.pid"

	// historyKeepDays bounds the reminder/nap history pruned at rollover.
	historyKeepDays = 90
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage background daemon",
	Long:  `Start, stop, or check status of the napwatch background daemon.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start background daemon",
	Long: `Start the napwatch daemon as a background process.

The daemon polls the schedule server, keeps the reminder timer armed
against the projected timeline, and fires notifications and the alarm
sound at the configured lead time.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop background daemon",
	Long:  `Stop the running napwatch daemon by sending SIGTERM.`,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Long:  `Check if the napwatch daemon is running.`,
	RunE:  runDaemonStatus,
}

var daemonForegroundFlag bool

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForegroundFlag, "foreground", "f", false, "Run in foreground (don't daemonize)")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// pidFilePath returns the path to the PID file.
func pidFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "napwatch", pidFileName)
}

// writePidFile writes the current process PID to the PID file.
func writePidFile() error {
	if err := os.MkdirAll(filepath.Dir(pidFilePath()), 0755); err != nil {
		return fmt.Errorf("creating pid dir: %w", err)
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0644)
}

// readPidFile reads the PID from the PID file.
func readPidFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

func removePidFile() error {
	return os.Remove(pidFilePath())
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; send signal 0 to check if alive
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// isDaemonRunning checks if the daemon is currently running.
func isDaemonRunning() (bool, int) {
	pid, err := readPidFile()
	if err != nil {
		return false, 0
	}
	return isProcessRunning(pid), pid
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if running, pid := isDaemonRunning(); running {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if daemonForegroundFlag {
		return runDaemonLoop(cfg)
	}

	// Daemonize: start a new process with --foreground flag
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable: %w", err)
	}

	daemonProc := exec.Command(executable, "daemon", "start", "--foreground")
	if configFlag != "" {
		daemonProc.Args = append(daemonProc.Args, "--config", configFlag)
	}
	daemonProc.Stdout = nil
	daemonProc.Stderr = nil
	daemonProc.Stdin = nil
	// Detach from parent process group
	daemonProc.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := daemonProc.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	fmt.Printf("daemon started (pid %d)\n", daemonProc.Process.Pid)
	return nil
}

func runDaemonLoop(cfg *config.Config) error {
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("daemon")

	if err := writePidFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = removePidFile() }()

	log.Info("daemon starting")

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	eng := buildEngine(cfg, stores, func(ev engine.Event) {
		switch ev.Type {
		case engine.EventFired:
			log.InfoCtx("reminder fired", map[string]any{
				"context": string(ev.Context),
				"nap":     ev.NapIndex,
			})
		case engine.EventDegraded:
			log.Warnf("degraded: %s", ev.Error)
		}
	})
	defer eng.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received signal %v, shutting down", sig)
		cancel()
	}()

	// Day rollover re-fetches the fresh schedule shortly after midnight.
	rollover := cron.New()
	spec := cfg.Refresh.Rollover
	if spec == "" {
		spec = "0 3 * * *"
	}
	if _, err := rollover.AddFunc(spec, func() {
		log.Info("day rollover refresh")
		if err := eng.Refresh(ctx); err != nil {
			log.Warnf("rollover refresh: %v", err)
		}
		if err := stores.history.Prune(historyKeepDays); err != nil {
			log.Warnf("prune history: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("rollover schedule: %w", err)
	}
	rollover.Start()
	defer rollover.Stop()

	interval := cfg.Refresh.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	if err := eng.Refresh(ctx); err != nil {
		log.Warnf("initial refresh: %v", err)
	}

	log.InfoCtx("daemon running", map[string]any{
		"server":   cfg.Server.URL,
		"interval": interval.String(),
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("daemon stopped")
			return nil
		case <-ticker.C:
			if err := eng.Refresh(ctx); err != nil {
				log.Warnf("refresh: %v", err)
			}
		}
	}
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		_ = removePidFile()
		return fmt.Errorf("daemon not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}

	// Wait briefly for the process to exit
	for i := 0; i < 20; i++ {
		if !isProcessRunning(pid) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Printf("daemon stopped (pid %d)\n", pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if running {
		fmt.Printf("daemon running (pid %d)\n", pid)
	} else {
		fmt.Println("daemon not running")
	}
	return nil
}
