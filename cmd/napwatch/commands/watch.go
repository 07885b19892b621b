package commands

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/napwatch/internal/engine"
	"github.com/marcus/napwatch/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive dashboard",
	Long: `Open the interactive terminal dashboard.

Shows today's projected nap timeline, the countdown to the next
reminder, and live engine events. While a reminder is ringing, press
's' to snooze or 'd' to dismiss.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Dashboard owns the terminal; keep logs in files only.
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refreshCh := make(chan struct{}, 1)
	requestRefresh := func() {
		select {
		case refreshCh <- struct{}{}:
		default:
		}
	}

	// Engine events are forwarded to the program once it is running; no
	// event can arrive earlier because timers only arm after a refresh.
	var program *tea.Program
	var eng *engine.Engine
	eng = buildEngine(cfg, stores, func(ev engine.Event) {
		if program == nil {
			return
		}
		program.Send(ui.EventMsg(ev))
		program.Send(ui.StatusMsg(eng.Status()))
	})
	defer eng.Shutdown()

	model := ui.New(eng, requestRefresh)
	program, err = model.RunWithProgram()
	if err != nil {
		return err
	}

	interval := cfg.Refresh.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		_ = eng.Refresh(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = eng.Refresh(ctx)
			case <-refreshCh:
				_ = eng.Refresh(ctx)
			}
		}
	}()

	program.Wait()
	return nil
}
