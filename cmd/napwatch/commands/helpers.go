package commands

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/napwatch/internal/api"
	"github.com/marcus/napwatch/internal/audio"
	"github.com/marcus/napwatch/internal/config"
	"github.com/marcus/napwatch/internal/engine"
	"github.com/marcus/napwatch/internal/history"
	"github.com/marcus/napwatch/internal/logging"
	"github.com/marcus/napwatch/internal/notify"
	"github.com/marcus/napwatch/internal/prefs"
	"github.com/marcus/napwatch/internal/reminder"
)

func loadConfig() (*config.Config, error) {
	return config.Load(configFlag)
}

func initLogging(cfg *config.Config) error {
	logCfg := cfg.Logging
	if verboseFlag {
		logCfg.Level = "debug"
	}
	return logging.Init(logCfg)
}

// runtimeStores holds the stores an engine needs, so commands can close
// them when done.
type runtimeStores struct {
	prefs   *prefs.Store
	history *history.Store
}

func (s *runtimeStores) Close() {
	if s.history != nil {
		_ = s.history.Close()
	}
	if s.prefs != nil {
		_ = s.prefs.Close()
	}
}

func openStores(cfg *config.Config) (*runtimeStores, error) {
	prefStore, err := prefs.Open(filepath.Join(cfg.DataDir, "prefs.db"))
	if err != nil {
		return nil, fmt.Errorf("open prefs: %w", err)
	}
	histStore, err := history.Open(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		_ = prefStore.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &runtimeStores{prefs: prefStore, history: histStore}, nil
}

// buildEngine assembles a fully wired engine from config and stores.
func buildEngine(cfg *config.Config, stores *runtimeStores, handler engine.EventHandler) *engine.Engine {
	client := api.New(cfg.Server.URL, cfg.Server.Timeout)
	player := audio.New(stores.prefs.SoundID(), !stores.prefs.SoundEnabled())
	clock := reminder.NewSystemClock(cfg.Debug.ClockOffset)

	opts := []engine.Option{
		engine.WithSource(client),
		engine.WithPreferences(stores.prefs),
		engine.WithRecorder(stores.history),
		engine.WithPlayer(player),
		engine.WithNotifier(notify.New()),
		engine.WithClock(clock),
	}
	if cfg.Reminder.Snooze > 0 {
		opts = append(opts, engine.WithSnoozeDuration(cfg.Reminder.Snooze))
	}
	if handler != nil {
		opts = append(opts, engine.WithEventHandler(handler))
	}
	return engine.New(opts...)
}

// parseLeadInput accepts "600", "90s", or "10m" and returns seconds.
func parseLeadInput(input string) (int, error) {
	value := strings.TrimSpace(strings.ToLower(input))
	if value == "" {
		return 0, fmt.Errorf("empty lead time")
	}

	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("lead time must not be negative")
		}
		return n, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid lead time %q (use seconds, \"90s\", or \"10m\")", input)
	}
	if d < 0 {
		return 0, fmt.Errorf("lead time must not be negative")
	}
	return int(d.Seconds()), nil
}

// parseDateInput accepts "today", "yesterday", or YYYY-MM-DD.
func parseDateInput(input string) (string, error) {
	value := strings.TrimSpace(strings.ToLower(input))
	now := time.Now()

	switch value {
	case "", "today":
		return now.Format("2006-01-02"), nil
	case "yesterday":
		return now.AddDate(0, 0, -1).Format("2006-01-02"), nil
	}

	if _, err := time.Parse("2006-01-02", value); err != nil {
		return "", fmt.Errorf("invalid date %q (use YYYY-MM-DD)", input)
	}
	return value, nil
}
