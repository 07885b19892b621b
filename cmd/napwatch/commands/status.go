package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/napwatch/internal/alarm"
	"github.com/marcus/napwatch/internal/api"
	"github.com/marcus/napwatch/internal/reminder"
	"github.com/marcus/napwatch/internal/timeline"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's projected timeline",
	Long: `Fetch today's schedule and print the projected nap timeline along
with the reminder that would fire next.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		clock := reminder.NewSystemClock(cfg.Debug.ClockOffset)
		now := clock.Now()
		date := now.Format("2006-01-02")

		client := api.New(cfg.Server.URL, cfg.Server.Timeout)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		snap, err := client.Schedule(ctx, date)
		if err != nil {
			if errors.Is(err, api.ErrNotFound) {
				fmt.Println("No schedule for today.")
				return nil
			}
			return fmt.Errorf("fetching schedule: %w", err)
		}

		entries := timeline.Build(snap.Day, snap.Naps, now)
		printTimeline(entries, now)

		if snap.SleepSession.Active() {
			fmt.Println("\nOvernight sleep in progress.")
		}

		stores, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer stores.Close()

		printNextReminder(entries, now, stores.prefs.LeadTimeSec())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printTimeline(entries []timeline.Entry, now time.Time) {
	if len(entries) == 0 {
		fmt.Println("No naps planned today.")
		return
	}

	fmt.Printf("Today's naps (%s):\n\n", now.Format("Mon Jan 2"))

	for _, ent := range entries {
		var marker, note string
		switch ent.Nap.Status {
		case timeline.NapFinished:
			marker = "*"
			note = "done"
		case timeline.NapInProgress:
			marker = ">"
			note = "sleeping"
		default:
			marker = "o"
			note = "upcoming"
			if ent.Projected {
				note = "projected"
			}
		}
		fmt.Printf("  %s nap %d  %s - %s  (%s)\n",
			marker, ent.Nap.Index,
			ent.InferredStart.Format("15:04"),
			ent.EndTime.Format("15:04"),
			note)
	}
}

func printNextReminder(entries []timeline.Entry, now time.Time, leadSec int) {
	fmt.Println()

	if ent, end := timeline.CurrentProjectedEnd(entries); ent != nil {
		fireAt := end.Add(-time.Duration(leadSec) * time.Second)
		label := "now"
		if fireAt.After(now) {
			label = "in " + formatUntil(fireAt.Sub(now))
		}
		fmt.Printf("Next reminder: nap %d ending (%s lead) fires %s\n",
			ent.Nap.Index, alarm.FormatLead(leadSec), label)
		return
	}

	if ent, start := timeline.NextPlannedStart(entries); ent != nil {
		fireAt := start.Add(-time.Duration(leadSec) * time.Second)
		label := "now"
		if fireAt.After(now) {
			label = "in " + formatUntil(fireAt.Sub(now))
		}
		fmt.Printf("Next reminder: nap %d starting (%s lead) fires %s\n",
			ent.Nap.Index, alarm.FormatLead(leadSec), label)
		return
	}

	fmt.Println("No reminder pending; the day is done.")
}

func formatUntil(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}
