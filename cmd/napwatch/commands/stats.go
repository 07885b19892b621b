package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats [date]",
	Short: "Show nap and reminder history",
	Long: `Display recorded naps and reminder outcomes for a day.

Accepts "today", "yesterday", or a YYYY-MM-DD date. Defaults to today.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := ""
		if len(args) == 1 {
			input = args[0]
		}
		date, err := parseDateInput(input)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		stores, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer stores.Close()

		sum, err := stores.history.DaySummary(date)
		if err != nil {
			return fmt.Errorf("reading history: %w", err)
		}

		if sum.Naps == 0 && sum.RemindersFired == 0 {
			fmt.Printf("No recorded activity for %s.\n", date)
			return nil
		}

		fmt.Printf("Activity for %s\n", date)
		fmt.Printf("================\n\n")
		fmt.Printf("Naps:      %d\n", sum.Naps)
		fmt.Printf("Sleep:     %s\n", formatSleep(sum.TotalSleepSec))
		fmt.Printf("Reminders: %d fired", sum.RemindersFired)
		if sum.Snoozed > 0 || sum.Dismissed > 0 {
			fmt.Printf(" (%d snoozed, %d dismissed)", sum.Snoozed, sum.Dismissed)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func formatSleep(sec int) string {
	d := time.Duration(sec) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
