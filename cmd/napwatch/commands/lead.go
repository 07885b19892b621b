package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/napwatch/internal/alarm"
	"github.com/marcus/napwatch/internal/api"
)

var leadCmd = &cobra.Command{
	Use:   "lead [duration]",
	Short: "Show or set the reminder lead time",
	Long: `Show or set how far before a sleep event the reminder fires.

Without arguments, prints the current lead time. With a duration
("10m", "90s", or plain seconds) sets the global lead, persisting it
locally and pushing it to the server. With --this-nap the change
applies only to the currently targeted nap and reverts automatically
when the target changes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLead,
}

var leadThisNapFlag bool

func init() {
	leadCmd.Flags().BoolVar(&leadThisNapFlag, "this-nap", false, "Apply only to the currently targeted nap")
	rootCmd.AddCommand(leadCmd)
}

func runLead(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	if len(args) == 0 {
		if leadThisNapFlag {
			return fmt.Errorf("--this-nap requires a duration")
		}

		// The lead is a shared server setting; prefer the server's value
		// and keep the local copy in sync for the daemon.
		client := api.New(cfg.Server.URL, cfg.Server.Timeout)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		sec, err := client.LeadTime(ctx)
		if err != nil {
			sec = stores.prefs.LeadTimeSec()
			fmt.Printf("Lead time: %s (%d sec, local; server unreachable)\n",
				alarm.FormatLead(sec), sec)
			return nil
		}
		if sec != stores.prefs.LeadTimeSec() {
			if err := stores.prefs.SetLeadTimeSec(sec); err != nil {
				return err
			}
		}
		fmt.Printf("Lead time: %s (%d sec)\n", alarm.FormatLead(sec), sec)
		return nil
	}

	sec, err := parseLeadInput(args[0])
	if err != nil {
		return err
	}

	if leadThisNapFlag {
		// A one-shot override lives in the running engine's timer state;
		// a separate CLI process cannot reach into the daemon.
		return fmt.Errorf("--this-nap requires the interactive dashboard ('napwatch watch'); use the global lead here")
	}

	if err := stores.prefs.SetLeadTimeSec(sec); err != nil {
		return err
	}

	client := api.New(cfg.Server.URL, cfg.Server.Timeout)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.SetLeadTime(ctx, sec); err != nil {
		fmt.Printf("warning: could not push lead to server: %v\n", err)
	}

	if sec == 0 {
		fmt.Println("Lead set to 0: reminders disabled.")
	} else {
		fmt.Printf("Lead time set to %s.\n", alarm.FormatLead(sec))
	}
	fmt.Println("The daemon picks up the change on its next refresh.")
	return nil
}
