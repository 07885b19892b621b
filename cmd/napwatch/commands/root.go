// Package commands implements the napwatch CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.2.0"
)

var (
	configFlag  string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "napwatch",
	Short: "Nap schedule reminders for caregivers",
	Long: `Napwatch watches an infant's sleep schedule and reminds you shortly
before a nap is about to end or the next nap is about to start.

It fetches the schedule from your nursery server, projects the rest of
the day, and fires a desktop notification plus an audible alarm at the
configured lead time. Run it as a background daemon or as an interactive
dashboard with 'napwatch watch'.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file path (default ~/.config/napwatch/napwatch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
}
