package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/napwatch/internal/audio"
)

var soundCmd = &cobra.Command{
	Use:   "sound",
	Short: "Manage the alarm sound",
	Long:  `List, select, preview, or toggle the alarm sound.`,
}

var soundListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available sounds",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		stores, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer stores.Close()

		current := stores.prefs.SoundID()
		for _, id := range audio.Catalog() {
			marker := " "
			if id == current {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, id)
		}
		if !stores.prefs.SoundEnabled() {
			fmt.Println("\nSound is currently disabled.")
		}
		return nil
	},
}

var soundSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Select the alarm sound",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		stores, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer stores.Close()

		id := audio.SoundID(args[0])
		if !audio.ValidSound(id) {
			return fmt.Errorf("unknown sound %q (use 'napwatch sound list')", args[0])
		}
		if err := stores.prefs.SetSoundID(id); err != nil {
			return err
		}
		fmt.Printf("Alarm sound set to %s.\n", id)
		return nil
	},
}

var soundPreviewCmd = &cobra.Command{
	Use:   "preview [name]",
	Short: "Play a short sample",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		stores, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer stores.Close()

		id := stores.prefs.SoundID()
		if len(args) == 1 {
			id = audio.SoundID(args[0])
			if !audio.ValidSound(id) {
				return fmt.Errorf("unknown sound %q", args[0])
			}
		}

		player := audio.New(id, false)
		if err := player.Preview(id); err != nil {
			return fmt.Errorf("preview: %w", err)
		}
		// Playback runs on a background goroutine; hold the process open
		// for the preview ceiling so the sample finishes.
		time.Sleep(audio.PreviewCeiling)
		player.Stop()
		return nil
	},
}

var soundOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Enable the alarm sound",
	RunE:  func(cmd *cobra.Command, args []string) error { return setSoundEnabled(true) },
}

var soundOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Disable the alarm sound",
	RunE:  func(cmd *cobra.Command, args []string) error { return setSoundEnabled(false) },
}

func setSoundEnabled(enabled bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := stores.prefs.SetSoundEnabled(enabled); err != nil {
		return err
	}
	if enabled {
		fmt.Println("Alarm sound enabled.")
	} else {
		fmt.Println("Alarm sound disabled; reminders will only notify.")
	}
	return nil
}

func init() {
	soundCmd.AddCommand(soundListCmd)
	soundCmd.AddCommand(soundSetCmd)
	soundCmd.AddCommand(soundPreviewCmd)
	soundCmd.AddCommand(soundOnCmd)
	soundCmd.AddCommand(soundOffCmd)
	rootCmd.AddCommand(soundCmd)
}
