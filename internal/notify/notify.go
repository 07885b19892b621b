// Package notify delivers desktop notifications by shelling out to the
// platform notifier (osascript on macOS, notify-send elsewhere).
package notify

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/marcus/napwatch/internal/logging"
)

// runner abstracts command execution for tests.
type runner func(name string, args ...string) error

// Desktop sends notifications through the OS notification center.
type Desktop struct {
	run  runner
	look func(name string) (string, error)
	goos string
	log  *logging.Logger
}

// New creates a Desktop notifier for the current platform.
func New() *Desktop {
	return &Desktop{
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
		look: exec.LookPath,
		goos: runtime.GOOS,
		log:  logging.Component("notify"),
	}
}

// Notify shows a notification with the given title and body.
func (d *Desktop) Notify(title, body string) error {
	switch d.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		return d.run("osascript", "-e", script)
	default:
		if _, err := d.look("notify-send"); err != nil {
			return fmt.Errorf("no notifier available: %w", err)
		}
		return d.run("notify-send", "--app-name=napwatch", title, body)
	}
}
