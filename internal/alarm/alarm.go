// Package alarm turns fired reminders into user-facing notifications and
// audio playback, and routes snooze/dismiss actions back through the
// scheduler so reminder state stays single-sourced.
package alarm

import (
	"fmt"

	"github.com/marcus/napwatch/internal/logging"
	"github.com/marcus/napwatch/internal/reminder"
)

// Notifier delivers a visible notification. Implementations must be safe to
// call from timer goroutines.
type Notifier interface {
	Notify(title, body string) error
}

// Player is the audio playback collaborator.
type Player interface {
	Play() error
	Stop()
}

// Bridge decides the outward-facing message for a fired reminder and
// requests the notification and audio side effects.
type Bridge struct {
	notifier  Notifier
	player    Player
	scheduler *reminder.Scheduler
	log       *logging.Logger
}

// New creates a Bridge. Any collaborator may be nil; missing capabilities
// degrade to no-ops rather than errors.
func New(scheduler *reminder.Scheduler, notifier Notifier, player Player) *Bridge {
	return &Bridge{
		notifier:  notifier,
		player:    player,
		scheduler: scheduler,
		log:       logging.Component("alarm"),
	}
}

// Present handles a fired reminder: builds the message, notifies, and starts
// the alarm sound. Playback failures are recovered inside the player and
// never surfaced to the user; the notification still goes out.
func (b *Bridge) Present(f reminder.Fire) {
	title, body := Message(f)

	b.log.InfoCtx("reminder fired", map[string]any{
		"context":  string(f.Context),
		"nap":      f.NapIndex,
		"lead_sec": f.AchievedLeadSec,
	})

	if b.notifier != nil {
		if err := b.notifier.Notify(title, body); err != nil {
			b.log.Warnf("notify: %v", err)
		}
	}

	if b.player != nil {
		if err := b.player.Play(); err != nil {
			b.log.Warnf("alarm playback: %v", err)
		}
	}
}

// Snooze pushes the context's reminder back and silences the alarm. Both the
// dashboard keys and notification actions land here.
func (b *Bridge) Snooze(ctx reminder.Context) {
	if b.player != nil {
		b.player.Stop()
	}
	b.scheduler.Snooze(ctx)
}

// Dismiss cancels the context's reminder and silences the alarm.
func (b *Bridge) Dismiss(ctx reminder.Context) {
	if b.player != nil {
		b.player.Stop()
	}
	b.scheduler.Dismiss(ctx)
}

// Silence stops audio without touching reminder state. Used by the fail-safe
// path when the schedule becomes untrusted.
func (b *Bridge) Silence() {
	if b.player != nil {
		b.player.Stop()
	}
}

// Message builds the notification title and body for a fire.
func Message(f reminder.Fire) (title, body string) {
	switch f.Context {
	case reminder.ContextNapEnd:
		title = "Nap ending soon"
		body = fmt.Sprintf("%s before end of nap %d", FormatLead(f.AchievedLeadSec), f.NapIndex)
	default:
		title = "Nap coming up"
		body = fmt.Sprintf("%s before next nap", FormatLead(f.AchievedLeadSec))
	}
	return title, body
}

// FormatLead renders a lead time in seconds as a short human label:
// under a minute as "N sec", otherwise rounded minutes with a singular
// "1 min".
func FormatLead(sec int) string {
	if sec < 0 {
		sec = 0
	}
	if sec < 60 {
		return fmt.Sprintf("%d sec", sec)
	}
	minutes := (sec + 30) / 60
	if minutes == 1 {
		return "1 min"
	}
	return fmt.Sprintf("%d min", minutes)
}
