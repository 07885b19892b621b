package engine

import (
	"time"

	"github.com/marcus/napwatch/internal/reminder"
)

// EventType classifies engine lifecycle events.
type EventType int

const (
	EventRefresh   EventType = iota // schedule fetched and timers re-evaluated
	EventFired                      // a reminder fired
	EventSnoozed                    // user snoozed the fired reminder
	EventDismissed                  // user dismissed the fired reminder
	EventSettings                   // lead time or sound settings changed
	EventDegraded                   // schedule fetch failed, fail-safe engaged
)

// Event carries data about an engine lifecycle event.
type Event struct {
	Type     EventType
	Time     time.Time
	Context  reminder.Context // for fire/snooze/dismiss events
	NapIndex int
	Message  string
	Error    string // for EventDegraded
}

// EventHandler is a callback that receives engine events. Handlers run on
// the engine's goroutine and must not block.
type EventHandler func(Event)
