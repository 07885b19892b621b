package alarm

import (
	"testing"
	"time"

	"github.com/marcus/napwatch/internal/reminder"
)

type stubNotifier struct {
	titles []string
	bodies []string
	err    error
}

func (n *stubNotifier) Notify(title, body string) error {
	n.titles = append(n.titles, title)
	n.bodies = append(n.bodies, body)
	return n.err
}

type stubPlayer struct {
	plays int
	stops int
	err   error
}

func (p *stubPlayer) Play() error {
	p.plays++
	return p.err
}

func (p *stubPlayer) Stop() { p.stops++ }

func TestFormatLead(t *testing.T) {
	tests := []struct {
		sec  int
		want string
	}{
		{0, "0 sec"},
		{45, "45 sec"},
		{59, "59 sec"},
		{60, "1 min"},
		{89, "1 min"},
		{90, "2 min"},
		{120, "2 min"},
		{1200, "20 min"},
		{-5, "0 sec"},
	}

	for _, tt := range tests {
		if got := FormatLead(tt.sec); got != tt.want {
			t.Errorf("FormatLead(%d) = %q, want %q", tt.sec, got, tt.want)
		}
	}
}

func TestMessage(t *testing.T) {
	endFire := reminder.Fire{Context: reminder.ContextNapEnd, NapIndex: 2, AchievedLeadSec: 1200}
	title, body := Message(endFire)
	if title != "Nap ending soon" {
		t.Errorf("title = %q", title)
	}
	if body != "20 min before end of nap 2" {
		t.Errorf("body = %q", body)
	}

	startFire := reminder.Fire{Context: reminder.ContextNapStart, NapIndex: 3, AchievedLeadSec: 45}
	title, body = Message(startFire)
	if title != "Nap coming up" {
		t.Errorf("title = %q", title)
	}
	if body != "45 sec before next nap" {
		t.Errorf("body = %q", body)
	}
}

func TestPresentNotifiesAndPlays(t *testing.T) {
	n := &stubNotifier{}
	p := &stubPlayer{}
	b := New(reminder.New(), n, p)

	b.Present(reminder.Fire{Context: reminder.ContextNapEnd, NapIndex: 1, AchievedLeadSec: 600, FireTime: time.Now()})

	if len(n.titles) != 1 {
		t.Fatalf("notified %d times, want 1", len(n.titles))
	}
	if p.plays != 1 {
		t.Errorf("played %d times, want 1", p.plays)
	}
}

func TestPresentSurvivesCollaboratorErrors(t *testing.T) {
	n := &stubNotifier{err: errNotify}
	p := &stubPlayer{err: errPlay}
	b := New(reminder.New(), n, p)

	// Must not panic; playback errors stay internal.
	b.Present(reminder.Fire{Context: reminder.ContextNapStart, NapIndex: 1, AchievedLeadSec: 60})

	if len(n.titles) != 1 || p.plays != 1 {
		t.Error("both collaborators should still be invoked")
	}
}

func TestPresentNilCollaborators(t *testing.T) {
	b := New(reminder.New(), nil, nil)
	b.Present(reminder.Fire{Context: reminder.ContextNapEnd})
	b.Silence()
}

func TestSnoozeAndDismissStopAudio(t *testing.T) {
	p := &stubPlayer{}
	b := New(reminder.New(), &stubNotifier{}, p)

	b.Snooze(reminder.ContextNapEnd)
	b.Dismiss(reminder.ContextNapStart)

	if p.stops != 2 {
		t.Errorf("audio stopped %d times, want 2", p.stops)
	}
}

var (
	errNotify = errString("notify failed")
	errPlay   = errString("play blocked")
)

type errString string

func (e errString) Error() string { return string(e) }
