package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/napwatch/internal/api"
	"github.com/marcus/napwatch/internal/audio"
	"github.com/marcus/napwatch/internal/history"
	"github.com/marcus/napwatch/internal/reminder"
	"github.com/marcus/napwatch/internal/timeline"
)

type fakeSource struct {
	mu       sync.Mutex
	snap     *api.Snapshot
	err      error
	pushed   []int
	requests int
}

func (f *fakeSource) Schedule(_ context.Context, _ string) (*api.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func (f *fakeSource) SetLeadTime(_ context.Context, sec int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, sec)
	return nil
}

type fakePrefs struct {
	enabled bool
	sound   audio.SoundID
	lead    int
}

func (p *fakePrefs) SoundEnabled() bool                 { return p.enabled }
func (p *fakePrefs) SetSoundEnabled(e bool) error       { p.enabled = e; return nil }
func (p *fakePrefs) SoundID() audio.SoundID             { return p.sound }
func (p *fakePrefs) SetSoundID(id audio.SoundID) error  { p.sound = id; return nil }
func (p *fakePrefs) LeadTimeSec() int                   { return p.lead }
func (p *fakePrefs) SetLeadTimeSec(sec int) error       { p.lead = sec; return nil }

type fakeRecorder struct {
	mu       sync.Mutex
	fires    []reminder.Fire
	outcomes map[uuid.UUID]history.Outcome
	naps     []string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{outcomes: make(map[uuid.UUID]history.Outcome)}
}

func (r *fakeRecorder) RecordFire(f reminder.Fire) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fires = append(r.fires, f)
	return nil
}

func (r *fakeRecorder) RecordOutcome(id uuid.UUID, o history.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[id] = o
	return nil
}

func (r *fakeRecorder) RecordNap(day string, idx int, _, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.naps = append(r.naps, day)
	return nil
}

type fakePlayer struct {
	mu       sync.Mutex
	muted    bool
	sound    audio.SoundID
	plays    int
	stops    int
	previews []audio.SoundID
}

func (p *fakePlayer) Play() error { p.mu.Lock(); defer p.mu.Unlock(); p.plays++; return nil }
func (p *fakePlayer) Stop()       { p.mu.Lock(); defer p.mu.Unlock(); p.stops++ }
func (p *fakePlayer) SetMuted(m bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = m
}
func (p *fakePlayer) SetSound(id audio.SoundID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sound = id
}
func (p *fakePlayer) Preview(id audio.SoundID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.previews = append(p.previews, id)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  int
	title string
}

func (n *fakeNotifier) Notify(title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent++
	n.title = title
	return nil
}

// fakeTimers records scheduled callbacks so tests can fire them manually.
type fakeTimers struct {
	mu      sync.Mutex
	pending []*fakeTimer
}

type fakeTimer struct {
	delay     time.Duration
	fn        func()
	cancelled bool
}

func (t *fakeTimer) Cancel() { t.cancelled = true }

func (f *fakeTimers) Schedule(delay time.Duration, fn func()) reminder.TimerHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{delay: delay, fn: fn}
	f.pending = append(f.pending, t)
	return t
}

func (f *fakeTimers) armed() []*fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var live []*fakeTimer
	for _, t := range f.pending {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	return live
}

func (f *fakeTimers) fireLast(t *testing.T) {
	t.Helper()
	live := f.armed()
	if len(live) == 0 {
		t.Fatal("no armed timer to fire")
	}
	live[len(live)-1].fn()
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func tsp(t time.Time) *time.Time { return &t }

// snapshotInProgress builds a snapshot with nap 1 finished and nap 2
// in progress, started at 12:45 with a planned 45 minute duration, so the
// projected end is 13:30.
func snapshotInProgress(base time.Time) *api.Snapshot {
	start1 := base.Add(-4 * time.Hour)
	end1 := start1.Add(40 * time.Minute)
	start2 := base.Add(-15 * time.Minute) // 12:45 when base is 13:00
	return &api.Snapshot{
		Day: &timeline.Day{
			Date:        base.Format("2006-01-02"),
			FirstWakeAt: tsp(base.Add(-6 * time.Hour)),
		},
		Naps: []timeline.Nap{
			{Index: 1, Status: timeline.NapFinished, PlannedDurationSec: 2400, ActualStartAt: &start1, ActualEndAt: &end1},
			{Index: 2, Status: timeline.NapInProgress, PlannedDurationSec: 2700, ActualStartAt: &start2},
		},
	}
}

func newTestEngine(t *testing.T, src *fakeSource) (*Engine, *fakeTimers, *fakePlayer, *fakeNotifier, *fakeRecorder, *fakePrefs, *eventLog) {
	t.Helper()
	timers := &fakeTimers{}
	player := &fakePlayer{}
	notifier := &fakeNotifier{}
	recorder := newFakeRecorder()
	prefs := &fakePrefs{enabled: true, sound: audio.DefaultSound, lead: 600}
	log := &eventLog{}

	eng := New(
		WithSource(src),
		WithPreferences(prefs),
		WithRecorder(recorder),
		WithPlayer(player),
		WithNotifier(notifier),
		WithTimerFactory(timers),
		WithEventHandler(log.handle),
	)
	return eng, timers, player, notifier, recorder, prefs, log
}

func TestRefreshArmsNapEndReminder(t *testing.T) {
	base := time.Now()
	src := &fakeSource{snap: snapshotInProgress(base)}
	eng, timers, _, _, _, _, log := newTestEngine(t, src)

	if err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if got := len(timers.armed()); got != 1 {
		t.Fatalf("armed timers = %d, want 1", got)
	}
	st := eng.Status()
	if st.NapEnd.State != reminder.StateArmed {
		t.Errorf("NapEnd.State = %s, want armed", st.NapEnd.State)
	}
	if st.NapEnd.NapIndex != 2 {
		t.Errorf("NapEnd.NapIndex = %d, want 2", st.NapEnd.NapIndex)
	}
	if st.Degraded {
		t.Error("Degraded after successful refresh")
	}
	if len(log.ofType(EventRefresh)) != 1 {
		t.Errorf("refresh events = %d, want 1", len(log.ofType(EventRefresh)))
	}
}

func TestRefreshFailureEntersFailSafe(t *testing.T) {
	base := time.Now()
	src := &fakeSource{snap: snapshotInProgress(base)}
	eng, timers, player, _, _, _, log := newTestEngine(t, src)

	if err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(timers.armed()) != 1 {
		t.Fatalf("expected armed timer before outage")
	}

	src.mu.Lock()
	src.err = errors.New("connection refused")
	src.mu.Unlock()

	if err := eng.Refresh(context.Background()); err == nil {
		t.Fatal("expected error from degraded refresh")
	}

	if len(timers.armed()) != 0 {
		t.Errorf("armed timers = %d after outage, want 0", len(timers.armed()))
	}
	if player.stops == 0 {
		t.Error("audio not silenced in fail-safe")
	}
	st := eng.Status()
	if !st.Degraded {
		t.Error("Degraded flag not set")
	}
	if len(log.ofType(EventDegraded)) != 1 {
		t.Errorf("degraded events = %d, want 1", len(log.ofType(EventDegraded)))
	}
}

func TestRefreshNotFoundMeansNoSchedule(t *testing.T) {
	base := time.Now()
	src := &fakeSource{snap: snapshotInProgress(base)}
	eng, timers, player, _, _, _, _ := newTestEngine(t, src)

	// A reminder is ringing when the schedule disappears.
	if err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	timers.fireLast(t)

	src.mu.Lock()
	src.snap = nil
	src.err = api.ErrNotFound
	src.mu.Unlock()

	if err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh on not-found should not error, got %v", err)
	}
	st := eng.Status()
	if !st.NoSchedule {
		t.Error("NoSchedule flag not set")
	}
	if st.Degraded {
		t.Error("not-found must not count as degraded")
	}
	if len(timers.armed()) != 0 {
		t.Errorf("armed timers = %d, want 0", len(timers.armed()))
	}
	player.mu.Lock()
	stops := player.stops
	player.mu.Unlock()
	if stops == 0 {
		t.Error("ringing alarm not stopped when schedule disappeared")
	}
}

func TestFirePresentsAndRecords(t *testing.T) {
	base := time.Now()
	src := &fakeSource{snap: snapshotInProgress(base)}
	eng, timers, player, notifier, recorder, _, log := newTestEngine(t, src)

	if err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	timers.fireLast(t)

	if notifier.sent != 1 {
		t.Errorf("notifications = %d, want 1", notifier.sent)
	}
	if notifier.title != "Nap ending soon" {
		t.Errorf("title = %q", notifier.title)
	}
	if player.plays != 1 {
		t.Errorf("plays = %d, want 1", player.plays)
	}
	if len(recorder.fires) != 1 {
		t.Fatalf("recorded fires = %d, want 1", len(recorder.fires))
	}
	if len(log.ofType(EventFired)) != 1 {
		t.Errorf("fired events = %d, want 1", len(log.ofType(EventFired)))
	}
	st := eng.Status()
	if st.LastFire == nil || st.LastFire.NapIndex != 2 {
		t.Errorf("LastFire = %+v", st.LastFire)
	}
}

func TestSnoozeStopsAudioAndRecordsOutcome(t *testing.T) {
	base := time.Now()
	src := &fakeSource{snap: snapshotInProgress(base)}
	eng, timers, player, _, recorder, _, log := newTestEngine(t, src)

	eng.Refresh(context.Background())
	timers.fireLast(t)

	eng.Snooze(reminder.ContextNapEnd)

	if player.stops == 0 {
		t.Error("snooze did not stop audio")
	}
	fire := recorder.fires[0]
	if recorder.outcomes[fire.ID] != history.OutcomeSnoozed {
		t.Errorf("outcome = %s, want snoozed", recorder.outcomes[fire.ID])
	}
	if len(log.ofType(EventSnoozed)) != 1 {
		t.Errorf("snoozed events = %d, want 1", len(log.ofType(EventSnoozed)))
	}
	// Snooze re-arms a timer toward the event.
	if len(timers.armed()) != 1 {
		t.Errorf("armed timers after snooze = %d, want 1", len(timers.armed()))
	}
}

func TestDismissRecordsOutcome(t *testing.T) {
	base := time.Now()
	src := &fakeSource{snap: snapshotInProgress(base)}
	eng, timers, player, _, recorder, _, _ := newTestEngine(t, src)

	eng.Refresh(context.Background())
	timers.fireLast(t)

	eng.Dismiss(reminder.ContextNapEnd)

	if player.stops == 0 {
		t.Error("dismiss did not stop audio")
	}
	fire := recorder.fires[0]
	if recorder.outcomes[fire.ID] != history.OutcomeDismissed {
		t.Errorf("outcome = %s, want dismissed", recorder.outcomes[fire.ID])
	}
	st := eng.Status()
	if st.NapEnd.State != reminder.StateDismissed {
		t.Errorf("NapEnd.State = %s, want dismissed", st.NapEnd.State)
	}
}

func TestSetLeadTimeGlobalPersistsAndPushes(t *testing.T) {
	base := time.Now()
	src := &fakeSource{snap: snapshotInProgress(base)}
	eng, _, _, _, _, prefs, log := newTestEngine(t, src)

	eng.Refresh(context.Background())

	if err := eng.SetLeadTime(context.Background(), 900, ScopeGlobal); err != nil {
		t.Fatalf("SetLeadTime: %v", err)
	}
	if prefs.lead != 900 {
		t.Errorf("prefs.lead = %d, want 900", prefs.lead)
	}
	src.mu.Lock()
	pushed := append([]int(nil), src.pushed...)
	src.mu.Unlock()
	if len(pushed) != 1 || pushed[0] != 900 {
		t.Errorf("pushed = %v, want [900]", pushed)
	}
	if eng.Status().LeadSec != 900 {
		t.Errorf("LeadSec = %d, want 900", eng.Status().LeadSec)
	}
	if len(log.ofType(EventSettings)) == 0 {
		t.Error("no settings event emitted")
	}
}

func TestSetLeadTimeNextAlarmDoesNotPersist(t *testing.T) {
	base := time.Now()
	src := &fakeSource{snap: snapshotInProgress(base)}
	eng, _, _, _, _, prefs, _ := newTestEngine(t, src)

	eng.Refresh(context.Background())

	if err := eng.SetLeadTime(context.Background(), 120, ScopeNextAlarm); err != nil {
		t.Fatalf("SetLeadTime: %v", err)
	}
	if prefs.lead != 600 {
		t.Errorf("prefs.lead = %d, override must not persist", prefs.lead)
	}
	src.mu.Lock()
	pushed := len(src.pushed)
	src.mu.Unlock()
	if pushed != 0 {
		t.Error("override must not push to server")
	}
	if eng.Status().LeadSec != 600 {
		t.Errorf("global LeadSec changed by override: %d", eng.Status().LeadSec)
	}
}

func TestGlobalLeadClearsNextAlarmOverride(t *testing.T) {
	base := time.Now()
	src := &fakeSource{snap: snapshotInProgress(base)}
	eng, _, _, _, _, _, _ := newTestEngine(t, src)

	eng.Refresh(context.Background())

	if err := eng.SetLeadTime(context.Background(), 120, ScopeNextAlarm); err != nil {
		t.Fatalf("override: %v", err)
	}
	if err := eng.SetLeadTime(context.Background(), 300, ScopeGlobal); err != nil {
		t.Fatalf("global: %v", err)
	}

	// The re-armed reminder follows the new global lead, not the override.
	st := eng.Status()
	if st.NapEnd.LeadSec != 300 {
		t.Errorf("armed LeadSec = %d, want global 300", st.NapEnd.LeadSec)
	}
}

func TestSetLeadTimeRejectsNegative(t *testing.T) {
	src := &fakeSource{}
	eng, _, _, _, _, _, _ := newTestEngine(t, src)

	if err := eng.SetLeadTime(context.Background(), -10, ScopeGlobal); err == nil {
		t.Error("expected error for negative lead")
	}
}

func TestSetSoundEnabledMutesPlayer(t *testing.T) {
	src := &fakeSource{}
	eng, _, player, _, _, prefs, _ := newTestEngine(t, src)

	if err := eng.SetSoundEnabled(false); err != nil {
		t.Fatalf("SetSoundEnabled: %v", err)
	}
	if prefs.enabled {
		t.Error("pref not persisted")
	}
	player.mu.Lock()
	muted := player.muted
	player.mu.Unlock()
	if !muted {
		t.Error("player not muted")
	}
}

func TestSetSoundIDValidates(t *testing.T) {
	src := &fakeSource{}
	eng, _, player, _, _, prefs, _ := newTestEngine(t, src)

	if err := eng.SetSoundID("airhorn"); err == nil {
		t.Error("expected error for unknown sound")
	}
	if err := eng.SetSoundID(audio.SoundBirds); err != nil {
		t.Fatalf("SetSoundID: %v", err)
	}
	if prefs.sound != audio.SoundBirds {
		t.Errorf("pref sound = %s", prefs.sound)
	}
	player.mu.Lock()
	sound := player.sound
	player.mu.Unlock()
	if sound != audio.SoundBirds {
		t.Errorf("player sound = %s", sound)
	}
}

func TestSetClockOffsetReEvaluates(t *testing.T) {
	base := time.Now()
	src := &fakeSource{snap: snapshotInProgress(base)}
	eng, timers, _, _, _, _, _ := newTestEngine(t, src)

	eng.Refresh(context.Background())
	if len(timers.armed()) != 1 {
		t.Fatalf("expected one armed timer")
	}
	requestsBefore := src.requests

	// Jump the clock past the projected end: the reminder should fire or
	// re-arm from the shifted now without another fetch.
	eng.SetClockOffset(2 * time.Hour)

	src.mu.Lock()
	requests := src.requests
	src.mu.Unlock()
	if requests != requestsBefore {
		t.Error("offset change must not trigger a network fetch")
	}
	if got, want := eng.Now().Sub(base), 2*time.Hour; got < want-time.Minute {
		t.Errorf("Now() offset = %v", got)
	}
}

func TestRecordsFinishedNapsOnce(t *testing.T) {
	base := time.Now()
	src := &fakeSource{snap: snapshotInProgress(base)}
	eng, _, _, _, recorder, _, _ := newTestEngine(t, src)

	eng.Refresh(context.Background())
	eng.Refresh(context.Background())

	if len(recorder.naps) != 1 {
		t.Errorf("recorded naps = %d, want 1 (no duplicates)", len(recorder.naps))
	}
}

func TestBuildInputSelectsInProgress(t *testing.T) {
	base := time.Now()
	entries := timeline.Build(snapshotInProgress(base).Day, snapshotInProgress(base).Naps, base)
	in := buildInput(entries)

	if in.InProgressIndex == nil || *in.InProgressIndex != 2 {
		t.Fatalf("InProgressIndex = %v, want 2", in.InProgressIndex)
	}
	if in.ProjectedEnd == nil {
		t.Fatal("ProjectedEnd = nil")
	}
	want := base.Add(30 * time.Minute) // started 15 min ago, 45 min planned
	if !in.ProjectedEnd.Equal(want) {
		t.Errorf("ProjectedEnd = %v, want %v", in.ProjectedEnd, want)
	}
}
