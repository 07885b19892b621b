package reminder

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable clock for deterministic scheduling tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeTimers records scheduled callbacks and lets tests fire them manually.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay     time.Duration
	fn        func()
	cancelled bool
}

func (f *fakeTimer) Cancel() { f.cancelled = true }

func (ft *fakeTimers) Schedule(delay time.Duration, fn func()) TimerHandle {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{delay: delay, fn: fn}
	ft.timers = append(ft.timers, t)
	return t
}

// pending returns timers that are scheduled and not cancelled.
func (ft *fakeTimers) pending() []*fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var out []*fakeTimer
	for _, t := range ft.timers {
		if !t.cancelled {
			out = append(out, t)
		}
	}
	return out
}

func (ft *fakeTimers) fireLast() {
	ft.mu.Lock()
	var last *fakeTimer
	for _, t := range ft.timers {
		if !t.cancelled {
			last = t
		}
	}
	ft.mu.Unlock()
	if last != nil {
		last.fn()
	}
}

type fireRecorder struct {
	mu    sync.Mutex
	fires []Fire
}

func (r *fireRecorder) handle(f Fire) {
	r.mu.Lock()
	r.fires = append(r.fires, f)
	r.mu.Unlock()
}

func (r *fireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fires)
}

func (r *fireRecorder) last(t *testing.T) Fire {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.fires) == 0 {
		t.Fatal("no fires recorded")
	}
	return r.fires[len(r.fires)-1]
}

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return parsed
}

func intp(v int) *int { return &v }

func timep(t time.Time) *time.Time { return &t }

func newTestScheduler(t *testing.T, now time.Time, leadSec int) (*Scheduler, *fakeClock, *fakeTimers, *fireRecorder) {
	t.Helper()
	clock := &fakeClock{now: now}
	timers := &fakeTimers{}
	rec := &fireRecorder{}
	s := New(
		WithClock(clock),
		WithTimerFactory(timers),
		WithFireHandler(rec.handle),
		WithGlobalLead(leadSec),
	)
	return s, clock, timers, rec
}

func TestArmNapEndNormal(t *testing.T) {
	// Scenario from the acceptance set: in-progress nap started 12:45,
	// 45 min duration, projected end 13:30, lead 20 min, now well before.
	now := mustParse(t, "2026-03-02T12:50:00Z")
	end := mustParse(t, "2026-03-02T13:30:00Z")
	s, _, timers, rec := newTestScheduler(t, now, 1200)

	s.Evaluate(Input{InProgressIndex: intp(2), ProjectedEnd: timep(end)})

	napEnd, napStart := s.Schedules()
	if napEnd.State != StateArmed {
		t.Fatalf("nap-end state = %s, want armed", napEnd.State)
	}
	if napStart.State != StateIdle {
		t.Errorf("nap-start state = %s, want idle", napStart.State)
	}
	want := mustParse(t, "2026-03-02T13:10:00Z")
	if napEnd.ScheduledAt == nil || !napEnd.ScheduledAt.Equal(want) {
		t.Errorf("ScheduledAt = %v, want 13:10", napEnd.ScheduledAt)
	}
	if napEnd.AutoAdjusted {
		t.Error("AutoAdjusted = true, want false")
	}
	if len(timers.pending()) != 1 {
		t.Fatalf("%d pending timers, want 1", len(timers.pending()))
	}
	if got, want := timers.pending()[0].delay, 20*time.Minute; got != want {
		t.Errorf("timer delay = %v, want %v", got, want)
	}
	if rec.count() != 0 {
		t.Errorf("fired %d times before timer, want 0", rec.count())
	}
}

func TestArmClampsToNow(t *testing.T) {
	// Five minutes left on the nap with a 20 minute lead: fire now,
	// auto-adjusted.
	now := mustParse(t, "2026-03-02T13:25:00Z")
	end := mustParse(t, "2026-03-02T13:30:00Z")
	s, _, timers, rec := newTestScheduler(t, now, 1200)

	s.Evaluate(Input{InProgressIndex: intp(2), ProjectedEnd: timep(end)})

	napEnd, _ := s.Schedules()
	if !napEnd.AutoAdjusted {
		t.Error("AutoAdjusted = false, want true")
	}
	if napEnd.ScheduledAt == nil || !napEnd.ScheduledAt.Equal(now) {
		t.Errorf("ScheduledAt = %v, want clamped to now", napEnd.ScheduledAt)
	}
	// Already due: fires synchronously, no timer left pending.
	if rec.count() != 1 {
		t.Fatalf("fired %d times, want immediate fire", rec.count())
	}
	if len(timers.pending()) != 0 {
		t.Errorf("%d pending timers after immediate fire, want 0", len(timers.pending()))
	}
	if napEnd, _ := s.Schedules(); napEnd.State != StateFired {
		t.Errorf("state = %s, want fired", napEnd.State)
	}
}

func TestLeadZeroOrNegativeDisables(t *testing.T) {
	now := mustParse(t, "2026-03-02T12:00:00Z")
	end := mustParse(t, "2026-03-02T13:30:00Z")

	for _, lead := range []int{0, -5} {
		s, _, timers, rec := newTestScheduler(t, now, lead)
		s.Evaluate(Input{InProgressIndex: intp(1), ProjectedEnd: timep(end)})

		napEnd, _ := s.Schedules()
		if napEnd.State != StateIdle {
			t.Errorf("lead %d: state = %s, want idle", lead, napEnd.State)
		}
		if len(timers.pending()) != 0 {
			t.Errorf("lead %d: timer armed, want none", lead)
		}
		if rec.count() != 0 {
			t.Errorf("lead %d: fired, want never", lead)
		}
	}
}

func TestContextExclusivity(t *testing.T) {
	now := mustParse(t, "2026-03-02T09:00:00Z")
	s, _, timers, _ := newTestScheduler(t, now, 600)

	// Next nap planned: nap-start armed.
	nextStart := mustParse(t, "2026-03-02T10:00:00Z")
	s.Evaluate(Input{NextNapIndex: intp(1), NextNapStart: timep(nextStart)})
	if _, napStart := s.Schedules(); napStart.State != StateArmed {
		t.Fatalf("nap-start state = %s, want armed", napStart.State)
	}
	if len(timers.pending()) != 1 {
		t.Fatalf("%d pending timers, want 1", len(timers.pending()))
	}

	// Nap starts: nap-end takes over, nap-start cancelled.
	end := mustParse(t, "2026-03-02T10:50:00Z")
	s.Evaluate(Input{InProgressIndex: intp(1), ProjectedEnd: timep(end)})
	napEnd, napStart := s.Schedules()
	if napEnd.State != StateArmed || napStart.State != StateIdle {
		t.Errorf("states = %s/%s, want armed/idle", napEnd.State, napStart.State)
	}
	if len(timers.pending()) != 1 {
		t.Errorf("%d pending timers, want exactly 1", len(timers.pending()))
	}
}

func TestReEvaluateCancelsPriorTimer(t *testing.T) {
	now := mustParse(t, "2026-03-02T09:00:00Z")
	s, _, timers, _ := newTestScheduler(t, now, 600)
	end := mustParse(t, "2026-03-02T11:00:00Z")

	s.Evaluate(Input{InProgressIndex: intp(1), ProjectedEnd: timep(end)})
	s.Evaluate(Input{InProgressIndex: intp(1), ProjectedEnd: timep(end.Add(10 * time.Minute))})

	if got := len(timers.pending()); got != 1 {
		t.Errorf("%d pending timers after re-arm, want 1", got)
	}
}

func TestStaleTimerCallbackIgnored(t *testing.T) {
	now := mustParse(t, "2026-03-02T09:00:00Z")
	s, _, timers, rec := newTestScheduler(t, now, 600)
	end := mustParse(t, "2026-03-02T11:00:00Z")

	s.Evaluate(Input{InProgressIndex: intp(1), ProjectedEnd: timep(end)})
	stale := timers.pending()[0]
	s.Evaluate(Input{InProgressIndex: intp(1), ProjectedEnd: timep(end.Add(10 * time.Minute))})

	// The superseded callback runs anyway (races are possible with real
	// timers) but must not fire the reminder.
	stale.fn()
	if rec.count() != 0 {
		t.Errorf("stale callback fired the reminder %d times, want 0", rec.count())
	}
}

func TestFireTransitionsAndAchievedLead(t *testing.T) {
	now := mustParse(t, "2026-03-02T12:50:00Z")
	end := mustParse(t, "2026-03-02T13:30:00Z")
	s, clock, timers, rec := newTestScheduler(t, now, 1200)

	s.Evaluate(Input{InProgressIndex: intp(2), ProjectedEnd: timep(end)})
	clock.Set(mustParse(t, "2026-03-02T13:10:00Z"))
	timers.fireLast()

	f := rec.last(t)
	if f.Context != ContextNapEnd {
		t.Errorf("fire context = %s, want nap-end", f.Context)
	}
	if f.AchievedLeadSec != 1200 {
		t.Errorf("AchievedLeadSec = %d, want 1200", f.AchievedLeadSec)
	}
	if napEnd, _ := s.Schedules(); napEnd.State != StateFired {
		t.Errorf("state = %s, want fired", napEnd.State)
	}
}

func TestRefreshWhileFiredDoesNotReArm(t *testing.T) {
	now := mustParse(t, "2026-03-02T13:25:00Z")
	end := mustParse(t, "2026-03-02T13:30:00Z")
	s, _, _, rec := newTestScheduler(t, now, 1200)

	in := Input{InProgressIndex: intp(2), ProjectedEnd: timep(end)}
	s.Evaluate(in) // clamps to now, fires immediately
	s.Evaluate(in) // refresh while fired
	s.Evaluate(in)

	if rec.count() != 1 {
		t.Errorf("fired %d times across refreshes, want 1", rec.count())
	}
}

func TestNapStartFireSuppressesReArmForSameNap(t *testing.T) {
	now := mustParse(t, "2026-03-02T09:55:00Z")
	start := mustParse(t, "2026-03-02T10:00:00Z")
	s, _, _, rec := newTestScheduler(t, now, 1200)

	in := Input{NextNapIndex: intp(1), NextNapStart: timep(start)}
	s.Evaluate(in) // lead puts desired in the past: clamp, immediate fire
	if rec.count() != 1 {
		t.Fatalf("fired %d times, want 1", rec.count())
	}

	s.Dismiss(ContextNapStart)
	s.Evaluate(in)
	if rec.count() != 1 {
		t.Errorf("re-fired for dismissed nap, count = %d", rec.count())
	}
	if _, napStart := s.Schedules(); napStart.State != StateDismissed {
		t.Errorf("state = %s, want dismissed", napStart.State)
	}
}

func TestDismissedIndexClearsWhenNextNapChanges(t *testing.T) {
	now := mustParse(t, "2026-03-02T09:00:00Z")
	s, _, _, _ := newTestScheduler(t, now, 600)

	start1 := mustParse(t, "2026-03-02T10:00:00Z")
	s.Evaluate(Input{NextNapIndex: intp(1), NextNapStart: timep(start1)})
	s.Dismiss(ContextNapStart)

	// Nap 2 becomes next: suppression for nap 1 must not carry over.
	start2 := mustParse(t, "2026-03-02T12:00:00Z")
	s.Evaluate(Input{NextNapIndex: intp(2), NextNapStart: timep(start2)})

	if _, napStart := s.Schedules(); napStart.State != StateArmed {
		t.Errorf("nap-start state = %s for nap 2, want armed", napStart.State)
	}
}

func TestDismissUpcomingDoesNotSuppressNapEnd(t *testing.T) {
	now := mustParse(t, "2026-03-02T09:00:00Z")
	s, _, _, _ := newTestScheduler(t, now, 600)

	start := mustParse(t, "2026-03-02T10:00:00Z")
	s.Evaluate(Input{NextNapIndex: intp(1), NextNapStart: timep(start)})
	s.Dismiss(ContextNapStart)

	// Nap 1 starts anyway: the nap-end reminder for the same index arms.
	end := mustParse(t, "2026-03-02T10:50:00Z")
	s.Evaluate(Input{InProgressIndex: intp(1), ProjectedEnd: timep(end)})

	if napEnd, _ := s.Schedules(); napEnd.State != StateArmed {
		t.Errorf("nap-end state = %s after upcoming dismiss, want armed", napEnd.State)
	}
}

func TestDismissNapEndStaysIdleForRestOfNap(t *testing.T) {
	now := mustParse(t, "2026-03-02T10:00:00Z")
	end := mustParse(t, "2026-03-02T10:50:00Z")
	s, _, timers, _ := newTestScheduler(t, now, 600)

	in := Input{InProgressIndex: intp(1), ProjectedEnd: timep(end)}
	s.Evaluate(in)
	s.Dismiss(ContextNapEnd)
	s.Evaluate(in) // refresh during the same nap

	if napEnd, _ := s.Schedules(); napEnd.State != StateDismissed {
		t.Errorf("nap-end state = %s, want dismissed until nap changes", napEnd.State)
	}
	if len(timers.pending()) != 0 {
		t.Errorf("%d pending timers after dismiss, want 0", len(timers.pending()))
	}

	// Next nap in progress: suppression cleared.
	end2 := mustParse(t, "2026-03-02T13:00:00Z")
	s.Evaluate(Input{InProgressIndex: intp(2), ProjectedEnd: timep(end2)})
	if napEnd, _ := s.Schedules(); napEnd.State != StateArmed {
		t.Errorf("nap-end state = %s for next nap, want armed", napEnd.State)
	}
}

func TestSnoozeClampsTowardEvent(t *testing.T) {
	now := mustParse(t, "2026-03-02T12:50:00Z")
	end := mustParse(t, "2026-03-02T13:30:00Z")
	s, clock, _, _ := newTestScheduler(t, now, 1200)

	s.Evaluate(Input{InProgressIndex: intp(2), ProjectedEnd: timep(end)})

	// Far from the event: snooze lands exactly two minutes out.
	clock.Set(mustParse(t, "2026-03-02T13:00:00Z"))
	s.Snooze(ContextNapEnd)
	napEnd, _ := s.Schedules()
	if napEnd.State != StateSnoozed {
		t.Fatalf("state = %s, want snoozed", napEnd.State)
	}
	want := mustParse(t, "2026-03-02T13:02:00Z")
	if napEnd.ScheduledAt == nil || !napEnd.ScheduledAt.Equal(want) {
		t.Errorf("ScheduledAt = %v, want now+2m", napEnd.ScheduledAt)
	}
	if !napEnd.AutoAdjusted {
		t.Error("snooze must set AutoAdjusted")
	}

	// One minute from the event: snooze clamps to the event time.
	clock.Set(mustParse(t, "2026-03-02T13:29:00Z"))
	s.Snooze(ContextNapEnd)
	napEnd, _ = s.Schedules()
	if napEnd.ScheduledAt == nil || !napEnd.ScheduledAt.Equal(end) {
		t.Errorf("ScheduledAt = %v, want clamped to event %v", napEnd.ScheduledAt, end)
	}
}

func TestSnoozePastEventDegradesToDismiss(t *testing.T) {
	now := mustParse(t, "2026-03-02T13:25:00Z")
	end := mustParse(t, "2026-03-02T13:30:00Z")
	s, clock, _, _ := newTestScheduler(t, now, 1200)

	s.Evaluate(Input{InProgressIndex: intp(2), ProjectedEnd: timep(end)})
	clock.Set(end.Add(time.Minute))
	s.Snooze(ContextNapEnd)

	if napEnd, _ := s.Schedules(); napEnd.State != StateDismissed {
		t.Errorf("state = %s, want dismissed when event passed", napEnd.State)
	}
}

func TestSnoozeSurvivesRefreshWithUnchangedEvent(t *testing.T) {
	now := mustParse(t, "2026-03-02T12:50:00Z")
	end := mustParse(t, "2026-03-02T13:30:00Z")
	s, clock, timers, _ := newTestScheduler(t, now, 1200)

	in := Input{InProgressIndex: intp(2), ProjectedEnd: timep(end)}
	s.Evaluate(in)
	clock.Set(mustParse(t, "2026-03-02T13:00:00Z"))
	s.Snooze(ContextNapEnd)
	before, _ := s.Schedules()

	s.Evaluate(in)
	after, _ := s.Schedules()
	if after.State != StateSnoozed {
		t.Errorf("state = %s after refresh, want snoozed", after.State)
	}
	if !after.ScheduledAt.Equal(*before.ScheduledAt) {
		t.Errorf("snooze target moved on refresh: %v -> %v", before.ScheduledAt, after.ScheduledAt)
	}
	if len(timers.pending()) != 1 {
		t.Errorf("%d pending timers, want 1", len(timers.pending()))
	}
}

func TestSnoozedNapStartSurvivesRefresh(t *testing.T) {
	// A nap-start fire records its index so refreshes do not re-fire, but
	// a snooze supersedes that suppression: the pending snooze timer must
	// survive the next refresh for the same nap.
	now := mustParse(t, "2026-03-02T09:55:00Z")
	start := mustParse(t, "2026-03-02T10:00:00Z")
	s, _, timers, rec := newTestScheduler(t, now, 1200)

	in := Input{NextNapIndex: intp(1), NextNapStart: timep(start)}
	s.Evaluate(in) // clamp, immediate fire
	if rec.count() != 1 {
		t.Fatalf("fired %d times, want 1", rec.count())
	}

	s.Snooze(ContextNapStart)
	s.Evaluate(in) // refresh while snoozed

	_, napStart := s.Schedules()
	if napStart.State != StateSnoozed {
		t.Fatalf("state = %s after refresh, want snoozed", napStart.State)
	}
	if len(timers.pending()) != 1 {
		t.Errorf("%d pending timers after refresh, want 1", len(timers.pending()))
	}

	// The snooze timer fires again for the same nap.
	timers.fireLast()
	if rec.count() != 2 {
		t.Errorf("fired %d times after snooze elapsed, want 2", rec.count())
	}
}

func TestOverrideLeadAppliesAndInvalidates(t *testing.T) {
	now := mustParse(t, "2026-03-02T12:00:00Z")
	end := mustParse(t, "2026-03-02T13:30:00Z")
	s, _, _, _ := newTestScheduler(t, now, 1200)

	s.SetOverrideLead(600, 2)
	s.Evaluate(Input{InProgressIndex: intp(2), ProjectedEnd: timep(end)})

	napEnd, _ := s.Schedules()
	if napEnd.LeadSec != 600 {
		t.Errorf("LeadSec = %d with override, want 600", napEnd.LeadSec)
	}
	want := mustParse(t, "2026-03-02T13:20:00Z")
	if !napEnd.ScheduledAt.Equal(want) {
		t.Errorf("ScheduledAt = %v, want 13:20", napEnd.ScheduledAt)
	}

	// Nap 3 becomes active: override for nap 2 is stale and discarded.
	end3 := mustParse(t, "2026-03-02T16:00:00Z")
	s.Evaluate(Input{InProgressIndex: intp(3), ProjectedEnd: timep(end3)})
	napEnd, _ = s.Schedules()
	if napEnd.LeadSec != 1200 {
		t.Errorf("LeadSec = %d after override invalidation, want global 1200", napEnd.LeadSec)
	}
}

func TestResetForcesIdle(t *testing.T) {
	now := mustParse(t, "2026-03-02T12:00:00Z")
	end := mustParse(t, "2026-03-02T13:30:00Z")
	s, _, timers, _ := newTestScheduler(t, now, 1200)

	s.Evaluate(Input{InProgressIndex: intp(2), ProjectedEnd: timep(end)})
	s.Reset()

	napEnd, napStart := s.Schedules()
	if napEnd.State != StateIdle || napStart.State != StateIdle {
		t.Errorf("states = %s/%s after reset, want idle/idle", napEnd.State, napStart.State)
	}
	if len(timers.pending()) != 0 {
		t.Errorf("%d pending timers after reset, want 0", len(timers.pending()))
	}
}

func TestNoEventTimeMeansIdle(t *testing.T) {
	now := mustParse(t, "2026-03-02T12:00:00Z")
	s, _, timers, _ := newTestScheduler(t, now, 1200)

	s.Evaluate(Input{})

	napEnd, napStart := s.Schedules()
	if napEnd.State != StateIdle || napStart.State != StateIdle {
		t.Errorf("states = %s/%s with no events, want idle/idle", napEnd.State, napStart.State)
	}
	if len(timers.pending()) != 0 {
		t.Errorf("%d pending timers, want 0", len(timers.pending()))
	}
}

func TestAtMostOneTimerEver(t *testing.T) {
	now := mustParse(t, "2026-03-02T08:00:00Z")
	s, _, timers, _ := newTestScheduler(t, now, 600)

	steps := []Input{
		{NextNapIndex: intp(1), NextNapStart: timep(mustParse(t, "2026-03-02T09:30:00Z"))},
		{InProgressIndex: intp(1), ProjectedEnd: timep(mustParse(t, "2026-03-02T10:15:00Z"))},
		{NextNapIndex: intp(2), NextNapStart: timep(mustParse(t, "2026-03-02T12:00:00Z"))},
		{InProgressIndex: intp(2), ProjectedEnd: timep(mustParse(t, "2026-03-02T12:45:00Z"))},
		{},
	}

	for i, in := range steps {
		s.Evaluate(in)
		if got := len(timers.pending()); got > 1 {
			t.Fatalf("step %d: %d timers pending, invariant allows at most 1", i, got)
		}
	}
}
