// Package reminder arms at most one reminder timer against the projected
// sleep timeline and manages the snooze, dismiss, and override transitions
// for each reminder context.
package reminder

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context identifies which sleep event a reminder targets.
type Context string

const (
	// ContextNapEnd reminds shortly before an in-progress nap ends.
	ContextNapEnd Context = "nap-end"
	// ContextNapStart reminds shortly before the next planned nap starts.
	ContextNapStart Context = "nap-start"
)

// State is the lifecycle of a reminder context.
type State string

const (
	StateIdle      State = "idle"
	StateArmed     State = "armed"
	StateFired     State = "fired"
	StateSnoozed   State = "snoozed"
	StateDismissed State = "dismissed"
)

// DefaultSnooze is how far a snooze pushes the reminder, before clamping
// toward the event.
const DefaultSnooze = 2 * time.Minute

// AlarmSchedule describes one context's armed (or recently fired) reminder.
type AlarmSchedule struct {
	ID           uuid.UUID
	Context      Context
	State        State
	NapIndex     int
	EventTime    time.Time
	ScheduledAt  *time.Time
	LeadSec      int
	AutoAdjusted bool
}

// Fire is delivered to the fire handler when a reminder goes off.
type Fire struct {
	ID              uuid.UUID
	Context         Context
	NapIndex        int
	EventTime       time.Time
	FireTime        time.Time
	AchievedLeadSec int
}

// FireHandler receives fired reminders.
type FireHandler func(Fire)

// Input is the scheduler's view of the projected timeline, extracted from
// the current snapshot on every refresh.
type Input struct {
	InProgressIndex *int
	ProjectedEnd    *time.Time
	NextNapIndex    *int
	NextNapStart    *time.Time
}

// contextState holds the single timer slot for one context. Storing exactly
// one handle makes two concurrent armed timers per context unrepresentable.
type contextState struct {
	state  State
	handle TimerHandle
	sched  AlarmSchedule
}

// Scheduler owns both reminder contexts. At most one of the two is armed at
// any time, chosen solely by whether a nap is in progress.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	timers TimerFactory
	onFire FireHandler
	snooze time.Duration

	globalLeadSec    int
	overrideLeadSec  *int
	overrideNapIndex *int

	napEnd   contextState
	napStart contextState

	// dismissedNapIndex suppresses re-arming the nap-start reminder for
	// exactly that nap; any change of "next nap" clears it.
	dismissedNapIndex *int
	// endDismissedIndex keeps the nap-end reminder idle for the remainder
	// of the dismissed nap.
	endDismissedIndex *int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithTimerFactory sets the timer factory.
func WithTimerFactory(tf TimerFactory) Option {
	return func(s *Scheduler) { s.timers = tf }
}

// WithFireHandler sets the callback invoked when a reminder fires.
func WithFireHandler(h FireHandler) Option {
	return func(s *Scheduler) { s.onFire = h }
}

// WithSnoozeDuration overrides the snooze interval.
func WithSnoozeDuration(d time.Duration) Option {
	return func(s *Scheduler) { s.snooze = d }
}

// WithGlobalLead sets the initial global lead time in seconds.
func WithGlobalLead(sec int) Option {
	return func(s *Scheduler) { s.globalLeadSec = sec }
}

// New creates a scheduler with the given options.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  NewSystemClock(0),
		timers: NewTimerFactory(),
		snooze: DefaultSnooze,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.napEnd.state = StateIdle
	s.napEnd.sched.Context = ContextNapEnd
	s.napStart.state = StateIdle
	s.napStart.sched.Context = ContextNapStart
	return s
}

// Evaluate recomputes both contexts from a fresh timeline view. It must be
// called on every snapshot refresh, nap start/stop, bedtime toggle, lead
// change, or duration edit. Prior timers are always cancelled before any
// replacement is armed.
func (s *Scheduler) Evaluate(in Input) {
	s.mu.Lock()

	s.invalidateStaleOverride(in)

	var fire *Fire
	switch {
	case in.InProgressIndex != nil && in.ProjectedEnd != nil:
		// A nap is in progress: nap-end mode, exclusively.
		s.idle(&s.napStart)
		fire = s.evaluateContext(&s.napEnd, *in.InProgressIndex, *in.ProjectedEnd)
	case in.NextNapIndex != nil && in.NextNapStart != nil:
		s.idle(&s.napEnd)
		s.endDismissedIndex = nil
		fire = s.evaluateContext(&s.napStart, *in.NextNapIndex, *in.NextNapStart)
	default:
		s.idle(&s.napEnd)
		s.idle(&s.napStart)
	}

	s.mu.Unlock()
	if fire != nil {
		s.deliver(*fire)
	}
}

// Reset forces both contexts to Idle. Used as the fail-safe when the
// schedule can no longer be trusted (fetch error, missing day).
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.idle(&s.napEnd)
	s.idle(&s.napStart)
	s.mu.Unlock()
}

// evaluateContext re-arms a single context against its event time.
// Returns a Fire to deliver after the lock is released when arming lands
// exactly at or past the fire time.
func (s *Scheduler) evaluateContext(cs *contextState, napIndex int, eventTime time.Time) *Fire {
	ctx := cs.sched.Context

	// Dismissal suppresses exactly this nap index.
	if ctx == ContextNapStart {
		if s.dismissedNapIndex != nil && *s.dismissedNapIndex != napIndex {
			s.dismissedNapIndex = nil
		}
		if s.dismissedNapIndex != nil && cs.state != StateFired {
			s.idle(cs)
			cs.state = StateDismissed
			return nil
		}
	} else {
		if s.endDismissedIndex != nil && *s.endDismissedIndex != napIndex {
			s.endDismissedIndex = nil
		}
		if s.endDismissedIndex != nil {
			s.idle(cs)
			cs.state = StateDismissed
			return nil
		}
	}

	// A fired reminder waits for user action; a snooze survives refreshes
	// as long as the underlying event is unchanged.
	if cs.state == StateFired && cs.sched.NapIndex == napIndex {
		return nil
	}
	if cs.state == StateSnoozed && cs.sched.NapIndex == napIndex && cs.sched.EventTime.Equal(eventTime) {
		return nil
	}

	return s.arm(cs, napIndex, eventTime)
}

// arm computes the fire time with the clamp policy and schedules the
// one-shot callback. Caller holds the lock.
func (s *Scheduler) arm(cs *contextState, napIndex int, eventTime time.Time) *Fire {
	lead := s.effectiveLead(napIndex)
	if lead <= 0 {
		// Lead of zero means the reminder is disabled, distinct from a
		// fire time auto-adjusted to zero seconds of lead.
		s.idle(cs)
		return nil
	}

	now := s.clock.Now()
	desired := eventTime.Add(-time.Duration(lead) * time.Second)
	autoAdjusted := false
	if desired.Before(now) {
		desired = now
		autoAdjusted = true
	}
	if desired.After(eventTime) {
		desired = eventTime
		autoAdjusted = true
	}

	s.cancelTimer(cs)

	id := uuid.New()
	cs.sched = AlarmSchedule{
		ID:           id,
		Context:      cs.sched.Context,
		State:        StateArmed,
		NapIndex:     napIndex,
		EventTime:    eventTime,
		ScheduledAt:  &desired,
		LeadSec:      lead,
		AutoAdjusted: autoAdjusted,
	}
	cs.state = StateArmed
	cs.sched.State = StateArmed

	delay := desired.Sub(now)
	if delay <= 0 {
		// Already due: fire now rather than scheduling.
		return s.fireLocked(cs)
	}

	ctx := cs.sched.Context
	cs.handle = s.timers.Schedule(delay, func() {
		s.timerFired(ctx, id)
	})
	return nil
}

// timerFired is the timer callback. The ID comparison drops callbacks from
// timers that were superseded after this one was scheduled.
func (s *Scheduler) timerFired(ctx Context, id uuid.UUID) {
	s.mu.Lock()
	cs := s.contextFor(ctx)
	if cs.sched.ID != id || (cs.state != StateArmed && cs.state != StateSnoozed) {
		s.mu.Unlock()
		return
	}
	fire := s.fireLocked(cs)
	s.mu.Unlock()
	if fire != nil {
		s.deliver(*fire)
	}
}

// fireLocked transitions a context to Fired. Caller holds the lock; the
// returned Fire must be delivered after unlocking.
func (s *Scheduler) fireLocked(cs *contextState) *Fire {
	cs.handle = nil
	cs.state = StateFired
	cs.sched.State = StateFired

	now := s.clock.Now()
	achieved := int(cs.sched.EventTime.Sub(now).Seconds())
	if achieved < 0 {
		achieved = 0
	}

	if cs.sched.Context == ContextNapStart {
		// Remember the index so the next refresh does not instantly
		// re-arm and refire for the same nap.
		idx := cs.sched.NapIndex
		s.dismissedNapIndex = &idx
	}

	return &Fire{
		ID:              cs.sched.ID,
		Context:         cs.sched.Context,
		NapIndex:        cs.sched.NapIndex,
		EventTime:       cs.sched.EventTime,
		FireTime:        now,
		AchievedLeadSec: achieved,
	}
}

func (s *Scheduler) deliver(f Fire) {
	if s.onFire != nil {
		s.onFire(f)
	}
}

// Snooze pushes the active context's reminder to min(eventTime, now+snooze).
// Valid only while the context has a known future event; a snooze past the
// event degrades to a dismiss.
func (s *Scheduler) Snooze(ctx Context) {
	s.mu.Lock()
	cs := s.contextFor(ctx)
	if cs.state == StateIdle || cs.state == StateDismissed {
		s.mu.Unlock()
		return
	}

	now := s.clock.Now()
	if !cs.sched.EventTime.After(now) {
		s.dismissLocked(cs)
		s.mu.Unlock()
		return
	}

	target := now.Add(s.snooze)
	if cs.sched.EventTime.Before(target) {
		target = cs.sched.EventTime
	}

	s.cancelTimer(cs)
	id := uuid.New()
	cs.sched.ID = id
	cs.sched.ScheduledAt = &target
	// Snooze always counts as adjusted: the fire time no longer derives
	// from the lead setting.
	cs.sched.AutoAdjusted = true
	cs.state = StateSnoozed
	cs.sched.State = StateSnoozed

	// The fire-time suppression lasts only until a user action supersedes
	// it, and a snooze is that action: without this the next Evaluate would
	// treat the snoozed nap as dismissed and cancel the pending timer.
	if cs.sched.Context == ContextNapStart {
		s.dismissedNapIndex = nil
	}

	cs.handle = s.timers.Schedule(target.Sub(now), func() {
		s.timerFired(ctx, id)
	})
	s.mu.Unlock()
}

// Dismiss cancels the context's reminder. For nap-start the suppression is
// pinned to the current next-nap index; for nap-end it lasts for the
// remainder of the nap.
func (s *Scheduler) Dismiss(ctx Context) {
	s.mu.Lock()
	s.dismissLocked(s.contextFor(ctx))
	s.mu.Unlock()
}

func (s *Scheduler) dismissLocked(cs *contextState) {
	idx := cs.sched.NapIndex
	s.cancelTimer(cs)
	cs.sched.ScheduledAt = nil
	cs.state = StateDismissed
	cs.sched.State = StateDismissed

	if cs.sched.Context == ContextNapStart {
		s.dismissedNapIndex = &idx
	} else {
		s.endDismissedIndex = &idx
	}
}

// SetGlobalLead replaces the shared default lead time in seconds.
func (s *Scheduler) SetGlobalLead(sec int) {
	s.mu.Lock()
	s.globalLeadSec = sec
	s.mu.Unlock()
}

// SetOverrideLead binds a one-off lead time to a specific nap index. The
// override is discarded as soon as that nap is no longer active or next.
func (s *Scheduler) SetOverrideLead(sec, napIndex int) {
	s.mu.Lock()
	s.overrideLeadSec = &sec
	s.overrideNapIndex = &napIndex
	s.mu.Unlock()
}

// ClearOverride drops any per-nap lead override.
func (s *Scheduler) ClearOverride() {
	s.mu.Lock()
	s.overrideLeadSec = nil
	s.overrideNapIndex = nil
	s.mu.Unlock()
}

// GlobalLead returns the shared default lead time in seconds.
func (s *Scheduler) GlobalLead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalLeadSec
}

// Schedules returns a copy of both context schedules for display.
func (s *Scheduler) Schedules() (napEnd, napStart AlarmSchedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	napEnd = s.napEnd.sched
	napEnd.State = s.napEnd.state
	napStart = s.napStart.sched
	napStart.State = s.napStart.state
	return napEnd, napStart
}

// effectiveLead resolves the lead for a nap index: a valid override wins,
// otherwise the global default. Caller holds the lock.
func (s *Scheduler) effectiveLead(napIndex int) int {
	if s.overrideLeadSec != nil && s.overrideNapIndex != nil && *s.overrideNapIndex == napIndex {
		return *s.overrideLeadSec
	}
	return s.globalLeadSec
}

// invalidateStaleOverride clears an override whose nap index no longer
// matches the active or next nap. Caller holds the lock.
func (s *Scheduler) invalidateStaleOverride(in Input) {
	if s.overrideNapIndex == nil {
		return
	}
	if in.InProgressIndex != nil && *in.InProgressIndex == *s.overrideNapIndex {
		return
	}
	if in.NextNapIndex != nil && *in.NextNapIndex == *s.overrideNapIndex {
		return
	}
	s.overrideLeadSec = nil
	s.overrideNapIndex = nil
}

func (s *Scheduler) contextFor(ctx Context) *contextState {
	if ctx == ContextNapEnd {
		return &s.napEnd
	}
	return &s.napStart
}

// idle cancels any pending timer and clears the schedule. Caller holds the
// lock.
func (s *Scheduler) idle(cs *contextState) {
	s.cancelTimer(cs)
	ctx := cs.sched.Context
	cs.sched = AlarmSchedule{Context: ctx, State: StateIdle}
	cs.state = StateIdle
}

func (s *Scheduler) cancelTimer(cs *contextState) {
	if cs.handle != nil {
		cs.handle.Cancel()
		cs.handle = nil
	}
}
