// Package engine wires the schedule source, timeline projection, reminder
// scheduler, alarm bridge, and preference stores into one controller.
// Commands and the dashboard talk to the engine only.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/napwatch/internal/alarm"
	"github.com/marcus/napwatch/internal/api"
	"github.com/marcus/napwatch/internal/audio"
	"github.com/marcus/napwatch/internal/history"
	"github.com/marcus/napwatch/internal/logging"
	"github.com/marcus/napwatch/internal/reminder"
	"github.com/marcus/napwatch/internal/timeline"
)

// LeadScope selects how far a lead-time change reaches.
type LeadScope string

const (
	// ScopeGlobal changes the default lead for every future reminder and
	// pushes the new value to the server.
	ScopeGlobal LeadScope = "global"
	// ScopeNextAlarm changes only the currently targeted nap; any change
	// of target silently reverts to the global lead.
	ScopeNextAlarm LeadScope = "next-alarm"
)

// ScheduleSource fetches schedule data. *api.Client is the production
// implementation.
type ScheduleSource interface {
	Schedule(ctx context.Context, date string) (*api.Snapshot, error)
	SetLeadTime(ctx context.Context, sec int) error
}

// Preferences persists user-facing settings between runs.
type Preferences interface {
	SoundEnabled() bool
	SetSoundEnabled(enabled bool) error
	SoundID() audio.SoundID
	SetSoundID(id audio.SoundID) error
	LeadTimeSec() int
	SetLeadTimeSec(sec int) error
}

// Recorder logs fires, outcomes, and completed naps.
type Recorder interface {
	RecordFire(f reminder.Fire) error
	RecordOutcome(id uuid.UUID, outcome history.Outcome) error
	RecordNap(day string, napIndex int, start, end time.Time) error
}

// AudioPlayer is the alarm playback collaborator with its settings surface.
type AudioPlayer interface {
	alarm.Player
	SetMuted(muted bool)
	SetSound(id audio.SoundID)
	Preview(id audio.SoundID) error
}

// Status is a read-only snapshot of engine state for display.
type Status struct {
	FetchedAt    time.Time
	Degraded     bool
	NoSchedule   bool // backend has no schedule for today
	Entries      []timeline.Entry
	SleepActive  bool
	NapEnd       reminder.AlarmSchedule
	NapStart     reminder.AlarmSchedule
	LeadSec      int
	SoundEnabled bool
	SoundID      audio.SoundID
	LastFire     *reminder.Fire
}

// Engine is the controller. All mutation goes through it so that reminder
// state, audio, and history stay consistent.
type Engine struct {
	source   ScheduleSource
	prefs    Preferences
	recorder Recorder
	player   AudioPlayer
	notifier alarm.Notifier
	clock    *reminder.SystemClock
	timers   reminder.TimerFactory
	snooze   time.Duration
	handler  EventHandler
	logger   *logging.Logger

	scheduler *reminder.Scheduler
	bridge    *alarm.Bridge

	mu        sync.Mutex
	lastSnap  *api.Snapshot
	fetchedAt time.Time
	degraded  bool
	noSched   bool
	entries   []timeline.Entry
	lastFire  *reminder.Fire
	loggedNap map[string]bool // day/index pairs already written to history
}

// Option configures an Engine.
type Option func(*Engine)

// WithSource sets the schedule source.
func WithSource(s ScheduleSource) Option {
	return func(e *Engine) { e.source = s }
}

// WithPreferences sets the preference store.
func WithPreferences(p Preferences) Option {
	return func(e *Engine) { e.prefs = p }
}

// WithRecorder sets the history recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithPlayer sets the audio player.
func WithPlayer(p AudioPlayer) Option {
	return func(e *Engine) { e.player = p }
}

// WithNotifier sets the desktop notifier.
func WithNotifier(n alarm.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock sets the engine clock. The engine needs the concrete system
// clock so debug offsets can be applied at runtime.
func WithClock(c *reminder.SystemClock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTimerFactory sets the timer factory, for tests.
func WithTimerFactory(tf reminder.TimerFactory) Option {
	return func(e *Engine) { e.timers = tf }
}

// WithSnoozeDuration sets the snooze interval.
func WithSnoozeDuration(d time.Duration) Option {
	return func(e *Engine) { e.snooze = d }
}

// WithEventHandler sets the event callback.
func WithEventHandler(h EventHandler) Option {
	return func(e *Engine) { e.handler = h }
}

// New creates an Engine. The initial lead time comes from preferences when
// a store is configured.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:     reminder.NewSystemClock(0),
		timers:    reminder.NewTimerFactory(),
		snooze:    reminder.DefaultSnooze,
		logger:    logging.Component("engine"),
		loggedNap: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}

	leadSec := 600
	if e.prefs != nil {
		leadSec = e.prefs.LeadTimeSec()
	}

	e.scheduler = reminder.New(
		reminder.WithClock(e.clock),
		reminder.WithTimerFactory(e.timers),
		reminder.WithSnoozeDuration(e.snooze),
		reminder.WithGlobalLead(leadSec),
		reminder.WithFireHandler(e.handleFire),
	)
	e.bridge = alarm.New(e.scheduler, e.notifier, e.player)

	if e.player != nil && e.prefs != nil {
		e.player.SetMuted(!e.prefs.SoundEnabled())
		e.player.SetSound(e.prefs.SoundID())
	}

	return e
}

// Refresh fetches today's schedule and re-evaluates reminder timers. On
// fetch failure the engine enters a degraded state: timers are cancelled
// and audio stops, so no reminder can fire off stale data.
func (e *Engine) Refresh(ctx context.Context) error {
	now := e.clock.Now()
	date := now.Format("2006-01-02")

	snap, err := e.source.Schedule(ctx, date)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			e.mu.Lock()
			e.lastSnap = nil
			e.entries = nil
			e.fetchedAt = now
			e.degraded = false
			e.noSched = true
			e.mu.Unlock()

			e.scheduler.Evaluate(reminder.Input{})
			e.bridge.Silence()
			e.emit(Event{Type: EventRefresh, Time: now, Message: "no schedule for today"})
			return nil
		}

		e.mu.Lock()
		e.degraded = true
		e.mu.Unlock()

		e.scheduler.Reset()
		e.bridge.Silence()
		e.logger.WarnCtx("schedule fetch failed", map[string]any{"error": err.Error()})
		e.emit(Event{Type: EventDegraded, Time: now, Error: err.Error()})
		return err
	}

	entries := timeline.Build(snap.Day, snap.Naps, now)

	e.mu.Lock()
	e.lastSnap = snap
	e.entries = entries
	e.fetchedAt = now
	e.degraded = false
	e.noSched = false
	e.mu.Unlock()

	e.recordFinished(date, entries)
	e.scheduler.Evaluate(buildInput(entries))
	e.emit(Event{Type: EventRefresh, Time: now})
	return nil
}

// buildInput extracts the scheduler's view from the projected timeline.
func buildInput(entries []timeline.Entry) reminder.Input {
	var in reminder.Input
	if ent, end := timeline.CurrentProjectedEnd(entries); ent != nil {
		idx := ent.Nap.Index
		in.InProgressIndex = &idx
		in.ProjectedEnd = end
	}
	if ent, start := timeline.NextPlannedStart(entries); ent != nil {
		idx := ent.Nap.Index
		in.NextNapIndex = &idx
		in.NextNapStart = start
	}
	return in
}

// recordFinished writes completed naps to history, once per nap per day.
func (e *Engine) recordFinished(day string, entries []timeline.Entry) {
	if e.recorder == nil {
		return
	}
	for _, ent := range entries {
		nap := ent.Nap
		if nap.Status != timeline.NapFinished || nap.ActualStartAt == nil || nap.ActualEndAt == nil {
			continue
		}
		key := fmt.Sprintf("%s/%d", day, nap.Index)
		e.mu.Lock()
		seen := e.loggedNap[key]
		if !seen {
			e.loggedNap[key] = true
		}
		e.mu.Unlock()
		if seen {
			continue
		}
		if err := e.recorder.RecordNap(day, nap.Index, *nap.ActualStartAt, *nap.ActualEndAt); err != nil {
			e.logger.Warnf("record nap: %v", err)
		}
	}
}

func (e *Engine) handleFire(f reminder.Fire) {
	e.mu.Lock()
	fire := f
	e.lastFire = &fire
	e.mu.Unlock()

	e.bridge.Present(f)
	if e.recorder != nil {
		if err := e.recorder.RecordFire(f); err != nil {
			e.logger.Warnf("record fire: %v", err)
		}
	}
	e.emit(Event{
		Type:     EventFired,
		Time:     f.FireTime,
		Context:  f.Context,
		NapIndex: f.NapIndex,
	})
}

// Snooze pushes the fired reminder back and silences the alarm.
func (e *Engine) Snooze(ctx reminder.Context) {
	e.bridge.Snooze(ctx)
	e.recordOutcome(ctx, history.OutcomeSnoozed)
	e.emit(Event{Type: EventSnoozed, Time: e.clock.Now(), Context: ctx})
}

// Dismiss cancels the fired reminder and silences the alarm.
func (e *Engine) Dismiss(ctx reminder.Context) {
	e.bridge.Dismiss(ctx)
	e.recordOutcome(ctx, history.OutcomeDismissed)
	e.emit(Event{Type: EventDismissed, Time: e.clock.Now(), Context: ctx})
}

func (e *Engine) recordOutcome(ctx reminder.Context, outcome history.Outcome) {
	if e.recorder == nil {
		return
	}
	e.mu.Lock()
	fire := e.lastFire
	e.mu.Unlock()
	if fire == nil || fire.Context != ctx {
		return
	}
	if err := e.recorder.RecordOutcome(fire.ID, outcome); err != nil {
		e.logger.Warnf("record outcome: %v", err)
	}
}

// SetLeadTime changes the reminder lead. Global scope persists to prefs,
// pushes to the server, and re-arms; next-alarm scope only overrides the
// currently targeted nap.
func (e *Engine) SetLeadTime(ctx context.Context, sec int, scope LeadScope) error {
	if sec < 0 {
		return fmt.Errorf("lead time must not be negative, got %d", sec)
	}

	switch scope {
	case ScopeNextAlarm:
		napIndex := e.currentTargetIndex()
		e.scheduler.SetOverrideLead(sec, napIndex)
	default:
		if e.prefs != nil {
			if err := e.prefs.SetLeadTimeSec(sec); err != nil {
				return err
			}
		}
		if e.source != nil {
			if err := e.source.SetLeadTime(ctx, sec); err != nil {
				e.logger.Warnf("push lead to server: %v", err)
			}
		}
		// A global change supersedes any one-shot override.
		e.scheduler.ClearOverride()
		e.scheduler.SetGlobalLead(sec)
	}

	e.reEvaluate()
	e.emit(Event{Type: EventSettings, Time: e.clock.Now(), Message: "lead time changed"})
	return nil
}

// OverrideLead sets a next-alarm-only lead override. Used by the dashboard
// keys; the override reverts when the targeted nap changes.
func (e *Engine) OverrideLead(sec int) error {
	return e.SetLeadTime(context.Background(), sec, ScopeNextAlarm)
}

// currentTargetIndex returns the nap index the active context is aimed at.
func (e *Engine) currentTargetIndex() int {
	napEnd, napStart := e.scheduler.Schedules()
	if napEnd.State == reminder.StateArmed || napEnd.State == reminder.StateSnoozed {
		return napEnd.NapIndex
	}
	if napStart.State == reminder.StateArmed || napStart.State == reminder.StateSnoozed {
		return napStart.NapIndex
	}
	if in := buildInput(e.snapshotEntries()); in.InProgressIndex != nil {
		return *in.InProgressIndex
	} else if in.NextNapIndex != nil {
		return *in.NextNapIndex
	}
	return 0
}

// SetSoundEnabled toggles the alarm sound. Disabling stops any active
// playback immediately.
func (e *Engine) SetSoundEnabled(enabled bool) error {
	if e.prefs != nil {
		if err := e.prefs.SetSoundEnabled(enabled); err != nil {
			return err
		}
	}
	if e.player != nil {
		e.player.SetMuted(!enabled)
	}
	e.emit(Event{Type: EventSettings, Time: e.clock.Now(), Message: "sound toggled"})
	return nil
}

// SetSoundID selects the alarm sound.
func (e *Engine) SetSoundID(id audio.SoundID) error {
	if !audio.ValidSound(id) {
		return fmt.Errorf("unknown sound %q", id)
	}
	if e.prefs != nil {
		if err := e.prefs.SetSoundID(id); err != nil {
			return err
		}
	}
	if e.player != nil {
		e.player.SetSound(id)
	}
	e.emit(Event{Type: EventSettings, Time: e.clock.Now(), Message: "sound changed"})
	return nil
}

// Preview plays a short sample of the given sound.
func (e *Engine) Preview(id audio.SoundID) error {
	if e.player == nil {
		return nil
	}
	return e.player.Preview(id)
}

// SetClockOffset shifts the engine's notion of "now" and re-evaluates
// timers against the shifted clock, so the countdown and the actual fire
// moment can never disagree.
func (e *Engine) SetClockOffset(offset time.Duration) {
	e.clock.SetOffset(offset)
	e.reEvaluate()
}

// reEvaluate rebuilds the timeline from the last snapshot and feeds the
// scheduler, without a network round trip.
func (e *Engine) reEvaluate() {
	e.mu.Lock()
	snap := e.lastSnap
	e.mu.Unlock()
	if snap == nil {
		return
	}

	now := e.clock.Now()
	entries := timeline.Build(snap.Day, snap.Naps, now)

	e.mu.Lock()
	e.entries = entries
	e.mu.Unlock()

	e.scheduler.Evaluate(buildInput(entries))
}

// Status returns a read-only snapshot of engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	napEnd, napStart := e.scheduler.Schedules()
	st := Status{
		FetchedAt:  e.fetchedAt,
		Degraded:   e.degraded,
		NoSchedule: e.noSched,
		Entries:    append([]timeline.Entry(nil), e.entries...),
		NapEnd:     napEnd,
		NapStart:   napStart,
		LeadSec:    e.scheduler.GlobalLead(),
		LastFire:   e.lastFire,
	}
	if e.lastSnap != nil && e.lastSnap.SleepSession != nil {
		st.SleepActive = e.lastSnap.SleepSession.Active()
	}
	if e.prefs != nil {
		st.SoundEnabled = e.prefs.SoundEnabled()
		st.SoundID = e.prefs.SoundID()
	}
	return st
}

// Now exposes the engine clock, offset included.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

func (e *Engine) snapshotEntries() []timeline.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]timeline.Entry(nil), e.entries...)
}

func (e *Engine) emit(ev Event) {
	if e.handler != nil {
		e.handler(ev)
	}
}

// Shutdown cancels timers and stops audio. Safe to call more than once.
func (e *Engine) Shutdown() {
	e.scheduler.Reset()
	e.bridge.Silence()
}
