// Package timeline projects a day's raw nap records into an ordered list of
// entries with inferred start and end times. The projection is pure: it never
// mutates its inputs and is safe to recompute on every refresh.
package timeline

import "time"

// NapStatus represents the lifecycle of a single nap.
type NapStatus string

const (
	NapUpcoming   NapStatus = "upcoming"
	NapInProgress NapStatus = "in_progress"
	NapFinished   NapStatus = "finished"
)

// Nap is the persisted nap record as delivered by the backend.
// At most one nap is in progress at any time; the first upcoming nap by
// index is "next".
type Nap struct {
	Index              int
	Status             NapStatus
	PlannedDurationSec int
	AdjustedDurationSec *int
	PlannedStartAt     *time.Time
	ActualStartAt      *time.Time
	ActualEndAt        *time.Time
}

// Day anchors the projection. FirstWakeAt seeds the running reference time.
type Day struct {
	Date                string
	FirstWakeAt         *time.Time
	DailyAwakeBudgetSec int
}

// SleepSession is an overnight sleep record. EndAt is nil while active.
type SleepSession struct {
	StartAt *time.Time
	EndAt   *time.Time
}

// Active reports whether the session is ongoing.
func (s *SleepSession) Active() bool {
	return s != nil && s.StartAt != nil && s.EndAt == nil
}

// Entry is the derived per-nap projection. It is recomputed on every build
// and never persisted.
type Entry struct {
	Nap           Nap
	PlannedStart  *time.Time
	ActualStart   *time.Time
	ActualEnd     *time.Time
	InferredStart time.Time
	EndTime       time.Time
	DurationSec   int
	// Projected is true when InferredStart came from the wake-window
	// heuristic rather than a planned or actual time.
	Projected bool
}

// wakeWindows holds the expected awake duration before each nap ordinal.
// Ordinals past the end of the table reuse the last value. The values
// follow the usual infant pattern of wake windows lengthening through
// the day.
var wakeWindows = []time.Duration{
	90 * time.Minute,
	105 * time.Minute,
	120 * time.Minute,
	150 * time.Minute,
}

// wakeWindow returns the expected awake duration before the nap at the
// given zero-based ordinal.
func wakeWindow(ordinal int) time.Duration {
	if ordinal < 0 {
		ordinal = 0
	}
	if ordinal >= len(wakeWindows) {
		ordinal = len(wakeWindows) - 1
	}
	return wakeWindows[ordinal]
}

// Build projects naps into timeline entries in index order.
//
// A running reference time starts at the day's first wake (or now when
// absent) and advances to each entry's end time, so naps without any
// planned or actual start chain off the previous nap plus a wake window.
// Entry end times are non-decreasing by construction for well-formed input.
func Build(day *Day, naps []Nap, now time.Time) []Entry {
	if len(naps) == 0 {
		return []Entry{}
	}

	reference := now
	if day != nil && validTime(day.FirstWakeAt) {
		reference = *day.FirstWakeAt
	}

	entries := make([]Entry, 0, len(naps))
	for i, nap := range naps {
		e := Entry{
			Nap:          nap,
			PlannedStart: cleanTime(nap.PlannedStartAt),
			ActualStart:  cleanTime(nap.ActualStartAt),
			ActualEnd:    cleanTime(nap.ActualEndAt),
			DurationSec:  durationSec(nap),
		}

		switch {
		case e.PlannedStart != nil:
			e.InferredStart = *e.PlannedStart
		case (nap.Status == NapFinished || nap.Status == NapInProgress) && e.ActualStart != nil:
			e.InferredStart = *e.ActualStart
		default:
			e.InferredStart = reference.Add(wakeWindow(i))
			e.Projected = true
		}

		switch {
		case e.ActualEnd != nil:
			e.EndTime = *e.ActualEnd
		case !e.InferredStart.IsZero() && e.DurationSec > 0:
			e.EndTime = e.InferredStart.Add(time.Duration(e.DurationSec) * time.Second)
		default:
			e.EndTime = reference
		}

		reference = e.EndTime
		entries = append(entries, e)
	}

	return entries
}

// durationSec picks the effective duration: adjusted override first, then
// the planned duration, else zero.
func durationSec(nap Nap) int {
	if nap.AdjustedDurationSec != nil && *nap.AdjustedDurationSec >= 0 {
		return *nap.AdjustedDurationSec
	}
	if nap.PlannedDurationSec > 0 {
		return nap.PlannedDurationSec
	}
	return 0
}

// NextPlannedStart returns the inferred start of the first upcoming nap,
// or nil when every nap is finished or in progress.
func NextPlannedStart(entries []Entry) (*Entry, *time.Time) {
	for i := range entries {
		if entries[i].Nap.Status == NapUpcoming {
			start := entries[i].InferredStart
			return &entries[i], &start
		}
	}
	return nil, nil
}

// CurrentProjectedEnd returns the projected end of the in-progress nap,
// or nil when no nap is in progress.
func CurrentProjectedEnd(entries []Entry) (*Entry, *time.Time) {
	for i := range entries {
		if entries[i].Nap.Status == NapInProgress {
			end := entries[i].EndTime
			return &entries[i], &end
		}
	}
	return nil, nil
}

// validTime reports whether the pointer holds a usable timestamp.
// Zero times count as malformed and are treated as absent.
func validTime(t *time.Time) bool {
	return t != nil && !t.IsZero()
}

// cleanTime normalizes malformed timestamps to nil.
func cleanTime(t *time.Time) *time.Time {
	if !validTime(t) {
		return nil
	}
	return t
}
