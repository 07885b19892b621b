package reminder

import (
	"sync"
	"time"
)

// Clock supplies the scheduler's notion of "now". The debug offset used for
// schedule testing is applied at read time, so a countdown computed from
// Now() and the delay handed to the timer factory can never disagree.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock, shifted by an adjustable offset.
type SystemClock struct {
	mu     sync.RWMutex
	offset time.Duration
}

// NewSystemClock returns a clock with the given initial offset.
func NewSystemClock(offset time.Duration) *SystemClock {
	return &SystemClock{offset: offset}
}

// Now returns the offset-adjusted wall-clock time.
func (c *SystemClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// SetOffset replaces the debug offset. Callers that change the offset must
// re-evaluate the scheduler so armed timers are recomputed against the
// shifted clock.
func (c *SystemClock) SetOffset(offset time.Duration) {
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()
}

// TimerHandle is a cancellable pending timer.
type TimerHandle interface {
	Cancel()
}

// TimerFactory schedules one-shot callbacks. The scheduler holds at most one
// handle per reminder context and always cancels before replacing it.
type TimerFactory interface {
	Schedule(delay time.Duration, fn func()) TimerHandle
}

// realTimerFactory wraps time.AfterFunc.
type realTimerFactory struct{}

// NewTimerFactory returns the production timer factory.
func NewTimerFactory() TimerFactory {
	return realTimerFactory{}
}

type realTimerHandle struct {
	t *time.Timer
}

func (h realTimerHandle) Cancel() {
	h.t.Stop()
}

func (realTimerFactory) Schedule(delay time.Duration, fn func()) TimerHandle {
	return realTimerHandle{t: time.AfterFunc(delay, fn)}
}
