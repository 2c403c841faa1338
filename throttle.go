package hangr

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ActivityThrottle calls fn at most once per period. The first call in a
// quiet window fires immediately; later calls inside the window collapse
// into a single trailing call at the end of the window.
type ActivityThrottle struct {
	fn     func()
	period time.Duration
	clock  Clock

	mu       sync.Mutex
	limiter  *rate.Limiter
	trailing Timer
}

// NewActivityThrottle returns a throttle around fn.
func NewActivityThrottle(fn func(), period time.Duration, clock Clock) *ActivityThrottle {
	if clock == nil {
		clock = RealClock()
	}
	return &ActivityThrottle{
		fn:      fn,
		period:  period,
		clock:   clock,
		limiter: rate.NewLimiter(rate.Every(period), 1),
	}
}

// Call requests an invocation of fn.
func (t *ActivityThrottle) Call() {
	t.mu.Lock()
	t.stopTrailingLocked()

	now := t.clock.Now()
	r := t.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay <= 0 {
		t.mu.Unlock()
		t.fn()
		return
	}
	r.CancelAt(now)

	var timer Timer
	timer = t.clock.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.trailing != timer {
			t.mu.Unlock()
			return
		}
		t.trailing = nil
		// The window is over; start a new one from here.
		t.limiter.ReserveN(t.clock.Now(), 1)
		t.mu.Unlock()
		t.fn()
	})
	t.trailing = timer
	t.mu.Unlock()
}

// Clear cancels a pending trailing call without firing it.
func (t *ActivityThrottle) Clear() {
	t.mu.Lock()
	t.stopTrailingLocked()
	t.mu.Unlock()
}

func (t *ActivityThrottle) stopTrailingLocked() {
	if t.trailing != nil {
		t.trailing.Stop()
		t.trailing = nil
	}
}
