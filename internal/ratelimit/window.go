package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is a sliding-window governor for outbound provider calls. It admits
// at most capacity calls in any trailing window, blocking callers with a
// computed sleep until a slot frees. One instance is shared by every executor
// in the process so all sync activity contends for the same hourly budget.
type Window struct {
	mu       sync.Mutex
	calls    []time.Time
	capacity int
	window   time.Duration
	cooldown time.Duration

	// isRateLimited classifies errors returned by wrapped calls as provider
	// rate-limit rejections.
	isRateLimited func(error) bool

	// Injectable for deterministic tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWindow constructs a limiter. Capacity should sit below the provider's
// published hard cap. classify may be nil if wrapped calls never report
// provider-side rejections.
func NewWindow(capacity int, window, cooldown time.Duration, classify func(error) bool) *Window {
	if capacity < 1 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Hour
	}
	if classify == nil {
		classify = func(error) bool { return false }
	}
	return &Window{
		capacity:      capacity,
		window:        window,
		cooldown:      cooldown,
		isRateLimited: classify,
		now:           time.Now,
		sleep:         sleepCtx,
	}
}

// Execute blocks until a slot is free in the trailing window, records the
// call, then invokes fn. If fn itself reports a provider rate-limit
// rejection, the recorded window is cleared, a fixed cooldown elapses, and
// the call is retried exactly once before any further failure propagates.
func (w *Window) Execute(ctx context.Context, fn func() error) error {
	if err := w.acquire(ctx); err != nil {
		return err
	}
	err := fn()
	if err == nil || !w.isRateLimited(err) {
		return err
	}

	// The provider disagrees with our accounting; trust the provider.
	w.mu.Lock()
	w.calls = w.calls[:0]
	w.mu.Unlock()

	if err := w.sleep(ctx, w.cooldown); err != nil {
		return err
	}
	if err := w.acquire(ctx); err != nil {
		return err
	}
	return fn()
}

// acquire waits for a free slot and records the call timestamp.
func (w *Window) acquire(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := w.now()
		w.prune(now)
		if len(w.calls) < w.capacity {
			w.calls = append(w.calls, now)
			w.mu.Unlock()
			return nil
		}
		wait := w.calls[0].Add(w.window).Sub(now)
		w.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Remaining reports free slots in the current trailing window.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return w.capacity - len(w.calls)
}

// Utilization reports the used fraction of the window budget, in [0, 1].
func (w *Window) Utilization() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return float64(len(w.calls)) / float64(w.capacity)
}

// prune drops timestamps that fell out of the trailing window. Callers hold mu.
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
