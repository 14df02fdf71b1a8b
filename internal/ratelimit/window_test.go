package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRateLimited = errors.New("provider says slow down")

// fakeClock drives the window deterministically: sleeping advances time.
type fakeClock struct {
	cur   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.cur }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.cur = c.cur.Add(d)
	return nil
}

func newTestWindow(capacity int, window, cooldown time.Duration) (*Window, *fakeClock) {
	clock := newFakeClock()
	w := NewWindow(capacity, window, cooldown, func(err error) bool {
		return errors.Is(err, errRateLimited)
	})
	w.now = clock.now
	w.sleep = clock.sleep
	return w, clock
}

func TestWindowAdmitsUpToCapacity(t *testing.T) {
	w, clock := newTestWindow(3, time.Hour, 5*time.Minute)
	ctx := context.Background()

	var calls int
	for i := 0; i < 3; i++ {
		err := w.Execute(ctx, func() error { calls++; return nil })
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.Empty(t, clock.slept, "first %d calls must not block", 3)
	assert.Equal(t, 0, w.Remaining())
	assert.Equal(t, 1.0, w.Utilization())
}

func TestWindowBlocksUntilSlotFrees(t *testing.T) {
	w, clock := newTestWindow(3, time.Hour, 5*time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Execute(ctx, func() error { return nil }))
	}

	// All three slots were taken at the same instant, so the fourth call
	// has to wait a full window for the oldest to age out.
	var ran bool
	require.NoError(t, w.Execute(ctx, func() error { ran = true; return nil }))
	assert.True(t, ran)
	require.Len(t, clock.slept, 1)
	assert.Equal(t, time.Hour, clock.slept[0])
}

func TestWindowWaitsOnlyForOldestCall(t *testing.T) {
	w, clock := newTestWindow(2, time.Hour, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, w.Execute(ctx, func() error { return nil }))
	clock.cur = clock.cur.Add(40 * time.Minute)
	require.NoError(t, w.Execute(ctx, func() error { return nil }))

	// Oldest call is 40 minutes old; 20 minutes remain until it expires.
	require.NoError(t, w.Execute(ctx, func() error { return nil }))
	require.Len(t, clock.slept, 1)
	assert.Equal(t, 20*time.Minute, clock.slept[0])
}

func TestWindowPrunesExpiredCalls(t *testing.T) {
	w, clock := newTestWindow(2, time.Hour, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, w.Execute(ctx, func() error { return nil }))
	require.NoError(t, w.Execute(ctx, func() error { return nil }))
	assert.Equal(t, 0, w.Remaining())

	clock.cur = clock.cur.Add(61 * time.Minute)
	assert.Equal(t, 2, w.Remaining())
	assert.Equal(t, 0.0, w.Utilization())
}

func TestWindowCooldownAndSingleRetryOnProviderRejection(t *testing.T) {
	w, clock := newTestWindow(10, time.Hour, 5*time.Minute)
	ctx := context.Background()

	attempts := 0
	err := w.Execute(ctx, func() error {
		attempts++
		if attempts == 1 {
			return errRateLimited
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	// The provider rejection clears our accounting, then the cooldown runs.
	require.Len(t, clock.slept, 1)
	assert.Equal(t, 5*time.Minute, clock.slept[0])
	assert.Equal(t, 9, w.Remaining(), "only the retry should be on the books")
}

func TestWindowSecondRejectionPropagates(t *testing.T) {
	w, _ := newTestWindow(10, time.Hour, 5*time.Minute)
	ctx := context.Background()

	attempts := 0
	err := w.Execute(ctx, func() error {
		attempts++
		return errRateLimited
	})
	assert.ErrorIs(t, err, errRateLimited)
	assert.Equal(t, 2, attempts, "exactly one retry after cooldown")
}

func TestWindowOtherErrorsPassThrough(t *testing.T) {
	w, clock := newTestWindow(10, time.Hour, 5*time.Minute)
	ctx := context.Background()

	boom := errors.New("boom")
	attempts := 0
	err := w.Execute(ctx, func() error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, clock.slept)
}

func TestWindowSleepErrorAborts(t *testing.T) {
	w, _ := newTestWindow(1, time.Hour, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, w.Execute(ctx, func() error { return nil }))

	cancelErr := context.Canceled
	w.sleep = func(context.Context, time.Duration) error { return cancelErr }
	err := w.Execute(ctx, func() error {
		t.Fatal("fn must not run after an aborted wait")
		return nil
	})
	assert.ErrorIs(t, err, cancelErr)
}
