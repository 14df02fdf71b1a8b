package models

import "time"

// Outcome of one execution attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// Transition is the result of applying an attempt outcome to a processing job.
type Transition struct {
	Status       string
	RetryCount   int
	ScheduledFor time.Time
}

const (
	backoffBase = 5 * time.Minute
	backoffCap  = 6 * time.Hour
)

// RetryBackoff returns the requeue delay before retry n (1-based):
// 5, 10, 20 minutes, doubling and clamped.
func RetryBackoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := backoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

// NextState computes the job state following an attempt, without touching storage.
// A failed attempt requeues with backoff until maxRetries attempts have been
// consumed, after which the job fails terminally.
func NextState(outcome Outcome, retryCount, maxRetries int, now time.Time) Transition {
	if outcome == OutcomeSuccess {
		return Transition{Status: StatusCompleted, RetryCount: retryCount, ScheduledFor: now}
	}
	next := retryCount + 1
	if next >= maxRetries {
		return Transition{Status: StatusFailed, RetryCount: next, ScheduledFor: now}
	}
	return Transition{
		Status:       StatusPending,
		RetryCount:   next,
		ScheduledFor: now.Add(RetryBackoff(next)),
	}
}
