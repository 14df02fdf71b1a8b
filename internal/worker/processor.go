package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nestsync/internal/config"
	"nestsync/internal/models"
	"nestsync/internal/ratelimit"
	"nestsync/internal/telemetry"
)

// Handler executes a claimed job for a given job type.
type Handler func(ctx context.Context, job models.SyncJob) error

// Store is the slice of the persistence layer the processor needs. The
// Postgres store satisfies it; tests use a fake.
type Store interface {
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
	CountPending(ctx context.Context) (int64, error)
	ClaimNext(ctx context.Context) (models.SyncJob, bool, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, jobErr error) (models.Transition, error)
	RecordSyncError(ctx context.Context, tenantID string, syncErr error) error
}

// Processor drives the worker polling loop: reclaim stale work, claim the
// next eligible job, dispatch it, and convert the outcome into a store
// transition. Multiple processors can run against the same store; the claim
// statement guarantees no job is handed out twice.
type Processor struct {
	cfg      config.Config
	store    Store
	limiter  *ratelimit.Window
	handlers map[string]Handler
	log      zerolog.Logger
	workerID string

	inFlight sync.WaitGroup
}

func NewProcessor(cfg config.Config, st Store, limiter *ratelimit.Window, log zerolog.Logger, workerID string) *Processor {
	return &Processor{
		cfg:      cfg,
		store:    st,
		limiter:  limiter,
		handlers: make(map[string]Handler),
		log:      log.With().Str("component", "processor").Str("worker_id", workerID).Logger(),
		workerID: workerID,
	}
}

// RegisterHandler binds a handler to a job type.
func (p *Processor) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	p.handlers[jobType] = handler
}

// Run polls the store until context cancellation. On shutdown the in-flight
// job is allowed the configured grace period to reach a safe stopping point.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info().
		Dur("poll_interval", p.cfg.PollInterval).
		Dur("stale_after", p.cfg.StaleAfter).
		Msg("worker loop started")

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		default:
		}

		if n, err := p.store.ReclaimStale(ctx, p.cfg.StaleAfter); err == nil && n > 0 {
			telemetry.JobsReclaimed.Add(float64(n))
			p.log.Warn().Int64("count", n).Msg("reclaimed stale processing jobs")
		}
		if depth, err := p.store.CountPending(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}
		if p.limiter != nil {
			telemetry.RateUtilization.Set(p.limiter.Utilization())
		}

		job, ok, err := p.store.ClaimNext(ctx)
		if err != nil {
			p.log.Error().Err(err).Msg("claim failed")
			if err := sleepCtx(ctx, p.cfg.PollInterval); err != nil {
				p.drain()
				return err
			}
			continue
		}
		if !ok {
			if err := sleepCtx(ctx, p.cfg.PollInterval); err != nil {
				p.drain()
				return err
			}
			continue
		}

		p.process(ctx, job)
	}
}

// process executes one claimed job and applies the resulting transition.
func (p *Processor) process(parent context.Context, job models.SyncJob) {
	log := p.log.With().
		Str("job_id", job.ID).
		Str("job_type", job.JobType).
		Str("tenant_id", job.TenantID).
		Int("retry_count", job.RetryCount).
		Logger()
	log.Info().Msg("job claimed")

	// The job context outlives a shutdown by the grace period, so an executor
	// can reach a safe stopping point instead of being cut off mid-write.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer cancel()
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			timer := time.NewTimer(p.cfg.ShutdownGrace)
			defer timer.Stop()
			select {
			case <-timer.C:
				cancel()
			case <-stopWatch:
			}
		case <-stopWatch:
		}
	}()
	defer close(stopWatch)

	p.inFlight.Add(1)
	telemetry.InFlightGauge.Inc()
	defer func() {
		telemetry.InFlightGauge.Dec()
		p.inFlight.Done()
	}()

	start := time.Now()
	err := p.dispatch(jobCtx, job)
	if err == nil {
		if err := p.store.CompleteJob(jobCtx, job.ID); err != nil {
			log.Error().Err(err).Msg("mark job completed")
			return
		}
		telemetry.JobsCompleted.Inc()
		log.Info().Dur("took", time.Since(start)).Msg("job completed")
		return
	}

	tr, ferr := p.store.FailJob(jobCtx, job.ID, err)
	if ferr != nil {
		log.Error().Err(ferr).Msg("apply failure transition")
		return
	}
	if tr.Status == models.StatusFailed {
		telemetry.JobsFailed.Inc()
		// Terminal failures surface on the tenant's status row, not just the
		// job row, so operators see them without querying the queue.
		if serr := p.store.RecordSyncError(jobCtx, job.TenantID, err); serr != nil {
			log.Error().Err(serr).Msg("record sync error on status row")
		}
		log.Error().Err(err).Int("attempts", tr.RetryCount).Msg("job terminally failed")
		return
	}
	telemetry.JobsRetried.Inc()
	log.Warn().Err(err).
		Time("scheduled_for", tr.ScheduledFor).
		Int("retry_count", tr.RetryCount).
		Msg("job requeued with backoff")
}

func (p *Processor) dispatch(ctx context.Context, job models.SyncJob) error {
	handler, ok := p.handlers[job.JobType]
	if !ok {
		return fmt.Errorf("no handler registered for job type %q", job.JobType)
	}
	return handler(ctx, job)
}

// drain waits for the in-flight job up to the shutdown grace period.
func (p *Processor) drain() {
	done := make(chan struct{})
	go func() {
		p.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownGrace):
		p.log.Warn().Msg("shutdown grace elapsed with work in flight")
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
