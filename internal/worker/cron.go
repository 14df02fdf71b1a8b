package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"nestsync/internal/config"
	"nestsync/internal/models"
	"nestsync/internal/store"
	"nestsync/internal/telemetry"
)

// Cron owns the recurring triggers: the daily fan-out that enqueues one
// daily_sync job per tenant, and the weekly housekeeping pass that archives
// and deletes old terminal jobs.
type Cron struct {
	cfg      config.Config
	store    *store.Store
	archiver *Archiver
	log      zerolog.Logger
}

func NewCron(cfg config.Config, st *store.Store, archiver *Archiver, log zerolog.Logger) *Cron {
	return &Cron{
		cfg:      cfg,
		store:    st,
		archiver: archiver,
		log:      log.With().Str("component", "cron").Logger(),
	}
}

// Run ticks once a minute and fires each trigger at most once per day.
func (c *Cron) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastDaily, lastWeekly time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := time.Now().UTC()
		if now.Hour() == c.cfg.DailySyncHourUTC && !sameDay(now, lastDaily) {
			c.enqueueDailySyncs(ctx, now)
			lastDaily = now
		}
		if now.Weekday() == c.cfg.WeeklyRunDay && now.Hour() == c.cfg.DailySyncHourUTC && !sameDay(now, lastWeekly) {
			c.housekeep(ctx, now)
			lastWeekly = now
		}
	}
}

// enqueueDailySyncs creates one daily_sync job per known tenant. Tenants that
// still have one pending or running are skipped rather than stacked.
func (c *Cron) enqueueDailySyncs(ctx context.Context, now time.Time) {
	tenants, err := c.store.ListTenants(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("list tenants for daily fan-out")
		return
	}

	var enqueued int
	for _, tenant := range tenants {
		_, created, err := c.store.EnqueueJob(ctx, store.EnqueueJobParams{
			TenantID:     tenant,
			JobType:      models.JobDailySync,
			Priority:     models.PriorityDailySync,
			MaxRetries:   c.cfg.MaxRetries,
			RunAt:        now,
			SkipIfActive: true,
		})
		if err != nil {
			c.log.Error().Err(err).Str("tenant_id", tenant).Msg("enqueue daily sync")
			continue
		}
		if created {
			telemetry.JobsEnqueued.Inc()
			enqueued++
		}
	}
	c.log.Info().Int("tenants", len(tenants)).Int("enqueued", enqueued).Msg("daily sync fan-out")
}

// housekeep archives then deletes terminal jobs past the retention window.
func (c *Cron) housekeep(ctx context.Context, now time.Time) {
	cutoff := now.Add(-c.cfg.JobRetention)

	if c.archiver != nil {
		jobs, err := c.store.TerminalJobsBefore(ctx, cutoff, 5000)
		if err != nil {
			c.log.Error().Err(err).Msg("list terminal jobs for archive")
			return
		}
		if len(jobs) > 0 {
			if err := c.archiver.Archive(ctx, now, jobs); err != nil {
				// Keep the rows until the archive succeeds.
				c.log.Error().Err(err).Msg("archive terminal jobs")
				return
			}
		}
	}

	deleted, err := c.store.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		c.log.Error().Err(err).Msg("delete terminal jobs")
		return
	}
	if deleted > 0 {
		telemetry.JobsPurged.Add(float64(deleted))
	}
	c.log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("queue housekeeping finished")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
