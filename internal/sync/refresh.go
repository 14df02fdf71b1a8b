package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nestsync/internal/credentials"
	"nestsync/internal/models"
	"nestsync/internal/provider"
)

// Refresh re-fetches metrics for a single content item of any age. It is the
// only path that touches items past the automatic-refresh horizon.
type Refresh struct {
	store    Store
	provider provider.Client
	creds    credentials.Client
	limiter  Limiter
	log      zerolog.Logger
}

func NewRefresh(st Store, pc provider.Client, cc credentials.Client, lim Limiter, log zerolog.Logger) *Refresh {
	return &Refresh{
		store:    st,
		provider: pc,
		creds:    cc,
		limiter:  lim,
		log:      log.With().Str("executor", "refresh_content").Logger(),
	}
}

// Run refreshes the item named in the job payload.
func (r *Refresh) Run(ctx context.Context, job models.SyncJob) error {
	contentID, _ := job.Payload["content_id"].(string)
	if contentID == "" {
		return fmt.Errorf("refresh job %s missing content_id", job.ID)
	}

	post, err := r.store.GetPost(ctx, job.TenantID, contentID)
	if err != nil {
		return err
	}

	creds, err := r.creds.GetClientCredentials(ctx, job.TenantID)
	if err != nil {
		return fmt.Errorf("get credentials: %w", err)
	}

	var metrics models.Metrics
	err = r.limiter.Execute(ctx, func() error {
		m, err := r.provider.GetMetrics(ctx, creds.AccessToken, post.ExternalID, post.MediaType)
		metrics = m
		return err
	})
	if err != nil {
		return fmt.Errorf("get metrics: %w", err)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	if err := r.store.UpsertPostMetrics(ctx, job.TenantID, post.ExternalID, today, metrics); err != nil {
		return err
	}

	r.log.Info().
		Str("tenant_id", job.TenantID).
		Str("content_id", contentID).
		Msg("on-demand refresh completed")
	return nil
}
