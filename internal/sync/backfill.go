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

// Backfill is the one-shot full-history ingestion executor for a newly
// onboarded tenant.
type Backfill struct {
	store    Store
	provider provider.Client
	creds    credentials.Client
	limiter  Limiter
	log      zerolog.Logger
	pageSize int
}

func NewBackfill(st Store, pc provider.Client, cc credentials.Client, lim Limiter, log zerolog.Logger, pageSize int) *Backfill {
	if pageSize <= 0 {
		pageSize = 25
	}
	return &Backfill{
		store:    st,
		provider: pc,
		creds:    cc,
		limiter:  lim,
		log:      log.With().Str("executor", "backfill").Logger(),
		pageSize: pageSize,
	}
}

// Run pages through the tenant's full content history, upserting base records
// and first metric snapshots. Failures scoped to a single item are logged and
// counted, never fatal; a failed page fetch aborts the job so the queue
// retries it with backoff.
func (b *Backfill) Run(ctx context.Context, job models.SyncJob) error {
	tenantID := job.TenantID
	log := b.log.With().Str("tenant_id", tenantID).Str("job_id", job.ID).Logger()

	if err := b.store.EnsureSyncStatus(ctx, tenantID); err != nil {
		return err
	}

	creds, err := b.creds.GetClientCredentials(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("get credentials: %w", err)
	}

	accountIDs := accountIDsFromPayload(job.Payload)
	if len(accountIDs) == 0 {
		accountIDs = creds.AccountIDs
	}
	if len(accountIDs) == 0 {
		return fmt.Errorf("tenant %s has no provider accounts", tenantID)
	}

	var total, withMetrics, itemFailures int
	for _, accountID := range accountIDs {
		cursor := ""
		for {
			var page provider.ContentPage
			err := b.limiter.Execute(ctx, func() error {
				p, err := b.provider.ListContent(ctx, creds.AccessToken, accountID, nil, cursor, b.pageSize)
				page = p
				return err
			})
			if err != nil {
				return fmt.Errorf("list content for account %s: %w", accountID, err)
			}

			for _, item := range page.Items {
				if err := b.store.UpsertPost(ctx, postFromItem(item, tenantID, accountID)); err != nil {
					return err
				}
				total++

				if err := b.ingestItemDetails(ctx, creds.AccessToken, tenantID, item); err != nil {
					if provider.IsNotFound(err) {
						log.Debug().Str("content_id", item.ID).Msg("content gone upstream, skipping")
						continue
					}
					itemFailures++
					log.Warn().Err(err).Str("content_id", item.ID).Msg("item ingestion failed, continuing")
					continue
				}
				withMetrics++
			}

			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
	}

	if err := b.store.SetBackfillCompleted(ctx, tenantID); err != nil {
		return err
	}

	log.Info().
		Int("items", total).
		Int("with_metrics", withMetrics).
		Int("item_failures", itemFailures).
		Msg("backfill completed")
	return nil
}

// ingestItemDetails fetches the first metric snapshot and, for containers,
// the children. Every provider call passes through the limiter.
func (b *Backfill) ingestItemDetails(ctx context.Context, token, tenantID string, item provider.ContentItem) error {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	var metrics models.Metrics
	err := b.limiter.Execute(ctx, func() error {
		m, err := b.provider.GetMetrics(ctx, token, item.ID, item.MediaType)
		metrics = m
		return err
	})
	if err != nil {
		return fmt.Errorf("get metrics: %w", err)
	}
	if err := b.store.UpsertPostMetrics(ctx, tenantID, item.ID, today, metrics); err != nil {
		return err
	}

	if item.IsContainer() {
		var children []provider.ContentItem
		err := b.limiter.Execute(ctx, func() error {
			c, err := b.provider.ListChildren(ctx, token, item.ID)
			children = c
			return err
		})
		if err != nil {
			return fmt.Errorf("list children: %w", err)
		}
		for _, child := range children {
			if err := b.store.UpsertPostChild(ctx, models.PostChild{
				ExternalID: child.ID,
				ParentID:   item.ID,
				TenantID:   tenantID,
				MediaType:  child.MediaType,
				MediaURL:   child.MediaURL,
			}); err != nil {
				return err
			}
		}
	}

	if _, err := b.store.CreateEnrichmentTask(ctx, tenantID, item.ID, contentTypePost); err != nil {
		return err
	}
	return nil
}

func postFromItem(item provider.ContentItem, tenantID, accountID string) models.Post {
	return models.Post{
		ExternalID:  item.ID,
		TenantID:    tenantID,
		AccountID:   accountID,
		MediaType:   item.MediaType,
		Caption:     item.Caption,
		Permalink:   item.Permalink,
		MediaURL:    item.MediaURL,
		PostedAt:    item.Timestamp,
		IsContainer: item.IsContainer(),
	}
}

func accountIDsFromPayload(payload map[string]any) []string {
	raw, ok := payload["account_ids"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
