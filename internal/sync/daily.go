package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nestsync/internal/credentials"
	"nestsync/internal/models"
	"nestsync/internal/provider"
)

// Daily is the recurring incremental sync executor. It applies the age-tiered
// refresh policy and runs a fixed sequence of independent steps; a failure in
// one step never blocks another, but any step failure fails the job at the
// end so the queue retries it.
type Daily struct {
	store        Store
	provider     provider.Client
	creds        credentials.Client
	limiter      Limiter
	log          zerolog.Logger
	weeklyRunDay time.Weekday

	// now is injectable so tier decisions are testable.
	now func() time.Time
}

func NewDaily(st Store, pc provider.Client, cc credentials.Client, lim Limiter, log zerolog.Logger, weeklyRunDay time.Weekday) *Daily {
	return &Daily{
		store:        st,
		provider:     pc,
		creds:        cc,
		limiter:      lim,
		log:          log.With().Str("executor", "daily_sync").Logger(),
		weeklyRunDay: weeklyRunDay,
		now:          time.Now,
	}
}

// Run executes one daily sync for the job's tenant and returns the work
// summary. The last_sync_error on the tenant's status row is recorded no
// matter how the run ends.
func (d *Daily) Run(ctx context.Context, job models.SyncJob) (models.DailySummary, error) {
	tenantID := job.TenantID
	log := d.log.With().Str("tenant_id", tenantID).Str("job_id", job.ID).Logger()

	var summary models.DailySummary

	creds, err := d.creds.GetClientCredentials(ctx, tenantID)
	if err != nil {
		err = fmt.Errorf("get credentials: %w", err)
		_ = d.store.RecordDailySync(ctx, tenantID, err)
		return summary, err
	}
	if len(creds.AccountIDs) == 0 {
		err = fmt.Errorf("tenant %s has no provider accounts", tenantID)
		_ = d.store.RecordDailySync(ctx, tenantID, err)
		return summary, err
	}

	now := d.now().UTC()
	today := now.Truncate(24 * time.Hour)
	token := creds.AccessToken
	accountID := creds.AccountIDs[0]

	var stepErrs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			stepErrs = append(stepErrs, fmt.Errorf("%s: %w", name, err))
			log.Error().Err(err).Str("step", name).Msg("daily sync step failed")
		}
	}

	step("profile", func() error {
		return d.refreshProfile(ctx, token, tenantID, accountID)
	})

	step("follower_history", func() error {
		n, err := d.appendFollowerPoint(ctx, token, tenantID, accountID, today)
		summary.FollowerPoints += n
		return err
	})

	step("new_content", func() error {
		n, failures, err := d.discoverNewContent(ctx, token, tenantID, creds.AccountIDs, log)
		summary.NewPosts += n
		summary.ItemFailures += failures
		return err
	})

	step("tiered_refresh", func() error {
		n, failures, err := d.refreshTieredContent(ctx, token, tenantID, now, today, log)
		summary.PostsRefreshed += n
		summary.ItemFailures += failures
		return err
	})

	step("account_metrics", func() error {
		n, err := d.refreshAccountMetrics(ctx, token, tenantID, accountID, today)
		summary.AccountMetricDays += n
		return err
	})

	if now.Weekday() == d.weeklyRunDay {
		step("demographics", func() error {
			n, err := d.refreshDemographics(ctx, token, tenantID, accountID)
			summary.Demographics += n
			return err
		})
	}

	if creds.HasAdAccount() {
		step("campaigns", func() error {
			synced, days, err := d.syncCampaigns(ctx, token, tenantID, creds.AdAccountID, today, log)
			summary.CampaignsSynced += synced
			summary.CampaignDays += days
			return err
		})
	}

	runErr := errors.Join(stepErrs...)
	if err := d.store.RecordDailySync(ctx, tenantID, runErr); err != nil {
		log.Error().Err(err).Msg("record daily sync status")
	}

	log.Info().
		Int("posts_refreshed", summary.PostsRefreshed).
		Int("new_posts", summary.NewPosts).
		Int("item_failures", summary.ItemFailures).
		Int("campaigns", summary.CampaignsSynced).
		Bool("had_errors", runErr != nil).
		Msg("daily sync finished")
	return summary, runErr
}

func (d *Daily) refreshProfile(ctx context.Context, token, tenantID, accountID string) error {
	var profile provider.Profile
	err := d.limiter.Execute(ctx, func() error {
		p, err := d.provider.GetProfile(ctx, token, accountID)
		profile = p
		return err
	})
	if err != nil {
		return err
	}
	return d.store.UpsertProfile(ctx, models.ProfileSnapshot{
		TenantID:      tenantID,
		Username:      profile.Username,
		Name:          profile.Name,
		Biography:     profile.Biography,
		FollowerCount: profile.FollowerCount,
		FollowsCount:  profile.FollowsCount,
		MediaCount:    profile.MediaCount,
	})
}

func (d *Daily) appendFollowerPoint(ctx context.Context, token, tenantID, accountID string, today time.Time) (int, error) {
	var count int64
	err := d.limiter.Execute(ctx, func() error {
		c, err := d.provider.GetFollowerCount(ctx, token, accountID)
		count = c
		return err
	})
	if err != nil {
		return 0, err
	}
	if err := d.store.UpsertFollowerPoint(ctx, tenantID, today, count); err != nil {
		return 0, err
	}
	return 1, nil
}

// discoverNewContent ingests items published since the newest known post,
// emitting one enrichment trigger per new item.
func (d *Daily) discoverNewContent(ctx context.Context, token, tenantID string, accountIDs []string, log zerolog.Logger) (int, int, error) {
	var since *time.Time
	if latest, ok, err := d.store.LatestPostTimestamp(ctx, tenantID); err != nil {
		return 0, 0, err
	} else if ok {
		since = &latest
	}

	var newPosts, failures int
	today := d.now().UTC().Truncate(24 * time.Hour)

	for _, accountID := range accountIDs {
		cursor := ""
		for {
			var page provider.ContentPage
			err := d.limiter.Execute(ctx, func() error {
				p, err := d.provider.ListContent(ctx, token, accountID, since, cursor, 25)
				page = p
				return err
			})
			if err != nil {
				return newPosts, failures, fmt.Errorf("list new content for account %s: %w", accountID, err)
			}

			for _, item := range page.Items {
				if since != nil && !item.Timestamp.After(*since) {
					continue
				}
				if err := d.store.UpsertPost(ctx, postFromItem(item, tenantID, accountID)); err != nil {
					return newPosts, failures, err
				}
				newPosts++

				if err := d.ingestNewItem(ctx, token, tenantID, item, today); err != nil {
					if provider.IsNotFound(err) {
						log.Debug().Str("content_id", item.ID).Msg("content gone upstream, skipping")
						continue
					}
					failures++
					log.Warn().Err(err).Str("content_id", item.ID).Msg("new item ingestion failed, continuing")
				}
			}

			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
	}
	return newPosts, failures, nil
}

func (d *Daily) ingestNewItem(ctx context.Context, token, tenantID string, item provider.ContentItem, today time.Time) error {
	var metrics models.Metrics
	err := d.limiter.Execute(ctx, func() error {
		m, err := d.provider.GetMetrics(ctx, token, item.ID, item.MediaType)
		metrics = m
		return err
	})
	if err != nil {
		return fmt.Errorf("get metrics: %w", err)
	}
	if err := d.store.UpsertPostMetrics(ctx, tenantID, item.ID, today, metrics); err != nil {
		return err
	}
	if _, err := d.store.CreateEnrichmentTask(ctx, tenantID, item.ID, contentTypePost); err != nil {
		return err
	}
	return nil
}

// refreshTieredContent re-fetches metrics for items whose age tier is due.
func (d *Daily) refreshTieredContent(ctx context.Context, token, tenantID string, now, today time.Time, log zerolog.Logger) (int, int, error) {
	var refreshed, failures int
	for _, window := range RefreshWindows(now, d.weeklyRunDay) {
		posts, err := d.store.ListPostsByAge(ctx, tenantID, window.MinDays, window.MaxDays)
		if err != nil {
			return refreshed, failures, err
		}
		for _, post := range posts {
			if !ShouldRefresh(post.PostedAt, now, d.weeklyRunDay) {
				continue
			}
			var metrics models.Metrics
			err := d.limiter.Execute(ctx, func() error {
				m, err := d.provider.GetMetrics(ctx, token, post.ExternalID, post.MediaType)
				metrics = m
				return err
			})
			if err != nil {
				if provider.IsNotFound(err) {
					log.Debug().Str("content_id", post.ExternalID).Msg("content gone upstream, skipping")
					continue
				}
				failures++
				log.Warn().Err(err).Str("content_id", post.ExternalID).Msg("metric refresh failed, continuing")
				continue
			}
			if err := d.store.UpsertPostMetrics(ctx, tenantID, post.ExternalID, today, metrics); err != nil {
				failures++
				log.Warn().Err(err).Str("content_id", post.ExternalID).Msg("metric snapshot write failed, continuing")
				continue
			}
			refreshed++
		}
	}
	return refreshed, failures, nil
}

func (d *Daily) refreshAccountMetrics(ctx context.Context, token, tenantID, accountID string, today time.Time) (int, error) {
	var metrics models.Metrics
	err := d.limiter.Execute(ctx, func() error {
		m, err := d.provider.GetAccountMetrics(ctx, token, accountID, today)
		metrics = m
		return err
	})
	if err != nil {
		return 0, err
	}
	if err := d.store.UpsertAccountMetrics(ctx, tenantID, today, metrics); err != nil {
		return 0, err
	}
	return 1, nil
}

func (d *Daily) refreshDemographics(ctx context.Context, token, tenantID, accountID string) (int, error) {
	var demo provider.Demographics
	err := d.limiter.Execute(ctx, func() error {
		dd, err := d.provider.GetAudienceDemographics(ctx, token, accountID)
		demo = dd
		return err
	})
	if err != nil {
		return 0, err
	}
	if err := d.store.UpsertDemographics(ctx, models.AudienceDemographics{
		TenantID:  tenantID,
		ByCountry: demo.ByCountry,
		ByAge:     demo.ByAge,
		ByGender:  demo.ByGender,
	}); err != nil {
		return 0, err
	}
	return 1, nil
}

// syncCampaigns refreshes campaign metadata, soft-deletes campaigns absent
// from the latest listing, and writes each active campaign's daily metrics.
func (d *Daily) syncCampaigns(ctx context.Context, token, tenantID, adAccountID string, today time.Time, log zerolog.Logger) (int, int, error) {
	var items []provider.CampaignItem
	err := d.limiter.Execute(ctx, func() error {
		c, err := d.provider.ListCampaigns(ctx, token, adAccountID)
		items = c
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("list campaigns: %w", err)
	}

	var synced, days int
	seen := make([]string, 0, len(items))
	for _, item := range items {
		if err := d.store.UpsertCampaign(ctx, models.Campaign{
			ExternalID:  item.ID,
			TenantID:    tenantID,
			AdAccountID: adAccountID,
			Name:        item.Name,
			Status:      item.Status,
			Objective:   item.Objective,
			StartedAt:   item.StartedAt,
		}); err != nil {
			return synced, days, err
		}
		seen = append(seen, item.ID)
		synced++

		var day provider.CampaignDay
		err := d.limiter.Execute(ctx, func() error {
			cd, err := d.provider.GetCampaignMetrics(ctx, token, item.ID, today)
			day = cd
			return err
		})
		if err != nil {
			log.Warn().Err(err).Str("campaign_id", item.ID).Msg("campaign metrics fetch failed, continuing")
			continue
		}
		if err := d.store.UpsertCampaignMetrics(ctx, tenantID, models.CampaignMetrics{
			CampaignID:  item.ID,
			Date:        today,
			Spend:       day.Spend,
			Impressions: day.Impressions,
			Clicks:      day.Clicks,
			Conversions: day.Conversions,
		}); err != nil {
			return synced, days, err
		}
		days++
	}

	if _, err := d.store.MarkCampaignsDeletedExcept(ctx, tenantID, seen); err != nil {
		return synced, days, err
	}
	return synced, days, nil
}
