package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"nestsync/internal/models"
)

// UpsertPost writes a content item keyed by (external_id, tenant_id).
// Repeating the same record only advances updated_at.
func (s *Store) UpsertPost(ctx context.Context, p models.Post) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO posts (external_id, tenant_id, account_id, media_type, caption, permalink, media_url, posted_at, is_container)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_id, tenant_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			media_type = EXCLUDED.media_type,
			caption = EXCLUDED.caption,
			permalink = EXCLUDED.permalink,
			media_url = EXCLUDED.media_url,
			posted_at = EXCLUDED.posted_at,
			is_container = EXCLUDED.is_container,
			updated_at = NOW()
	`, p.ExternalID, p.TenantID, p.AccountID, p.MediaType, p.Caption, p.Permalink, p.MediaURL, p.PostedAt, p.IsContainer)
	if err != nil {
		return fmt.Errorf("upsert post %s: %w", p.ExternalID, err)
	}
	return nil
}

// GetPost fetches one post for a tenant.
func (s *Store) GetPost(ctx context.Context, tenantID, externalID string) (models.Post, error) {
	var p models.Post
	err := s.pool.QueryRow(ctx, `
		SELECT external_id, tenant_id, account_id, media_type, caption, permalink, media_url, posted_at, is_container
		FROM posts WHERE tenant_id = $1 AND external_id = $2
	`, tenantID, externalID).Scan(
		&p.ExternalID, &p.TenantID, &p.AccountID, &p.MediaType, &p.Caption,
		&p.Permalink, &p.MediaURL, &p.PostedAt, &p.IsContainer,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Post{}, fmt.Errorf("post not found: %w", err)
	}
	if err != nil {
		return models.Post{}, fmt.Errorf("get post: %w", err)
	}
	return p, nil
}

// UpsertPostChild writes one carousel child.
func (s *Store) UpsertPostChild(ctx context.Context, c models.PostChild) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO post_children (external_id, parent_id, tenant_id, media_type, media_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id, tenant_id) DO UPDATE SET
			parent_id = EXCLUDED.parent_id,
			media_type = EXCLUDED.media_type,
			media_url = EXCLUDED.media_url,
			updated_at = NOW()
	`, c.ExternalID, c.ParentID, c.TenantID, c.MediaType, c.MediaURL)
	if err != nil {
		return fmt.Errorf("upsert post child %s: %w", c.ExternalID, err)
	}
	return nil
}

// UpsertPostMetrics writes a daily metric snapshot. A repeat write on the same
// day overwrites that day's values; distinct days accumulate as independent
// historical rows.
func (s *Store) UpsertPostMetrics(ctx context.Context, tenantID, postID string, day time.Time, metrics models.Metrics) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO post_metric_snapshots (post_id, tenant_id, snapshot_date, metrics)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (post_id, tenant_id, snapshot_date) DO UPDATE SET
			metrics = EXCLUDED.metrics,
			updated_at = NOW()
	`, postID, tenantID, day, metricsJSON)
	if err != nil {
		return fmt.Errorf("upsert post metrics %s: %w", postID, err)
	}
	return nil
}

// LatestPostTimestamp returns the newest known posted_at for a tenant.
func (s *Store) LatestPostTimestamp(ctx context.Context, tenantID string) (time.Time, bool, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT posted_at FROM posts WHERE tenant_id = $1 ORDER BY posted_at DESC LIMIT 1
	`, tenantID).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest post timestamp: %w", err)
	}
	return ts, true, nil
}

// ListPostsByAge returns posts whose age in days lies in [minDays, maxDays).
// The window is expressed as integer day offsets bound as parameters.
func (s *Store) ListPostsByAge(ctx context.Context, tenantID string, minDays, maxDays int) ([]models.Post, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT external_id, tenant_id, account_id, media_type, caption, permalink, media_url, posted_at, is_container
		FROM posts
		WHERE tenant_id = $1
		  AND posted_at <= NOW() - make_interval(days => $2)
		  AND posted_at >  NOW() - make_interval(days => $3)
		ORDER BY posted_at DESC
	`, tenantID, minDays, maxDays)
	if err != nil {
		return nil, fmt.Errorf("list posts by age: %w", err)
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(
			&p.ExternalID, &p.TenantID, &p.AccountID, &p.MediaType, &p.Caption,
			&p.Permalink, &p.MediaURL, &p.PostedAt, &p.IsContainer,
		); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// UpsertCampaign writes campaign metadata and clears any soft-delete marker,
// since presence in the latest listing means the campaign is live again.
func (s *Store) UpsertCampaign(ctx context.Context, c models.Campaign) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO campaigns (external_id, tenant_id, ad_account_id, name, status, objective, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id, tenant_id) DO UPDATE SET
			ad_account_id = EXCLUDED.ad_account_id,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			objective = EXCLUDED.objective,
			started_at = EXCLUDED.started_at,
			deleted_at = NULL,
			updated_at = NOW()
	`, c.ExternalID, c.TenantID, c.AdAccountID, c.Name, c.Status, c.Objective, c.StartedAt)
	if err != nil {
		return fmt.Errorf("upsert campaign %s: %w", c.ExternalID, err)
	}
	return nil
}

// MarkCampaignsDeletedExcept soft-deletes campaigns absent from the latest
// provider listing. Rows are kept so historical spend stays queryable.
func (s *Store) MarkCampaignsDeletedExcept(ctx context.Context, tenantID string, seenIDs []string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaigns
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE tenant_id = $1 AND deleted_at IS NULL AND NOT (external_id = ANY($2))
	`, tenantID, seenIDs)
	if err != nil {
		return 0, fmt.Errorf("soft-delete campaigns: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertCampaignMetrics writes one day of campaign performance.
func (s *Store) UpsertCampaignMetrics(ctx context.Context, tenantID string, m models.CampaignMetrics) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO campaign_metric_days (campaign_id, tenant_id, day, spend, impressions, clicks, conversions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (campaign_id, tenant_id, day) DO UPDATE SET
			spend = EXCLUDED.spend,
			impressions = EXCLUDED.impressions,
			clicks = EXCLUDED.clicks,
			conversions = EXCLUDED.conversions,
			updated_at = NOW()
	`, m.CampaignID, tenantID, m.Date, m.Spend, m.Impressions, m.Clicks, m.Conversions)
	if err != nil {
		return fmt.Errorf("upsert campaign metrics %s: %w", m.CampaignID, err)
	}
	return nil
}

// UpsertFollowerPoint appends one daily follower-count history point.
func (s *Store) UpsertFollowerPoint(ctx context.Context, tenantID string, day time.Time, count int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO follower_history (tenant_id, day, follower_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, day) DO UPDATE SET
			follower_count = EXCLUDED.follower_count,
			updated_at = NOW()
	`, tenantID, day, count)
	if err != nil {
		return fmt.Errorf("upsert follower point: %w", err)
	}
	return nil
}

// UpsertAccountMetrics writes one day of account-level aggregates.
func (s *Store) UpsertAccountMetrics(ctx context.Context, tenantID string, day time.Time, metrics models.Metrics) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal account metrics: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO account_metric_days (tenant_id, day, metrics)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, day) DO UPDATE SET
			metrics = EXCLUDED.metrics,
			updated_at = NOW()
	`, tenantID, day, metricsJSON)
	if err != nil {
		return fmt.Errorf("upsert account metrics: %w", err)
	}
	return nil
}

// UpsertProfile refreshes the tenant's profile snapshot.
func (s *Store) UpsertProfile(ctx context.Context, p models.ProfileSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (tenant_id, username, name, biography, follower_count, follows_count, media_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO UPDATE SET
			username = EXCLUDED.username,
			name = EXCLUDED.name,
			biography = EXCLUDED.biography,
			follower_count = EXCLUDED.follower_count,
			follows_count = EXCLUDED.follows_count,
			media_count = EXCLUDED.media_count,
			updated_at = NOW()
	`, p.TenantID, p.Username, p.Name, p.Biography, p.FollowerCount, p.FollowsCount, p.MediaCount)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// UpsertDemographics refreshes the weekly audience breakdown.
func (s *Store) UpsertDemographics(ctx context.Context, d models.AudienceDemographics) error {
	country, err := json.Marshal(d.ByCountry)
	if err != nil {
		return fmt.Errorf("marshal demographics: %w", err)
	}
	age, err := json.Marshal(d.ByAge)
	if err != nil {
		return fmt.Errorf("marshal demographics: %w", err)
	}
	gender, err := json.Marshal(d.ByGender)
	if err != nil {
		return fmt.Errorf("marshal demographics: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audience_demographics (tenant_id, by_country, by_age, by_gender)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE SET
			by_country = EXCLUDED.by_country,
			by_age = EXCLUDED.by_age,
			by_gender = EXCLUDED.by_gender,
			updated_at = NOW()
	`, d.TenantID, country, age, gender)
	if err != nil {
		return fmt.Errorf("upsert demographics: %w", err)
	}
	return nil
}

// CreateEnrichmentTask records a downstream enrichment trigger for a newly
// ingested item. The uniqueness constraint makes duplicate attempts no-ops;
// it reports whether a new task was created.
func (s *Store) CreateEnrichmentTask(ctx context.Context, tenantID, contentID, contentType string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO enrichment_jobs (tenant_id, content_id, content_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, content_id, content_type) DO NOTHING
	`, tenantID, contentID, contentType)
	if err != nil {
		return false, fmt.Errorf("create enrichment task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
