package sync

import (
	"context"
	"time"

	"nestsync/internal/models"
)

// contentTypePost keys enrichment tasks for ingested posts.
const contentTypePost = "post"

// Store is the slice of the persistence layer the executors need. The
// Postgres store satisfies it; tests use an in-memory fake.
type Store interface {
	EnsureSyncStatus(ctx context.Context, tenantID string) error
	SetBackfillCompleted(ctx context.Context, tenantID string) error
	RecordDailySync(ctx context.Context, tenantID string, syncErr error) error

	UpsertPost(ctx context.Context, p models.Post) error
	UpsertPostChild(ctx context.Context, c models.PostChild) error
	UpsertPostMetrics(ctx context.Context, tenantID, postID string, day time.Time, metrics models.Metrics) error
	GetPost(ctx context.Context, tenantID, externalID string) (models.Post, error)
	LatestPostTimestamp(ctx context.Context, tenantID string) (time.Time, bool, error)
	ListPostsByAge(ctx context.Context, tenantID string, minDays, maxDays int) ([]models.Post, error)

	UpsertCampaign(ctx context.Context, c models.Campaign) error
	MarkCampaignsDeletedExcept(ctx context.Context, tenantID string, seenIDs []string) (int64, error)
	UpsertCampaignMetrics(ctx context.Context, tenantID string, m models.CampaignMetrics) error

	UpsertFollowerPoint(ctx context.Context, tenantID string, day time.Time, count int64) error
	UpsertAccountMetrics(ctx context.Context, tenantID string, day time.Time, metrics models.Metrics) error
	UpsertProfile(ctx context.Context, p models.ProfileSnapshot) error
	UpsertDemographics(ctx context.Context, d models.AudienceDemographics) error

	CreateEnrichmentTask(ctx context.Context, tenantID, contentID, contentType string) (bool, error)
}

// Limiter admits outbound provider calls. Satisfied by ratelimit.Window.
type Limiter interface {
	Execute(ctx context.Context, fn func() error) error
}
