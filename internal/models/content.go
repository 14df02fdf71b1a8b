package models

import "time"

// Media types reported by the provider.
const (
	MediaVideo    = "VIDEO"
	MediaImage    = "IMAGE"
	MediaCarousel = "CAROUSEL_ALBUM"
)

// Post is a tenant-scoped content item keyed by its provider ID.
type Post struct {
	ExternalID  string    `json:"external_id"`
	TenantID    string    `json:"tenant_id"`
	AccountID   string    `json:"account_id"`
	MediaType   string    `json:"media_type"`
	Caption     string    `json:"caption"`
	Permalink   string    `json:"permalink"`
	MediaURL    string    `json:"media_url"`
	PostedAt    time.Time `json:"posted_at"`
	IsContainer bool      `json:"is_container"`
}

// PostChild is one element of a carousel container.
type PostChild struct {
	ExternalID string `json:"external_id"`
	ParentID   string `json:"parent_id"`
	TenantID   string `json:"tenant_id"`
	MediaType  string `json:"media_type"`
	MediaURL   string `json:"media_url"`
}

// Metrics is a flat metric-name to value map for one snapshot.
// Keys the provider stops sending simply read as zero.
type Metrics map[string]int64

// Get returns the named metric, defaulting to zero for unknown keys.
func (m Metrics) Get(name string) int64 {
	return m[name]
}

// Campaign is an advertising campaign belonging to a tenant's ad account.
type Campaign struct {
	ExternalID  string     `json:"external_id"`
	TenantID    string     `json:"tenant_id"`
	AdAccountID string     `json:"ad_account_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Objective   string     `json:"objective"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// CampaignMetrics is one day of campaign performance.
type CampaignMetrics struct {
	CampaignID  string    `json:"campaign_id"`
	Date        time.Time `json:"date"`
	Spend       float64   `json:"spend"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Conversions int64     `json:"conversions"`
}

// ProfileSnapshot is the latest account profile state for a tenant.
type ProfileSnapshot struct {
	TenantID      string `json:"tenant_id"`
	Username      string `json:"username"`
	Name          string `json:"name"`
	Biography     string `json:"biography"`
	FollowerCount int64  `json:"follower_count"`
	FollowsCount  int64  `json:"follows_count"`
	MediaCount    int64  `json:"media_count"`
}

// AudienceDemographics is a point-in-time breakdown refreshed weekly.
type AudienceDemographics struct {
	TenantID  string           `json:"tenant_id"`
	ByCountry map[string]int64 `json:"by_country"`
	ByAge     map[string]int64 `json:"by_age"`
	ByGender  map[string]int64 `json:"by_gender"`
}

// SyncStatus is the per-tenant sync bookkeeping row.
type SyncStatus struct {
	TenantID            string     `json:"tenant_id"`
	BackfillCompleted   bool       `json:"backfill_completed"`
	BackfillCompletedAt *time.Time `json:"backfill_completed_at,omitempty"`
	LastDailySyncAt     *time.Time `json:"last_daily_sync_at,omitempty"`
	LastSyncError       *string    `json:"last_sync_error,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// DailySummary counts work performed by one daily sync run, for operational
// visibility only.
type DailySummary struct {
	PostsRefreshed    int `json:"posts_refreshed"`
	NewPosts          int `json:"new_posts"`
	ItemFailures      int `json:"item_failures"`
	FollowerPoints    int `json:"follower_points"`
	CampaignsSynced   int `json:"campaigns_synced"`
	CampaignDays      int `json:"campaign_metric_days"`
	AccountMetricDays int `json:"account_metric_days"`
	Demographics      int `json:"demographics_refreshed"`
}
