package provider

import (
	"context"
	"time"

	"nestsync/internal/models"
)

// ContentItem is one content entry from the provider listing.
type ContentItem struct {
	ID        string    `json:"id"`
	MediaType string    `json:"media_type"`
	Caption   string    `json:"caption"`
	Permalink string    `json:"permalink"`
	MediaURL  string    `json:"media_url"`
	Timestamp time.Time `json:"timestamp"`
}

// IsContainer reports whether the item holds child media.
func (c ContentItem) IsContainer() bool {
	return c.MediaType == models.MediaCarousel
}

// ContentPage is one page of the content listing.
type ContentPage struct {
	Items      []ContentItem
	NextCursor string
}

// Profile is the provider's account profile record.
type Profile struct {
	Username      string `json:"username"`
	Name          string `json:"name"`
	Biography     string `json:"biography"`
	FollowerCount int64  `json:"followers_count"`
	FollowsCount  int64  `json:"follows_count"`
	MediaCount    int64  `json:"media_count"`
}

// Demographics is the provider's audience breakdown.
type Demographics struct {
	ByCountry map[string]int64
	ByAge     map[string]int64
	ByGender  map[string]int64
}

// CampaignItem is one advertising campaign from the ad account listing.
type CampaignItem struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	Objective string     `json:"objective"`
	StartedAt *time.Time `json:"start_time,omitempty"`
}

// CampaignDay is one day of campaign performance.
type CampaignDay struct {
	Spend       float64
	Impressions int64
	Clicks      int64
	Conversions int64
}

// Client is the outbound surface of the rate-limited provider API. Every
// method can fail with a classified *APIError.
type Client interface {
	ListContent(ctx context.Context, token, accountID string, since *time.Time, cursor string, limit int) (ContentPage, error)
	GetMetrics(ctx context.Context, token, contentID, mediaType string) (models.Metrics, error)
	ListChildren(ctx context.Context, token, contentID string) ([]ContentItem, error)
	GetProfile(ctx context.Context, token, accountID string) (Profile, error)
	GetFollowerCount(ctx context.Context, token, accountID string) (int64, error)
	GetAudienceDemographics(ctx context.Context, token, accountID string) (Demographics, error)
	GetAccountMetrics(ctx context.Context, token, accountID string, day time.Time) (models.Metrics, error)
	ListCampaigns(ctx context.Context, token, adAccountID string) ([]CampaignItem, error)
	GetCampaignMetrics(ctx context.Context, token, campaignID string, day time.Time) (CampaignDay, error)
}
