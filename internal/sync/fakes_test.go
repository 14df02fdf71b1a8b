package sync

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"nestsync/internal/credentials"
	"nestsync/internal/models"
	"nestsync/internal/provider"
)

// passLimiter admits everything; limiter behavior has its own tests.
type passLimiter struct {
	calls int
}

func (l *passLimiter) Execute(_ context.Context, fn func() error) error {
	l.calls++
	return fn()
}

// fakeStore is an in-memory Store for executor tests.
type fakeStore struct {
	posts         map[string]models.Post
	children      map[string]models.PostChild
	snapshots     map[string]models.Metrics // postID|date
	campaigns     map[string]models.Campaign
	campaignDays  map[string]models.CampaignMetrics
	followers     map[string]int64 // day
	accountDays   map[string]models.Metrics
	profile       *models.ProfileSnapshot
	demographics  *models.AudienceDemographics
	enrichment    map[string]bool // contentID|contentType
	backfillDone  bool
	dailyRecorded int
	lastSyncErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		posts:        map[string]models.Post{},
		children:     map[string]models.PostChild{},
		snapshots:    map[string]models.Metrics{},
		campaigns:    map[string]models.Campaign{},
		campaignDays: map[string]models.CampaignMetrics{},
		followers:    map[string]int64{},
		accountDays:  map[string]models.Metrics{},
		enrichment:   map[string]bool{},
	}
}

func snapshotKey(postID string, day time.Time) string {
	return postID + "|" + day.Format("2006-01-02")
}

func (f *fakeStore) EnsureSyncStatus(context.Context, string) error { return nil }

func (f *fakeStore) SetBackfillCompleted(context.Context, string) error {
	f.backfillDone = true
	return nil
}

func (f *fakeStore) RecordDailySync(_ context.Context, _ string, syncErr error) error {
	f.dailyRecorded++
	f.lastSyncErr = syncErr
	return nil
}

func (f *fakeStore) UpsertPost(_ context.Context, p models.Post) error {
	f.posts[p.ExternalID] = p
	return nil
}

func (f *fakeStore) UpsertPostChild(_ context.Context, c models.PostChild) error {
	f.children[c.ExternalID] = c
	return nil
}

func (f *fakeStore) UpsertPostMetrics(_ context.Context, _ string, postID string, day time.Time, m models.Metrics) error {
	f.snapshots[snapshotKey(postID, day)] = m
	return nil
}

func (f *fakeStore) GetPost(_ context.Context, _ string, externalID string) (models.Post, error) {
	p, ok := f.posts[externalID]
	if !ok {
		return models.Post{}, fmt.Errorf("post not found: %s", externalID)
	}
	return p, nil
}

func (f *fakeStore) LatestPostTimestamp(context.Context, string) (time.Time, bool, error) {
	var latest time.Time
	for _, p := range f.posts {
		if p.PostedAt.After(latest) {
			latest = p.PostedAt
		}
	}
	return latest, !latest.IsZero(), nil
}

func (f *fakeStore) ListPostsByAge(_ context.Context, _ string, minDays, maxDays int) ([]models.Post, error) {
	now := time.Now().UTC()
	var out []models.Post
	for _, p := range f.posts {
		age := now.Sub(p.PostedAt)
		if age >= time.Duration(minDays)*24*time.Hour && age < time.Duration(maxDays)*24*time.Hour {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (f *fakeStore) UpsertCampaign(_ context.Context, c models.Campaign) error {
	f.campaigns[c.ExternalID] = c
	return nil
}

func (f *fakeStore) MarkCampaignsDeletedExcept(_ context.Context, _ string, seenIDs []string) (int64, error) {
	seen := map[string]bool{}
	for _, id := range seenIDs {
		seen[id] = true
	}
	var n int64
	now := time.Now()
	for id, c := range f.campaigns {
		if !seen[id] && c.DeletedAt == nil {
			c.DeletedAt = &now
			f.campaigns[id] = c
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpsertCampaignMetrics(_ context.Context, _ string, m models.CampaignMetrics) error {
	f.campaignDays[snapshotKey(m.CampaignID, m.Date)] = m
	return nil
}

func (f *fakeStore) UpsertFollowerPoint(_ context.Context, _ string, day time.Time, count int64) error {
	f.followers[day.Format("2006-01-02")] = count
	return nil
}

func (f *fakeStore) UpsertAccountMetrics(_ context.Context, _ string, day time.Time, m models.Metrics) error {
	f.accountDays[day.Format("2006-01-02")] = m
	return nil
}

func (f *fakeStore) UpsertProfile(_ context.Context, p models.ProfileSnapshot) error {
	f.profile = &p
	return nil
}

func (f *fakeStore) UpsertDemographics(_ context.Context, d models.AudienceDemographics) error {
	f.demographics = &d
	return nil
}

func (f *fakeStore) CreateEnrichmentTask(_ context.Context, _ string, contentID, contentType string) (bool, error) {
	key := contentID + "|" + contentType
	if f.enrichment[key] {
		return false, nil
	}
	f.enrichment[key] = true
	return true, nil
}

// fakeProvider serves canned pages and metrics, with per-item error injection.
type fakeProvider struct {
	pages        map[string][]provider.ContentPage
	listErr      error
	metrics      models.Metrics
	metricsErr   map[string]error
	childrenOf   map[string][]provider.ContentItem
	profile      provider.Profile
	followers    int64
	followersErr error
	accountStats models.Metrics
	demographics provider.Demographics
	campaigns    []provider.CampaignItem
	campaignDay  provider.CampaignDay

	metricsCalls int
}

func (f *fakeProvider) ListContent(_ context.Context, _, accountID string, since *time.Time, cursor string, _ int) (provider.ContentPage, error) {
	if f.listErr != nil {
		return provider.ContentPage{}, f.listErr
	}
	pages := f.pages[accountID]
	if len(pages) == 0 {
		return provider.ContentPage{}, nil
	}
	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(cursor)
	}
	if idx >= len(pages) {
		return provider.ContentPage{}, nil
	}
	page := pages[idx]
	if since != nil {
		var filtered []provider.ContentItem
		for _, item := range page.Items {
			if item.Timestamp.After(*since) {
				filtered = append(filtered, item)
			}
		}
		page.Items = filtered
	}
	if idx < len(pages)-1 {
		page.NextCursor = strconv.Itoa(idx + 1)
	} else {
		page.NextCursor = ""
	}
	return page, nil
}

func (f *fakeProvider) GetMetrics(_ context.Context, _, contentID, _ string) (models.Metrics, error) {
	f.metricsCalls++
	if err := f.metricsErr[contentID]; err != nil {
		return nil, err
	}
	if f.metrics == nil {
		return models.Metrics{"reach": 100, "saved": 5}, nil
	}
	return f.metrics, nil
}

func (f *fakeProvider) ListChildren(_ context.Context, _, contentID string) ([]provider.ContentItem, error) {
	return f.childrenOf[contentID], nil
}

func (f *fakeProvider) GetProfile(context.Context, string, string) (provider.Profile, error) {
	return f.profile, nil
}

func (f *fakeProvider) GetFollowerCount(context.Context, string, string) (int64, error) {
	if f.followersErr != nil {
		return 0, f.followersErr
	}
	return f.followers, nil
}

func (f *fakeProvider) GetAudienceDemographics(context.Context, string, string) (provider.Demographics, error) {
	return f.demographics, nil
}

func (f *fakeProvider) GetAccountMetrics(context.Context, string, string, time.Time) (models.Metrics, error) {
	if f.accountStats == nil {
		return models.Metrics{"reach": 1000}, nil
	}
	return f.accountStats, nil
}

func (f *fakeProvider) ListCampaigns(context.Context, string, string) ([]provider.CampaignItem, error) {
	return f.campaigns, nil
}

func (f *fakeProvider) GetCampaignMetrics(context.Context, string, string, time.Time) (provider.CampaignDay, error) {
	return f.campaignDay, nil
}

// fakeCreds returns fixed credentials, or a configured error.
type fakeCreds struct {
	creds credentials.Credentials
	err   error
}

func (f *fakeCreds) GetClientCredentials(context.Context, string) (credentials.Credentials, error) {
	if f.err != nil {
		return credentials.Credentials{}, f.err
	}
	return f.creds, nil
}
