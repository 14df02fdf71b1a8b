package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nestsync/internal/models"
	"nestsync/internal/telemetry"
)

// GraphClient talks to the provider's Graph-style HTTP API.
type GraphClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGraphClient builds a client with a per-call timeout.
func NewGraphClient(baseURL string, timeout time.Duration) *GraphClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &GraphClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Metric sets requested per media type. The provider drops and renames
// metrics between API versions; anything it stops sending reads as zero.
func metricNames(mediaType string) string {
	switch mediaType {
	case models.MediaVideo:
		return "views,reach,saved,shares,comments,likes,total_interactions"
	default:
		return "impressions,reach,saved,shares,comments,likes,total_interactions"
	}
}

type paging struct {
	Cursors struct {
		After string `json:"after"`
	} `json:"cursors"`
	Next string `json:"next"`
}

type listEnvelope[T any] struct {
	Data   []T    `json:"data"`
	Paging paging `json:"paging"`
}

func (c *GraphClient) ListContent(ctx context.Context, token, accountID string, since *time.Time, cursor string, limit int) (ContentPage, error) {
	q := url.Values{}
	q.Set("fields", "id,media_type,caption,permalink,media_url,timestamp")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if since != nil {
		q.Set("since", strconv.FormatInt(since.Unix(), 10))
	}
	if cursor != "" {
		q.Set("after", cursor)
	}

	var env listEnvelope[ContentItem]
	if err := c.get(ctx, token, fmt.Sprintf("/%s/media", accountID), q, &env); err != nil {
		return ContentPage{}, err
	}
	page := ContentPage{Items: env.Data}
	if env.Paging.Next != "" {
		page.NextCursor = env.Paging.Cursors.After
	}
	return page, nil
}

type insightValue struct {
	Value json.Number `json:"value"`
}

type insightEntry struct {
	Name   string         `json:"name"`
	Values []insightValue `json:"values"`
}

func (c *GraphClient) GetMetrics(ctx context.Context, token, contentID, mediaType string) (models.Metrics, error) {
	q := url.Values{}
	q.Set("metric", metricNames(mediaType))

	var env listEnvelope[insightEntry]
	if err := c.get(ctx, token, fmt.Sprintf("/%s/insights", contentID), q, &env); err != nil {
		return nil, err
	}
	return flattenInsights(env.Data), nil
}

func (c *GraphClient) ListChildren(ctx context.Context, token, contentID string) ([]ContentItem, error) {
	q := url.Values{}
	q.Set("fields", "id,media_type,media_url")

	var env listEnvelope[ContentItem]
	if err := c.get(ctx, token, fmt.Sprintf("/%s/children", contentID), q, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *GraphClient) GetProfile(ctx context.Context, token, accountID string) (Profile, error) {
	q := url.Values{}
	q.Set("fields", "username,name,biography,followers_count,follows_count,media_count")

	var p Profile
	if err := c.get(ctx, token, "/"+accountID, q, &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (c *GraphClient) GetFollowerCount(ctx context.Context, token, accountID string) (int64, error) {
	q := url.Values{}
	q.Set("fields", "followers_count")

	var p struct {
		FollowerCount int64 `json:"followers_count"`
	}
	if err := c.get(ctx, token, "/"+accountID, q, &p); err != nil {
		return 0, err
	}
	return p.FollowerCount, nil
}

func (c *GraphClient) GetAudienceDemographics(ctx context.Context, token, accountID string) (Demographics, error) {
	q := url.Values{}
	q.Set("metric", "audience_country,audience_gender_age")
	q.Set("period", "lifetime")

	var env listEnvelope[struct {
		Name   string `json:"name"`
		Values []struct {
			Value map[string]int64 `json:"value"`
		} `json:"values"`
	}]
	if err := c.get(ctx, token, fmt.Sprintf("/%s/insights", accountID), q, &env); err != nil {
		return Demographics{}, err
	}

	d := Demographics{
		ByCountry: map[string]int64{},
		ByAge:     map[string]int64{},
		ByGender:  map[string]int64{},
	}
	for _, entry := range env.Data {
		if len(entry.Values) == 0 {
			continue
		}
		for key, val := range entry.Values[len(entry.Values)-1].Value {
			switch entry.Name {
			case "audience_country":
				d.ByCountry[key] = val
			case "audience_gender_age":
				// Keys look like "F.25-34"; split into the two breakdowns.
				if gender, age, ok := strings.Cut(key, "."); ok {
					d.ByGender[gender] += val
					d.ByAge[age] += val
				}
			}
		}
	}
	return d, nil
}

func (c *GraphClient) GetAccountMetrics(ctx context.Context, token, accountID string, day time.Time) (models.Metrics, error) {
	q := url.Values{}
	q.Set("metric", "reach,impressions,profile_views,accounts_engaged")
	q.Set("period", "day")
	q.Set("since", strconv.FormatInt(day.Truncate(24*time.Hour).Unix(), 10))
	q.Set("until", strconv.FormatInt(day.Truncate(24*time.Hour).Add(24*time.Hour).Unix(), 10))

	var env listEnvelope[insightEntry]
	if err := c.get(ctx, token, fmt.Sprintf("/%s/insights", accountID), q, &env); err != nil {
		return nil, err
	}
	return flattenInsights(env.Data), nil
}

func (c *GraphClient) ListCampaigns(ctx context.Context, token, adAccountID string) ([]CampaignItem, error) {
	q := url.Values{}
	q.Set("fields", "id,name,status,objective,start_time")

	var env listEnvelope[CampaignItem]
	if err := c.get(ctx, token, fmt.Sprintf("/%s/campaigns", adAccountID), q, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *GraphClient) GetCampaignMetrics(ctx context.Context, token, campaignID string, day time.Time) (CampaignDay, error) {
	d := day.Format("2006-01-02")
	q := url.Values{}
	q.Set("fields", "spend,impressions,clicks,conversions")
	q.Set("time_range", fmt.Sprintf(`{"since":"%s","until":"%s"}`, d, d))

	var env listEnvelope[struct {
		Spend       json.Number `json:"spend"`
		Impressions json.Number `json:"impressions"`
		Clicks      json.Number `json:"clicks"`
		Conversions json.Number `json:"conversions"`
	}]
	if err := c.get(ctx, token, fmt.Sprintf("/%s/insights", campaignID), q, &env); err != nil {
		return CampaignDay{}, err
	}
	if len(env.Data) == 0 {
		return CampaignDay{}, nil
	}
	row := env.Data[0]
	spend, _ := row.Spend.Float64()
	return CampaignDay{
		Spend:       spend,
		Impressions: numberToInt(row.Impressions),
		Clicks:      numberToInt(row.Clicks),
		Conversions: numberToInt(row.Conversions),
	}, nil
}

// get issues a GET with the access token and decodes the JSON body, mapping
// HTTP and transport failures onto the classified error taxonomy.
func (c *GraphClient) get(ctx context.Context, token, path string, q url.Values, out any) error {
	q.Set("access_token", token)
	reqURL := c.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.ProviderCalls.WithLabelValues(string(CodeTransient)).Inc()
		return &APIError{Code: CodeTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		telemetry.ProviderCalls.WithLabelValues(string(CodeTransient)).Inc()
		return &APIError{Code: CodeTransient, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		code := classifyStatus(resp.StatusCode)
		telemetry.ProviderCalls.WithLabelValues(string(code)).Inc()
		return &APIError{
			Code:    code,
			Status:  resp.StatusCode,
			Message: truncate(string(body), 512),
		}
	}
	telemetry.ProviderCalls.WithLabelValues("ok").Inc()

	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Code: CodeUnknown, Status: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

// flattenInsights maps insight entries to a flat metric map. Entries with no
// values are skipped, so renamed or missing provider metrics read as zero.
func flattenInsights(entries []insightEntry) models.Metrics {
	m := models.Metrics{}
	for _, e := range entries {
		if len(e.Values) == 0 {
			continue
		}
		m[e.Name] = numberToInt(e.Values[len(e.Values)-1].Value)
	}
	return m
}

func numberToInt(n json.Number) int64 {
	if v, err := n.Int64(); err == nil {
		return v
	}
	if f, err := n.Float64(); err == nil {
		return int64(f)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
