package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestsync/internal/models"
)

func TestGetMetricsFlattensInsights(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/post-1/insights", r.URL.Path)
		assert.Equal(t, "secret-token", r.URL.Query().Get("access_token"))
		assert.Contains(t, r.URL.Query().Get("metric"), "views")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [
				{"name": "views", "values": [{"value": 120}, {"value": 150}]},
				{"name": "reach", "values": [{"value": 90}]},
				{"name": "saved", "values": []}
			]
		}`))
	}))
	defer srv.Close()

	c := NewGraphClient(srv.URL, time.Second)
	m, err := c.GetMetrics(context.Background(), "secret-token", "post-1", models.MediaVideo)
	require.NoError(t, err)

	// Latest value per metric wins; absent metrics read as zero.
	assert.Equal(t, int64(150), m.Get("views"))
	assert.Equal(t, int64(90), m.Get("reach"))
	assert.Equal(t, int64(0), m.Get("saved"))
	assert.Equal(t, int64(0), m.Get("total_interactions"))
}

func TestListContentPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			_, _ = w.Write([]byte(`{
				"data": [{"id": "p1", "media_type": "IMAGE"}],
				"paging": {"cursors": {"after": "cur-2"}, "next": "https://next"}
			}`))
			return
		}
		assert.Equal(t, "cur-2", r.URL.Query().Get("after"))
		_, _ = w.Write([]byte(`{"data": [{"id": "p2", "media_type": "VIDEO"}], "paging": {}}`))
	}))
	defer srv.Close()

	c := NewGraphClient(srv.URL, time.Second)
	page, err := c.ListContent(context.Background(), "tok", "acct-1", nil, "", 25)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "p1", page.Items[0].ID)
	require.Equal(t, "cur-2", page.NextCursor)

	page, err = c.ListContent(context.Background(), "tok", "acct-1", nil, page.NextCursor, 25)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "p2", page.Items[0].ID)
	assert.Empty(t, page.NextCursor, "no next link means the listing is done")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorCode
	}{
		{http.StatusTooManyRequests, CodeRateLimited},
		{http.StatusUnauthorized, CodeAuthExpired},
		{http.StatusForbidden, CodeAuthExpired},
		{http.StatusNotFound, CodeNotFound},
		{http.StatusInternalServerError, CodeTransient},
		{http.StatusBadGateway, CodeTransient},
		{http.StatusTeapot, CodeUnknown},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))

		c := NewGraphClient(srv.URL, time.Second)
		_, err := c.GetMetrics(context.Background(), "tok", "post-1", models.MediaImage)
		require.Error(t, err, "status %d", tt.status)

		var ae *APIError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, tt.want, ae.Code, "status %d", tt.status)
		assert.Equal(t, tt.status, ae.Status)
		srv.Close()
	}
}

func TestTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewGraphClient(srv.URL, time.Second)
	_, err := c.GetMetrics(context.Background(), "tok", "post-1", models.MediaImage)
	require.Error(t, err)

	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, CodeTransient, ae.Code)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(&APIError{Code: CodeRateLimited}))
	assert.True(t, IsRateLimited(errors.Join(errors.New("wrapped"), &APIError{Code: CodeRateLimited})))
	assert.False(t, IsRateLimited(&APIError{Code: CodeTransient}))
	assert.False(t, IsRateLimited(errors.New("plain")))
	assert.False(t, IsRateLimited(nil))
}

func TestGetAudienceDemographics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"data": [
				{"name": "audience_country", "values": [{"value": {"US": 900, "GB": 100}}]},
				{"name": "audience_gender_age", "values": [{"value": {"F.25-34": 400, "M.25-34": 200, "F.35-44": 150}}]}
			]
		}`))
	}))
	defer srv.Close()

	c := NewGraphClient(srv.URL, time.Second)
	d, err := c.GetAudienceDemographics(context.Background(), "tok", "acct-1")
	require.NoError(t, err)

	assert.Equal(t, int64(900), d.ByCountry["US"])
	assert.Equal(t, int64(550), d.ByGender["F"])
	assert.Equal(t, int64(600), d.ByAge["25-34"])
}

func TestGetCampaignMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": [{"spend": "12.50", "impressions": 4000, "clicks": 80, "conversions": 6}]}`))
	}))
	defer srv.Close()

	c := NewGraphClient(srv.URL, time.Second)
	day, err := c.GetCampaignMetrics(context.Background(), "tok", "camp-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 12.5, day.Spend)
	assert.Equal(t, int64(4000), day.Impressions)
	assert.Equal(t, int64(80), day.Clicks)
	assert.Equal(t, int64(6), day.Conversions)
}

func TestGetCampaignMetricsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	c := NewGraphClient(srv.URL, time.Second)
	day, err := c.GetCampaignMetrics(context.Background(), "tok", "camp-1", time.Now())
	require.NoError(t, err)
	assert.Zero(t, day)
}
