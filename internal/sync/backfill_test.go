package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestsync/internal/credentials"
	"nestsync/internal/models"
	"nestsync/internal/provider"
)

// contentPages splits total synthetic items into pages of pageSize.
func contentPages(total, pageSize int, newest time.Time) []provider.ContentPage {
	var pages []provider.ContentPage
	for i := 0; i < total; i += pageSize {
		var items []provider.ContentItem
		for j := i; j < i+pageSize && j < total; j++ {
			items = append(items, provider.ContentItem{
				ID:        fmt.Sprintf("item-%d", j+1),
				MediaType: models.MediaImage,
				Timestamp: newest.Add(-time.Duration(j) * time.Hour),
			})
		}
		pages = append(pages, provider.ContentPage{Items: items})
	}
	return pages
}

func testCreds(accountIDs []string, adAccountID string) *fakeCreds {
	return &fakeCreds{creds: credentials.Credentials{
		AccessToken: "token",
		AccountIDs:  accountIDs,
		AdAccountID: adAccountID,
	}}
}

func TestBackfillIngestsFullHistory(t *testing.T) {
	st := newFakeStore()
	newest := time.Now().UTC().Add(-time.Hour)

	pages := contentPages(75, 25, newest)
	// One carousel among the images; its children must land too.
	pages[0].Items[4].MediaType = models.MediaCarousel

	prov := &fakeProvider{
		pages: map[string][]provider.ContentPage{"acct-1": pages},
		// A single item's metrics call fails; the rest of the run continues.
		metricsErr: map[string]error{"item-27": errors.New("insights unavailable")},
		childrenOf: map[string][]provider.ContentItem{
			"item-5": {
				{ID: "item-5-a", MediaType: models.MediaImage},
				{ID: "item-5-b", MediaType: models.MediaVideo},
			},
		},
	}

	b := NewBackfill(st, prov, testCreds([]string{"acct-1"}, ""), &passLimiter{}, zerolog.Nop(), 25)
	err := b.Run(context.Background(), models.SyncJob{ID: "job-1", TenantID: "tenant-1", JobType: models.JobBackfill})
	require.NoError(t, err)

	assert.Len(t, st.posts, 75, "every item gets a base record")
	assert.Len(t, st.snapshots, 74, "the failed item has no first snapshot")
	assert.Len(t, st.enrichment, 74, "no enrichment trigger for the failed item")
	assert.Len(t, st.children, 2)
	assert.True(t, st.backfillDone)
}

func TestBackfillPayloadAccountsOverrideCredentials(t *testing.T) {
	st := newFakeStore()
	prov := &fakeProvider{
		pages: map[string][]provider.ContentPage{
			"acct-from-payload": contentPages(3, 25, time.Now().UTC()),
			"acct-from-creds":   contentPages(10, 25, time.Now().UTC()),
		},
	}

	b := NewBackfill(st, prov, testCreds([]string{"acct-from-creds"}, ""), &passLimiter{}, zerolog.Nop(), 25)
	job := models.SyncJob{
		ID:       "job-1",
		TenantID: "tenant-1",
		JobType:  models.JobBackfill,
		Payload:  map[string]any{"account_ids": []any{"acct-from-payload"}},
	}
	require.NoError(t, b.Run(context.Background(), job))
	assert.Len(t, st.posts, 3)
}

func TestBackfillSkipsDeletedContent(t *testing.T) {
	st := newFakeStore()
	prov := &fakeProvider{
		pages: map[string][]provider.ContentPage{"acct-1": contentPages(3, 25, time.Now().UTC())},
		metricsErr: map[string]error{
			"item-2": &provider.APIError{Code: provider.CodeNotFound, Status: 404, Message: "gone"},
		},
	}

	b := NewBackfill(st, prov, testCreds([]string{"acct-1"}, ""), &passLimiter{}, zerolog.Nop(), 25)
	require.NoError(t, b.Run(context.Background(), models.SyncJob{ID: "job-1", TenantID: "tenant-1"}))

	assert.Len(t, st.posts, 3, "the vanished item keeps its base record")
	assert.Len(t, st.snapshots, 2)
	assert.True(t, st.backfillDone)
}

func TestBackfillAbortsOnPageFetchError(t *testing.T) {
	st := newFakeStore()
	prov := &fakeProvider{listErr: errors.New("listing unavailable")}

	b := NewBackfill(st, prov, testCreds([]string{"acct-1"}, ""), &passLimiter{}, zerolog.Nop(), 25)
	err := b.Run(context.Background(), models.SyncJob{ID: "job-1", TenantID: "tenant-1"})
	require.Error(t, err)
	assert.False(t, st.backfillDone, "a failed page fetch must leave the backfill incomplete")
}

func TestBackfillFailsWithoutAccounts(t *testing.T) {
	st := newFakeStore()
	b := NewBackfill(st, &fakeProvider{}, testCreds(nil, ""), &passLimiter{}, zerolog.Nop(), 25)
	err := b.Run(context.Background(), models.SyncJob{ID: "job-1", TenantID: "tenant-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider accounts")
}

func TestBackfillCredentialErrorPropagates(t *testing.T) {
	st := newFakeStore()
	credsErr := errors.New("credential service returned 503")
	b := NewBackfill(st, &fakeProvider{}, &fakeCreds{err: credsErr}, &passLimiter{}, zerolog.Nop(), 25)
	err := b.Run(context.Background(), models.SyncJob{ID: "job-1", TenantID: "tenant-1"})
	assert.ErrorIs(t, err, credsErr)
}

func TestBackfillEveryProviderCallIsLimited(t *testing.T) {
	st := newFakeStore()
	lim := &passLimiter{}
	prov := &fakeProvider{
		pages: map[string][]provider.ContentPage{"acct-1": contentPages(5, 25, time.Now().UTC())},
	}

	b := NewBackfill(st, prov, testCreds([]string{"acct-1"}, ""), lim, zerolog.Nop(), 25)
	require.NoError(t, b.Run(context.Background(), models.SyncJob{ID: "job-1", TenantID: "tenant-1"}))

	// One listing call plus one metrics call per item.
	assert.Equal(t, 6, lim.calls)
}
