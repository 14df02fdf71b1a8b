package sync

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestsync/internal/models"
)

func TestRefreshSnapshotsAnyAge(t *testing.T) {
	st := newFakeStore()
	// Far past the automatic horizon; on-demand refresh still applies.
	seedPost(st, "ancient-post", 400)

	prov := &fakeProvider{metrics: models.Metrics{"views": 9000, "reach": 4200}}
	r := NewRefresh(st, prov, testCreds([]string{"acct-1"}, ""), &passLimiter{}, zerolog.Nop())

	job := models.SyncJob{
		ID:       "job-1",
		TenantID: "tenant-1",
		JobType:  models.JobRefresh,
		Payload:  map[string]any{"content_id": "ancient-post"},
	}
	require.NoError(t, r.Run(context.Background(), job))

	today := time.Now().UTC().Truncate(24 * time.Hour)
	m, ok := st.snapshots[snapshotKey("ancient-post", today)]
	require.True(t, ok)
	assert.Equal(t, int64(9000), m.Get("views"))
	assert.Equal(t, int64(4200), m.Get("reach"))
}

func TestRefreshMissingContentID(t *testing.T) {
	r := NewRefresh(newFakeStore(), &fakeProvider{}, testCreds([]string{"acct-1"}, ""), &passLimiter{}, zerolog.Nop())
	err := r.Run(context.Background(), models.SyncJob{ID: "job-1", TenantID: "tenant-1", Payload: map[string]any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing content_id")
}

func TestRefreshUnknownPost(t *testing.T) {
	r := NewRefresh(newFakeStore(), &fakeProvider{}, testCreds([]string{"acct-1"}, ""), &passLimiter{}, zerolog.Nop())
	err := r.Run(context.Background(), models.SyncJob{
		ID:       "job-1",
		TenantID: "tenant-1",
		Payload:  map[string]any{"content_id": "nope"},
	})
	assert.Error(t, err)
}
