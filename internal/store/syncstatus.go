package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"nestsync/internal/models"
)

// EnsureSyncStatus creates the tenant's bookkeeping row if missing.
func (s *Store) EnsureSyncStatus(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_status (tenant_id) VALUES ($1)
		ON CONFLICT (tenant_id) DO NOTHING
	`, tenantID)
	if err != nil {
		return fmt.Errorf("ensure sync status: %w", err)
	}
	return nil
}

// GetSyncStatus fetches the tenant's sync bookkeeping row.
func (s *Store) GetSyncStatus(ctx context.Context, tenantID string) (models.SyncStatus, error) {
	var st models.SyncStatus
	var backfillAt, dailyAt pgtype.Timestamptz
	var lastErr pgtype.Text

	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, backfill_completed, backfill_completed_at, last_daily_sync_at, last_sync_error, updated_at
		FROM sync_status WHERE tenant_id = $1
	`, tenantID).Scan(&st.TenantID, &st.BackfillCompleted, &backfillAt, &dailyAt, &lastErr, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SyncStatus{}, fmt.Errorf("sync status not found: %w", err)
	}
	if err != nil {
		return models.SyncStatus{}, fmt.Errorf("get sync status: %w", err)
	}
	st.BackfillCompletedAt = timePtr(backfillAt)
	st.LastDailySyncAt = timePtr(dailyAt)
	st.LastSyncError = textPtr(lastErr)
	return st, nil
}

// ListTenants returns every tenant known to the scheduler.
func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT tenant_id FROM sync_status ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// SetBackfillCompleted flags the one-time full-history pull as done.
func (s *Store) SetBackfillCompleted(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_status
		SET backfill_completed = TRUE, backfill_completed_at = NOW(), last_sync_error = NULL, updated_at = NOW()
		WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return fmt.Errorf("set backfill completed: %w", err)
	}
	return nil
}

// RecordDailySync stamps the last run and its error, if any. Called after
// every daily executor run regardless of outcome.
func (s *Store) RecordDailySync(ctx context.Context, tenantID string, syncErr error) error {
	var msg *string
	if syncErr != nil {
		m := syncErr.Error()
		msg = &m
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_status
		SET last_daily_sync_at = NOW(), last_sync_error = $2, updated_at = NOW()
		WHERE tenant_id = $1
	`, tenantID, msg)
	if err != nil {
		return fmt.Errorf("record daily sync: %w", err)
	}
	return nil
}

// RecordSyncError stores the latest failure without touching the run timestamp.
func (s *Store) RecordSyncError(ctx context.Context, tenantID string, syncErr error) error {
	msg := syncErr.Error()
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_status SET last_sync_error = $2, updated_at = NOW() WHERE tenant_id = $1
	`, tenantID, msg)
	if err != nil {
		return fmt.Errorf("record sync error: %w", err)
	}
	return nil
}
