package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"nestsync/internal/models"
)

const jobColumns = `id, tenant_id, job_type, payload, status, priority, retry_count, max_retries,
	scheduled_for, started_at, completed_at, error_message, created_at, updated_at`

// EnqueueJobParams collects inputs required to insert a sync job.
type EnqueueJobParams struct {
	TenantID   string
	JobType    string
	Priority   int
	Payload    map[string]any
	MaxRetries int
	RunAt      time.Time
	// SkipIfActive suppresses the insert when the tenant already has a
	// pending or processing job of the same type. Used by the cron fan-out
	// so a slow day never stacks duplicate daily syncs.
	SkipIfActive bool
}

// EnqueueJob inserts a job row in pending status.
// It returns the job and a boolean that is false when SkipIfActive suppressed the insert.
func (s *Store) EnqueueJob(ctx context.Context, p EnqueueJobParams) (models.SyncJob, bool, error) {
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}
	if p.RunAt.IsZero() {
		p.RunAt = time.Now().UTC()
	}
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return models.SyncJob{}, false, fmt.Errorf("marshal payload: %w", err)
	}

	if p.SkipIfActive {
		var exists bool
		err := s.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM sync_jobs
				WHERE tenant_id = $1 AND job_type = $2 AND status IN ('pending', 'processing')
			)
		`, p.TenantID, p.JobType).Scan(&exists)
		if err != nil {
			return models.SyncJob{}, false, fmt.Errorf("check active job: %w", err)
		}
		if exists {
			return models.SyncJob{}, false, nil
		}
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sync_jobs (id, tenant_id, job_type, payload, status, priority, retry_count, max_retries, scheduled_for, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $9)
	`, id, p.TenantID, p.JobType, payloadJSON, models.StatusPending, p.Priority, p.MaxRetries, p.RunAt, now)
	if err != nil {
		return models.SyncJob{}, false, fmt.Errorf("insert job: %w", err)
	}

	return models.SyncJob{
		ID:           id,
		TenantID:     p.TenantID,
		JobType:      p.JobType,
		Payload:      p.Payload,
		Status:       models.StatusPending,
		Priority:     p.Priority,
		MaxRetries:   p.MaxRetries,
		ScheduledFor: p.RunAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, true, nil
}

// ClaimNext atomically selects the highest-priority, oldest due pending job and
// transitions it to processing. Concurrent claimers skip rows another worker
// holds rather than blocking, so no job is ever handed to two workers.
func (s *Store) ClaimNext(ctx context.Context) (models.SyncJob, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE sync_jobs
		SET status = $1, started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM sync_jobs
			WHERE status = $2 AND scheduled_for <= NOW()
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		models.StatusProcessing, models.StatusPending)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SyncJob{}, false, nil
	}
	if err != nil {
		return models.SyncJob{}, false, fmt.Errorf("claim job: %w", err)
	}
	return job, true, nil
}

// CompleteJob marks a job as successfully finished.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs
		SET status = $2, completed_at = NOW(), updated_at = NOW(), error_message = NULL
		WHERE id = $1
	`, id, models.StatusCompleted)
	return err
}

// FailJob applies the retry-or-terminal transition to a processing job. The
// row stays in processing while the transition is computed inside the
// transaction, so a concurrent claimer can never observe it mid-failure.
func (s *Store) FailJob(ctx context.Context, id string, jobErr error) (models.Transition, error) {
	msg := jobErr.Error()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Transition{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var retryCount, maxRetries int
	err = tx.QueryRow(ctx, `
		SELECT retry_count, max_retries FROM sync_jobs WHERE id = $1 FOR UPDATE
	`, id).Scan(&retryCount, &maxRetries)
	if err != nil {
		return models.Transition{}, fmt.Errorf("load job for failure: %w", err)
	}

	tr := models.NextState(models.OutcomeFailure, retryCount, maxRetries, time.Now().UTC())

	if tr.Status == models.StatusFailed {
		_, err = tx.Exec(ctx, `
			UPDATE sync_jobs
			SET status = $2, retry_count = $3, error_message = $4, completed_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, id, tr.Status, tr.RetryCount, msg)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE sync_jobs
			SET status = $2, retry_count = $3, error_message = $4, scheduled_for = $5, started_at = NULL, updated_at = NOW()
			WHERE id = $1
		`, id, tr.Status, tr.RetryCount, msg, tr.ScheduledFor)
	}
	if err != nil {
		return models.Transition{}, fmt.Errorf("apply failure transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Transition{}, fmt.Errorf("commit: %w", err)
	}
	return tr, nil
}

// ReclaimStale returns processing jobs whose worker apparently died back to
// pending. The attempt does not consume a retry.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs
		SET status = $1, started_at = NULL, scheduled_for = NOW(), updated_at = NOW()
		WHERE status = $2 AND started_at IS NOT NULL AND started_at < $3
	`, models.StatusPending, models.StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.SyncJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SyncJob{}, fmt.Errorf("job not found: %w", err)
	}
	if err != nil {
		return models.SyncJob{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// CountPending returns the number of jobs ready to run now.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM sync_jobs WHERE status = $1 AND scheduled_for <= NOW()
	`, models.StatusPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

// TerminalJobsBefore lists completed and failed jobs last touched before the cutoff.
func (s *Store) TerminalJobsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.SyncJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM sync_jobs
		WHERE status IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at ASC
		LIMIT $4
	`, models.StatusCompleted, models.StatusFailed, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list terminal jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan terminal job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteTerminalJobsBefore removes old completed and failed jobs.
func (s *Store) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sync_jobs
		WHERE status IN ($1, $2) AND updated_at < $3
	`, models.StatusCompleted, models.StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.SyncJob, error) {
	var job models.SyncJob
	var payloadJSON []byte
	var startedAt, completedAt pgtype.Timestamptz
	var errMsg pgtype.Text

	if err := row.Scan(
		&job.ID, &job.TenantID, &job.JobType, &payloadJSON, &job.Status, &job.Priority,
		&job.RetryCount, &job.MaxRetries, &job.ScheduledFor, &startedAt, &completedAt,
		&errMsg, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return models.SyncJob{}, err
	}
	if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
		return models.SyncJob{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	job.ErrorMessage = textPtr(errMsg)
	return job, nil
}
