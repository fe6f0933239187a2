package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/applyflow/internal/domain"
)

// CreateJob inserts a PENDING job. When the account already used the
// idempotency key, job is overwritten with the existing row and created is false.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) (created bool, err error) {
	query := `
		INSERT INTO jobs (
			job_id, account_id, idempotency_key, status, role,
			job_description, target_address, created_at, updated_at, queued_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $8
		)
		ON CONFLICT (account_id, idempotency_key) WHERE idempotency_key IS NOT NULL
		DO NOTHING
		RETURNING job_id
	`

	var id string
	err = s.q.QueryRowxContext(ctx, query,
		job.ID,
		job.AccountID,
		nullString(job.IdempotencyKey),
		job.Status,
		job.Role,
		job.JobDescription,
		job.TargetAddress,
		job.CreatedAt,
		job.UpdatedAt,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		existing, err := s.GetJobByIdempotencyKey(ctx, job.AccountID, job.IdempotencyKey)
		if err != nil {
			return false, err
		}
		*job = *existing
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create job: %w", err)
	}

	return true, nil
}

// GetJobByID retrieves a job from the database by its ID
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	err := sqlx.GetContext(ctx, s.q, &row, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toDomain()
}

// GetJobByIdempotencyKey retrieves the job an account submitted under key.
func (s *Storage) GetJobByIdempotencyKey(ctx context.Context, accountID, key string) (*domain.Job, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE account_id = $1 AND idempotency_key = $2`

	err := sqlx.GetContext(ctx, s.q, &row, query, accountID, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job by idempotency key: %w", err)
	}

	return row.toDomain()
}

// UpdateStatus moves a job to `to` if its current status is a legal
// predecessor, writing the columns that belong to that transition.
func (s *Storage) UpdateStatus(ctx context.Context, jobID string, to domain.Status, upd domain.StatusUpdate) error {
	sets := []string{"status = $1", "updated_at = NOW()"}
	args := []any{string(to)}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch to {
	case domain.StatusInProgress:
		sets = append(sets,
			"worker_id = "+arg(upd.WorkerID),
			"attempts = attempts + 1",
			"started_at = NOW()",
			"last_heartbeat_at = NOW()",
		)
	case domain.StatusSuccess:
		var result []byte
		if upd.Result != nil {
			b, err := json.Marshal(upd.Result)
			if err != nil {
				return fmt.Errorf("failed to marshal result: %w", err)
			}
			result = b
		}
		sets = append(sets, "result = "+arg(result), "error_message = NULL", "completed_at = NOW()")
	case domain.StatusFailed:
		sets = append(sets, "error_message = "+arg(upd.Error), "completed_at = NOW()")
	case domain.StatusPending:
		sets = append(sets, "error_message = NULL", "result = NULL", "worker_id = NULL", "completed_at = NULL", "queued_at = NOW()")
	default:
		return fmt.Errorf("%w: unknown status %q", domain.ErrIllegalTransition, to)
	}

	allowed := make([]string, 0, 2)
	for _, st := range domain.AllowedFrom(to) {
		allowed = append(allowed, string(st))
	}

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE job_id = %s AND status = ANY(%s)`,
		strings.Join(sets, ", "), arg(jobID), arg(pq.Array(allowed)))

	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		current, err := s.GetJobByID(ctx, jobID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, current.Status, to)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(to)),
	)

	return nil
}

// UpdateJobHeartbeat updates the last_heartbeat_at timestamp for a running job
func (s *Storage) UpdateJobHeartbeat(ctx context.Context, jobID, workerID string) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2 AND worker_id = $3
	`

	result, err := s.q.ExecContext(ctx, query, jobID, domain.StatusInProgress, workerID)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may have been reclaimed)",
			slog.String("job_id", jobID),
			slog.String("worker_id", workerID),
		)
	}

	return nil
}

// ReclaimStale fails IN_PROGRESS jobs whose heartbeat is older than before.
// It returns the reclaimed job ids.
func (s *Storage) ReclaimStale(ctx context.Context, before time.Time, reason string) ([]string, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE status = $3
		  AND COALESCE(last_heartbeat_at, started_at, updated_at) < $4
		RETURNING job_id
	`

	var ids []string
	err := sqlx.SelectContext(ctx, s.q, &ids, query, domain.StatusFailed, reason, domain.StatusInProgress, before)
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}

	return ids, nil
}

// StatusQuery narrows FindAllWithStatus.
type StatusQuery struct {
	AccountID string
	Limit     int
}

// FindAllWithStatus lists jobs in status, oldest first.
func (s *Storage) FindAllWithStatus(ctx context.Context, status domain.Status, q StatusQuery) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1`
	args := []any{status}

	if q.AccountID != "" {
		args = append(args, q.AccountID)
		query += fmt.Sprintf(" AND account_id = $%d", len(args))
	}

	query += " ORDER BY created_at ASC, job_id ASC"

	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []jobRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find jobs with status %s: %w", status, err)
	}

	return toJobs(rows)
}

type JobFilter struct {
	AccountID string
	Status    string
	PageSize  int
	Cursor    *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs so callers can tell whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	// Filters
	if filter.AccountID != "" {
		query += fmt.Sprintf(" AND account_id = $%d", argIdx)
		args = append(args, filter.AccountID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return toJobs(rows)
}

// CountActions counts the account's jobs queued since `since` that did not
// fail. A retry re-queues the job, so it counts in the window it was retried in.
// It backs the rate limiter.
func (s *Storage) CountActions(ctx context.Context, accountID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM jobs
		WHERE account_id = $1
		  AND queued_at >= $2
		  AND status <> $3
	`

	var n int
	if err := sqlx.GetContext(ctx, s.q, &n, query, accountID, since, domain.StatusFailed); err != nil {
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}
	return n, nil
}
