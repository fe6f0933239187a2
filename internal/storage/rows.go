package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/applyflow/internal/costguard"
	"github.com/cuongbtq/applyflow/internal/domain"
)

const jobColumns = `job_id, account_id, idempotency_key, status, role, job_description,
	target_address, result, error_message, worker_id, attempts, started_at,
	completed_at, last_heartbeat_at, created_at, updated_at`

type jobRow struct {
	JobID           string         `db:"job_id"`
	AccountID       string         `db:"account_id"`
	IdempotencyKey  sql.NullString `db:"idempotency_key"`
	Status          string         `db:"status"`
	Role            string         `db:"role"`
	JobDescription  string         `db:"job_description"`
	TargetAddress   string         `db:"target_address"`
	Result          []byte         `db:"result"`
	ErrorMessage    sql.NullString `db:"error_message"`
	WorkerID        sql.NullString `db:"worker_id"`
	Attempts        int            `db:"attempts"`
	StartedAt       sql.NullTime   `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	LastHeartbeatAt sql.NullTime   `db:"last_heartbeat_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		ID:             r.JobID,
		AccountID:      r.AccountID,
		IdempotencyKey: r.IdempotencyKey.String,
		Status:         domain.Status(r.Status),
		Role:           r.Role,
		JobDescription: r.JobDescription,
		TargetAddress:  r.TargetAddress,
		Error:          r.ErrorMessage.String,
		WorkerID:       r.WorkerID.String,
		Attempts:       r.Attempts,
		StartedAt:      timePtr(r.StartedAt),
		CompletedAt:    timePtr(r.CompletedAt),
		LastHeartbeat:  timePtr(r.LastHeartbeatAt),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}

	if len(r.Result) > 0 {
		var res domain.JobResult
		if err := json.Unmarshal(r.Result, &res); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result of job %s: %w", r.JobID, err)
		}
		job.Result = &res
	}
	return job, nil
}

func toJobs(rows []jobRow) ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, nil
}

type eventRow struct {
	JobID        string         `db:"job_id"`
	LogID        sql.NullString `db:"log_id"`
	Step         string         `db:"step"`
	Status       string         `db:"status"`
	OccurredAt   time.Time      `db:"occurred_at"`
	DurationMs   sql.NullInt64  `db:"duration_ms"`
	ErrorMessage sql.NullString `db:"error_message"`
	TokenUsage   []byte         `db:"token_usage"`
}

func (r eventRow) toDomain() (domain.Event, error) {
	e := domain.Event{
		JobID:     r.JobID,
		LogID:     r.LogID.String,
		Step:      r.Step,
		Status:    r.Status,
		Timestamp: r.OccurredAt,
		Error:     r.ErrorMessage.String,
	}
	if r.DurationMs.Valid {
		d := r.DurationMs.Int64
		e.DurationMs = &d
	}
	if len(r.TokenUsage) > 0 {
		var u costguard.TokenUsage
		if err := json.Unmarshal(r.TokenUsage, &u); err != nil {
			return e, fmt.Errorf("failed to unmarshal token usage: %w", err)
		}
		e.TokenUsage = &u
	}
	return e, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
