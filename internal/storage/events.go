package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/applyflow/internal/domain"
)

// AppendEvent adds one entry to a job's execution trail.
func (s *Storage) AppendEvent(ctx context.Context, e domain.Event) error {
	var usage []byte
	if e.TokenUsage != nil {
		b, err := json.Marshal(e.TokenUsage)
		if err != nil {
			return fmt.Errorf("failed to marshal token usage: %w", err)
		}
		usage = b
	}

	var duration any
	if e.DurationMs != nil {
		duration = *e.DurationMs
	}

	query := `
		INSERT INTO job_events (
			job_id, log_id, step, status, occurred_at,
			duration_ms, error_message, token_usage
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.q.ExecContext(ctx, query,
		e.JobID,
		nullString(e.LogID),
		e.Step,
		e.Status,
		e.Timestamp,
		duration,
		nullString(e.Error),
		usage,
	)
	if err != nil {
		return fmt.Errorf("failed to append job event: %w", err)
	}

	return nil
}

// ListEvents returns a job's execution trail in insertion order.
func (s *Storage) ListEvents(ctx context.Context, jobID string) ([]domain.Event, error) {
	query := `
		SELECT job_id, log_id, step, status, occurred_at, duration_ms, error_message, token_usage
		FROM job_events
		WHERE job_id = $1
		ORDER BY event_id ASC
	`

	var rows []eventRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list job events: %w", err)
	}

	events := make([]domain.Event, 0, len(rows))
	for _, r := range rows {
		e, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
