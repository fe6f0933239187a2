package dto

import (
	"time"

	"github.com/cuongbtq/applyflow/internal/costguard"
	"github.com/cuongbtq/applyflow/internal/domain"
)

type CreateJobRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Role           string `json:"role" binding:"required"`
	JobDescription string `json:"job_description" binding:"required"`
	TargetAddress  string `json:"target_address" binding:"required"`
	SenderAddress  string `json:"sender_address" binding:"required"`
	Credential     string `json:"credential" binding:"required"`
	BaseContent    string `json:"base_content"`
}

type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	LogID  string `json:"log_id,omitempty"`
}

type RetryJobsRequest struct {
	SenderAddress string `json:"sender_address" binding:"required"`
	Credential    string `json:"credential" binding:"required"`
	BaseContent   string `json:"base_content"`
	Limit         int    `json:"limit"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID          string            `json:"job_id"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Status         string            `json:"status"`
	Role           string            `json:"role"`
	TargetAddress  string            `json:"target_address"`
	JobDescription string            `json:"job_description,omitempty"`
	Result         *domain.JobResult `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	Attempts       int               `json:"attempts"`
	StartedAt      string            `json:"started_at,omitempty"`
	CompletedAt    string            `json:"completed_at,omitempty"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
}

type EventDTO struct {
	LogID      string                `json:"log_id,omitempty"`
	Step       string                `json:"step"`
	Status     string                `json:"status"`
	Timestamp  string                `json:"timestamp"`
	DurationMs *int64                `json:"duration_ms,omitempty"`
	Error      string                `json:"error,omitempty"`
	TokenUsage *costguard.TokenUsage `json:"token_usage,omitempty"`
}

type ListEventsResponse struct {
	JobID  string     `json:"job_id"`
	Events []EventDTO `json:"events"`
}

// NewJobDTO maps a job for the list view; detail adds the description.
func NewJobDTO(j domain.Job, detail bool) JobDTO {
	d := JobDTO{
		JobID:          j.ID,
		IdempotencyKey: j.IdempotencyKey,
		Status:         string(j.Status),
		Role:           j.Role,
		TargetAddress:  j.TargetAddress,
		Result:         j.Result,
		Error:          j.Error,
		Attempts:       j.Attempts,
		StartedAt:      formatTime(j.StartedAt),
		CompletedAt:    formatTime(j.CompletedAt),
		CreatedAt:      j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      j.UpdatedAt.Format(time.RFC3339),
	}
	if detail {
		d.JobDescription = j.JobDescription
	}
	return d
}

func NewEventDTO(e domain.Event) EventDTO {
	return EventDTO{
		LogID:      e.LogID,
		Step:       e.Step,
		Status:     e.Status,
		Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
		DurationMs: e.DurationMs,
		Error:      e.Error,
		TokenUsage: e.TokenUsage,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
