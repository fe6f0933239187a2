package domain

import (
	"time"

	"github.com/cuongbtq/applyflow/internal/costguard"
)

// Job is one application request and its processing state.
type Job struct {
	ID             string
	AccountID      string
	IdempotencyKey string
	Status         Status
	Role           string
	JobDescription string
	TargetAddress  string
	Result         *JobResult
	Error          string
	WorkerID       string
	Attempts       int
	StartedAt      *time.Time
	CompletedAt    *time.Time
	LastHeartbeat  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobResult is written once, on SUCCESS.
type JobResult struct {
	Subject     string               `json:"subject"`
	SentTo      string               `json:"sent_to"`
	CoverLetter string               `json:"cover_letter,omitempty"`
	Document    string               `json:"document,omitempty"`
	ArtifactURI string               `json:"artifact_uri,omitempty"`
	TokenUsage  costguard.TokenUsage `json:"token_usage"`
}

// StatusUpdate carries the columns written alongside a transition.
type StatusUpdate struct {
	Result   *JobResult
	Error    string
	WorkerID string
}

// Event is one execution-trail entry.
type Event struct {
	JobID      string
	LogID      string
	Step       string
	Status     string
	Timestamp  time.Time
	DurationMs *int64
	Error      string
	TokenUsage *costguard.TokenUsage
}

// Stage names recorded in the execution trail.
const (
	StageEnqueued       = "JOB_ENQUEUED"
	StagePublish        = "QUEUE_PUBLISH"
	StageReceived       = "WORKER_RECEIVED"
	StageDecrypt        = "DECRYPT_CREDENTIAL"
	StageVerify         = "CREDENTIAL_VERIFY"
	StageBaseDocument   = "LOAD_BASE_DOCUMENT"
	StagePipeline       = "PIPELINE_EXECUTION"
	StageLeaseExpired   = "LEASE_EXPIRED"
	StageRetryRequested = "RETRY_REQUESTED"
)

// Execution-trail entry statuses.
const (
	EventStatusStart   = "START"
	EventStatusSuccess = "SUCCESS"
	EventStatusFailed  = "FAILED"
)
