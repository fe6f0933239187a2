// Package worker consumes job messages and drives each job through the
// outreach pipeline, recording every state change in the jobs table.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/applyflow/internal/domain"
	"github.com/cuongbtq/applyflow/internal/outreach"
	"github.com/cuongbtq/applyflow/internal/vault"
)

// Store is the persistence the worker needs.
type Store interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateStatus(ctx context.Context, jobID string, to domain.Status, upd domain.StatusUpdate) error
	UpdateJobHeartbeat(ctx context.Context, jobID, workerID string) error
	AppendEvent(ctx context.Context, e domain.Event) error
}

// Decrypter opens sealed credentials.
type Decrypter interface {
	Decrypt(ciphertext string) (vault.Secret, error)
}

// Verifier checks a sender credential without sending anything.
type Verifier interface {
	Verify(ctx context.Context, sender string, secret vault.Secret) error
}

// BaseDocuments resolves the base document for a role.
type BaseDocuments interface {
	ForRole(role string) (string, error)
}

// Runner executes the outreach pipeline.
type Runner interface {
	Execute(ctx context.Context, in outreach.Context) (outreach.Context, error)
}

// Recorder receives worker metrics.
type Recorder interface {
	JobFinished(status, stage string)
	MessageDropped(reason string)
	TrackRun() func(status string)
}

type nopRecorder struct{}

func (nopRecorder) JobFinished(string, string) {}
func (nopRecorder) MessageDropped(string)      {}
func (nopRecorder) TrackRun() func(string)     { return func(string) {} }

// Config holds worker configuration
type Config struct {
	Logger    *slog.Logger
	Store     Store
	Transport Transport
	Vault     Decrypter
	Verifier  Verifier
	Documents BaseDocuments
	Runner    Runner
	Metrics   Recorder

	WorkerID          string
	Concurrency       int
	BatchSize         int
	WaitTime          time.Duration
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	LoopBackoff       time.Duration

	// OrphanGrace is how long a message for a job that cannot be found
	// is released instead of dropped.
	OrphanGrace time.Duration
}

// Worker represents the background job worker
type Worker struct {
	logger    *slog.Logger
	store     Store
	transport Transport
	vault     Decrypter
	verifier  Verifier
	documents BaseDocuments
	runner    Runner
	metrics   Recorder

	workerID          string
	concurrency       int
	batchSize         int
	waitTime          time.Duration
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	loopBackoff       time.Duration
	orphanGrace       time.Duration
	now               func() time.Time
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("worker: store is required")
	case cfg.Transport == nil:
		return nil, errors.New("worker: transport is required")
	case cfg.Vault == nil:
		return nil, errors.New("worker: vault is required")
	case cfg.Runner == nil:
		return nil, errors.New("worker: pipeline runner is required")
	}

	w := &Worker{
		logger:            cfg.Logger,
		store:             cfg.Store,
		transport:         cfg.Transport,
		vault:             cfg.Vault,
		verifier:          cfg.Verifier,
		documents:         cfg.Documents,
		runner:            cfg.Runner,
		metrics:           cfg.Metrics,
		workerID:          cfg.WorkerID,
		concurrency:       cfg.Concurrency,
		batchSize:         cfg.BatchSize,
		waitTime:          cfg.WaitTime,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		loopBackoff:       cfg.LoopBackoff,
		orphanGrace:       cfg.OrphanGrace,
		now:               time.Now,
	}

	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.metrics == nil {
		w.metrics = nopRecorder{}
	}
	if w.workerID == "" {
		w.workerID = "worker-" + uuid.NewString()[:8]
	}
	if w.concurrency <= 0 {
		w.concurrency = 5
	}
	if w.batchSize <= 0 {
		w.batchSize = 10
	}
	if w.waitTime <= 0 {
		w.waitTime = 20 * time.Second
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 10 * time.Minute
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = 30 * time.Second
	}
	if w.loopBackoff <= 0 {
		w.loopBackoff = 5 * time.Second
	}
	if w.orphanGrace <= 0 {
		w.orphanGrace = time.Minute
	}

	w.logger = w.logger.With(slog.String("worker_id", w.workerID))
	return w, nil
}

// ID returns the identifier written to claimed jobs.
func (w *Worker) ID() string {
	return w.workerID
}

// Start consumes messages until ctx is canceled. A batch already received
// is finished before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Int("batch_size", w.batchSize),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	w.consume(ctx)

	w.logger.Info("Worker stopped")
	return nil
}
