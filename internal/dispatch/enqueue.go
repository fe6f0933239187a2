package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/cuongbtq/applyflow/internal/domain"
	"github.com/cuongbtq/applyflow/internal/mailer"
	"github.com/cuongbtq/applyflow/internal/ratelimit"
)

const (
	maxRoleLength           = 100
	maxJobDescriptionLength = 20000
	maxIdempotencyKeyLength = 128
)

// EnqueueRequest is one application to create.
type EnqueueRequest struct {
	AccountID      string
	IdempotencyKey string
	Role           string
	JobDescription string
	TargetAddress  string
	SenderAddress  string
	// Credential is the sender's plaintext mail password. It is encrypted
	// before it leaves this package and never stored.
	Credential  string
	BaseContent string
}

// EnqueueResult describes the job the request maps to.
type EnqueueResult struct {
	Job   *domain.Job
	LogID string
	// Created is false when the idempotency key matched an existing job.
	Created bool
}

// Validate normalises addresses and checks every field.
func (r *EnqueueRequest) Validate() error {
	r.Role = strings.TrimSpace(r.Role)
	r.JobDescription = strings.TrimSpace(r.JobDescription)
	r.TargetAddress = mailer.NormalizeAddress(r.TargetAddress)
	r.SenderAddress = mailer.NormalizeAddress(r.SenderAddress)

	switch {
	case r.AccountID == "":
		return &domain.ValidationError{Field: "account_id", Message: "is required"}
	case r.Role == "":
		return &domain.ValidationError{Field: "role", Message: "is required"}
	case utf8.RuneCountInString(r.Role) > maxRoleLength:
		return &domain.ValidationError{Field: "role", Message: fmt.Sprintf("must be at most %d characters", maxRoleLength)}
	case r.JobDescription == "":
		return &domain.ValidationError{Field: "job_description", Message: "is required"}
	case utf8.RuneCountInString(r.JobDescription) > maxJobDescriptionLength:
		return &domain.ValidationError{Field: "job_description", Message: fmt.Sprintf("must be at most %d characters", maxJobDescriptionLength)}
	case len(r.IdempotencyKey) > maxIdempotencyKeyLength:
		return &domain.ValidationError{Field: "idempotency_key", Message: fmt.Sprintf("must be at most %d characters", maxIdempotencyKeyLength)}
	case r.Credential == "":
		return &domain.ValidationError{Field: "credential", Message: "is required"}
	}

	if err := validAddress("target_address", r.TargetAddress); err != nil {
		return err
	}
	return validAddress("sender_address", r.SenderAddress)
}

func validAddress(field, addr string) error {
	if addr == "" {
		return &domain.ValidationError{Field: field, Message: "is required"}
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return &domain.ValidationError{Field: field, Message: "must be a plain email address"}
	}
	return nil
}

// Enqueue validates the request, takes the cooldown slot, commits the job
// as PENDING and then publishes its message. The row is committed first so
// a worker never receives a message for a job it cannot see yet. When the
// publish fails the job is moved to FAILED and can be retried.
func (d *Dispatcher) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := d.store.GetJobByIdempotencyKey(ctx, req.AccountID, req.IdempotencyKey)
		if err == nil {
			return &EnqueueResult{Job: existing}, nil
		}
		if !errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
	}

	if d.roles != nil {
		if _, err := d.roles.ForRole(req.Role); err != nil && req.BaseContent == "" {
			return nil, &domain.ValidationError{Field: "role", Message: err.Error()}
		}
	}

	var reservation *ratelimit.Reservation
	if d.guard != nil {
		r, err := d.guard.Reserve(ctx, req.AccountID, req.TargetAddress, req.Role)
		if err != nil {
			return nil, err
		}
		reservation = r
	}

	now := d.now().UTC()
	job := &domain.Job{
		ID:             uuid.NewString(),
		AccountID:      req.AccountID,
		IdempotencyKey: req.IdempotencyKey,
		Status:         domain.StatusPending,
		Role:           req.Role,
		JobDescription: req.JobDescription,
		TargetAddress:  req.TargetAddress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	logID := ulid.Make().String()

	created := false
	err := d.store.RunInTx(ctx, func(tx Store) error {
		var err error
		created, err = tx.CreateJob(ctx, job)
		if err != nil || !created {
			return err
		}

		return tx.AppendEvent(ctx, domain.Event{
			JobID:     job.ID,
			LogID:     logID,
			Step:      domain.StageEnqueued,
			Status:    domain.EventStatusSuccess,
			Timestamp: now,
		})
	})

	if err != nil || !created {
		d.release(ctx, reservation)
	}
	if err != nil {
		d.logger.Error("Failed to store job",
			slog.String("account_id", req.AccountID),
			slog.Any("error", err),
		)
		return nil, err
	}

	if !created {
		return &EnqueueResult{Job: job}, nil
	}

	if err := d.publish(ctx, job.ID, logID, req.SenderAddress, req.Credential, req.BaseContent); err != nil {
		d.abandon(ctx, job.ID, logID, err)
		d.release(ctx, reservation)
		return nil, err
	}

	d.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("account_id", job.AccountID),
		slog.String("log_id", logID),
	)

	return &EnqueueResult{Job: job, LogID: logID, Created: created}, nil
}

// abandon fails a committed PENDING job whose message never reached the queue.
func (d *Dispatcher) abandon(ctx context.Context, jobID, logID string, cause error) {
	d.logger.Error("Failed to publish job",
		slog.String("job_id", jobID),
		slog.Any("error", cause),
	)

	ctx = context.WithoutCancel(ctx)
	if err := d.store.UpdateStatus(ctx, jobID, domain.StatusFailed, domain.StatusUpdate{Error: cause.Error()}); err != nil {
		d.logger.Error("Failed to mark unpublished job as FAILED",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}
	d.trail(ctx, domain.Event{
		JobID:     jobID,
		LogID:     logID,
		Step:      domain.StagePublish,
		Status:    domain.EventStatusFailed,
		Timestamp: d.now().UTC(),
		Error:     cause.Error(),
	})
}

func (d *Dispatcher) publish(ctx context.Context, jobID, logID, sender, credential, baseContent string) error {
	sealed, err := d.vault.Encrypt(credential)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	body, err := domain.QueueMessage{
		JobID:               jobID,
		EncryptedCredential: sealed,
		SenderAddress:       sender,
		LogID:               logID,
		BaseContent:         baseContent,
		EnqueuedAt:          d.now().UTC(),
	}.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode queue message: %w", err)
	}

	if err := d.publisher.Publish(ctx, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", jobID, err)
	}
	return nil
}

func (d *Dispatcher) release(ctx context.Context, r *ratelimit.Reservation) {
	if d.guard == nil || r == nil {
		return
	}
	if err := d.guard.Release(context.WithoutCancel(ctx), r); err != nil {
		d.logger.Warn("Failed to release cooldown", slog.Any("error", err))
	}
}
