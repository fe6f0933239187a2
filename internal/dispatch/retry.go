package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/cuongbtq/applyflow/internal/domain"
	"github.com/cuongbtq/applyflow/internal/mailer"
	"github.com/cuongbtq/applyflow/internal/ratelimit"
	"github.com/cuongbtq/applyflow/internal/storage"
)

// RetryRequest selects the FAILED jobs to re-queue and carries the
// credential the new messages are sealed with.
type RetryRequest struct {
	// AccountID limits the retry to one account; empty means all accounts.
	AccountID     string
	SenderAddress string
	Credential    string
	BaseContent   string
	Limit         int

	// Tier, when set, makes every re-queued job count against the owning
	// account's quota. Operator retries leave it empty.
	Tier ratelimit.Tier
}

// RetryFailure names a job that could not be re-queued.
type RetryFailure struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// RetryResult summarises a retry run.
type RetryResult struct {
	Retried []string       `json:"retried"`
	Failed  []RetryFailure `json:"failed"`

	// Skipped counts jobs left FAILED because the quota ran out.
	Skipped int `json:"skipped,omitempty"`
}

// Retry moves FAILED jobs back to PENDING and publishes a fresh message for
// each. A job whose publish fails goes back to FAILED with the publish error.
// With a tier set, each job is admitted by the quota first; when the quota
// is already spent before the first job the quota error is returned.
func (d *Dispatcher) Retry(ctx context.Context, req RetryRequest) (*RetryResult, error) {
	if req.Credential == "" {
		return nil, &domain.ValidationError{Field: "credential", Message: "is required"}
	}
	req.SenderAddress = mailer.NormalizeAddress(req.SenderAddress)
	if err := validAddress("sender_address", req.SenderAddress); err != nil {
		return nil, err
	}

	jobs, err := d.store.FindAllWithStatus(ctx, domain.StatusFailed, storage.StatusQuery{
		AccountID: req.AccountID,
		Limit:     req.Limit,
	})
	if err != nil {
		return nil, err
	}

	result := &RetryResult{Retried: []string{}, Failed: []RetryFailure{}}
	for i, job := range jobs {
		if err := d.admit(ctx, job.AccountID, req.Tier); err != nil {
			if len(result.Retried) == 0 {
				return nil, err
			}
			result.Skipped = len(jobs) - i
			d.logger.Warn("Retry stopped by quota",
				slog.String("account_id", job.AccountID),
				slog.Int("skipped", result.Skipped),
				slog.String("error", err.Error()),
			)
			break
		}

		if err := d.retryOne(ctx, job, req); err != nil {
			result.Failed = append(result.Failed, RetryFailure{JobID: job.ID, Error: err.Error()})
			continue
		}
		result.Retried = append(result.Retried, job.ID)
	}

	d.logger.Info("Retry completed",
		slog.String("account_id", req.AccountID),
		slog.Int("retried", len(result.Retried)),
		slog.Int("failed", len(result.Failed)),
		slog.Int("skipped", result.Skipped),
	)

	return result, nil
}

// admit checks the quota for one more run of accountID's work.
func (d *Dispatcher) admit(ctx context.Context, accountID string, tier ratelimit.Tier) error {
	if d.quota == nil || tier == "" {
		return nil
	}
	_, err := d.quota.Check(ctx, accountID, tier)
	return err
}

func (d *Dispatcher) retryOne(ctx context.Context, job domain.Job, req RetryRequest) error {
	if err := d.store.UpdateStatus(ctx, job.ID, domain.StatusPending, domain.StatusUpdate{}); err != nil {
		// someone else already moved it; not ours to publish
		if errors.Is(err, domain.ErrIllegalTransition) {
			d.logger.Warn("Job left FAILED before retry", slog.String("job_id", job.ID))
		}
		return err
	}

	logID := ulid.Make().String()
	d.trail(ctx, domain.Event{
		JobID:     job.ID,
		LogID:     logID,
		Step:      domain.StageRetryRequested,
		Status:    domain.EventStatusSuccess,
		Timestamp: d.now().UTC(),
	})

	pubErr := d.publish(ctx, job.ID, logID, req.SenderAddress, req.Credential, req.BaseContent)
	if pubErr == nil {
		return nil
	}

	d.logger.Error("Failed to publish retried job",
		slog.String("job_id", job.ID),
		slog.Any("error", pubErr),
	)

	if err := d.store.UpdateStatus(context.WithoutCancel(ctx), job.ID, domain.StatusFailed, domain.StatusUpdate{Error: pubErr.Error()}); err != nil {
		d.logger.Error("Failed to restore FAILED status after publish error",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
	return pubErr
}

func (d *Dispatcher) trail(ctx context.Context, e domain.Event) {
	if err := d.store.AppendEvent(ctx, e); err != nil {
		d.logger.Warn("Failed to append job event",
			slog.String("job_id", e.JobID),
			slog.String("step", e.Step),
			slog.Any("error", err),
		)
	}
}
