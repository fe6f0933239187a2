package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/applyflow/internal/domain"
	"github.com/cuongbtq/applyflow/internal/outreach"
	"github.com/cuongbtq/applyflow/internal/pipeline"
	"github.com/cuongbtq/applyflow/internal/vault"
)

var errPipelinePanic = errors.New("pipeline panicked")

// Reasons a message is acked without running anything.
const (
	dropMalformed  = "malformed"
	dropOrphan     = "orphan"
	dropDuplicate  = "duplicate"
	dropInProgress = "in_progress"
)

// handle runs one message to completion and says what to do with it.
// Only the pipeline itself is bounded by the job timeout.
func (w *Worker) handle(ctx context.Context, m Message) disposition {
	msg, err := domain.ParseQueueMessage(m.Body)
	if err != nil {
		w.logger.Warn("Dropping malformed message",
			slog.String("message_id", m.ID),
			slog.String("error", err.Error()),
		)
		w.metrics.MessageDropped(dropMalformed)
		return ack
	}

	logger := w.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("log_id", msg.LogID),
	)

	job, err := w.store.GetJobByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			if w.recent(msg) {
				logger.Warn("Job not visible yet, releasing message",
					slog.Time("enqueued_at", msg.EnqueuedAt),
				)
				return retryLater
			}
			logger.Warn("Dropping message for unknown job")
			w.metrics.MessageDropped(dropOrphan)
			return ack
		}
		logger.Error("Failed to load job", slog.String("error", err.Error()))
		return retryLater
	}

	switch {
	case job.Status.IsTerminal():
		logger.Info("Job already finished, skipping", slog.String("status", string(job.Status)))
		w.metrics.MessageDropped(dropDuplicate)
		return ack
	case job.Status == domain.StatusInProgress:
		logger.Info("Job owned by another worker, skipping", slog.String("owner", job.WorkerID))
		w.metrics.MessageDropped(dropInProgress)
		return ack
	}

	run := runInfo{jobID: job.ID, logID: msg.LogID}
	w.trail(ctx, run.event(domain.StageReceived, domain.EventStatusSuccess))

	secret, err := w.vault.Decrypt(msg.EncryptedCredential)
	if err != nil {
		return w.fail(ctx, logger, run, domain.StageDecrypt, fmt.Errorf("failed to decrypt credential: %w", err))
	}

	if w.verifier != nil {
		if err := w.verifier.Verify(ctx, msg.SenderAddress, secret); err != nil {
			return w.fail(ctx, logger, run, domain.StageVerify, err)
		}
	}

	base, err := w.baseDocument(job.Role, msg.BaseContent)
	if err != nil {
		return w.fail(ctx, logger, run, domain.StageBaseDocument, err)
	}

	if err := w.store.UpdateStatus(ctx, job.ID, domain.StatusInProgress, domain.StatusUpdate{WorkerID: w.workerID}); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			logger.Warn("Job already claimed, skipping")
			w.metrics.MessageDropped(dropInProgress)
			return ack
		}
		logger.Error("Failed to claim job", slog.String("error", err.Error()))
		return retryLater
	}

	logger.Info("Job claimed", slog.Int("attempt", job.Attempts+1))

	in := outreach.Context{
		JobID:          job.ID,
		LogID:          msg.LogID,
		Role:           job.Role,
		JobDescription: job.JobDescription,
		TargetAddress:  job.TargetAddress,
		SenderAddress:  msg.SenderAddress,
		Credential:     secret,
		BaseDocument:   base,
	}

	done := w.metrics.TrackRun()
	start := time.Now()
	out, runErr := w.execute(ctx, run, in)
	elapsed := time.Since(start)

	if runErr != nil {
		done(string(domain.StatusFailed))
		e := run.event(domain.StagePipeline, domain.EventStatusFailed)
		e.DurationMs = durationMs(elapsed)
		e.Error = runErr.Error()
		usage := out.TokenUsage()
		e.TokenUsage = &usage
		w.trail(ctx, e)
		return w.fail(ctx, logger, run, failedStage(runErr), runErr)
	}

	done(string(domain.StatusSuccess))
	result := out.Result()
	if err := w.store.UpdateStatus(ctx, job.ID, domain.StatusSuccess, domain.StatusUpdate{Result: result}); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			logger.Warn("Job left IN_PROGRESS before completion was recorded")
			return ack
		}
		logger.Error("Failed to update job status to SUCCESS", slog.String("error", err.Error()))
		return retryLater
	}

	e := run.event(domain.StagePipeline, domain.EventStatusSuccess)
	e.DurationMs = durationMs(elapsed)
	e.TokenUsage = &result.TokenUsage
	w.trail(ctx, e)
	w.metrics.JobFinished(string(domain.StatusSuccess), "")

	logger.Info("Job completed successfully",
		slog.Duration("duration", elapsed),
		slog.Int64("tokens_total", result.TokenUsage.Total),
		slog.Float64("cost", result.TokenUsage.Cost),
	)
	return ack
}

// recent reports whether msg was published within the orphan grace period.
// Its job row may not be readable yet.
func (w *Worker) recent(msg domain.QueueMessage) bool {
	if msg.EnqueuedAt.IsZero() {
		return false
	}
	return w.now().Sub(msg.EnqueuedAt) < w.orphanGrace
}

// execute runs the pipeline under the job timeout with a heartbeat. A panic
// in a step is returned as an error so the job still ends FAILED.
func (w *Worker) execute(ctx context.Context, run runInfo, in outreach.Context) (out outreach.Context, err error) {
	if vErr := in.Validate(); vErr != nil {
		return in, vErr
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Pipeline panicked",
				slog.String("job_id", run.jobID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			out, err = in, fmt.Errorf("%w: %v", errPipelinePanic, r)
		}
	}()

	jobCtx, cancel := context.WithTimeout(withRun(ctx, run), w.jobTimeout)
	defer cancel()

	hbCtx, stopHeartbeat := context.WithCancel(jobCtx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		w.sendJobHeartbeat(hbCtx, run.jobID)
	}()
	defer func() {
		stopHeartbeat()
		<-heartbeatDone
	}()

	return w.runner.Execute(jobCtx, in)
}

// fail moves the job to FAILED and records where it stopped.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, run runInfo, stage string, cause error) disposition {
	logger.Error("Job failed",
		slog.String("stage", stage),
		slog.String("error", cause.Error()),
	)

	if preflight(stage) {
		e := run.event(stage, domain.EventStatusFailed)
		e.Error = cause.Error()
		w.trail(ctx, e)
	}

	err := w.store.UpdateStatus(ctx, run.jobID, domain.StatusFailed, domain.StatusUpdate{Error: cause.Error()})
	if err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			logger.Warn("Job left its state before failure was recorded", slog.String("error", err.Error()))
			return ack
		}
		logger.Error("Failed to update job status to FAILED", slog.String("error", err.Error()))
		return retryLater
	}

	w.metrics.JobFinished(string(domain.StatusFailed), stage)
	return ack
}

func (w *Worker) baseDocument(role, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if w.documents == nil {
		return "", fmt.Errorf("no base document for role %q", role)
	}
	return w.documents.ForRole(role)
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.UpdateJobHeartbeat(ctx, jobID, w.workerID); err != nil && ctx.Err() == nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// failedStage names the pipeline step behind err, or the pipeline itself.
func failedStage(err error) string {
	var stepErr *pipeline.StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return domain.StagePipeline
}

// preflight reports whether stage runs before the claim. Pipeline
// failures are already in the trail by the time fail runs.
func preflight(stage string) bool {
	switch stage {
	case domain.StageDecrypt, domain.StageVerify, domain.StageBaseDocument:
		return true
	}
	return false
}

func durationMs(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

var _ Decrypter = (*vault.Vault)(nil)
