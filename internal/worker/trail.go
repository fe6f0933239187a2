package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/applyflow/internal/domain"
	"github.com/cuongbtq/applyflow/internal/pipeline"
)

type runKey struct{}

// runInfo identifies the job a pipeline run belongs to.
type runInfo struct {
	jobID string
	logID string
}

func (r runInfo) event(step, status string) domain.Event {
	return domain.Event{
		JobID:     r.jobID,
		LogID:     r.logID,
		Step:      step,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

func withRun(ctx context.Context, r runInfo) context.Context {
	return context.WithValue(ctx, runKey{}, r)
}

func runFrom(ctx context.Context) (runInfo, bool) {
	r, ok := ctx.Value(runKey{}).(runInfo)
	return r, ok
}

// EventAppender persists execution-trail entries.
type EventAppender interface {
	AppendEvent(ctx context.Context, e domain.Event) error
}

// TrailObserver writes every pipeline step event to the job's execution
// trail. Runs started outside the worker carry no job and are ignored.
type TrailObserver struct {
	store  EventAppender
	logger *slog.Logger
}

// NewTrailObserver creates a TrailObserver.
func NewTrailObserver(store EventAppender, logger *slog.Logger) *TrailObserver {
	return &TrailObserver{store: store, logger: logger}
}

func (o *TrailObserver) OnEvent(ctx context.Context, e pipeline.Event) {
	run, ok := runFrom(ctx)
	if !ok {
		return
	}

	ev := run.event(e.Step, string(e.Status))
	ev.Timestamp = e.Timestamp.UTC()
	if e.Status != pipeline.StatusStart {
		ev.DurationMs = durationMs(e.Duration)
	}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	ev.TokenUsage = e.Usage

	if err := o.store.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		o.logger.Warn("Failed to append job event",
			slog.String("job_id", run.jobID),
			slog.String("step", e.Step),
			slog.String("error", err.Error()),
		)
	}
}

// trail appends a worker-level event. Failures are logged, never fatal.
func (w *Worker) trail(ctx context.Context, e domain.Event) {
	if err := w.store.AppendEvent(context.WithoutCancel(ctx), e); err != nil {
		w.logger.Warn("Failed to append job event",
			slog.String("job_id", e.JobID),
			slog.String("step", e.Step),
			slog.String("error", err.Error()),
		)
	}
}
