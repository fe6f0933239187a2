package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuongbtq/applyflow/internal/domain"
)

// ReclaimStore is the persistence the reclaimer needs.
type ReclaimStore interface {
	ReclaimStale(ctx context.Context, before time.Time, reason string) ([]string, error)
	AppendEvent(ctx context.Context, e domain.Event) error
}

// ReclaimRecorder receives reclaim metrics.
type ReclaimRecorder interface {
	JobsReclaimed(n int)
}

const reclaimReason = "worker lease expired"

// Reclaimer fails IN_PROGRESS jobs whose worker stopped heartbeating.
type Reclaimer struct {
	store   ReclaimStore
	lease   time.Duration
	logger  *slog.Logger
	metrics ReclaimRecorder
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// ReclaimerOption configures a Reclaimer.
type ReclaimerOption func(*Reclaimer)

// WithReclaimMetrics sets the metrics recorder.
func WithReclaimMetrics(m ReclaimRecorder) ReclaimerOption {
	return func(r *Reclaimer) { r.metrics = m }
}

// WithReclaimClock overrides the clock used to compute the lease cutoff.
func WithReclaimClock(now func() time.Time) ReclaimerOption {
	return func(r *Reclaimer) { r.now = now }
}

// NewReclaimer creates a Reclaimer. lease is how long a job may go without
// a heartbeat before it is considered abandoned.
func NewReclaimer(store ReclaimStore, lease time.Duration, logger *slog.Logger, opts ...ReclaimerOption) *Reclaimer {
	r := &Reclaimer{
		store:  store,
		lease:  lease,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce reclaims every stale job and returns how many were moved to FAILED.
func (r *Reclaimer) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.lease)

	ids, err := r.store.ReclaimStale(ctx, cutoff, reclaimReason)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}

	now := r.now().UTC()
	for _, id := range ids {
		if err := r.store.AppendEvent(ctx, domain.Event{
			JobID:     id,
			Step:      domain.StageLeaseExpired,
			Status:    domain.EventStatusFailed,
			Timestamp: now,
			Error:     reclaimReason,
		}); err != nil {
			r.logger.Warn("Failed to append job event",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(ids) > 0 {
		if r.metrics != nil {
			r.metrics.JobsReclaimed(len(ids))
		}
		r.logger.Warn("Reclaimed stale jobs",
			slog.Int("count", len(ids)),
			slog.Time("cutoff", cutoff),
		)
	}
	return len(ids), nil
}

// Start schedules RunOnce on schedule, a cron expression or descriptor such
// as "@every 1m".
func (r *Reclaimer) Start(ctx context.Context, schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return errors.New("reclaimer already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Reclaim run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("invalid reclaim schedule %q: %w", schedule, err)
	}

	c.Start()
	r.cron = c

	r.logger.Info("Reclaimer started",
		slog.String("schedule", schedule),
		slog.Duration("lease", r.lease),
	)
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Reclaimer) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("Reclaimer stopped")
}
