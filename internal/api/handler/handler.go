package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/applyflow/internal/dispatch"
	"github.com/cuongbtq/applyflow/internal/domain"
	"github.com/cuongbtq/applyflow/internal/ratelimit"
	"github.com/cuongbtq/applyflow/internal/storage"
)

// Dispatcher creates and re-queues jobs.
type Dispatcher interface {
	Enqueue(ctx context.Context, req dispatch.EnqueueRequest) (*dispatch.EnqueueResult, error)
	Retry(ctx context.Context, req dispatch.RetryRequest) (*dispatch.RetryResult, error)
}

// JobReader serves the read endpoints.
type JobReader interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	ListEvents(ctx context.Context, jobID string) ([]domain.Event, error)
}

// EnqueueRecorder counts accepted jobs.
type EnqueueRecorder interface {
	JobEnqueued(tier string)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Dispatcher Dispatcher
	Jobs       JobReader
	Metrics    EnqueueRecorder
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger     *slog.Logger
	dispatcher Dispatcher
	jobs       JobReader
	metrics    EnqueueRecorder
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
		jobs:       deps.Jobs,
		metrics:    deps.Metrics,
	}
}

// writeError maps domain errors onto HTTP responses.
func (h *JobHandler) writeError(c *gin.Context, err error, fallback string) {
	var (
		vErr     *domain.ValidationError
		quotaErr *ratelimit.QuotaExceededError
	)

	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error(), "field": vErr.Field})
	case errors.As(err, &quotaErr):
		WriteQuotaExceeded(c, quotaErr)
	case errors.Is(err, ratelimit.ErrCooldownActive):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	default:
		h.logger.Error(fallback, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// WriteQuotaExceeded writes the structured 429 body.
func WriteQuotaExceeded(c *gin.Context, e *ratelimit.QuotaExceededError) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":         e.Error(),
		"current_usage": e.CurrentUsage,
		"limit":         e.Limit,
		"tier":          e.Tier,
		"reset_time":    e.ResetTime,
	})
}
