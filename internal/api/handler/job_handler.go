package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/applyflow/internal/api/auth"
	"github.com/cuongbtq/applyflow/internal/api/dto"
	"github.com/cuongbtq/applyflow/internal/dispatch"
	"github.com/cuongbtq/applyflow/internal/domain"
	"github.com/cuongbtq/applyflow/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	idempotencyHeader = "X-Idempotency-Key"
)

// CreateJob handles POST /api/v1/jobs
// Stores a PENDING job and queues it for the worker
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	key := req.IdempotencyKey
	if hdr := strings.TrimSpace(c.GetHeader(idempotencyHeader)); hdr != "" {
		key = hdr
	}

	tier := auth.Tier(c)
	res, err := h.dispatcher.Enqueue(c.Request.Context(), dispatch.EnqueueRequest{
		AccountID:      auth.AccountID(c),
		IdempotencyKey: key,
		Role:           req.Role,
		JobDescription: req.JobDescription,
		TargetAddress:  req.TargetAddress,
		SenderAddress:  req.SenderAddress,
		Credential:     req.Credential,
		BaseContent:    req.BaseContent,
	})
	if err != nil {
		h.writeError(c, err, "Failed to create job")
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusAccepted
		if h.metrics != nil {
			h.metrics.JobEnqueued(string(tier))
		}
	}

	c.JSON(status, dto.CreateJobResponse{
		JobID:  res.Job.ID,
		Status: string(res.Job.Status),
		LogID:  res.LogID,
	})
}

// RetryJobs handles POST /api/v1/jobs/retry
// Re-queues the caller's FAILED jobs while the caller's quota allows
func (h *JobHandler) RetryJobs(c *gin.Context) {
	var req dto.RetryJobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	res, err := h.dispatcher.Retry(c.Request.Context(), dispatch.RetryRequest{
		AccountID:     auth.AccountID(c),
		SenderAddress: req.SenderAddress,
		Credential:    req.Credential,
		BaseContent:   req.BaseContent,
		Limit:         req.Limit,
		Tier:          auth.Tier(c),
	})
	if err != nil {
		h.writeError(c, err, "Failed to retry jobs")
		return
	}

	c.JSON(http.StatusOK, res)
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(*job, true))
}

// ListEvents handles GET /api/v1/jobs/:job_id/events
// Returns the job's execution trail in order
func (h *JobHandler) ListEvents(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	events, err := h.jobs.ListEvents(c.Request.Context(), job.ID)
	if err != nil {
		h.writeError(c, err, "Failed to list job events")
		return
	}

	out := make([]dto.EventDTO, len(events))
	for i, e := range events {
		out[i] = dto.NewEventDTO(e)
	}
	c.JSON(http.StatusOK, dto.ListEventsResponse{JobID: job.ID, Events: out})
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	if req.Status != "" {
		req.Status = strings.ToUpper(req.Status)
		if !domain.Status(req.Status).IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid status",
			})
			return
		}
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), storage.JobFilter{
		AccountID: auth.AccountID(c),
		Status:    req.Status,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		h.writeError(c, err, "Failed to list jobs")
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	out := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		out[i] = dto.NewJobDTO(job, false)
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       out,
		NextCursor: nextCursor,
	})
}

// ownedJob loads :job_id and hides jobs of other accounts behind a 404.
func (h *JobHandler) ownedJob(c *gin.Context) (*domain.Job, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return nil, false
	}

	job, err := h.jobs.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err, "Failed to get job")
		return nil, false
	}

	if job.AccountID != auth.AccountID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return nil, false
	}
	return job, true
}
