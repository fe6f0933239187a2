package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/applyflow/internal/api/auth"
	"github.com/cuongbtq/applyflow/internal/api/handler"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options configures the parts of the router outside the job handlers.
type Options struct {
	Service      string
	Auth         *auth.Authenticator
	Quota        QuotaChecker
	QuotaMetrics QuotaRecorder
	Health       map[string]HealthCheck
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(opts.Service, opts.Health))
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(opts.Auth.Middleware())
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Enqueue an application, quota first
			create := []gin.HandlerFunc{jobHandler.CreateJob}
			if opts.Quota != nil {
				create = append([]gin.HandlerFunc{QuotaMiddleware(opts.Quota, opts.QuotaMetrics, deps.Logger)}, create...)
			}
			jobs.POST("", create...)

			// POST /api/v1/jobs/retry - Re-queue the caller's FAILED jobs
			jobs.POST("/retry", jobHandler.RetryJobs)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/events - Execution trail
			jobs.GET("/:job_id/events", jobHandler.ListEvents)
		}
	}

	return r
}

func healthHandler(service string, checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status, code = "unhealthy", http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		c.JSON(code, gin.H{
			"status":  status,
			"service": service,
			"checks":  results,
		})
	}
}
