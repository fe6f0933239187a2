package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/applyflow/internal/api/auth"
	"github.com/cuongbtq/applyflow/internal/api/handler"
	"github.com/cuongbtq/applyflow/internal/ratelimit"
)

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Calculate latency
		latency := time.Since(start)

		// Log request details
		logger.Info("HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("account_id", auth.AccountID(c)),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.Duration("latency", latency),
			slog.Int("body_size", c.Writer.Size()),
		)

		// Log errors if any
		if len(c.Errors) > 0 {
			for _, e := range c.Errors {
				logger.Error("Request error",
					slog.String("error", e.Error()),
					slog.Uint64("type", uint64(e.Type)),
				)
			}
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Idempotency-Key")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// QuotaChecker admits or rejects one more job for an account.
type QuotaChecker interface {
	Check(ctx context.Context, accountID string, tier ratelimit.Tier) (ratelimit.Window, error)
}

// QuotaRecorder counts rejected requests.
type QuotaRecorder interface {
	QuotaRejected(tier string)
}

// QuotaMiddleware rejects the request with 429 when the caller's tier
// quota is used up.
func QuotaMiddleware(q QuotaChecker, rec QuotaRecorder, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tier := auth.Tier(c)
		_, err := q.Check(c.Request.Context(), auth.AccountID(c), tier)
		if err == nil {
			c.Next()
			return
		}

		var quotaErr *ratelimit.QuotaExceededError
		if errors.As(err, &quotaErr) {
			if rec != nil {
				rec.QuotaRejected(string(tier))
			}
			handler.WriteQuotaExceeded(c, quotaErr)
			return
		}

		logger.Error("Failed to check quota",
			slog.String("account_id", auth.AccountID(c)),
			slog.String("error", err.Error()),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to check quota",
		})
	}
}
