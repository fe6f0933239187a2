package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrQuotaExceeded is matched by every QuotaExceededError.
var ErrQuotaExceeded = errors.New("quota exceeded")

// QuotaExceededError carries the details returned to the caller with a 429.
type QuotaExceededError struct {
	CurrentUsage int    `json:"current_usage"`
	Limit        int    `json:"limit"`
	Tier         Tier   `json:"tier"`
	ResetTime    string `json:"reset_time"`
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("rate limit reached: %s allows %d per period, already used %d", e.Tier, e.Limit, e.CurrentUsage)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// UsageCounter counts an account's quota-consuming actions since a point in time.
type UsageCounter interface {
	CountActions(ctx context.Context, accountID string, since time.Time) (int, error)
}

// Limiter enforces per-account quotas keyed by tier.
type Limiter struct {
	counter  UsageCounter
	policies map[Tier]Policy
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithPolicies replaces the default quota table. Missing tiers keep defaults.
func WithPolicies(policies map[Tier]Policy) Option {
	return func(l *Limiter) {
		for tier, p := range policies {
			l.policies[tier] = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a Limiter backed by counter.
func NewLimiter(counter UsageCounter, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		counter:  counter,
		policies: DefaultPolicies(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Window returns the window that applies to tier right now.
func (l *Limiter) Window(tier Tier) Window {
	p, ok := l.policies[tier]
	if !ok {
		tier = TierTrial
		p = l.policies[TierTrial]
	}
	return p.window(tier, l.now())
}

// Check admits or rejects one more action for accountID.
func (l *Limiter) Check(ctx context.Context, accountID string, tier Tier) (Window, error) {
	w := l.Window(tier)

	count, err := l.counter.CountActions(ctx, accountID, w.Start)
	if err != nil {
		return w, fmt.Errorf("failed to count usage: %w", err)
	}

	if count >= w.Limit {
		l.logger.Warn("Quota exceeded",
			slog.String("account_id", accountID),
			slog.String("tier", string(w.Tier)),
			slog.Int("current_usage", count),
			slog.Int("limit", w.Limit),
		)
		return w, &QuotaExceededError{
			CurrentUsage: count,
			Limit:        w.Limit,
			Tier:         w.Tier,
			ResetTime:    w.ResetTime,
		}
	}

	return w, nil
}
