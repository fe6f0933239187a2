// Package dispatch is the producer side of the job queue: it creates jobs,
// publishes their work messages and re-queues failed jobs.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/applyflow/internal/domain"
	"github.com/cuongbtq/applyflow/internal/ratelimit"
	"github.com/cuongbtq/applyflow/internal/storage"
)

// Store is the job persistence the dispatcher needs.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) (bool, error)
	GetJobByIdempotencyKey(ctx context.Context, accountID, key string) (*domain.Job, error)
	UpdateStatus(ctx context.Context, jobID string, to domain.Status, upd domain.StatusUpdate) error
	FindAllWithStatus(ctx context.Context, status domain.Status, q storage.StatusQuery) ([]domain.Job, error)
	AppendEvent(ctx context.Context, e domain.Event) error
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}

// Publisher sends a message body to the work queue.
type Publisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Encrypter seals credentials for the queue message.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Guard holds the duplicate-application cooldown.
type Guard interface {
	Reserve(ctx context.Context, accountID, target, role string) (*ratelimit.Reservation, error)
	Release(ctx context.Context, r *ratelimit.Reservation) error
}

// QuotaChecker admits or rejects one more run for an account.
type QuotaChecker interface {
	Check(ctx context.Context, accountID string, tier ratelimit.Tier) (ratelimit.Window, error)
}

// RoleChecker reports whether a base document exists for a role.
type RoleChecker interface {
	ForRole(role string) (string, error)
}

// Dispatcher creates and re-queues jobs.
type Dispatcher struct {
	store     Store
	publisher Publisher
	vault     Encrypter
	guard     Guard
	roles     RoleChecker
	quota     QuotaChecker
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithGuard enables the cooldown guard.
func WithGuard(g Guard) Option {
	return func(d *Dispatcher) { d.guard = g }
}

// WithRoleChecker rejects roles without a base document at enqueue time.
func WithRoleChecker(r RoleChecker) Option {
	return func(d *Dispatcher) { d.roles = r }
}

// WithQuota makes tiered retries count against the account quota.
func WithQuota(q QuotaChecker) Option {
	return func(d *Dispatcher) { d.quota = q }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a Dispatcher.
func New(store Store, publisher Publisher, vault Encrypter, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		publisher: publisher,
		vault:     vault,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

const contentTypeJSON = "application/json"
