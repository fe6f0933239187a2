package cli

import (
	"fmt"
	"log/slog"

	"github.com/cuongbtq/applyflow/internal/api/auth"
	"github.com/cuongbtq/applyflow/internal/bootstrap"
	"github.com/cuongbtq/applyflow/internal/config"
	"github.com/cuongbtq/applyflow/internal/dispatch"
	"github.com/cuongbtq/applyflow/internal/storage"
	"github.com/cuongbtq/applyflow/internal/vault"
	"github.com/cuongbtq/applyflow/internal/worker"
	"github.com/cuongbtq/applyflow/shared/logger"
	"github.com/cuongbtq/applyflow/shared/postgresql"
	"github.com/cuongbtq/applyflow/shared/rabbitmq"
)

// liveBackend connects to the configured systems on first use.
type liveBackend struct {
	cfg    *config.Config
	logger *logger.Logger

	db *postgresql.Client
	mq *rabbitmq.Client
}

// OpenBackend loads configPath. Logs go to stderr so command output stays clean.
func OpenBackend(configPath string) (Backend, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.Logging.Output = "stderr"
	l, err := bootstrap.Logger(&cfg.Logging, "jobctl")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &liveBackend{cfg: cfg, logger: l}, nil
}

func (b *liveBackend) database() (*postgresql.Client, error) {
	if b.db != nil {
		return b.db, nil
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	db, err := bootstrap.Postgres(&b.cfg.Database, b.logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	b.db = db
	return db, nil
}

func (b *liveBackend) storage() (*storage.Storage, error) {
	db, err := b.database()
	if err != nil {
		return nil, err
	}
	return storage.NewStorage(db.GetDB(), b.logger.Logger), nil
}

func (b *liveBackend) Migrator() (Migrator, error) {
	return b.database()
}

func (b *liveBackend) Jobs() (JobStore, error) {
	return b.storage()
}

func (b *liveBackend) Retrier() (Retrier, error) {
	s, err := b.storage()
	if err != nil {
		return nil, err
	}

	v, err := vault.New(b.cfg.Security.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vault: %w", err)
	}

	if b.mq == nil {
		mq, err := bootstrap.RabbitMQ(&b.cfg.RabbitMQ, b.logger.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		b.mq = mq
	}

	return dispatch.New(dispatch.NewSQLStore(s), b.mq, v, b.logger.Logger), nil
}

func (b *liveBackend) Reclaimer() (Reclaimer, error) {
	s, err := b.storage()
	if err != nil {
		return nil, err
	}
	return worker.NewReclaimer(s, b.cfg.Worker.LeaseTimeout, b.logger.Logger), nil
}

func (b *liveBackend) Minter() (Minter, error) {
	if b.cfg.Security.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is not configured")
	}
	return auth.New(b.cfg.Security.JWTSecret), nil
}

func (b *liveBackend) Close() {
	if b.mq != nil {
		if err := b.mq.Close(); err != nil {
			b.logger.Warn("Failed to close RabbitMQ", slog.String("error", err.Error()))
		}
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			b.logger.Warn("Failed to close database", slog.String("error", err.Error()))
		}
	}
	b.logger.Close()
}
