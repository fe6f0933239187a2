package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// Storage handles all job and execution-trail database operations.
// A Storage returned by InTx is bound to that transaction.
type Storage struct {
	db     *sqlx.DB
	q      sqlx.ExtContext
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		q:      db,
		logger: logger,
	}
}

// InTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Nested calls reuse the outer transaction.
func (s *Storage) InTx(ctx context.Context, fn func(tx *Storage) error) error {
	if _, ok := s.q.(*sqlx.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Storage{db: s.db, q: tx, logger: s.logger}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", slog.Any("error", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
