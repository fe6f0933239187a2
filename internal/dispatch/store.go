package dispatch

import (
	"context"

	"github.com/cuongbtq/applyflow/internal/storage"
)

type sqlStore struct {
	*storage.Storage
}

// NewSQLStore adapts the Postgres storage to Store.
func NewSQLStore(s *storage.Storage) Store {
	return sqlStore{Storage: s}
}

func (s sqlStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	return s.Storage.InTx(ctx, func(tx *storage.Storage) error {
		return fn(sqlStore{Storage: tx})
	})
}
