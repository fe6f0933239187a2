package postgresql

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/cuongbtq/applyflow/shared/postgresql/migrations"
)

// MigrationState describes one migration file and whether it has been applied.
type MigrationState struct {
	Version int64
	Path    string
	Applied bool
}

func (c *Client) provider() (*goose.Provider, error) {
	p, err := goose.NewProvider(goose.DialectPostgres, c.db.DB, migrations.Files)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return p, nil
}

// Migrate applies all pending migrations.
func (c *Client) Migrate(ctx context.Context) error {
	p, err := c.provider()
	if err != nil {
		return err
	}

	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	for _, r := range results {
		c.logger.Info("Migration applied",
			slog.Int64("version", r.Source.Version),
			slog.String("path", r.Source.Path),
			slog.Duration("duration", r.Duration),
		)
	}
	if len(results) == 0 {
		c.logger.Info("Schema is up to date")
	}
	return nil
}

// MigrationStatus reports every known migration.
func (c *Client) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	p, err := c.provider()
	if err != nil {
		return nil, err
	}

	statuses, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration status: %w", err)
	}

	out := make([]MigrationState, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationState{
			Version: s.Source.Version,
			Path:    s.Source.Path,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}
