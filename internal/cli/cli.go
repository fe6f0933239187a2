// Package cli implements jobctl, the operator tool for the jobs database:
// schema migrations, inspecting jobs, re-queueing failures, reclaiming
// abandoned jobs and minting API tokens.
package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/applyflow/internal/dispatch"
	"github.com/cuongbtq/applyflow/internal/domain"
	"github.com/cuongbtq/applyflow/internal/ratelimit"
	"github.com/cuongbtq/applyflow/internal/storage"
	"github.com/cuongbtq/applyflow/shared/postgresql"
)

// Migrator applies and reports schema migrations.
type Migrator interface {
	Migrate(ctx context.Context) error
	MigrationStatus(ctx context.Context) ([]postgresql.MigrationState, error)
}

// JobStore reads jobs and their execution trail.
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	ListEvents(ctx context.Context, jobID string) ([]domain.Event, error)
}

// Retrier re-queues FAILED jobs.
type Retrier interface {
	Retry(ctx context.Context, req dispatch.RetryRequest) (*dispatch.RetryResult, error)
}

// Reclaimer fails jobs whose worker stopped heartbeating.
type Reclaimer interface {
	RunOnce(ctx context.Context) (int, error)
}

// Minter issues API tokens.
type Minter interface {
	Mint(accountID string, tier ratelimit.Tier, ttl time.Duration) (string, error)
}

// Backend hands out the collaborators a command needs. Implementations
// connect lazily so a command only touches the systems it uses.
type Backend interface {
	Migrator() (Migrator, error)
	Jobs() (JobStore, error)
	Retrier() (Retrier, error)
	Reclaimer() (Reclaimer, error)
	Minter() (Minter, error)
	Close()
}

// BackendFunc opens a Backend from the config path given on the command line.
type BackendFunc func(configPath string) (Backend, error)

// NewRootCmd builds the jobctl command tree. The returned func closes
// whatever backend the command opened.
func NewRootCmd(open BackendFunc, defaultConfig, version string) (*cobra.Command, func()) {
	var configPath string
	var jsonOutput bool
	var backend Backend

	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "Operate the application job queue",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Path to configuration file")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	backendFn := func() (Backend, error) {
		if backend != nil {
			return backend, nil
		}
		b, err := open(configPath)
		if err != nil {
			return nil, err
		}
		backend = b
		return b, nil
	}
	outputFn := func(cmd *cobra.Command) *Output {
		return NewOutput(cmd.OutOrStdout(), cmd.ErrOrStderr(), jsonOutput)
	}

	root.AddCommand(
		newMigrateCmd(backendFn, outputFn),
		newJobsCmd(backendFn, outputFn),
		newRetryCmd(backendFn, outputFn),
		newReclaimCmd(backendFn, outputFn),
		newTokenCmd(backendFn, outputFn),
	)

	return root, func() {
		if backend != nil {
			backend.Close()
		}
	}
}

type (
	backendFunc func() (Backend, error)
	outputFunc  func(cmd *cobra.Command) *Output
)
