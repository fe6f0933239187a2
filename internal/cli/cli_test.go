package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/applyflow/internal/api/auth"
	"github.com/cuongbtq/applyflow/internal/dispatch"
	"github.com/cuongbtq/applyflow/internal/domain"
	"github.com/cuongbtq/applyflow/internal/storage"
	"github.com/cuongbtq/applyflow/shared/postgresql"
)

type fakeBackend struct {
	jobs      *fakeJobs
	retrier   *fakeRetrier
	migrator  *fakeMigrator
	reclaimed int
	minter    Minter
	closed    bool
}

func (b *fakeBackend) Migrator() (Migrator, error) { return b.migrator, nil }
func (b *fakeBackend) Jobs() (JobStore, error)     { return b.jobs, nil }
func (b *fakeBackend) Retrier() (Retrier, error)   { return b.retrier, nil }
func (b *fakeBackend) Reclaimer() (Reclaimer, error) {
	return reclaimFunc(func(context.Context) (int, error) { return b.reclaimed, nil }), nil
}
func (b *fakeBackend) Minter() (Minter, error) { return b.minter, nil }
func (b *fakeBackend) Close()                  { b.closed = true }

type reclaimFunc func(ctx context.Context) (int, error)

func (f reclaimFunc) RunOnce(ctx context.Context) (int, error) { return f(ctx) }

type fakeJobs struct {
	jobs   []domain.Job
	events []domain.Event
	filter storage.JobFilter
}

func (f *fakeJobs) GetJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	for i := range f.jobs {
		if f.jobs[i].ID == jobID {
			return &f.jobs[i], nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (f *fakeJobs) ListJobs(_ context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	f.filter = filter
	return f.jobs, nil
}

func (f *fakeJobs) ListEvents(context.Context, string) ([]domain.Event, error) {
	return f.events, nil
}

type fakeRetrier struct {
	req dispatch.RetryRequest
	res *dispatch.RetryResult
}

func (f *fakeRetrier) Retry(_ context.Context, req dispatch.RetryRequest) (*dispatch.RetryResult, error) {
	f.req = req
	return f.res, nil
}

type fakeMigrator struct {
	applied bool
}

func (f *fakeMigrator) Migrate(context.Context) error {
	f.applied = true
	return nil
}

func (f *fakeMigrator) MigrationStatus(context.Context) ([]postgresql.MigrationState, error) {
	return []postgresql.MigrationState{
		{Version: 1, Path: "00001_create_jobs.sql", Applied: true},
		{Version: 2, Path: "00002_create_job_events.sql", Applied: false},
	}, nil
}

func run(t *testing.T, b *fakeBackend, args ...string) (string, string, error) {
	t.Helper()

	var gotPath string
	root, closeBackend := NewRootCmd(func(path string) (Backend, error) {
		gotPath = path
		return b, nil
	}, "configs/test.yaml", "test")

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	closeBackend()
	if gotPath != "" {
		assert.Equal(t, "configs/test.yaml", gotPath)
	}
	return out.String(), errOut.String(), err
}

func sampleJobs() []domain.Job {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []domain.Job{
		{ID: "job-2", AccountID: "acct", Status: domain.StatusFailed, Role: "backend", TargetAddress: "hr@b.com", Attempts: 2, Error: "smtp down", CreatedAt: created.Add(time.Hour)},
		{ID: "job-1", AccountID: "acct", Status: domain.StatusSuccess, Role: "backend", TargetAddress: "hr@a.com", Attempts: 1, CreatedAt: created},
	}
}

func TestJobsList(t *testing.T) {
	b := &fakeBackend{jobs: &fakeJobs{jobs: sampleJobs()}}

	out, _, err := run(t, b, "jobs", "list", "--account", "acct", "--status", "failed", "--limit", "1")
	require.NoError(t, err)

	assert.Equal(t, "acct", b.jobs.filter.AccountID)
	assert.Equal(t, "FAILED", b.jobs.filter.Status)
	assert.Equal(t, 1, b.jobs.filter.PageSize)
	assert.Contains(t, out, "job-2")
	assert.NotContains(t, out, "job-1")
	assert.True(t, b.closed)
}

func TestJobsList_Validation(t *testing.T) {
	b := &fakeBackend{jobs: &fakeJobs{}}

	_, _, err := run(t, b, "jobs", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--account is required")

	_, _, err = run(t, b, "jobs", "list", "--account", "acct", "--status", "done")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")
}

func TestJobsList_JSON(t *testing.T) {
	b := &fakeBackend{jobs: &fakeJobs{jobs: sampleJobs()}}

	out, _, err := run(t, b, "--json", "jobs", "list", "--account", "acct")
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "job-2", got[0]["job_id"])
	assert.Equal(t, "FAILED", got[0]["status"])
}

func TestJobsShow(t *testing.T) {
	ms := int64(120)
	b := &fakeBackend{jobs: &fakeJobs{
		jobs: sampleJobs(),
		events: []domain.Event{
			{JobID: "job-2", Step: domain.StageEnqueued, Status: domain.EventStatusSuccess, Timestamp: time.Now()},
			{JobID: "job-2", Step: domain.StagePipeline, Status: domain.EventStatusFailed, DurationMs: &ms, Error: "smtp down"},
		},
	}}

	out, _, err := run(t, b, "jobs", "show", "job-2")
	require.NoError(t, err)
	assert.Contains(t, out, "JOB_ENQUEUED")
	assert.Contains(t, out, "PIPELINE_EXECUTION")
	assert.Contains(t, out, "120ms")
	assert.Contains(t, out, "smtp down")

	_, _, err = run(t, b, "jobs", "show", "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestRetry(t *testing.T) {
	b := &fakeBackend{retrier: &fakeRetrier{res: &dispatch.RetryResult{
		Retried: []string{"job-2"},
		Failed:  []dispatch.RetryFailure{{JobID: "job-3", Error: "publish failed"}},
	}}}

	t.Run("credential comes from the environment", func(t *testing.T) {
		t.Setenv(credentialEnv, "")
		_, _, err := run(t, b, "retry", "--sender", "me@example.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), credentialEnv)
	})

	t.Run("retries failed jobs", func(t *testing.T) {
		t.Setenv(credentialEnv, "app-password")
		out, errOut, err := run(t, b, "retry", "--sender", "me@example.com", "--account", "acct", "--limit", "5")
		require.NoError(t, err)

		assert.Equal(t, dispatch.RetryRequest{
			AccountID:     "acct",
			SenderAddress: "me@example.com",
			Credential:    "app-password",
			Limit:         5,
		}, b.retrier.req)
		assert.Contains(t, out, "job-2")
		assert.Contains(t, out, "publish failed")
		assert.NotContains(t, out, "app-password")
		assert.Contains(t, errOut, "Retried 1 job(s), 1 failed")
	})
}

func TestReclaim(t *testing.T) {
	b := &fakeBackend{reclaimed: 3}

	_, errOut, err := run(t, b, "reclaim")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Reclaimed 3 job(s)")
}

func TestMigrate(t *testing.T) {
	b := &fakeBackend{migrator: &fakeMigrator{}}

	_, errOut, err := run(t, b, "migrate", "up")
	require.NoError(t, err)
	assert.True(t, b.migrator.applied)
	assert.Contains(t, errOut, "Migrations applied")

	out, _, err := run(t, b, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "00001_create_jobs.sql")
	assert.Contains(t, out, "false")
}

func TestToken(t *testing.T) {
	a := auth.New("cli-secret")
	b := &fakeBackend{minter: a}

	out, _, err := run(t, b, "token", "--account", "acct-9", "--tier", "pro_tier", "--ttl", "1h")
	require.NoError(t, err)

	claims, err := a.Parse(string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, "acct-9", claims.Subject)
	assert.Equal(t, "PRO_TIER", claims.Tier)

	_, _, err = run(t, b, "token")
	assert.Error(t, err)
}

func TestOpenError(t *testing.T) {
	root, closeBackend := NewRootCmd(func(string) (Backend, error) {
		return nil, errors.New("no config")
	}, "x.yaml", "test")
	defer closeBackend()

	root.SetArgs([]string{"reclaim"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no config")
}
