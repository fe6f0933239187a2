package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/applyflow/internal/api/auth"
	"github.com/cuongbtq/applyflow/internal/api/dto"
	"github.com/cuongbtq/applyflow/internal/api/handler"
	"github.com/cuongbtq/applyflow/internal/dispatch"
	"github.com/cuongbtq/applyflow/internal/domain"
	"github.com/cuongbtq/applyflow/internal/ratelimit"
	"github.com/cuongbtq/applyflow/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	jobA = "5f0c7c2e-7a7d-4a8b-9d7e-0d1b2b3c4d5e"
	jobB = "7b1f5a10-0000-4000-8000-000000000001"
)

type fakeDispatcher struct {
	enqueued []dispatch.EnqueueRequest
	retried  []dispatch.RetryRequest
	err      error
	created  bool
}

func (d *fakeDispatcher) Enqueue(_ context.Context, req dispatch.EnqueueRequest) (*dispatch.EnqueueResult, error) {
	d.enqueued = append(d.enqueued, req)
	if d.err != nil {
		return nil, d.err
	}
	return &dispatch.EnqueueResult{
		Job:     &domain.Job{ID: jobA, Status: domain.StatusPending},
		LogID:   "01HXLOG",
		Created: d.created,
	}, nil
}

func (d *fakeDispatcher) Retry(_ context.Context, req dispatch.RetryRequest) (*dispatch.RetryResult, error) {
	d.retried = append(d.retried, req)
	if d.err != nil {
		return nil, d.err
	}
	return &dispatch.RetryResult{Retried: []string{jobA}, Failed: []dispatch.RetryFailure{}}, nil
}

type fakeJobs struct {
	jobs    map[string]domain.Job
	events  []domain.Event
	filters []storage.JobFilter
	listed  []domain.Job
}

func (f *fakeJobs) GetJobByID(_ context.Context, id string) (*domain.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &j, nil
}

func (f *fakeJobs) ListJobs(_ context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	f.filters = append(f.filters, filter)
	return f.listed, nil
}

func (f *fakeJobs) ListEvents(_ context.Context, _ string) ([]domain.Event, error) {
	return f.events, nil
}

type fakeQuota struct {
	err error
}

func (q *fakeQuota) Check(_ context.Context, _ string, tier ratelimit.Tier) (ratelimit.Window, error) {
	return ratelimit.Window{Tier: tier}, q.err
}

type fakeRecorder struct {
	enqueued []string
	rejected []string
}

func (r *fakeRecorder) JobEnqueued(tier string)   { r.enqueued = append(r.enqueued, tier) }
func (r *fakeRecorder) QuotaRejected(tier string) { r.rejected = append(r.rejected, tier) }

type fixture struct {
	router     *gin.Engine
	auth       *auth.Authenticator
	dispatcher *fakeDispatcher
	jobs       *fakeJobs
	quota      *fakeQuota
	metrics    *fakeRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		auth:       auth.New("test-secret"),
		dispatcher: &fakeDispatcher{created: true},
		jobs:       &fakeJobs{jobs: map[string]domain.Job{}},
		quota:      &fakeQuota{},
		metrics:    &fakeRecorder{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.router = SetupRouter(&handler.Dependencies{
		Logger:     logger,
		Dispatcher: f.dispatcher,
		Jobs:       f.jobs,
		Metrics:    f.metrics,
	}, Options{
		Service:      "applyflow-api",
		Auth:         f.auth,
		Quota:        f.quota,
		QuotaMetrics: f.metrics,
		Health: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
		},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, account string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		tok, err := f.auth.Mint(account, ratelimit.TierTrial, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func createBody() dto.CreateJobRequest {
	return dto.CreateJobRequest{
		Role:           "backend",
		JobDescription: "Go engineer",
		TargetAddress:  "hiring@example.com",
		SenderAddress:  "me@example.com",
		Credential:     "app-password",
	}
}

func TestCreateJob_Accepted(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", createBody(), "acct-1")

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"job_id":"`+jobA+`","status":"PENDING","log_id":"01HXLOG"}`, rec.Body.String())
	require.Len(t, f.dispatcher.enqueued, 1)
	assert.Equal(t, "acct-1", f.dispatcher.enqueued[0].AccountID)
	assert.Equal(t, "app-password", f.dispatcher.enqueued[0].Credential)
	assert.Equal(t, []string{"TRIAL_TIER"}, f.metrics.enqueued)
}

func TestCreateJob_IdempotentReplayIsOK(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.created = false

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
	b, _ := json.Marshal(createBody())
	req.Body = io.NopCloser(bytes.NewReader(b))
	tok, _ := f.auth.Mint("acct-1", ratelimit.TierPro, time.Hour)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("X-Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "key-1", f.dispatcher.enqueued[0].IdempotencyKey)
	assert.Empty(t, f.metrics.enqueued)
}

func TestCreateJob_Errors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		body  any
		want  int
		check func(t *testing.T, body map[string]any)
	}{
		{
			name: "missing fields",
			body: map[string]string{"role": "backend"},
			want: http.StatusBadRequest,
		},
		{
			name: "validation",
			err:  &domain.ValidationError{Field: "target_address", Message: "must be a plain email address"},
			want: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "target_address", body["field"])
			},
		},
		{
			name: "cooldown",
			err:  ratelimit.ErrCooldownActive,
			want: http.StatusTooManyRequests,
		},
		{
			name: "infrastructure",
			err:  fmt.Errorf("failed to publish job: %w", errors.New("broker down")),
			want: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Failed to create job", body["error"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.dispatcher.err = tt.err
			body := tt.body
			if body == nil {
				body = createBody()
			}

			rec := f.do(t, http.MethodPost, "/api/v1/jobs", body, "acct-1")

			assert.Equal(t, tt.want, rec.Code)
			if tt.check != nil {
				var got map[string]any
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				tt.check(t, got)
			}
		})
	}
}

func TestCreateJob_QuotaExceeded(t *testing.T) {
	f := newFixture(t)
	f.quota.err = &ratelimit.QuotaExceededError{
		CurrentUsage: 5,
		Limit:        5,
		Tier:         ratelimit.TierTrial,
		ResetTime:    "rolling 30 days",
	}

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", createBody(), "acct-1")

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 5, body["current_usage"])
	assert.EqualValues(t, 5, body["limit"])
	assert.Equal(t, "TRIAL_TIER", body["tier"])
	assert.Equal(t, "rolling 30 days", body["reset_time"])
	assert.Empty(t, f.dispatcher.enqueued, "quota runs before enqueue")
	assert.Equal(t, []string{"TRIAL_TIER"}, f.metrics.rejected)
}

func TestCreateJob_QuotaCheckError(t *testing.T) {
	f := newFixture(t)
	f.quota.err = errors.New("db down")

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", createBody(), "acct-1")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, f.dispatcher.enqueued)
}

func TestRoutes_RequireAuth(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/api/v1/jobs", "/api/v1/jobs/" + jobA} {
		rec := f.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestRetryJobs(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs/retry", dto.RetryJobsRequest{
		SenderAddress: "me@example.com",
		Credential:    "app-password",
	}, "acct-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"retried":["`+jobA+`"],"failed":[]}`, rec.Body.String())
	require.Len(t, f.dispatcher.retried, 1)
	assert.Equal(t, "acct-1", f.dispatcher.retried[0].AccountID)
	assert.Equal(t, ratelimit.TierTrial, f.dispatcher.retried[0].Tier)
}

func TestRetryJobs_QuotaExceeded(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = &ratelimit.QuotaExceededError{CurrentUsage: 5, Limit: 5, Tier: ratelimit.TierTrial, ResetTime: "rolling 30 days"}

	rec := f.do(t, http.MethodPost, "/api/v1/jobs/retry", dto.RetryJobsRequest{
		SenderAddress: "me@example.com",
		Credential:    "app-password",
	}, "acct-1")

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"current_usage":5`)
}

func TestGetJob(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.jobs.jobs[jobA] = domain.Job{
		ID:             jobA,
		AccountID:      "acct-1",
		Status:         domain.StatusSuccess,
		Role:           "backend",
		JobDescription: "Go engineer",
		TargetAddress:  "hiring@example.com",
		Result:         &domain.JobResult{Subject: "Backend role", SentTo: "hiring@example.com"},
		CreatedAt:      created,
		UpdatedAt:      created,
	}

	rec := f.do(t, http.MethodGet, "/api/v1/jobs/"+jobA, nil, "acct-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var got dto.JobDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "SUCCESS", got.Status)
	assert.Equal(t, "Go engineer", got.JobDescription)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Backend role", got.Result.Subject)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/jobs/"+jobA, nil, "acct-2").Code, "other accounts see 404")
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/jobs/"+jobB, nil, "acct-1").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/jobs/42", nil, "acct-1").Code)
}

func TestListEvents(t *testing.T) {
	f := newFixture(t)
	f.jobs.jobs[jobA] = domain.Job{ID: jobA, AccountID: "acct-1"}
	ms := int64(12)
	f.jobs.events = []domain.Event{
		{JobID: jobA, Step: domain.StageReceived, Status: domain.EventStatusSuccess, Timestamp: time.Now()},
		{JobID: jobA, Step: "RewriteDocument", Status: domain.EventStatusFailed, DurationMs: &ms, Error: "boom", Timestamp: time.Now()},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/jobs/"+jobA+"/events", nil, "acct-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var got dto.ListEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Events, 2)
	assert.Equal(t, "RewriteDocument", got.Events[1].Step)
	assert.Equal(t, int64(12), *got.Events[1].DurationMs)
}

func TestListJobs_Pagination(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.jobs.listed = []domain.Job{
		{ID: jobA, AccountID: "acct-1", Status: domain.StatusPending, CreatedAt: base},
		{ID: jobB, AccountID: "acct-1", Status: domain.StatusPending, CreatedAt: base.Add(-time.Minute)},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/jobs?page_size=1&status=pending", nil, "acct-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var got dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Jobs, 1)
	assert.Equal(t, jobA, got.Jobs[0].JobID)
	require.NotEmpty(t, got.NextCursor)

	require.Len(t, f.jobs.filters, 1)
	assert.Equal(t, "acct-1", f.jobs.filters[0].AccountID)
	assert.Equal(t, "PENDING", f.jobs.filters[0].Status)
	assert.Equal(t, 1, f.jobs.filters[0].PageSize)

	cursor, err := handler.DecodeJobCursor(got.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, jobA, cursor.JobID)
	assert.True(t, base.Equal(cursor.CreatedAt))

	rec = f.do(t, http.MethodGet, "/api/v1/jobs?cursor="+got.NextCursor, nil, "acct-1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.jobs.filters, 2)
	require.NotNil(t, f.jobs.filters[1].Cursor)
	assert.Equal(t, jobA, f.jobs.filters[1].Cursor.JobID)
}

func TestListJobs_BadInput(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/jobs?status=RUNNING", nil, "acct-1").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/jobs?cursor=bm90LWEtY3Vyc29y", nil, "acct-1").Code)
	assert.Empty(t, f.jobs.filters)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"applyflow-api","checks":{"postgres":"ok"}}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestHealth_Unhealthy(t *testing.T) {
	r := SetupRouter(&handler.Dependencies{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, Options{
		Auth: auth.New("s"),
		Health: map[string]HealthCheck{
			"rabbitmq": func(context.Context) error { return errors.New("not connected") },
		},
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not connected")
}

func TestCursorRoundTrip(t *testing.T) {
	c := &storage.JobCursor{CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC), JobID: jobA}
	got, err := handler.DecodeJobCursor(handler.EncodeJobCursor(c))
	require.NoError(t, err)
	assert.Equal(t, c.JobID, got.JobID)
	assert.True(t, c.CreatedAt.Equal(got.CreatedAt))

	nilCursor, err := handler.DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, nilCursor)
}
