package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sheet-similarity/internal/config"
	"github.com/JakeFAU/sheet-similarity/internal/dispatcher"
	queueMemory "github.com/JakeFAU/sheet-similarity/internal/queue/memory"
	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
	"github.com/JakeFAU/sheet-similarity/internal/storage/memory"
)

type testEnv struct {
	server *Server
	jobs   *memory.JobStore
	queue  *queueMemory.Queue
}

func newTestEnv(t *testing.T, cfg config.Config, enq Enqueuer, ids ...string) *testEnv {
	t.Helper()
	env := &testEnv{
		jobs:  memory.NewJobStore(nil),
		queue: queueMemory.NewQueue(10),
	}
	if enq == nil {
		enq = dispatcher.New(env.queue)
	}
	if len(ids) == 0 {
		ids = []string{"a1b2c3d4"}
	}
	env.server = NewServer(env.jobs, enq, &fakeIDGen{ids: ids}, cfg, zap.NewNop())
	return env
}

func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSubmitJobAppliesDefaultsAndQueues(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"/webhook", "/v1/jobs"} {
		path := path
		t.Run(path, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, config.Config{}, nil)

			rec := env.do(http.MethodPost, path, `{"spreadsheet_id":"sheet-1"}`)
			require.Equal(t, http.StatusAccepted, rec.Code)
			resp := decode[submitResponse](t, rec)
			require.Equal(t, submitResponse{JobID: "a1b2c3d4", Status: sheetsim.JobStatusQueued, Message: queuedMessage}, resp)

			item, err := env.queue.Dequeue(context.Background())
			require.NoError(t, err)
			require.Equal(t, sheetsim.JobRequest{
				SpreadsheetID: "sheet-1",
				SheetName:     "Sheet1",
				ArticleColumn: "A",
				TargetColumn:  "B",
				OutputColumn:  "C",
			}, item.Request)

			job, err := env.jobs.GetJob(context.Background(), "a1b2c3d4")
			require.NoError(t, err)
			require.Equal(t, sheetsim.JobStatusQueued, job.Status)
			require.Equal(t, "Sheet1", job.Metadata.SheetName)
		})
	}
}

func TestSubmitJobKeepsExplicitColumns(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, nil)
	rec := env.do(http.MethodPost, "/v1/jobs", `{"spreadsheet_id":"s","sheet_name":"Links","article_column":"d","target_column":"E","output_column":"F","threshold_column":"h"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Links", item.Request.SheetName)
	require.Equal(t, "D", item.Request.ArticleColumn)
	require.Equal(t, "H", item.Request.LabelColumn)
}

func TestSubmitJobValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{invalid`, "invalid JSON"},
		{"missing spreadsheet", `{"sheet_name":"Sheet1"}`, "spreadsheet_id required"},
		{"bad column", `{"spreadsheet_id":"s","article_column":"A1"}`, "article column"},
		{"bad label column", `{"spreadsheet_id":"s","threshold_column":"?"}`, "label column"},
		{"overflowing column", `{"spreadsheet_id":"s","output_column":"ZZZZZZZZZZZZZZZ"}`, "output column"},
		{"column past XFD", `{"spreadsheet_id":"s","target_column":"XFE"}`, "target column"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, config.Config{}, nil)
			rec := env.do(http.MethodPost, "/v1/jobs", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
			require.Zero(t, env.queue.Len())
		})
	}
}

func TestSubmitJobEnqueueFailureMarksJobFailed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, failingEnqueuer{err: errors.New("queue full")})
	rec := env.do(http.MethodPost, "/webhook", `{"spreadsheet_id":"s"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	job, err := env.jobs.GetJob(context.Background(), "a1b2c3d4")
	require.NoError(t, err)
	require.Equal(t, sheetsim.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, "queue full")
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, nil)
	ctx := context.Background()
	_, err := env.jobs.CreateJob(ctx, "a1b2c3d4", sheetsim.JobMetadata{SpreadsheetID: "s", SheetName: "Sheet1"})
	require.NoError(t, err)
	require.NoError(t, env.jobs.UpdateJob(ctx, "a1b2c3d4", sheetsim.JobUpdate{
		Status:   sheetsim.JobStatusProcessing,
		Progress: &sheetsim.Progress{Stage: sheetsim.StageProcessing, Total: 4, Current: 2, Row: 3},
	}))

	for _, path := range []string{"/status/a1b2c3d4", "/v1/jobs/a1b2c3d4"} {
		rec := env.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		job := decode[sheetsim.Job](t, rec)
		require.Equal(t, sheetsim.JobStatusProcessing, job.Status)
		require.Equal(t, 2, job.Progress.Current)
		require.Contains(t, rec.Body.String(), `"job_id":"a1b2c3d4"`)
	}

	rec := env.do(http.MethodGet, "/status/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, nil)
	ctx := context.Background()

	rec := env.do(http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"jobs":[]}`, rec.Body.String())

	for i := 0; i < 3; i++ {
		_, err := env.jobs.CreateJob(ctx, fmt.Sprintf("job-%d", i), sheetsim.JobMetadata{})
		require.NoError(t, err)
	}

	rec = env.do(http.MethodGet, "/v1/jobs?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[struct {
		Jobs []sheetsim.Job `json:"jobs"`
	}](t, rec)
	require.Len(t, out.Jobs, 2)

	rec = env.do(http.MethodGet, "/jobs?limit=zero", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodGet, "/jobs?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseLimit(t *testing.T) {
	t.Parallel()

	s := &Server{}
	got, err := s.parseLimit("")
	require.NoError(t, err)
	require.Equal(t, defaultListLimit, got)

	got, err = s.parseLimit("100000")
	require.NoError(t, err)
	require.Equal(t, maxListLimit, got)

	s.cfg.Jobs.ListLimit = 7
	got, err = s.parseLimit("")
	require.NoError(t, err)
	require.Equal(t, 7, got)
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, nil)
	require.JSONEq(t, `{"service":"sheet-similarity","status":"running"}`, env.do(http.MethodGet, "/", "").Body.String())
	require.JSONEq(t, `{"status":"healthy"}`, env.do(http.MethodGet, "/health", "").Body.String())
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", "").Code)

	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	env := newTestEnv(t, cfg, nil)

	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/jobs", "").Code)
	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/jobs", "", "X-API-Key", "wrong").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/jobs", "", "X-API-Key", "secret").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code, "probes stay open")
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, nil)
	rec := env.do(http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(http.MethodGet, "/healthz", "", "X-Request-ID", "req-42")
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type failingEnqueuer struct {
	err error
}

func (f failingEnqueuer) Enqueue(context.Context, sheetsim.QueueItem) error {
	return f.err
}
