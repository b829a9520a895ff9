package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/core"
	"stagehand/internal/history"
	"stagehand/internal/metrics"
	"stagehand/internal/queue"
	"stagehand/internal/storage"
)

const submitYAML = `
name: api-pipeline
params:
  submodule_branch: ""
stages:
  - name: build
    steps:
      - run: ./build.sh ${submodule_branch}
`

type okInvoker struct {
	mu    sync.Mutex
	calls []core.Invocation
}

func (s *okInvoker) Invoke(_ context.Context, inv core.Invocation) (core.InvokeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, inv)
	return core.InvokeResult{Output: "hello from step\n"}, nil
}

func (s *okInvoker) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Command)
	}
	return out
}

type testStack struct {
	srv   *Server
	queue *queue.Queue
	store *history.Store
	inv   *okInvoker
}

func newTestStack(t *testing.T, start bool) *testStack {
	t.Helper()

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := prom.NewRegistry()
	logs := storage.NewLogStore(t.TempDir())
	inv := &okInvoker{}
	runner := &core.Runner{
		WorkspaceBase: t.TempDir(),
		Invoker:       inv,
		Logs:          logs,
		Metrics:       metrics.NewPrometheusRecorder(reg),
	}

	q := queue.New(10, 1, runner)
	q.SetHistory(store)
	if start {
		q.Start(context.Background())
		t.Cleanup(q.Stop)
	}

	return &testStack{
		srv:   NewServer(":0", q, store, logs, reg),
		queue: q,
		store: store,
		inv:   inv,
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func TestServer_Health(t *testing.T) {
	st := newTestStack(t, false)
	rr := do(t, st.srv.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, rr))
}

func TestServer_SubmitRunsToCompletion(t *testing.T) {
	st := newTestStack(t, true)
	h := st.srv.Handler()

	rr := do(t, h, http.MethodPost, "/api/pipelines?submodule_branch=v2", submitYAML)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	job := decode[queue.Job](t, rr)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "api-pipeline", job.Pipeline)
	assert.Equal(t, core.StatusQueued, job.Status)

	require.Eventually(t, func() bool {
		_, err := st.store.Get(context.Background(), job.ID)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "the submitted run must complete")

	assert.Contains(t, st.inv.commands(), "./build.sh v2", "query overrides reach the run")

	// Completed run answered from history.
	rr = do(t, h, http.MethodGet, "/api/runs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	rec := decode[history.Record](t, rr)
	assert.Equal(t, job.ID, rec.ID)
	assert.Equal(t, string(core.StatusSucceeded), rec.Status)

	// Listed under completed.
	rr = do(t, h, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[listRunsResponse](t, rr)
	require.Len(t, list.Completed, 1)
	assert.Equal(t, job.ID, list.Completed[0].ID)

	// Step log served as plain text.
	rr = do(t, h, http.MethodGet, "/api/runs/"+job.ID+"/log", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rr.Body.String(), "hello from step")
	assert.Contains(t, rr.Body.String(), "01-build")

	// The completed run also shows up on /metrics.
	rr = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "stagehand_run_outcomes_total")
	assert.Contains(t, rr.Body.String(), "stagehand_stage_duration_seconds")
}

func TestServer_SubmitBadYAML(t *testing.T) {
	st := newTestStack(t, false)
	rr := do(t, st.srv.Handler(), http.MethodPost, "/api/pipelines", "stages: {not: [valid")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rr)["error"])
}

func TestServer_SubmitUndeclaredOverride(t *testing.T) {
	st := newTestStack(t, false)
	rr := do(t, st.srv.Handler(), http.MethodPost, "/api/pipelines?typo_name=1", submitYAML)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode[map[string]string](t, rr)["error"], "typo_name")
}

func TestServer_SubmitQueueFull(t *testing.T) {
	// Queue capacity 1, never started, so the second submission is rejected.
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := prom.NewRegistry()
	runner := &core.Runner{WorkspaceBase: t.TempDir(), Invoker: &okInvoker{}}
	q := queue.New(1, 1, runner)
	srv := NewServer(":0", q, store, nil, reg)

	rr := do(t, srv.Handler(), http.MethodPost, "/api/pipelines", submitYAML)
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = do(t, srv.Handler(), http.MethodPost, "/api/pipelines", submitYAML)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, decode[map[string]string](t, rr)["error"], "full")
}

func TestServer_GetQueuedRun(t *testing.T) {
	st := newTestStack(t, false) // not started: the job stays queued
	h := st.srv.Handler()

	rr := do(t, h, http.MethodPost, "/api/pipelines", submitYAML)
	require.Equal(t, http.StatusAccepted, rr.Code)
	job := decode[queue.Job](t, rr)

	rr = do(t, h, http.MethodGet, "/api/runs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	live := decode[queue.Job](t, rr)
	assert.Equal(t, core.StatusQueued, live.Status)

	rr = do(t, h, http.MethodGet, "/api/runs", "")
	list := decode[listRunsResponse](t, rr)
	require.Len(t, list.Active, 1)
	assert.Empty(t, list.Completed)
}

func TestServer_GetRunNotFound(t *testing.T) {
	st := newTestStack(t, false)
	rr := do(t, st.srv.Handler(), http.MethodGet, "/api/runs/no-such-id", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "run not found", decode[map[string]string](t, rr)["error"])
}

func TestServer_RunLogUnavailable(t *testing.T) {
	st := newTestStack(t, false)
	rr := do(t, st.srv.Handler(), http.MethodGet, "/api/runs/no-such-id/log", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// A server without a log store refuses log requests outright.
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	runner := &core.Runner{WorkspaceBase: t.TempDir(), Invoker: &okInvoker{}}
	bare := NewServer(":0", queue.New(1, 1, runner), store, nil, prom.NewRegistry())

	rr = do(t, bare.Handler(), http.MethodGet, "/api/runs/x/log", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, decode[map[string]string](t, rr)["error"], "disabled")
}
