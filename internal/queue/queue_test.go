package queue

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/core"
	"stagehand/internal/history"
	"stagehand/internal/notify"
)

type stubInvoker struct {
	mu    sync.Mutex
	calls []core.Invocation
	gate  chan struct{} // when set, Invoke blocks until closed or ctx ends
}

func (s *stubInvoker) Invoke(ctx context.Context, inv core.Invocation) (core.InvokeResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, inv)
	s.mu.Unlock()

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return core.InvokeResult{ExitCode: -1}, ctx.Err()
		}
	}
	return core.InvokeResult{Output: "ok\n"}, nil
}

func (s *stubInvoker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type eventSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (e *eventSink) Publish(_ context.Context, ev notify.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *eventSink) Close() {}

func (e *eventSink) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

func testPipeline(t *testing.T) *core.Pipeline {
	t.Helper()
	p, err := core.ParsePipeline([]byte(`
name: queued-pipeline
params:
  submodule: ""
stages:
  - name: build
    steps:
      - run: ./build.sh
`))
	require.NoError(t, err)
	return p
}

func newTestRunner(t *testing.T, inv core.Invoker) *core.Runner {
	t.Helper()
	return &core.Runner{WorkspaceBase: t.TempDir(), Invoker: inv}
}

func TestQueue_SubmitAndComplete(t *testing.T) {
	inv := &stubInvoker{}
	q := New(10, 1, newTestRunner(t, inv))

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	q.SetHistory(store)

	sink := &eventSink{}
	q.SetNotifier(sink)

	ctx := context.Background()
	q.Start(ctx)
	defer q.Stop()

	job, err := q.Submit(ctx, testPipeline(t), map[string]string{"submodule": "extra"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, core.StatusQueued, job.Status)
	assert.Equal(t, "queued-pipeline", job.Pipeline)

	require.Eventually(t, func() bool {
		_, err := store.Get(ctx, job.ID)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "the run must reach history")

	rec, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(core.StatusSucceeded), rec.Status)

	require.Eventually(t, func() bool {
		_, live := q.Snapshot(job.ID)
		return !live
	}, 5*time.Second, 10*time.Millisecond, "completed runs leave the active set")

	assert.Equal(t, 1, inv.count())
	assert.Contains(t, sink.types(), notify.EventRunQueued)
}

func TestQueue_SubmitRejectsUndeclaredOverride(t *testing.T) {
	q := New(10, 1, newTestRunner(t, &stubInvoker{}))

	_, err := q.Submit(context.Background(), testPipeline(t), map[string]string{"submodle": "typo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submodle")
	assert.Zero(t, q.Length())
	assert.Empty(t, q.Active())
}

func TestQueue_FullQueueRejects(t *testing.T) {
	// Never started, so nothing drains the channel.
	q := New(2, 1, newTestRunner(t, &stubInvoker{}))
	ctx := context.Background()
	p := testPipeline(t)

	_, err := q.Submit(ctx, p, nil)
	require.NoError(t, err)
	_, err = q.Submit(ctx, p, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Length())

	_, err = q.Submit(ctx, p, nil)
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, 2, q.Length(), "a rejected submission must not linger")
	assert.Len(t, q.Active(), 2)
}

func TestQueue_SnapshotTracksLifecycle(t *testing.T) {
	inv := &stubInvoker{gate: make(chan struct{})}
	q := New(10, 1, newTestRunner(t, inv))

	ctx := context.Background()
	q.Start(ctx)
	defer q.Stop()

	job, err := q.Submit(ctx, testPipeline(t), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := q.Snapshot(job.ID)
		return ok && snap.Status == core.StatusRunning
	}, 5*time.Second, 10*time.Millisecond, "a dequeued run shows as running")

	close(inv.gate)

	require.Eventually(t, func() bool {
		_, ok := q.Snapshot(job.ID)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	_, ok := q.Snapshot("unknown-id")
	assert.False(t, ok)
}

func TestQueue_StopCancelsActiveRun(t *testing.T) {
	inv := &stubInvoker{gate: make(chan struct{})} // never closed
	q := New(10, 1, newTestRunner(t, inv))

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	q.SetHistory(store)

	ctx := context.Background()
	q.Start(ctx)

	job, err := q.Submit(ctx, testPipeline(t), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := q.Snapshot(job.ID)
		return ok && snap.Status == core.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	q.Stop()

	rec, err := store.Get(ctx, job.ID)
	require.NoError(t, err, "a canceled run still reaches history")
	assert.Equal(t, string(core.StatusFailed), rec.Status)
	assert.NotEmpty(t, rec.Error)
}

func TestQueue_SetupFailureReachesHistory(t *testing.T) {
	// A workspace base that is a file makes run setup fail before any stage.
	badBase := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(badBase, []byte("x"), 0o640))
	runner := &core.Runner{WorkspaceBase: badBase, Invoker: &stubInvoker{}}

	q := New(10, 1, runner)
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	q.SetHistory(store)

	ctx := context.Background()
	q.Start(ctx)
	defer q.Stop()

	job, err := q.Submit(ctx, testPipeline(t), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := store.Get(ctx, job.ID)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	rec, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(core.StatusFailed), rec.Status)
	assert.Contains(t, rec.Error, "workspace")
}
