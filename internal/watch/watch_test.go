package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_RerunsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: p\n"), 0o640))

	var mu sync.Mutex
	runs := 0
	w, err := New(path, func(_ context.Context, _ string) {
		mu.Lock()
		runs++
		mu.Unlock()
	})
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return runs
	}

	require.Eventually(t, func() bool { return count() == 1 },
		5*time.Second, 10*time.Millisecond, "the watcher runs once up front")

	require.NoError(t, os.WriteFile(path, []byte("name: p-edited\n"), 0o640))
	require.Eventually(t, func() bool { return count() >= 2 },
		5*time.Second, 10*time.Millisecond, "a change re-runs the pipeline")

	// A sibling file changing must not trigger anything.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x\n"), 0o640))
	time.Sleep(150 * time.Millisecond)
	before := count()

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, before, count(), "no run after cancellation or sibling edits")
}

func TestWatcher_CoalescesBurstsOfWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: p\n"), 0o640))

	var mu sync.Mutex
	runs := 0
	w, err := New(path, func(_ context.Context, _ string) {
		mu.Lock()
		runs++
		mu.Unlock()
	})
	require.NoError(t, err)
	w.debounce = 250 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return runs
	}
	require.Eventually(t, func() bool { return count() == 1 }, 5*time.Second, 10*time.Millisecond)

	// Several writes inside one debounce window collapse into one re-run.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("name: p\n"), 0o640))
		time.Sleep(10 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return count() >= 2 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 2, count(), "a burst of writes yields a single re-run")

	cancel()
	require.NoError(t, <-done)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "nope", "pipeline.yaml"), func(context.Context, string) {})
	require.NoError(t, err)

	err = w.Watch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch")
}
