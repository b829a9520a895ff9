// Package queue holds the server's run queue: submissions enter a bounded
// channel and a fixed pool of workers drains them through the shared Runner.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"stagehand/internal/core"
	"stagehand/internal/history"
	"stagehand/internal/notify"
)

// ErrFull is returned by Submit when the queue has no room left.
var ErrFull = errors.New("run queue is full")

// Job is one submitted pipeline run, from acceptance until its history
// record exists.
type Job struct {
	ID        string            `json:"id"`
	Pipeline  string            `json:"pipeline"`
	Status    core.Status       `json:"status"`
	Submitted time.Time         `json:"submitted"`
	Overrides map[string]string `json:"params,omitempty"`

	spec   *core.Pipeline
	cancel context.CancelFunc
}

// Queue accepts pipeline submissions and executes them on its workers.
type Queue struct {
	jobs     chan *Job
	workers  int
	maxSize  int
	mu       sync.RWMutex
	active   map[string]*Job
	stopChan chan struct{}
	wg       sync.WaitGroup

	runner   *core.Runner
	store    *history.Store
	notifier notify.Notifier
}

// New creates a queue of the given capacity drained by the given number of
// workers. Non-positive values fall back to the defaults (100, 2).
func New(maxSize, workers int, runner *core.Runner) *Queue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 2
	}
	if runner == nil {
		panic("queue.New: runner is required")
	}
	return &Queue{
		jobs:     make(chan *Job, maxSize),
		workers:  workers,
		maxSize:  maxSize,
		active:   make(map[string]*Job),
		stopChan: make(chan struct{}),
		runner:   runner,
	}
}

// SetHistory injects the store completed runs are recorded in.
func (q *Queue) SetHistory(s *history.Store) { q.store = s }

// SetNotifier injects the sink for run.queued events. Started/finished
// events come from the runner itself.
func (q *Queue) SetNotifier(n notify.Notifier) { q.notifier = n }

// Start launches the worker pool. Workers exit when ctx is canceled or the
// queue is stopped.
func (q *Queue) Start(ctx context.Context) {
	slog.Info("starting run queue", "workers", q.workers, "max_size", q.maxSize)
	for i := range q.workers {
		q.wg.Add(1)
		go q.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop cancels the active runs and waits for the workers to exit.
func (q *Queue) Stop() {
	close(q.stopChan)
	q.mu.Lock()
	for _, job := range q.active {
		if job.cancel != nil {
			job.cancel()
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Length returns the number of submissions waiting for a worker.
func (q *Queue) Length() int { return len(q.jobs) }

// Submit validates the overrides, assigns a run id and enqueues the run.
// The returned job already carries the id the run's history record will
// have.
func (q *Queue) Submit(ctx context.Context, p *core.Pipeline, overrides map[string]string) (Job, error) {
	if _, err := core.NewParamStore(p.Params, overrides); err != nil {
		return Job{}, err
	}

	job := &Job{
		ID:        uuid.NewString(),
		Pipeline:  p.Name,
		Status:    core.StatusQueued,
		Submitted: time.Now(),
		Overrides: overrides,
		spec:      p,
	}

	q.mu.Lock()
	q.active[job.ID] = job
	q.mu.Unlock()

	select {
	case q.jobs <- job:
	default:
		q.mu.Lock()
		delete(q.active, job.ID)
		q.mu.Unlock()
		return Job{}, ErrFull
	}

	slog.Info("run queued", "run", job.ID, "pipeline", job.Pipeline, "waiting", q.Length())
	q.publish(ctx, notify.Event{
		Type:     notify.EventRunQueued,
		RunID:    job.ID,
		Pipeline: job.Pipeline,
		Status:   string(core.StatusQueued),
		Time:     job.Submitted,
	})
	return job.view(), nil
}

// Snapshot returns the queued or running view of one submission. Completed
// runs are no longer here; look them up in the history store.
func (q *Queue) Snapshot(id string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if j, ok := q.active[id]; ok {
		return j.view(), true
	}
	return Job{}, false
}

// Active returns every queued and running submission.
func (q *Queue) Active() []Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	jobs := make([]Job, 0, len(q.active))
	for _, j := range q.active {
		jobs = append(jobs, j.view())
	}
	return jobs
}

func (j *Job) view() Job {
	cp := *j
	cp.spec = nil
	cp.cancel = nil
	return cp
}

func (q *Queue) worker(ctx context.Context, name string) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopChan:
			return
		case job := <-q.jobs:
			if job != nil {
				q.process(ctx, job, name)
			}
		}
	}
}

func (q *Queue) process(ctx context.Context, job *Job, worker string) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	q.mu.Lock()
	job.Status = core.StatusRunning
	job.cancel = cancel
	q.mu.Unlock()

	slog.Info("run dequeued", "run", job.ID, "pipeline", job.Pipeline, "worker", worker)
	start := time.Now()
	res, err := q.runner.RunWithID(runCtx, job.ID, job.spec, job.Overrides)
	if res == nil {
		// Setup failed before any stage ran. Record the failure so the
		// submission still ends up in history.
		res = &core.RunResult{
			ID:       job.ID,
			Pipeline: job.Pipeline,
			Status:   core.StatusFailed,
			Error:    err.Error(),
			Started:  start,
			Finished: time.Now(),
		}
		slog.Error("run setup failed", "run", job.ID, "error", err)
	}

	q.appendHistory(context.WithoutCancel(ctx), res)

	q.mu.Lock()
	delete(q.active, job.ID)
	q.mu.Unlock()
}

func (q *Queue) appendHistory(ctx context.Context, res *core.RunResult) {
	if q.store == nil {
		return
	}
	if _, err := q.store.AppendResult(ctx, res); err != nil {
		slog.Warn("recording run history failed", "run", res.ID, "error", err)
	}
}

func (q *Queue) publish(ctx context.Context, ev notify.Event) {
	if q.notifier == nil {
		return
	}
	if err := q.notifier.Publish(ctx, ev); err != nil {
		slog.Warn("publishing run event failed", "type", ev.Type, "run", ev.RunID, "error", err)
	}
}
