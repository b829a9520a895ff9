package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"stagehand/internal/core"
	"stagehand/internal/queue"
)

// Schedule is one recurring submission: a pipeline file enqueued at a fixed
// interval.
type Schedule struct {
	Name     string
	Path     string
	Interval time.Duration
}

// ParseSchedule parses the --schedule flag format "name=path@interval",
// e.g. "nightly=pipelines/user-sync.yaml@24h".
func ParseSchedule(s string) (Schedule, error) {
	name, rest, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return Schedule{}, fmt.Errorf("schedule %q: expected name=path@interval", s)
	}
	path, ival, ok := strings.Cut(rest, "@")
	if !ok || path == "" {
		return Schedule{}, fmt.Errorf("schedule %q: expected name=path@interval", s)
	}
	d, err := time.ParseDuration(ival)
	if err != nil || d <= 0 {
		return Schedule{}, fmt.Errorf("schedule %q: bad interval %q", s, ival)
	}
	return Schedule{Name: name, Path: path, Interval: d}, nil
}

// Scheduler submits pipelines to the run queue on fixed intervals.
type Scheduler struct {
	scheduler gocron.Scheduler
	queue     *queue.Queue
}

// NewScheduler creates a scheduler feeding the given queue.
func NewScheduler(q *queue.Queue) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, queue: q}, nil
}

// Add registers one schedule. The pipeline file is re-read on every trigger
// so edits take effect without a restart.
func (s *Scheduler) Add(sched Schedule) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(sched.Interval),
		gocron.NewTask(s.trigger, sched),
		gocron.WithName(sched.Name),
	)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", sched.Name, err)
	}
	slog.Info("registered schedule", "name", sched.Name, "pipeline", sched.Path, "every", sched.Interval)
	return nil
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for running triggers.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) trigger(sched Schedule) {
	p, err := core.LoadPipeline(sched.Path)
	if err != nil {
		slog.Error("scheduled pipeline unreadable", "name", sched.Name, "path", sched.Path, "error", err)
		return
	}
	job, err := s.queue.Submit(context.Background(), p, nil)
	if err != nil {
		slog.Error("scheduled submission failed", "name", sched.Name, "error", err)
		return
	}
	slog.Info("scheduled run queued", "name", sched.Name, "run", job.ID)
}
