// Package notify publishes run lifecycle events. The slog notifier is always
// available; the NATS notifier is attached when a broker URL is configured.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Event types published over a run's lifetime.
const (
	EventRunQueued   = "run.queued"
	EventRunStarted  = "run.started"
	EventRunFinished = "run.finished"
)

// Event describes one run lifecycle transition.
type Event struct {
	Type     string    `json:"type"`
	RunID    string    `json:"run_id"`
	Pipeline string    `json:"pipeline"`
	Status   string    `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Notifier delivers run events. Delivery is best-effort: callers log and
// continue on error, a failed notification never fails a run.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// LogNotifier writes events to the default slog logger.
type LogNotifier struct{}

func (LogNotifier) Publish(_ context.Context, ev Event) error {
	slog.Info("run event",
		"type", ev.Type,
		"run", ev.RunID,
		"pipeline", ev.Pipeline,
		"status", ev.Status,
	)
	return nil
}

func (LogNotifier) Close() {}

// Multi fans one event out to several notifiers, returning the first error.
type Multi []Notifier

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() {
	for _, n := range m {
		n.Close()
	}
}
