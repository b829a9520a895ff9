package core

import "time"

// Status is the lifecycle state of a run. Local runs only ever finish as
// StatusSucceeded or StatusFailed; the queued/running states exist for the
// server, which tracks runs it has not started yet.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// StageOutcome is the per-stage verdict recorded in a run result.
type StageOutcome string

const (
	StageOK      StageOutcome = "ok"
	StageFailed  StageOutcome = "failed"
	StageSkipped StageOutcome = "skipped"
)

// StepResult records one executed step.
type StepResult struct {
	Name     string        `json:"name"`
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Captured string        `json:"captured,omitempty"` // variable name set by a capture step
	LogPath  string        `json:"log_path,omitempty"`
	Duration time.Duration `json:"duration"`
}

// StageResult records one stage: its outcome, timing and executed steps.
// Skipped stages carry no steps.
type StageResult struct {
	Name     string        `json:"name"`
	Outcome  StageOutcome  `json:"outcome"`
	Reason   string        `json:"reason,omitempty"` // why a stage was skipped
	Duration time.Duration `json:"duration"`
	Steps    []StepResult  `json:"steps,omitempty"`
}

// RunResult is the aggregate outcome of a pipeline run.
type RunResult struct {
	ID       string            `json:"id"`
	Pipeline string            `json:"pipeline"`
	Status   Status            `json:"status"`
	Error    string            `json:"error,omitempty"`
	Started  time.Time         `json:"started"`
	Finished time.Time         `json:"finished"`
	Stages   []StageResult     `json:"stages"`
	Post     []StepResult      `json:"post,omitempty"`
	Captured map[string]string `json:"captured,omitempty"`
	LogDir   string            `json:"log_dir,omitempty"`

	// Workspace is set only when the runner was asked to keep the run's
	// working directory instead of removing it.
	Workspace string `json:"workspace,omitempty"`
}

// Duration is the wall-clock time of the whole run.
func (r *RunResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
