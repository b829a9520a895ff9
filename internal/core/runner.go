package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"stagehand/internal/checkout"
	"stagehand/internal/metrics"
	"stagehand/internal/notify"
	"stagehand/internal/storage"
	"stagehand/internal/workspace"
)

// Runner executes pipelines: stages in declaration order, steps in order
// within each stage. The first failing step aborts the remaining stages,
// then the post block and workspace cleanup still run.
type Runner struct {
	// WorkspaceBase is the parent directory for run workspaces. Empty
	// means the system temp directory.
	WorkspaceBase string

	// AgentURL delegates shell steps to a remote agent when set. Checkout
	// steps always run locally against the local workspace.
	AgentURL string

	// Logs persists per-step output when set.
	Logs *storage.LogStore

	// Metrics receives stage and run measurements when set.
	Metrics metrics.Recorder

	// Notifier receives run lifecycle events when set.
	Notifier notify.Notifier

	// KeepWorkspace skips workspace removal so a failed run can be
	// inspected. The kept path is reported in the result.
	KeepWorkspace bool

	// Stream receives live step output for locally executed runs when set.
	Stream io.Writer

	// Invoker overrides the local/remote executor choice. Tests set this.
	Invoker Invoker
}

// NewRunner returns a runner with local execution and no optional sinks.
func NewRunner() *Runner { return &Runner{} }

// Run executes a pipeline with the given parameter overrides under a fresh
// run id. Setup problems (an undeclared override, an unusable workspace)
// fail before any stage runs and return a nil result. Once stages start the
// result is always populated, and the error, if any, is the failure that
// stopped the run.
func (r *Runner) Run(ctx context.Context, p *Pipeline, overrides map[string]string) (*RunResult, error) {
	return r.RunWithID(ctx, uuid.NewString(), p, overrides)
}

// RunWithID executes a pipeline under a caller-chosen run id. The server
// uses this so the id it hands back at submission time is the id the run
// record ends up under.
func (r *Runner) RunWithID(ctx context.Context, id string, p *Pipeline, overrides map[string]string) (*RunResult, error) {
	params, err := NewParamStore(p.Params, overrides)
	if err != nil {
		return nil, err
	}

	res := &RunResult{
		ID:       id,
		Pipeline: p.Name,
		Status:   StatusRunning,
		Started:  time.Now(),
		Captured: make(map[string]string),
	}

	env := NewEnv()
	for _, name := range sortedKeys(p.Env) {
		env.Set(name, env.Expand(p.Env[name]))
	}
	for _, name := range params.Names() {
		v, _ := params.Get(name)
		env.Set(name, v)
	}

	ws := workspace.New(r.WorkspaceBase)
	wsPath, err := ws.Create(res.ID)
	if err != nil {
		return nil, err
	}
	if r.KeepWorkspace {
		res.Workspace = wsPath
	} else {
		defer func() {
			if err := ws.Cleanup(); err != nil {
				slog.Warn("workspace cleanup failed", "run", res.ID, "error", err)
			}
		}()
	}

	var logs *storage.RunLogs
	if r.Logs != nil {
		logs, err = r.Logs.ForRun(res.ID)
		if err != nil {
			return nil, err
		}
		res.LogDir = logs.Dir()
	}

	invoker := r.Invoker
	if invoker == nil {
		if r.AgentURL != "" {
			invoker = NewRemoteExecutor(r.AgentURL)
		} else {
			invoker = &Executor{Root: wsPath, Stream: r.Stream}
		}
	}

	slog.Info("run started", "run", res.ID, "pipeline", p.Name, "stages", len(p.Stages))
	r.publish(ctx, notify.Event{
		Type:     notify.EventRunStarted,
		RunID:    res.ID,
		Pipeline: p.Name,
		Status:   string(StatusRunning),
		Time:     time.Now(),
	})

	runErr := r.runStages(ctx, p, res, env, wsPath, invoker, logs)
	if runErr != nil {
		res.Status = StatusFailed
		res.Error = runErr.Error()
	} else {
		res.Status = StatusSucceeded
	}

	// The post block runs on both the success and the failure path, even
	// when the run was canceled.
	if p.Post != nil && len(p.Post.Always) > 0 {
		r.runPost(context.WithoutCancel(ctx), p, res, env, wsPath, invoker, logs)
	}

	res.Finished = time.Now()
	if r.Metrics != nil {
		r.Metrics.ObserveRunDuration(p.Name, res.Duration())
		r.Metrics.IncRunOutcome(string(res.Status))
	}
	r.publish(context.WithoutCancel(ctx), notify.Event{
		Type:     notify.EventRunFinished,
		RunID:    res.ID,
		Pipeline: p.Name,
		Status:   string(res.Status),
		Error:    res.Error,
		Time:     time.Now(),
	})
	slog.Info("run finished", "run", res.ID, "status", res.Status, "duration", res.Duration())

	return res, runErr
}

func (r *Runner) runStages(ctx context.Context, p *Pipeline, res *RunResult, env *Env, wsPath string, invoker Invoker, logs *storage.RunLogs) error {
	for _, stage := range p.Stages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run canceled before stage %q: %w", stage.Name, err)
		}

		if !stage.IsEnabled() {
			r.skipStage(res, p.Name, stage.Name, "disabled")
			continue
		}
		if stage.When != "" {
			ok, err := EvalCondition(stage.When, env.Lookup)
			if err != nil {
				return fmt.Errorf("stage %q: %w", stage.Name, err)
			}
			if !ok {
				r.skipStage(res, p.Name, stage.Name, fmt.Sprintf("when %q is false", stage.When))
				continue
			}
		}

		slog.Info("stage started", "run", res.ID, "stage", stage.Name, "steps", len(stage.Steps))
		start := time.Now()
		sr := StageResult{Name: stage.Name, Outcome: StageOK}

		var stageErr error
		for _, step := range stage.Steps {
			stepRes, err := r.runStep(ctx, stage, step, res, env, wsPath, invoker, logs)
			sr.Steps = append(sr.Steps, stepRes)
			if err != nil {
				stageErr = err
				break
			}
		}

		sr.Duration = time.Since(start)
		if stageErr != nil {
			sr.Outcome = StageFailed
		}
		res.Stages = append(res.Stages, sr)
		if r.Metrics != nil {
			r.Metrics.ObserveStageDuration(p.Name, stage.Name, sr.Duration)
			r.Metrics.IncStageOutcome(stage.Name, string(sr.Outcome))
		}

		if stageErr != nil {
			slog.Error("stage failed", "run", res.ID, "stage", stage.Name, "error", stageErr)
			return stageErr
		}
		slog.Info("stage finished", "run", res.ID, "stage", stage.Name, "duration", sr.Duration)
	}
	return nil
}

func (r *Runner) skipStage(res *RunResult, pipeline, stage, reason string) {
	res.Stages = append(res.Stages, StageResult{Name: stage, Outcome: StageSkipped, Reason: reason})
	if r.Metrics != nil {
		r.Metrics.IncStageOutcome(stage, string(StageSkipped))
	}
	slog.Info("stage skipped", "run", res.ID, "stage", stage, "reason", reason)
}

func (r *Runner) runStep(ctx context.Context, stage Stage, step Step, res *RunResult, env *Env, wsPath string, invoker Invoker, logs *storage.RunLogs) (StepResult, error) {
	if step.IsCheckout() {
		return r.runCheckout(ctx, stage, step, res, env, wsPath, logs)
	}

	inv := Invocation{
		Stage:   stage.Name,
		Step:    step.Label(),
		Command: env.Expand(step.Run),
		Dir:     env.Expand(step.Dir),
		Env:     env.Pairs(),
		Capture: step.Capture != "",
	}
	slog.Debug("step started", "run", res.ID, "stage", stage.Name, "step", inv.Step)

	start := time.Now()
	out, err := invoker.Invoke(ctx, inv)
	sr := StepResult{
		Name:     step.Label(),
		Command:  inv.Command,
		ExitCode: out.ExitCode,
		Duration: time.Since(start),
	}
	r.saveLog(&sr, logs, stage.Name, step.Label(), stepLogBody(out))
	if err != nil {
		return sr, err
	}

	if step.Capture != "" {
		env.Set(step.Capture, out.Captured)
		res.Captured[step.Capture] = out.Captured
		sr.Captured = step.Capture
		slog.Info("captured variable", "run", res.ID, "name", step.Capture, "value", out.Captured)
	}
	return sr, nil
}

func (r *Runner) runCheckout(ctx context.Context, stage Stage, step Step, res *RunResult, env *Env, wsPath string, logs *storage.RunLogs) (StepResult, error) {
	url := env.Expand(step.Checkout)
	ref := env.Expand(step.Ref)
	into := env.Expand(step.Into)

	sr := StepResult{Name: step.Label(), Command: "checkout " + url}
	dest, err := resolveWorkspacePath(wsPath, into)
	if err != nil {
		return sr, fmt.Errorf("stage %q step %q: %w", stage.Name, step.Label(), err)
	}

	slog.Info("checking out", "run", res.ID, "repo", url, "ref", ref, "into", dest)
	start := time.Now()
	commit, err := checkout.Checkout(ctx, dest, url, ref)
	sr.Duration = time.Since(start)
	if err != nil {
		err = fmt.Errorf("stage %q step %q: %w", stage.Name, step.Label(), err)
		r.saveLog(&sr, logs, stage.Name, step.Label(), []byte(err.Error()+"\n"))
		return sr, err
	}
	r.saveLog(&sr, logs, stage.Name, step.Label(), []byte(fmt.Sprintf("checked out %s at %s\n", url, commit)))
	return sr, nil
}

// runPost executes the post block's always steps best-effort: every step
// runs, failures are recorded in the result but never change the run status.
func (r *Runner) runPost(ctx context.Context, p *Pipeline, res *RunResult, env *Env, wsPath string, invoker Invoker, logs *storage.RunLogs) {
	stage := Stage{Name: "post"}
	for _, step := range p.Post.Always {
		sr, err := r.runStep(ctx, stage, step, res, env, wsPath, invoker, logs)
		res.Post = append(res.Post, sr)
		if err != nil {
			slog.Warn("post step failed", "run", res.ID, "step", step.Label(), "error", err)
		}
	}
}

func (r *Runner) saveLog(sr *StepResult, logs *storage.RunLogs, stage, step string, body []byte) {
	if logs == nil {
		return
	}
	path, err := logs.Save(stage, step, body)
	if err != nil {
		slog.Warn("saving step log failed", "stage", stage, "step", step, "error", err)
		return
	}
	sr.LogPath = path
}

// stepLogBody assembles the log file content of one step: the captured
// stdout first when present, then the streamed output.
func stepLogBody(out InvokeResult) []byte {
	if out.Captured == "" {
		return []byte(out.Output)
	}
	return []byte(out.Captured + "\n" + out.Output)
}

func (r *Runner) publish(ctx context.Context, ev notify.Event) {
	if r.Notifier == nil {
		return
	}
	if err := r.Notifier.Publish(ctx, ev); err != nil {
		slog.Warn("publishing run event failed", "type", ev.Type, "run", ev.RunID, "error", err)
	}
}
