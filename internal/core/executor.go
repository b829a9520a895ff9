package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// Invocation describes one external command execution. It is JSON-encodable
// so it can be shipped to a remote agent unchanged.
type Invocation struct {
	Stage   string   `json:"stage"`
	Step    string   `json:"step"`
	Command string   `json:"command"`
	Dir     string   `json:"dir,omitempty"` // workspace-relative
	Env     []string `json:"env,omitempty"` // explicit KEY=VALUE pairs, in order
	Capture bool     `json:"capture,omitempty"`
}

// InvokeResult carries the outcome of an invocation. Output holds the
// combined stdout+stderr in stream mode, stderr only in capture mode.
// Captured holds the whitespace-trimmed stdout of a capture invocation.
type InvokeResult struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	Captured string `json:"captured,omitempty"`
}

// Invoker executes a single invocation. A non-zero exit status is returned
// as a *CommandFailure alongside the result, so callers keep the output for
// the step log.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (InvokeResult, error)
}

// Executor runs invocations in-process through `sh -c`, relative to its
// workspace root. Stream, when set, receives output live in addition to the
// buffered copy kept for the step log; capture steps still buffer their
// stdout away from it.
type Executor struct {
	Root   string
	Stream io.Writer
}

// NewExecutor creates an Executor rooted at the given workspace directory.
func NewExecutor(root string) *Executor {
	return &Executor{Root: root}
}

// Invoke runs the command, blocking until it exits or ctx is canceled.
// Cancellation kills the whole process group.
func (e *Executor) Invoke(ctx context.Context, inv Invocation) (InvokeResult, error) {
	dir, err := resolveWorkspacePath(e.Root, inv.Dir)
	if err != nil {
		return InvokeResult{ExitCode: -1, Output: err.Error()}, err
	}

	cmd := exec.Command("sh", "-c", inv.Command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var out, captured bytes.Buffer
	var sink io.Writer = &out
	if e.Stream != nil {
		sink = io.MultiWriter(&out, e.Stream)
	}
	if inv.Capture {
		cmd.Stdout = &captured
		cmd.Stderr = sink
	} else {
		cmd.Stdout = sink
		cmd.Stderr = sink
	}

	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("start %q: %w", inv.Command, err)
		return InvokeResult{ExitCode: -1, Output: err.Error()}, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return InvokeResult{ExitCode: -1, Output: out.String()}, fmt.Errorf("step %q canceled: %w", inv.Step, ctx.Err())
	case err = <-done:
	}

	res := InvokeResult{
		ExitCode: 0,
		Output:   out.String(),
		Captured: strings.TrimSpace(captured.String()),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		return res, &CommandFailure{Stage: inv.Stage, Step: inv.Step, Command: inv.Command, ExitCode: res.ExitCode}
	}
	return res, nil
}

// resolveWorkspacePath anchors a step's sub-path under the workspace root.
// Paths may contain expanded variables, so the escape check happens here as
// well as at parse time.
func resolveWorkspacePath(root, sub string) (string, error) {
	if sub == "" {
		return root, nil
	}
	joined := filepath.Join(root, sub)
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("dir %q escapes the workspace", sub)
	}
	return joined, nil
}
