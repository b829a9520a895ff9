package core

import "fmt"

// CommandFailure signals a non-zero exit status from an external process
// invocation. It is the single failure kind a running pipeline produces:
// the stage runner stops at the first one and skips all remaining stages.
type CommandFailure struct {
	Stage    string
	Step     string
	Command  string
	ExitCode int
}

func (e *CommandFailure) Error() string {
	return fmt.Sprintf("stage %q step %q: command exited with status %d", e.Stage, e.Step, e.ExitCode)
}
