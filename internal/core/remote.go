package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RemoteExecutor delegates invocations to a stagehand agent over HTTP. The
// agent runs the command in its own workspace and reports the same
// InvokeResult contract as the local Executor, so run semantics (capture
// trimming, failure propagation) are identical.
type RemoteExecutor struct {
	BaseURL string
	Client  *http.Client
}

// NewRemoteExecutor creates an executor targeting an agent base URL.
func NewRemoteExecutor(baseURL string) *RemoteExecutor {
	return &RemoteExecutor{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  http.DefaultClient,
	}
}

// Invoke posts the invocation to the agent's /run endpoint. A non-zero exit
// on the agent side comes back as data and is re-raised here as a
// *CommandFailure.
func (r *RemoteExecutor) Invoke(ctx context.Context, inv Invocation) (InvokeResult, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return InvokeResult{ExitCode: -1}, fmt.Errorf("encode invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return InvokeResult{ExitCode: -1}, fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return InvokeResult{ExitCode: -1}, fmt.Errorf("agent %s: %w", r.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return InvokeResult{ExitCode: -1}, fmt.Errorf("agent %s: status %d: %s", r.BaseURL, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var res InvokeResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return InvokeResult{ExitCode: -1}, fmt.Errorf("decode agent response: %w", err)
	}
	if res.ExitCode != 0 {
		return res, &CommandFailure{Stage: inv.Stage, Step: inv.Step, Command: inv.Command, ExitCode: res.ExitCode}
	}
	return res, nil
}
