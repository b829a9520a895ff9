package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"stagehand/internal/core"
	"stagehand/internal/history"
	"stagehand/internal/notify"
	"stagehand/internal/storage"
	"stagehand/internal/watch"
)

type runOptions struct {
	params        map[string]string
	keepWorkspace bool
	logDir        string
	noLogs        bool
	historyDB     string
	noHistory     bool
	agentURL      string
	natsURL       string
}

// loadEnvFile seeds the process environment before any run builds its
// environment context on top of it. Without an explicit path the first of
// .env or .env.local is loaded when present; a file named explicitly must
// exist. Existing process variables are never overridden.
func loadEnvFile(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	for _, p := range []string{".env", ".env.local"} {
		if _, err := os.Stat(p); err == nil {
			return godotenv.Load(p)
		}
	}
	return nil
}

// newRunner assembles a runner and its sinks from the command flags. The
// returned cleanup closes the notifier and the history store.
func newRunner(opts runOptions) (*core.Runner, *history.Store, func(), error) {
	var notifier notify.Notifier = notify.LogNotifier{}
	if opts.natsURL != "" {
		nn, err := notify.NewNATSNotifier(opts.natsURL, "")
		if err != nil {
			return nil, nil, nil, err
		}
		notifier = notify.Multi{notify.LogNotifier{}, nn}
	}

	var store *history.Store
	if !opts.noHistory {
		s, err := history.Open(opts.historyDB)
		if err != nil {
			notifier.Close()
			return nil, nil, nil, err
		}
		store = s
	}

	runner := &core.Runner{
		AgentURL:      opts.agentURL,
		KeepWorkspace: opts.keepWorkspace,
		Notifier:      notifier,
		Stream:        os.Stdout,
	}
	if !opts.noLogs {
		runner.Logs = storage.NewLogStore(opts.logDir)
	}

	cleanup := func() {
		notifier.Close()
		if store != nil {
			if err := store.Close(); err != nil {
				slog.Warn("closing history store failed", "error", err)
			}
		}
	}
	return runner, store, cleanup, nil
}

func runPipeline(ctx context.Context, path string, opts runOptions) error {
	p, err := core.LoadPipeline(path)
	if err != nil {
		return err
	}
	runner, store, cleanup, err := newRunner(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	res, runErr := runner.Run(ctx, p, opts.params)
	if res == nil {
		return runErr
	}
	recordRun(ctx, store, res)
	fmt.Println(renderResult(res))
	return runErr
}

func watchPipeline(ctx context.Context, path string, opts runOptions) error {
	runner, store, cleanup, err := newRunner(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	w, err := watch.New(path, func(ctx context.Context, path string) {
		p, err := core.LoadPipeline(path)
		if err != nil {
			slog.Error("pipeline unreadable", "path", path, "error", err)
			return
		}
		res, runErr := runner.Run(ctx, p, opts.params)
		if res == nil {
			slog.Error("run setup failed", "error", runErr)
			return
		}
		recordRun(ctx, store, res)
		fmt.Println(renderResult(res))
	})
	if err != nil {
		return err
	}
	return w.Watch(ctx)
}

func recordRun(ctx context.Context, store *history.Store, res *core.RunResult) {
	if store == nil {
		return
	}
	if _, err := store.AppendResult(context.WithoutCancel(ctx), res); err != nil {
		slog.Warn("recording run history failed", "run", res.ID, "error", err)
	}
}

func validatePipeline(path string) error {
	p, err := core.LoadPipeline(path)
	if err != nil {
		return err
	}
	fmt.Println(renderValid(p))
	return nil
}

// submitPipeline ships the pipeline file to a server. The file is parsed
// locally first so obvious mistakes fail without a round trip.
func submitPipeline(ctx context.Context, server, path string, params map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pipeline: %w", err)
	}
	if _, err := core.ParsePipeline(data); err != nil {
		return err
	}

	u, err := url.Parse(strings.TrimRight(server, "/") + "/api/pipelines")
	if err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	q := u.Query()
	for name, v := range params {
		q.Set(name, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-yaml")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit to %s: %w", server, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var job struct {
		ID       string `json:"id"`
		Pipeline string `json:"pipeline"`
		Status   string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return fmt.Errorf("decode server response: %w", err)
	}
	fmt.Printf("queued %s (%s)\n", job.ID, job.Pipeline)
	return nil
}
