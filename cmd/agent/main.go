// The agent executes shell steps on behalf of a runner elsewhere. It speaks
// the same invocation contract as the in-process executor, so a run behaves
// identically whether its steps happen locally or here.
package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stagehand/internal/core"
)

var cli struct {
	Addr      string `help:"Listen address" default:":9090"`
	Workspace string `help:"Directory commands execute in" default:"./agent-workspace"`
	Verbose   bool   `short:"v" help:"Enable verbose logging"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("stagehand-agent"),
		kong.Description("Remote step executor for stagehand runners."),
	)

	logLevel := slog.LevelInfo
	if cli.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	root, err := filepath.Abs(cli.Workspace)
	if err != nil {
		slog.Error("resolving workspace failed", "path", cli.Workspace, "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		slog.Error("creating workspace failed", "path", root, "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/run", handleRun(core.NewExecutor(root)))

	slog.Info("stagehand agent listening", "addr", cli.Addr, "workspace", root)
	if err := http.ListenAndServe(cli.Addr, r); err != nil {
		slog.Error("agent failed", "error", err)
		os.Exit(1)
	}
}

// handleRun executes one invocation. A non-zero exit is a normal response;
// the caller re-raises it as a CommandFailure on its side.
func handleRun(exec *core.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var inv core.Invocation
		if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
			http.Error(w, "bad invocation: "+err.Error(), http.StatusBadRequest)
			return
		}

		slog.Info("running step", "stage", inv.Stage, "step", inv.Step)
		res, err := exec.Invoke(r.Context(), inv)
		var failure *core.CommandFailure
		if err != nil && !errors.As(err, &failure) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			slog.Warn("encoding response failed", "error", err)
		}
	}
}
