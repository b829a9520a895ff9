package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"stagehand/internal/core"
	"stagehand/internal/history"
	"stagehand/internal/metrics"
	"stagehand/internal/notify"
	"stagehand/internal/queue"
	"stagehand/internal/server"
	"stagehand/internal/storage"
)

var cli struct {
	Addr      string   `help:"Listen address" default:":8080"`
	Verbose   bool     `short:"v" help:"Enable verbose logging"`
	Workspace string   `help:"Base directory for run workspaces (default: system temp)"`
	LogDir    string   `help:"Directory for step logs" default:"./logs"`
	HistoryDB string   `help:"Run history database" default:"./stagehand.db"`
	Workers   int      `help:"Run queue workers" default:"2"`
	QueueSize int      `help:"Run queue capacity" default:"100"`
	Agent     string   `help:"Delegate shell steps to an agent base URL"`
	Nats      string   `name:"nats-url" help:"Publish run events to this NATS URL"`
	Schedule  []string `help:"Recurring submission as name=path@interval, repeatable"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("stagehand-server"),
		kong.Description("Pipeline service: accepts submissions, queues and executes runs."),
	)

	logLevel := slog.LevelInfo
	if cli.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	store, err := history.Open(cli.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	var notifier notify.Notifier = notify.LogNotifier{}
	if cli.Nats != "" {
		nn, err := notify.NewNATSNotifier(cli.Nats, "")
		if err != nil {
			return err
		}
		notifier = notify.Multi{notify.LogNotifier{}, nn}
	}
	defer notifier.Close()

	reg := prom.NewRegistry()
	logs := storage.NewLogStore(cli.LogDir)
	runner := &core.Runner{
		WorkspaceBase: cli.Workspace,
		AgentURL:      cli.Agent,
		Logs:          logs,
		Metrics:       metrics.NewPrometheusRecorder(reg),
		Notifier:      notifier,
	}

	q := queue.New(cli.QueueSize, cli.Workers, runner)
	q.SetHistory(store)
	q.SetNotifier(notifier)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q.Start(ctx)
	defer q.Stop()

	sched, err := server.NewScheduler(q)
	if err != nil {
		return err
	}
	for _, raw := range cli.Schedule {
		s, err := server.ParseSchedule(raw)
		if err != nil {
			return err
		}
		if err := sched.Add(s); err != nil {
			return err
		}
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			slog.Warn("stopping scheduler failed", "error", err)
		}
	}()

	srv := server.NewServer(cli.Addr, q, store, logs, reg)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("stagehand server listening", "addr", cli.Addr)
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
