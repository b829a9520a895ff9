package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

var cli struct {
	Verbose bool   `short:"v" help:"Enable verbose logging"`
	EnvFile string `help:"Load environment variables from this file before running (default: .env when present)"`

	Run struct {
		Path          string            `arg:"" help:"Pipeline file"`
		Params        map[string]string `short:"p" help:"Parameter overrides (name=value)"`
		KeepWorkspace bool              `help:"Keep the run workspace instead of removing it"`
		LogDir        string            `help:"Directory for step logs" default:"./logs"`
		NoLogs        bool              `help:"Do not write step logs"`
		HistoryDB     string            `help:"Run history database" default:"./stagehand.db"`
		NoHistory     bool              `help:"Do not record the run in history"`
		Agent         string            `help:"Delegate shell steps to an agent base URL"`
		Nats          string            `name:"nats-url" help:"Publish run events to this NATS URL"`
	} `cmd:"" help:"Run a pipeline"`

	Validate struct {
		Path string `arg:"" help:"Pipeline file"`
	} `cmd:"" help:"Parse and validate a pipeline file"`

	Submit struct {
		Path   string            `arg:"" help:"Pipeline file"`
		Server string            `help:"Server base URL" default:"http://localhost:8080"`
		Params map[string]string `short:"p" help:"Parameter overrides (name=value)"`
	} `cmd:"" help:"Submit a pipeline to a stagehand server"`

	Watch struct {
		Path      string            `arg:"" help:"Pipeline file"`
		Params    map[string]string `short:"p" help:"Parameter overrides (name=value)"`
		LogDir    string            `help:"Directory for step logs" default:"./logs"`
		NoLogs    bool              `help:"Do not write step logs"`
		HistoryDB string            `help:"Run history database" default:"./stagehand.db"`
		NoHistory bool              `help:"Do not record runs in history"`
		Agent     string            `help:"Delegate shell steps to an agent base URL"`
		Nats      string            `name:"nats-url" help:"Publish run events to this NATS URL"`
	} `cmd:"" help:"Run a pipeline and re-run it on every change to its file"`

	History struct {
		DB string `help:"Run history database" default:"./stagehand.db"`

		List struct {
			Limit int `help:"Number of runs to show" default:"20"`
		} `cmd:"" help:"List recent runs"`
		Show struct {
			ID string `arg:"" help:"Run id"`
		} `cmd:"" help:"Show one run record"`
		Verify struct{} `cmd:"" help:"Verify the history hash chain"`
	} `cmd:"" help:"Inspect recorded runs"`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("stagehand"),
		kong.Description("A staged pipeline runner."),
	)

	logLevel := slog.LevelInfo
	if cli.Verbose {
		logLevel = slog.LevelDebug
	}
	// Logs go to stderr; stdout is reserved for command output.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if err := loadEnvFile(cli.EnvFile); err != nil {
		slog.Error("loading env file failed", "path", cli.EnvFile, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch kctx.Command() {
	case "run <path>":
		err = runPipeline(ctx, cli.Run.Path, runOptions{
			params:        cli.Run.Params,
			keepWorkspace: cli.Run.KeepWorkspace,
			logDir:        cli.Run.LogDir,
			noLogs:        cli.Run.NoLogs,
			historyDB:     cli.Run.HistoryDB,
			noHistory:     cli.Run.NoHistory,
			agentURL:      cli.Run.Agent,
			natsURL:       cli.Run.Nats,
		})
	case "validate <path>":
		err = validatePipeline(cli.Validate.Path)
	case "submit <path>":
		err = submitPipeline(ctx, cli.Submit.Server, cli.Submit.Path, cli.Submit.Params)
	case "watch <path>":
		err = watchPipeline(ctx, cli.Watch.Path, runOptions{
			params:    cli.Watch.Params,
			logDir:    cli.Watch.LogDir,
			noLogs:    cli.Watch.NoLogs,
			historyDB: cli.Watch.HistoryDB,
			noHistory: cli.Watch.NoHistory,
			agentURL:  cli.Watch.Agent,
			natsURL:   cli.Watch.Nats,
		})
	case "history list":
		err = historyList(ctx, cli.History.DB, cli.History.List.Limit)
	case "history show <id>":
		err = historyShow(ctx, cli.History.DB, cli.History.Show.ID)
	case "history verify":
		err = historyVerify(ctx, cli.History.DB)
	default:
		kctx.FatalIfErrorf(kctx.Error)
	}
	if err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
