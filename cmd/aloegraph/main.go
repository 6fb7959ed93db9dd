package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/aloecraft/aloegraph/internal/diagram"
	"github.com/aloecraft/aloegraph/internal/journal"
	"github.com/aloecraft/aloegraph/internal/logging"
	"github.com/aloecraft/aloegraph/internal/scheduler"
	"github.com/aloecraft/aloegraph/internal/streaming"
	"github.com/aloecraft/aloegraph/pkg/graph"
	aloemcp "github.com/aloecraft/aloegraph/pkg/mcp"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	cmd := "help"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "run":
		err = runDemo(cfg, logger, os.Args[2:])
	case "chart":
		err = printChart(os.Args[2:])
	case "serve":
		err = serve(cfg, logger)
	case "schedule":
		err = scheduleDemo(cfg, logger, os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		usage()
	default:
		usage()
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`aloegraph - stepwise, interruptible graph engine

Usage:
  aloegraph run [message...]       invoke the demo support graph once
  aloegraph chart [mermaid|ascii]  print the demo support graph plan
  aloegraph serve                  expose the demo graphs over MCP stdio
  aloegraph schedule <cron> [message...]
                                   run the demo support graph on a cron schedule
  aloegraph version                print the version`)
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(logging.NewCorrelationHandler(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func engineOptions(cfg Config, logger *slog.Logger, sink graph.TraceSink) []graph.Option {
	opts := []graph.Option{graph.WithLogger(logger)}
	if sink != nil {
		opts = append(opts, graph.WithTraceSink(sink))
	}
	if cfg.StepLimit > 0 {
		opts = append(opts, graph.WithStepLimit(cfg.StepLimit))
	}
	return opts
}

// runDemo invokes the demo support graph once and prints the final state.
// The message is taken from the remaining arguments.
func runDemo(cfg Config, logger *slog.Logger, args []string) error {
	reg, err := supportRegistry()
	if err != nil {
		return err
	}
	engine := graph.NewEngine(reg, engineOptions(cfg, logger, nil)...)

	st := graph.NewState(map[string]any{"message": strings.Join(args, " ")})
	out, err := engine.Invoke(context.Background(), st)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if out.Suspended() {
		fmt.Fprintf(os.Stderr, "run %s suspended at %q; resume it over MCP with aloegraph.resume\n",
			out.RunID, out.PendingInterrupt)
	}
	return nil
}

// printChart renders the demo support graph plan as mermaid or ascii.
func printChart(args []string) error {
	format := "mermaid"
	if len(args) > 0 {
		format = args[0]
	}

	reg, err := supportRegistry()
	if err != nil {
		return err
	}
	model, err := diagram.Build(reg.Plan(), nil)
	if err != nil {
		return err
	}

	switch format {
	case "mermaid":
		fmt.Println(diagram.RenderMermaid(model))
	case "ascii":
		fmt.Println(diagram.RenderASCII(model))
	default:
		return fmt.Errorf("unknown chart format %q (want mermaid or ascii)", format)
	}
	return nil
}

// openJournal opens the configured libSQL journal and starts a sink draining
// hub events into it. Returns a nil Journal when no DB path is configured.
func openJournal(ctx context.Context, cfg Config, logger *slog.Logger, hub *streaming.MemoryHub) (journal.Journal, func(), error) {
	if cfg.DBPath == "" {
		return nil, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create journal directory: %w", err)
	}
	libsql, err := journal.NewLibSQLJournal(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	if err := libsql.Migrate(ctx); err != nil {
		_ = libsql.Close()
		return nil, nil, fmt.Errorf("migrate journal: %w", err)
	}

	sink := journal.NewSink(libsql, hub, logger)
	go func() {
		if err := sink.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("journal sink stopped", "error", err)
		}
	}()
	return libsql, func() { _ = libsql.Close() }, nil
}

// serve registers the demo graphs on an MCP stdio server and blocks until
// the process is signalled or stdin closes.
func serve(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := streaming.NewMemoryHub()
	j, closeJournal, err := openJournal(ctx, cfg, logger, hub)
	if err != nil {
		return err
	}
	defer closeJournal()

	reg, err := supportRegistry()
	if err != nil {
		return err
	}
	engine := graph.NewEngine(reg, engineOptions(cfg, logger, hub)...)

	router, err := helpdeskRouter(
		graph.WithRouterLogger(logger),
		graph.WithRouterTraceSink(hub),
	)
	if err != nil {
		return err
	}

	srv := aloemcp.NewGraphServer(aloemcp.GraphServerDeps{Journal: j, Logger: logger})
	if err := srv.RegisterEngine(engine); err != nil {
		return err
	}
	if err := srv.RegisterRouter(router); err != nil {
		return err
	}

	logger.Info("serving MCP over stdio", "graphs", []string{engine.Graph(), router.Name()}, "journal", cfg.DBPath)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newDemoScheduler builds a scheduler with one cron job invoking the engine
// with a fresh state seeded from message.
func newDemoScheduler(logger *slog.Logger, engine *graph.Engine, cronExpr, message string) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler(logger, scheduler.WithRunCallback(
		func(jobID string, st *graph.State, err error) {
			switch {
			case err != nil:
				logger.Error("scheduled run failed", "job", jobID, "error", err)
			case st.Suspended():
				logger.Warn("scheduled run suspended unattended",
					"job", jobID, "run_id", st.RunID, "edge", st.PendingInterrupt)
			default:
				logger.Info("scheduled run completed",
					"job", jobID, "run_id", st.RunID, "steps", st.Steps)
			}
		}))

	err := sched.AddJob(&scheduler.Job{
		ID:             engine.Graph(),
		CronExpression: cronExpr,
		Runner:         engine,
		Vars:           map[string]any{"message": message},
		Enabled:        true,
	})
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// scheduleDemo runs the demo support graph on a cron schedule until the
// process is signalled. Outcomes are logged and journaled via the trace hub.
func scheduleDemo(cfg Config, logger *slog.Logger, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf(`schedule needs a 5-field cron expression, e.g. "*/5 * * * *"`)
	}
	cronExpr := args[0]
	message := strings.Join(args[1:], " ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := streaming.NewMemoryHub()
	_, closeJournal, err := openJournal(ctx, cfg, logger, hub)
	if err != nil {
		return err
	}
	defer closeJournal()

	reg, err := supportRegistry()
	if err != nil {
		return err
	}
	engine := graph.NewEngine(reg, engineOptions(cfg, logger, hub)...)

	sched, err := newDemoScheduler(logger, engine, cronExpr, message)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	logger.Info("scheduler started", "job", engine.Graph(), "cron", cronExpr, "journal", cfg.DBPath)

	<-ctx.Done()
	return sched.Stop()
}
