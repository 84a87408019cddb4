package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eido-labs/pipewatch/internal/observability"
	"github.com/eido-labs/pipewatch/pkg/monitor"
	"github.com/eido-labs/pipewatch/pkg/output"
	"github.com/eido-labs/pipewatch/pkg/pipeline"
	"github.com/eido-labs/pipewatch/pkg/simrun"
)

var watchCmd = &cobra.Command{
	Use:   "watch <subject>",
	Short: "Follow a pipeline run until it completes",
	Long: `Follow a pipeline run, printing its log entries and stage changes as
they arrive, until the run reaches a terminal stage or the process is
interrupted.

The producer is chosen by configuration: the configured simulation
subject runs the built-in deterministic simulation, every other
subject attaches to the backend event stream.

Example:
  pipewatch watch mvp-42
  pipewatch watch mvp-42 --base-url https://api.eido.app
  pipewatch watch demo --simulate --json
  pipewatch watch mvp-42 --json --output run.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

// defaultPollInterval is how often the renderers re-read the run's
// model when no faster interval is requested.
const defaultPollInterval = 100 * time.Millisecond

var (
	watchBaseURL  string
	watchSimulate bool
	watchJSON     bool
	watchOutput   string
	watchPoll     time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchBaseURL, "base-url", "", "Backend root URL (overrides config)")
	watchCmd.Flags().BoolVar(&watchSimulate, "simulate", false, "Run the deterministic simulation for this subject")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Emit JSONL records instead of text")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "Write output to a file instead of stdout")
	watchCmd.Flags().DurationVar(&watchPoll, "poll", defaultPollInterval, "Model poll interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	subject := args[0]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineCfg := engineConfig()
	if watchBaseURL != "" {
		engineCfg.StreamBaseURL = watchBaseURL
	}
	if watchSimulate {
		engineCfg.Simulate = true
		engineCfg.SimulateSubject = subject
	}

	engine := monitor.NewEngine(engineCfg)
	defer func() { _ = engine.Close() }()

	run, err := engine.Watch(ctx, subject)
	if err != nil {
		observability.CLILogger.Error("Failed to start watching",
			zap.String("subject", subject),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start watching", err)
	}
	defer func() { _ = run.Close() }()

	out, cleanup, err := openOutput(watchOutput)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	var render renderer
	if watchJSON {
		producer := output.ProducerStream
		if engineCfg.Simulate && engineCfg.SimulateSubject == subject {
			producer = output.ProducerSim
		}
		render = newJSONLRenderer(out, subject, producer)
	} else {
		render = newTextRenderer(out)
	}
	defer func() { _ = render.Close() }()

	return followRun(ctx, run, render, watchPoll)
}

// engineConfig maps the loaded configuration onto the engine's
// explicit config struct.
func engineConfig() monitor.Config {
	return monitor.Config{
		Simulate:              cfg.Engine.Simulate,
		SimulateSubject:       cfg.Engine.SimulateSubject,
		StreamBaseURL:         cfg.Stream.BaseURL,
		TickPeriod:            cfg.Engine.TickPeriod,
		Script:                loadScriptOrDefault(),
		MaxLogs:               cfg.Engine.MaxLogs,
		BackoffBase:           cfg.Stream.BackoffBase,
		BackoffGrowth:         cfg.Stream.BackoffGrowth,
		BackoffCap:            cfg.Stream.BackoffCap,
		ResetBackoffOnConnect: cfg.Stream.ResetBackoffOnConnect,
		Logger:                observability.CLILogger,
	}
}

func loadScriptOrDefault() []simrun.ScriptEntry {
	if cfg.Engine.ScriptPath == "" {
		return nil
	}
	script, err := simrun.LoadScript(cfg.Engine.ScriptPath)
	if err != nil {
		observability.CLILogger.Warn("Falling back to built-in script",
			zap.String("path", cfg.Engine.ScriptPath),
			zap.Error(err))
		return nil
	}
	return script
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// followRun polls the run and renders model changes until the run
// finishes or ctx is cancelled.
func followRun(ctx context.Context, run monitor.Run, render renderer, poll time.Duration) error {
	started := time.Now()
	var (
		lastID    int64 = -1
		lastStage pipeline.Stage
		lastConn  pipeline.ConnState
	)

	flush := func() error {
		if conn := run.ConnState(); conn != lastConn {
			if err := render.ConnChange(ctx, conn); err != nil {
				return err
			}
			lastConn = conn
		}
		if stage := run.Stage(); stage != lastStage {
			if err := render.StageChange(ctx, stage); err != nil {
				return err
			}
			lastStage = stage
		}
		for _, entry := range run.Entries() {
			if entry.ID <= lastID {
				continue
			}
			if err := render.Log(ctx, entry); err != nil {
				return err
			}
			lastID = entry.ID
		}
		return nil
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := flush(); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		case <-run.Done():
			if err := flush(); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
			snap := run.Snapshot()
			sum := &output.SummaryRecord{
				Stage:         snap.Stage,
				Entries:       int64(len(run.Entries())),
				Duration:      time.Since(started),
				DurationHuman: time.Since(started).Round(time.Millisecond).String(),
				Deployment:    snap.Deployment,
				Token:         snap.Token,
			}
			return render.Summary(ctx, sum)
		case <-ctx.Done():
			_ = flush()
			return exitError(foundry.ExitSignalInt, "watch interrupted", ctx.Err())
		}
	}
}

// renderer abstracts the two output modes of watch.
type renderer interface {
	Log(ctx context.Context, entry pipeline.LogEntry) error
	StageChange(ctx context.Context, stage pipeline.Stage) error
	ConnChange(ctx context.Context, state pipeline.ConnState) error
	Summary(ctx context.Context, sum *output.SummaryRecord) error
	Close() error
}

// jsonlRenderer emits typed JSONL records.
type jsonlRenderer struct {
	w *output.JSONLWriter
}

func newJSONLRenderer(out io.Writer, subject, producer string) *jsonlRenderer {
	return &jsonlRenderer{w: output.NewJSONLWriter(out, subject, producer)}
}

func (r *jsonlRenderer) Log(ctx context.Context, entry pipeline.LogEntry) error {
	return r.w.WriteLog(ctx, entry)
}

func (r *jsonlRenderer) StageChange(ctx context.Context, stage pipeline.Stage) error {
	return r.w.WriteStage(ctx, &output.StageRecord{Stage: stage, Terminal: stage.IsTerminal()})
}

func (r *jsonlRenderer) ConnChange(ctx context.Context, state pipeline.ConnState) error {
	return r.w.WriteConn(ctx, &output.ConnRecord{State: state})
}

func (r *jsonlRenderer) Summary(ctx context.Context, sum *output.SummaryRecord) error {
	return r.w.WriteSummary(ctx, sum)
}

func (r *jsonlRenderer) Close() error { return r.w.Close() }

// textRenderer prints a human-readable transcript.
type textRenderer struct {
	w io.Writer
}

func newTextRenderer(out io.Writer) *textRenderer {
	return &textRenderer{w: out}
}

func (r *textRenderer) Log(_ context.Context, entry pipeline.LogEntry) error {
	_, err := fmt.Fprintf(r.w, "%s  %-8s %-9s %s\n",
		entry.Timestamp.Format("15:04:05"),
		entry.Agent,
		strings.ToUpper(string(entry.Level)),
		entry.Message)
	return err
}

func (r *textRenderer) StageChange(_ context.Context, stage pipeline.Stage) error {
	_, err := fmt.Fprintf(r.w, "=== stage: %s ===\n", stage)
	return err
}

func (r *textRenderer) ConnChange(_ context.Context, state pipeline.ConnState) error {
	_, err := fmt.Fprintf(r.w, "--- connection: %s ---\n", state)
	return err
}

func (r *textRenderer) Summary(_ context.Context, sum *output.SummaryRecord) error {
	if _, err := fmt.Fprintf(r.w, "\nRun finished in %s at stage %s with %d entries\n",
		sum.DurationHuman, sum.Stage, sum.Entries); err != nil {
		return err
	}
	if sum.Deployment != nil {
		if _, err := fmt.Fprintf(r.w, "Deployment: %s (%s)\n", sum.Deployment.URL, sum.Deployment.Provider); err != nil {
			return err
		}
	}
	if sum.Token != nil {
		if _, err := fmt.Fprintf(r.w, "Token:      %s on %s (%s)\n", sum.Token.Symbol, sum.Token.Network, sum.Token.ContractAddress); err != nil {
			return err
		}
	}
	return nil
}

func (r *textRenderer) Close() error { return nil }
