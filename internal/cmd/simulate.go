package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eido-labs/pipewatch/internal/observability"
	"github.com/eido-labs/pipewatch/pkg/monitor"
	"github.com/eido-labs/pipewatch/pkg/output"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [subject]",
	Short: "Run the deterministic pipeline simulation",
	Long: `Run the built-in deterministic simulation of an autonomous MVP build
and print its transcript. The simulation advances on a fixed tick,
replays a scripted build, and stops once the pipeline completes and
the script is exhausted.

The subject defaults to the configured simulation subject.

Example:
  pipewatch simulate
  pipewatch simulate mvp-demo --tick-period 200ms
  pipewatch simulate --json -o run.jsonl`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimulate,
}

var (
	simTickPeriod time.Duration
	simJSON       bool
	simOutput     string
	simPoll       time.Duration
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().DurationVar(&simTickPeriod, "tick-period", 0, "Tick period (overrides config)")
	simulateCmd.Flags().BoolVar(&simJSON, "json", false, "Emit JSONL records instead of text")
	simulateCmd.Flags().StringVarP(&simOutput, "output", "o", "", "Write output to a file instead of stdout")
	simulateCmd.Flags().DurationVar(&simPoll, "poll", defaultPollInterval, "Model poll interval")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	subject := cfg.Engine.SimulateSubject
	if len(args) == 1 {
		subject = args[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineCfg := engineConfig()
	engineCfg.Simulate = true
	engineCfg.SimulateSubject = subject
	if simTickPeriod > 0 {
		engineCfg.TickPeriod = simTickPeriod
	}

	engine := monitor.NewEngine(engineCfg)
	defer func() { _ = engine.Close() }()

	run, err := engine.Watch(ctx, subject)
	if err != nil {
		observability.CLILogger.Error("Failed to start simulation",
			zap.String("subject", subject),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Failed to start simulation", err)
	}
	defer func() { _ = run.Close() }()

	out, cleanup, err := openOutput(simOutput)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	var render renderer
	if simJSON {
		render = newJSONLRenderer(out, subject, output.ProducerSim)
	} else {
		render = newTextRenderer(out)
	}
	defer func() { _ = render.Close() }()

	return followRun(ctx, run, render, simPoll)
}
