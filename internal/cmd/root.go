// Package cmd implements the pipewatch CLI.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eido-labs/pipewatch/internal/config"
	"github.com/eido-labs/pipewatch/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "pipewatch",
	Short: "Monitor autonomous MVP build pipelines",
	Long: `pipewatch follows an autonomous MVP build pipeline from idea intake
to token launch, either by streaming live backend events or by running
the built-in deterministic simulation.

All producers feed the same model: stage progression, bounded log
buffer, and a derived pipeline snapshot.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := observability.InitCLILogger(rootLogLevel); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid log level", err)
		}
		loaded, err := config.Load(rootConfigPath)
		if err != nil {
			observability.CLILogger.Error("Failed to load config", zap.Error(err))
			return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}
		if rootLogLevel == "" && loaded.Log.Level != "" {
			if err := observability.InitCLILogger(loaded.Log.Level); err != nil {
				return exitError(foundry.ExitInvalidArgument, "Invalid log level", err)
			}
		}
		cfg = loaded
		return nil
	},
}

var (
	rootConfigPath string
	rootLogLevel   string

	// cfg is populated before any subcommand runs.
	cfg *config.Config
)

// versionInfo holds build metadata injected at link time via
// SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)",
		versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Path to config file (default searches ./pipewatch.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
}

// codedError carries a process exit code alongside the wrapped error.
type codedError struct {
	code int
	msg  string
	err  error
}

func (e *codedError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *codedError) Unwrap() error { return e.err }

// exitError wraps err with a message and an exit code for Execute.
// The code parameter accepts any int-based exit code constant.
func exitError[T ~int](code T, msg string, err error) error {
	return &codedError{code: int(code), msg: msg, err: err}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	defer observability.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var coded *codedError
		if errors.As(err, &coded) {
			return coded.code
		}
		return 1
	}
	return 0
}
