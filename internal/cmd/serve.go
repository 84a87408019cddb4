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
	"github.com/eido-labs/pipewatch/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the demo SSE backend",
	Long: `Run a local backend that serves the pipeline event stream consumed by
"pipewatch watch". Each subject's first subscriber starts a scripted
replay of an autonomous build, broadcast to every client of that
subject.

Example:
  pipewatch serve
  pipewatch serve --port 9000 --feed-interval 500ms`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost         string
	servePort         int
	serveFeedInterval time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFeedInterval, "feed-interval", 0, "Pause between replayed events")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverCfg := cfg.Server
	if serveHost != "" {
		serverCfg.Host = serveHost
	}
	if servePort > 0 {
		serverCfg.Port = servePort
	}

	srv := server.New(serverCfg, serveFeedInterval, observability.CLILogger)

	// Run returns nil after a signal-triggered graceful shutdown.
	if err := srv.Run(ctx); err != nil {
		observability.CLILogger.Error("Server failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	return nil
}
