// Package observability owns process-wide logging for the CLI and
// server entrypoints. Library packages receive loggers explicitly;
// only the cmd layer uses the package-level CLILogger.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process logger. It is a nop until InitCLILogger
// runs, so early code paths can log unconditionally.
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger at the given level. Output goes
// to stderr so stdout stays clean for records and piped output.
func InitCLILogger(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	CLILogger = logger
	return nil
}

// Sync flushes buffered log output. Safe to call on a nop logger.
func Sync() {
	_ = CLILogger.Sync()
}
