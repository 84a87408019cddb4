package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eido-labs/pipewatch/pkg/simrun"
)

func TestLoad(t *testing.T) {
	// Test basic config loading with defaults
	t.Run("LoadDefaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)

		// Verify engine defaults
		assert.False(t, cfg.Engine.Simulate)
		assert.Equal(t, "demo", cfg.Engine.SimulateSubject)
		assert.Equal(t, simrun.DefaultTickPeriod, cfg.Engine.TickPeriod)
		assert.Equal(t, 500, cfg.Engine.MaxLogs)

		// Verify stream defaults
		assert.Equal(t, "http://localhost:8000", cfg.Stream.BaseURL)
		assert.Equal(t, time.Second, cfg.Stream.BackoffBase)
		assert.Equal(t, 1.5, cfg.Stream.BackoffGrowth)
		assert.Equal(t, 30*time.Second, cfg.Stream.BackoffCap)
		assert.False(t, cfg.Stream.ResetBackoffOnConnect)

		// Verify logging defaults
		assert.Equal(t, "info", cfg.Log.Level)
	})

	// Test environment variable overrides
	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("PIPEWATCH_SERVER_PORT", "3000")
		t.Setenv("PIPEWATCH_LOG_LEVEL", "warn")
		t.Setenv("PIPEWATCH_ENGINE_SIMULATE", "true")

		cfg, err := Load("")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.True(t, cfg.Engine.Simulate)
	})

	// Test config file loading and precedence: env > file > defaults
	t.Run("ConfigFile", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pipewatch.yaml")
		body := []byte("server:\n  port: 9100\nstream:\n  base_url: https://pipeline.example.com\n")
		require.NoError(t, os.WriteFile(path, body, 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 9100, cfg.Server.Port)
		assert.Equal(t, "https://pipeline.example.com", cfg.Stream.BaseURL)

		// Non-overridden values remain default
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, "info", cfg.Log.Level)

		// Env wins over the file
		t.Setenv("PIPEWATCH_SERVER_PORT", "9200")
		cfg, err = Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9200, cfg.Server.Port)
	})

	t.Run("ExplicitFileMissing", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestDurationParsing(t *testing.T) {
	// Durations arrive as strings from env vars and YAML
	t.Run("DurationFromEnv", func(t *testing.T) {
		t.Setenv("PIPEWATCH_ENGINE_TICK_PERIOD", "250ms")
		t.Setenv("PIPEWATCH_STREAM_BACKOFF_CAP", "2m")

		cfg, err := Load("")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 250*time.Millisecond, cfg.Engine.TickPeriod)
		assert.Equal(t, 2*time.Minute, cfg.Stream.BackoffCap)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("PortOutOfRange", func(t *testing.T) {
		cfg := valid()
		cfg.Server.Port = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("NonPositiveTickPeriod", func(t *testing.T) {
		cfg := valid()
		cfg.Engine.TickPeriod = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("EmptyBaseURL", func(t *testing.T) {
		cfg := valid()
		cfg.Stream.BaseURL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("GrowthMustExceedOne", func(t *testing.T) {
		cfg := valid()
		cfg.Stream.BackoffGrowth = 1.0
		assert.Error(t, cfg.Validate())
	})
}
