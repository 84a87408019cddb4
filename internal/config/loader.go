// Package config loads the pipewatch configuration: defaults,
// overlaid by an optional YAML file, overlaid by PIPEWATCH_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/eido-labs/pipewatch/pkg/pipeline"
	"github.com/eido-labs/pipewatch/pkg/simrun"
	"github.com/eido-labs/pipewatch/pkg/streamwatch"
)

// Config is the full pipewatch configuration tree.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Engine EngineConfig `mapstructure:"engine"`
	Stream StreamConfig `mapstructure:"stream"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig configures the demo SSE server.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// EngineConfig configures the monitoring engine and its simulation
// producer.
type EngineConfig struct {
	// Simulate activates the simulation for SimulateSubject; every
	// other subject streams live.
	Simulate        bool          `mapstructure:"simulate"`
	SimulateSubject string        `mapstructure:"simulate_subject"`
	TickPeriod      time.Duration `mapstructure:"tick_period"`
	MaxLogs         int           `mapstructure:"max_logs"`

	// ScriptPath optionally replaces the built-in simulation script.
	ScriptPath string `mapstructure:"script_path"`
}

// StreamConfig configures the live SSE client.
type StreamConfig struct {
	BaseURL               string        `mapstructure:"base_url"`
	BackoffBase           time.Duration `mapstructure:"backoff_base"`
	BackoffGrowth         float64       `mapstructure:"backoff_growth"`
	BackoffCap            time.Duration `mapstructure:"backoff_cap"`
	ResetBackoffOnConnect bool          `mapstructure:"reset_backoff_on_connect"`
}

// LogConfig configures CLI logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0) // SSE responses never finish on a deadline
	v.SetDefault("engine.simulate", false)
	v.SetDefault("engine.simulate_subject", "demo")
	v.SetDefault("engine.tick_period", simrun.DefaultTickPeriod)
	v.SetDefault("engine.max_logs", pipeline.DefaultMaxLogs)
	v.SetDefault("engine.script_path", "")
	v.SetDefault("stream.base_url", "http://localhost:8000")
	v.SetDefault("stream.backoff_base", streamwatch.DefaultBackoffBase)
	v.SetDefault("stream.backoff_growth", streamwatch.DefaultBackoffGrowth)
	v.SetDefault("stream.backoff_cap", streamwatch.DefaultBackoffCap)
	v.SetDefault("stream.reset_backoff_on_connect", false)
	v.SetDefault("log.level", "info")
}

// Load reads the configuration. path selects an explicit config file;
// when empty, pipewatch.yaml is searched in the working directory and
// its absence is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PIPEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("pipewatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Engine.TickPeriod <= 0 {
		return fmt.Errorf("engine.tick_period must be positive, got %s", c.Engine.TickPeriod)
	}
	if c.Engine.MaxLogs <= 0 {
		return fmt.Errorf("engine.max_logs must be positive, got %d", c.Engine.MaxLogs)
	}
	if c.Stream.BaseURL == "" {
		return errors.New("stream.base_url is required")
	}
	if c.Stream.BackoffGrowth <= 1 {
		return fmt.Errorf("stream.backoff_growth must be > 1, got %g", c.Stream.BackoffGrowth)
	}
	return nil
}
