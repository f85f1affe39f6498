package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"

	"cmdpipe/core/pipeline"
)

// Config holds the process-wide pipeline policy and runtime settings.
// Environment variables carry the CMDPIPE_ prefix.
type Config struct {
	// Pipefail makes a failure in any stage fail the pipeline.
	Pipefail bool `envconfig:"PIPEFAIL" default:"true"`
	// Debug logs stage failures that were suppressed.
	Debug bool `envconfig:"DEBUG" default:"false"`
	// Concurrency limits how many pipelines run at once.
	Concurrency    int    `envconfig:"CONCURRENCY" default:"1"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogDevelopment bool   `envconfig:"LOG_DEV" default:"false"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		Pipefail:    true,
		Concurrency: 1,
		LogLevel:    "info",
	}
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("cmdpipe", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the config is usable.
func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0")
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Policy is the read-only view handed to every pipeline.Waiter.
func (c Config) Policy() pipeline.Policy {
	return pipeline.Policy{Pipefail: c.Pipefail, Debug: c.Debug}
}
