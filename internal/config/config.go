// Package config loads simforge configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/simforge/simforge/internal/converge"
	"github.com/simforge/simforge/internal/oracle"
	"github.com/simforge/simforge/internal/sandbox"
	"github.com/simforge/simforge/internal/types"
)

// Config is the full simforge configuration
type Config struct {
	Oracle   OracleConfig   `yaml:"oracle"`
	Converge ConvergeConfig `yaml:"converge"`
	Executor ExecutorConfig `yaml:"executor"`
	Store    StoreConfig    `yaml:"store"`
}

// OracleConfig configures the oracle gateway
type OracleConfig struct {
	// Model overrides the default oracle model
	Model string `yaml:"model"`

	// MaxConcurrentCalls limits in-flight oracle calls (default: 3)
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`

	// RequestsPerSecond rate-limits outbound calls (0 = unlimited)
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ConvergeConfig configures the validation loop thresholds. All values are
// empirically chosen tunables.
type ConvergeConfig struct {
	// MaxIterations bounds the loop (default: 5)
	MaxIterations int `yaml:"max_iterations"`

	// AlignmentThreshold is the minimum alignment score for acceptance
	// (default: 7, range 0-10)
	AlignmentThreshold int `yaml:"alignment_threshold"`

	// QualityThreshold is the minimum final rating for acceptance
	// (default: 6, range 0-10)
	QualityThreshold int `yaml:"quality_threshold"`

	// StoreThreshold is the minimum final rating for artifact persistence
	// (default: 6, range 0-10)
	StoreThreshold int `yaml:"store_threshold"`
}

// ExecutorConfig configures the sandboxed executor
type ExecutorConfig struct {
	// Interpreter is the Python binary for candidate runs (default: python3)
	Interpreter string `yaml:"interpreter"`

	// TimeoutSeconds is the hard wall-clock cap per run (default: 30)
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// ScratchRoot is where per-run directories are created (default: os temp)
	ScratchRoot string `yaml:"scratch_root"`
}

// StoreConfig configures artifact persistence
type StoreConfig struct {
	// Path is the artifact database file (default: .simforge/artifacts.db)
	Path string `yaml:"path"`
}

// Default returns the configuration with all defaults applied
func Default() *Config {
	return &Config{
		Oracle: OracleConfig{
			MaxConcurrentCalls: 3,
		},
		Converge: ConvergeConfig{
			MaxIterations:      types.DefaultMaxIterations,
			AlignmentThreshold: 7,
			QualityThreshold:   6,
			StoreThreshold:     6,
		},
		Executor: ExecutorConfig{
			Interpreter:    "python3",
			TimeoutSeconds: 30,
		},
		Store: StoreConfig{
			Path: ".simforge/artifacts.db",
		},
	}
}

// Load reads configuration from path (optional; "" or a missing file yields
// defaults) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SIMFORGE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets tests and deployments adjust single values without
// a config file
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIMFORGE_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
	if v := os.Getenv("SIMFORGE_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SIMFORGE_INTERPRETER"); v != "" {
		cfg.Executor.Interpreter = v
	}
	if v := os.Getenv("SIMFORGE_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Converge.MaxIterations = n
		}
	}
	if v := os.Getenv("SIMFORGE_EXEC_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.TimeoutSeconds = n
		}
	}
}

// Validate checks ranges on the tunables
func (c *Config) Validate() error {
	if c.Converge.MaxIterations < 1 || c.Converge.MaxIterations > 50 {
		return fmt.Errorf("max_iterations must be between 1 and 50 (got %d)", c.Converge.MaxIterations)
	}
	for name, v := range map[string]int{
		"alignment_threshold": c.Converge.AlignmentThreshold,
		"quality_threshold":   c.Converge.QualityThreshold,
		"store_threshold":     c.Converge.StoreThreshold,
	} {
		if v < 0 || v > 10 {
			return fmt.Errorf("%s must be between 0 and 10 (got %d)", name, v)
		}
	}
	if c.Executor.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be at least 1 (got %d)", c.Executor.TimeoutSeconds)
	}
	return nil
}

// ConvergeOptions builds the loop configuration for the controller
func (c *Config) ConvergeOptions() converge.Config {
	return converge.Config{
		MaxIterations:      c.Converge.MaxIterations,
		AlignmentThreshold: c.Converge.AlignmentThreshold,
		QualityThreshold:   c.Converge.QualityThreshold,
		StoreThreshold:     c.Converge.StoreThreshold,
		Limits: sandbox.Limits{
			Timeout:            time.Duration(c.Executor.TimeoutSeconds) * time.Second,
			DisallowFilesystem: true,
			DisallowNetwork:    true,
		},
	}
}

// OracleOptions builds the oracle client configuration
func (c *Config) OracleOptions() oracle.Config {
	retry := oracle.DefaultRetryConfig()
	retry.MaxConcurrentCalls = c.Oracle.MaxConcurrentCalls
	retry.RequestsPerSecond = c.Oracle.RequestsPerSecond
	return oracle.Config{
		Model: c.Oracle.Model,
		Retry: retry,
	}
}
