// Package config loads storywalk settings from defaults, an optional YAML
// file and STORYWALK_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"storywalk/internal/explore"
)

type Config struct {
	RunsDir          string `yaml:"runs_dir" env:"STORYWALK_RUNS_DIR"`
	BatchSize        int    `yaml:"batch_size" env:"STORYWALK_BATCH_SIZE"`
	ContinueInterval int    `yaml:"continue_interval" env:"STORYWALK_CONTINUE_INTERVAL"`
	MetricsFile      string `yaml:"metrics_file" env:"STORYWALK_METRICS_FILE"`
	Limits           Limits `yaml:"limits"`
	Log              Log    `yaml:"log"`
	Server           Server `yaml:"server"`
}

type Limits struct {
	MaxDepth           int `yaml:"max_depth" env:"STORYWALK_MAX_DEPTH"`
	LoopThreshold      int `yaml:"loop_threshold" env:"STORYWALK_LOOP_THRESHOLD"`
	MaxSteps           int `yaml:"max_steps" env:"STORYWALK_MAX_STEPS"`
	StepFlushThreshold int `yaml:"step_flush_threshold" env:"STORYWALK_STEP_FLUSH_THRESHOLD"`
	// MemoryLimitMB of zero disables the memory guard.
	MemoryLimitMB     int `yaml:"memory_limit_mb" env:"STORYWALK_MEMORY_LIMIT_MB"`
	MemorySampleEvery int `yaml:"memory_sample_every" env:"STORYWALK_MEMORY_SAMPLE_EVERY"`
}

type Log struct {
	Level  string `yaml:"level" env:"STORYWALK_LOG_LEVEL"`
	Format string `yaml:"format" env:"STORYWALK_LOG_FORMAT"`
}

type Server struct {
	Addr        string `yaml:"addr" env:"STORYWALK_SERVER_ADDR"`
	MaxUploadMB int    `yaml:"max_upload_mb" env:"STORYWALK_SERVER_MAX_UPLOAD_MB"`
}

func Default() *Config {
	l := explore.DefaultLimits()
	return &Config{
		RunsDir:          "runs",
		BatchSize:        l.BatchSize,
		ContinueInterval: l.ContinueInterval,
		Limits: Limits{
			MaxDepth:           l.MaxDepth,
			LoopThreshold:      l.LoopThreshold,
			MaxSteps:           l.MaxSteps,
			StepFlushThreshold: l.StepFlushThreshold,
			MemoryLimitMB:      int(l.MemoryLimit >> 20),
			MemorySampleEvery:  l.MemorySampleEvery,
		},
		Log:    Log{Level: "ending", Format: "text"},
		Server: Server{Addr: ":8080", MaxUploadMB: 10},
	}
}

// Load applies the YAML file at path (skipped when empty) and then the
// environment over the defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.RunsDir) == "" {
		errs = append(errs, errors.New("runs_dir is required"))
	}
	if c.ContinueInterval < 0 {
		errs = append(errs, errors.New("continue_interval must not be negative"))
	}
	if c.Limits.MemoryLimitMB < 0 {
		errs = append(errs, errors.New("limits.memory_limit_mb must not be negative"))
	}
	if err := c.ExploreLimits().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "ending", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, ending, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("server.max_upload_mb must be positive"))
	}
	return errors.Join(errs...)
}

// ExploreLimits converts the guard settings for the explorer.
func (c *Config) ExploreLimits() explore.Limits {
	return explore.Limits{
		MaxDepth:           c.Limits.MaxDepth,
		LoopThreshold:      c.Limits.LoopThreshold,
		MaxSteps:           c.Limits.MaxSteps,
		StepFlushThreshold: c.Limits.StepFlushThreshold,
		MemoryLimit:        uint64(max(c.Limits.MemoryLimitMB, 0)) << 20,
		MemorySampleEvery:  c.Limits.MemorySampleEvery,
		BatchSize:          c.BatchSize,
		ContinueInterval:   c.ContinueInterval,
	}
}
