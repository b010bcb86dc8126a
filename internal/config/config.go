// Package config loads the workspace configuration file and merges
// POLISH_* environment overrides on top of built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "POLISH_"

// Config is the full process configuration.
type Config struct {
	Run      Run      `koanf:"run"`
	Planner  Planner  `koanf:"planner"`
	Executor Executor `koanf:"executor"`
	Oracle   Oracle   `koanf:"oracle"`
	Capture  Capture  `koanf:"capture"`
	Server   Server   `koanf:"server"`
	Logging  Logging  `koanf:"logging"`
}

// Run configures the iteration phases.
type Run struct {
	URL                     string  `koanf:"url"`
	TargetScore             float64 `koanf:"target_score"`
	BaselineMaxIterations   int     `koanf:"baseline_max_iterations"`
	Refinement              bool    `koanf:"refinement"`
	ExcellenceTarget        float64 `koanf:"excellence_target"`
	RefinementMaxIterations int     `koanf:"refinement_max_iterations"`
	MinImprovement          float64 `koanf:"min_improvement"`
	PlateauIterations       int     `koanf:"plateau_iterations"`
	ApprovalTimeoutSeconds  int     `koanf:"approval_timeout_seconds"`
	BaseCostCents           int     `koanf:"base_cost_cents"`
}

// Planner configures plan generation.
type Planner struct {
	Model      string   `koanf:"model"`
	MaxFiles   int      `koanf:"max_files"`
	Extensions []string `koanf:"extensions"`
}

// Executor configures edit application.
type Executor struct {
	FallbackRadius int `koanf:"fallback_radius"`
}

// Oracle configures the scoring backend: "vision", "file", or "mock".
type Oracle struct {
	Provider    string `koanf:"provider"`
	Model       string `koanf:"model"`
	ReviewsPath string `koanf:"reviews_path"`
	Retries     int    `koanf:"retries"`
}

// Capture configures screenshot acquisition. Command is an argv with {url}
// and {out} placeholders; StaticPath short-circuits capture with a fixture.
type Capture struct {
	Command        []string `koanf:"command"`
	TimeoutSeconds int      `koanf:"timeout_seconds"`
	StaticPath     string   `koanf:"static_path"`
}

// Server configures the remote approval API.
type Server struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Logging configures the zap logger.
type Logging struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

var defaultYAML = []byte(`
run:
  target_score: 8.5
  baseline_max_iterations: 10
  refinement: true
  refinement_max_iterations: 5
  excellence_target: 10
  min_improvement: 0.05
  plateau_iterations: 3
  approval_timeout_seconds: 300
  base_cost_cents: 5
planner:
  model: gpt-4o
  max_files: 10
executor:
  fallback_radius: 5
oracle:
  provider: vision
  model: gpt-4o
  retries: 3
capture:
  timeout_seconds: 60
server:
  enabled: true
  addr: 127.0.0.1:7328
logging:
  level: info
  format: console
`)

// Load reads the config file at path (missing file is fine, defaults
// apply), layers POLISH_* environment variables on top, and validates.
// POLISH_RUN_TARGET_SCORE maps to run.target_score.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaultYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey(k)), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps POLISH_RUN_TARGET_SCORE to run.target_score by matching the
// longest known section prefix before splitting.
func envKey(k *koanf.Koanf) func(string) string {
	sections := []string{"run", "planner", "executor", "oracle", "capture", "server", "logging"}
	return func(raw string) string {
		key := strings.ToLower(strings.TrimPrefix(raw, envPrefix))
		for _, section := range sections {
			if strings.HasPrefix(key, section+"_") {
				return section + "." + strings.TrimPrefix(key, section+"_")
			}
		}
		return key
	}
}

// Validate rejects configurations the run loop cannot honor.
func (c *Config) Validate() error {
	if c.Run.TargetScore < 0 || c.Run.TargetScore > 10 {
		return fmt.Errorf("run.target_score must be within [0, 10], got %g", c.Run.TargetScore)
	}
	if c.Run.BaselineMaxIterations <= 0 {
		return fmt.Errorf("run.baseline_max_iterations must be positive")
	}
	if c.Run.Refinement && c.Run.RefinementMaxIterations <= 0 {
		return fmt.Errorf("run.refinement_max_iterations must be positive")
	}
	if c.Run.ExcellenceTarget < 0 || c.Run.ExcellenceTarget > 10 {
		return fmt.Errorf("run.excellence_target must be within [0, 10], got %g", c.Run.ExcellenceTarget)
	}
	if c.Run.Refinement && c.Run.ExcellenceTarget < c.Run.TargetScore {
		return fmt.Errorf("run.excellence_target %g is below run.target_score %g", c.Run.ExcellenceTarget, c.Run.TargetScore)
	}
	if c.Run.MinImprovement <= 0 {
		return fmt.Errorf("run.min_improvement must be positive")
	}
	if c.Run.PlateauIterations <= 0 {
		return fmt.Errorf("run.plateau_iterations must be positive")
	}
	switch c.Oracle.Provider {
	case "vision", "file", "mock":
	default:
		return fmt.Errorf("oracle.provider must be vision, file, or mock, got %q", c.Oracle.Provider)
	}
	if c.Oracle.Provider == "file" && c.Oracle.ReviewsPath == "" {
		return fmt.Errorf("oracle.reviews_path is required for the file provider")
	}
	if c.Executor.FallbackRadius < 0 {
		return fmt.Errorf("executor.fallback_radius must not be negative")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when the server is enabled")
	}
	return nil
}

// ApprovalTimeout returns the checkpoint timeout as a duration; zero
// disables the deadline.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.Run.ApprovalTimeoutSeconds) * time.Second
}

// CaptureTimeout returns the screenshot command timeout.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Capture.TimeoutSeconds) * time.Second
}
