// Package config provides unified configuration loading for btsynth.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/btsynth/internal/constants"
	"github.com/nvandessel/btsynth/internal/oracle"
	"github.com/nvandessel/btsynth/internal/patch"
)

// Config contains all btsynth configuration settings.
type Config struct {
	// Labels names the propositions of controllers.
	Labels LabelsConfig `json:"labels" yaml:"labels"`

	// Patch controls the simulate and patch loop.
	Patch PatchConfig `json:"patch" yaml:"patch"`

	// Oracle selects the synthesis backend.
	Oracle OracleConfig `json:"oracle" yaml:"oracle"`

	// Store selects where controllers and patch rounds are kept.
	Store StoreConfig `json:"store" yaml:"store"`

	// Logging contains settings for operational and decision logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Telemetry selects metric and trace exporters.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// LabelsConfig names locative propositions.
type LabelsConfig struct {
	SysPrefix string `json:"sys_prefix" yaml:"sys_prefix" validate:"required,alphanum"`
	EnvPrefix string `json:"env_prefix" yaml:"env_prefix" validate:"required,alphanum,nefield=SysPrefix"`
}

// PatchConfig configures repair rounds.
type PatchConfig struct {
	// StepBudget bounds controller transitions across all rounds.
	StepBudget int `json:"step_budget" yaml:"step_budget" validate:"gte=0"`

	// StartRadius is the first neighborhood radius tried after a divergence.
	StartRadius int `json:"start_radius" yaml:"start_radius" validate:"gte=1"`

	// RadiusStep is added to the radius after an unrealizable attempt.
	RadiusStep int `json:"radius_step" yaml:"radius_step" validate:"gte=1"`

	// MaxRadius caps radius growth; 0 grows until the grid is covered.
	MaxRadius int `json:"max_radius" yaml:"max_radius" validate:"gte=0"`

	// ExitPolicy is "all-reachable" (default) or "first-reachable".
	ExitPolicy string `json:"exit_policy" yaml:"exit_policy" validate:"oneof=all-reachable first-reachable"`

	// StitchPolicy is "first" (default) or "strict".
	StitchPolicy string `json:"stitch_policy" yaml:"stitch_policy" validate:"oneof=first strict"`

	// ObstacleRadius is the movement radius of each environment agent.
	ObstacleRadius int `json:"obstacle_radius" yaml:"obstacle_radius" validate:"gte=0"`

	// Seed drives randomized simulation.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// OracleConfig configures the synthesis backend.
type OracleConfig struct {
	// Kind is "planner" (built in, no environment agents) or "exec".
	Kind string `json:"kind" yaml:"kind" validate:"oneof=planner exec"`

	// Command is the solver executable for kind "exec". Supports ${VAR}.
	Command string `json:"command,omitempty" yaml:"command,omitempty" validate:"required_if=Kind exec"`

	// Args are passed to Command.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Timeout bounds one solver call.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// Kind is "memory", "file", "sqlite" or "badger".
	Kind string `json:"kind" yaml:"kind" validate:"oneof=memory file sqlite badger"`

	// Dir holds the store's files. Defaults to ~/.btsynth/store.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// LoggingConfig configures btsynth's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "warn", "info" (default), "debug", or
	// "trace". "debug" enables decision logging to decisions.jsonl.
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=warn info debug trace"`

	// Dir receives decisions.jsonl. Defaults to ~/.btsynth.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// TelemetryConfig configures OpenTelemetry and Prometheus export.
type TelemetryConfig struct {
	// Metrics is "prometheus" (default), "stdout" or "none".
	Metrics string `json:"metrics" yaml:"metrics" validate:"oneof=prometheus stdout none"`

	// Traces is "none" (default) or "stdout".
	Traces string `json:"traces" yaml:"traces" validate:"oneof=none stdout"`

	// MetricsAddr, when set, serves /metrics from long-running commands
	// (watch, mcp-server). serve always mounts /metrics on its own address.
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Labels: LabelsConfig{
			SysPrefix: constants.DefaultSysPrefix,
			EnvPrefix: constants.DefaultEnvPrefix,
		},
		Patch: PatchConfig{
			StepBudget:     constants.DefaultStepBudget,
			StartRadius:    constants.DefaultStartRadius,
			RadiusStep:     constants.DefaultRadiusStep,
			ExitPolicy:     string(constants.ExitAllReachable),
			StitchPolicy:   string(constants.StitchFirst),
			ObstacleRadius: constants.DefaultObstacleRadius,
			Seed:           constants.DefaultRandomSeed,
		},
		Oracle: OracleConfig{
			Kind:    "planner",
			Timeout: constants.DefaultOracleTimeoutSeconds * time.Second,
		},
		Store: StoreConfig{
			Kind: "file",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Metrics: "prometheus",
			Traces:  "none",
		},
	}
}

// HomeDir returns ~/.btsynth, or .btsynth when the home directory is
// unknown.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".btsynth"
	}
	return filepath.Join(home, ".btsynth")
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.btsynth/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	configPath := filepath.Join(HomeDir(), "config.yaml")
	if _, statErr := os.Stat(configPath); statErr == nil {
		fileConfig, loadErr := LoadFromFile(configPath)
		if loadErr != nil {
			return nil, fmt.Errorf("loading config file: %w", loadErr)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Oracle.Command = expandEnvVars(config.Oracle.Command)
	config.Store.Dir = expandEnvVars(config.Store.Dir)

	return config, nil
}

// Save writes c as YAML to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

var validate = validator.New()

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Patch.MaxRadius != 0 && c.Patch.MaxRadius < c.Patch.StartRadius {
		return fmt.Errorf("max_radius %d is below start_radius %d", c.Patch.MaxRadius, c.Patch.StartRadius)
	}
	return nil
}

// PatchEngine returns the patch engine settings for a problem with
// numObstacles environment agents.
func (c *Config) PatchEngine(numObstacles int) patch.Config {
	return patch.Config{
		SysPrefix:      c.Labels.SysPrefix,
		EnvPrefix:      c.Labels.EnvPrefix,
		NumObstacles:   numObstacles,
		ObstacleRadius: c.Patch.ObstacleRadius,
		StepBudget:     c.Patch.StepBudget,
		StartRadius:    c.Patch.StartRadius,
		RadiusStep:     c.Patch.RadiusStep,
		MaxRadius:      c.Patch.MaxRadius,
		ExitPolicy:     constants.ExitPolicy(c.Patch.ExitPolicy),
		StitchPolicy:   constants.StitchPolicy(c.Patch.StitchPolicy),
		Seed:           c.Patch.Seed,
	}
}

// NewOracle builds the configured oracle, instrumented with call metrics.
func (c *Config) NewOracle(logger *slog.Logger) oracle.Oracle {
	if c.Oracle.Kind == "exec" {
		return oracle.Instrument("exec", oracle.NewExec(oracle.ExecConfig{
			Command: c.Oracle.Command,
			Args:    c.Oracle.Args,
			Timeout: c.Oracle.Timeout,
		}, logger))
	}
	return oracle.Instrument("planner", oracle.NewPlanner())
}

// StoreDir returns the configured store directory or its default.
func (c *Config) StoreDir() string {
	if c.Store.Dir != "" {
		return c.Store.Dir
	}
	return filepath.Join(HomeDir(), "store")
}

// LogDir returns the configured decision log directory or its default.
func (c *Config) LogDir() string {
	if c.Logging.Dir != "" {
		return c.Logging.Dir
	}
	return HomeDir()
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("BTSYNTH_SYS_PREFIX"); v != "" {
		config.Labels.SysPrefix = v
	}
	if v := os.Getenv("BTSYNTH_ENV_PREFIX"); v != "" {
		config.Labels.EnvPrefix = v
	}

	if v := os.Getenv("BTSYNTH_STEP_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Patch.StepBudget = n
		}
	}
	if v := os.Getenv("BTSYNTH_MAX_RADIUS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Patch.MaxRadius = n
		}
	}
	if v := os.Getenv("BTSYNTH_EXIT_POLICY"); v != "" {
		config.Patch.ExitPolicy = v
	}
	if v := os.Getenv("BTSYNTH_STITCH_POLICY"); v != "" {
		config.Patch.StitchPolicy = v
	}
	if v := os.Getenv("BTSYNTH_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Patch.Seed = n
		}
	}

	if v := os.Getenv("BTSYNTH_ORACLE"); v != "" {
		config.Oracle.Kind = v
	}
	if v := os.Getenv("BTSYNTH_ORACLE_COMMAND"); v != "" {
		config.Oracle.Command = v
	}
	if v := os.Getenv("BTSYNTH_ORACLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Oracle.Timeout = d
		}
	}

	if v := os.Getenv("BTSYNTH_STORE"); v != "" {
		config.Store.Kind = v
	}
	if v := os.Getenv("BTSYNTH_STORE_DIR"); v != "" {
		config.Store.Dir = v
	}

	if v := os.Getenv("BTSYNTH_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("BTSYNTH_METRICS"); v != "" {
		config.Telemetry.Metrics = v
	}
	if v := os.Getenv("BTSYNTH_TRACES"); v != "" {
		config.Telemetry.Traces = v
	}
	if v := os.Getenv("BTSYNTH_METRICS_ADDR"); v != "" {
		config.Telemetry.MetricsAddr = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
