package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/btsynth/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage btsynth configuration",
		Long: `View and modify btsynth configuration settings.

Configuration is stored in ~/.btsynth/config.yaml and can be overridden
with BTSYNTH_* environment variables.`,
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigGetCmd(), newConfigSetCmd())
	return cmd
}

// configPath is --config, or the home config file.
func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return filepath.Join(config.HomeDir(), "config.yaml")
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", configPath(cmd), data)
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			value, found := getConfigValue(cfg, args[0])
			if !found {
				return fmt.Errorf("unknown configuration key: %s", args[0])
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"key": args[0], "value": value})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", args[0], value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			path := configPath(cmd)

			cfg := config.Default()
			if loaded, err := config.LoadFromFile(path); err == nil {
				cfg = loaded
			}
			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"status": "updated", "key": key, "value": value})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (interface{}, bool) {
	switch key {
	case "labels.sys_prefix":
		return cfg.Labels.SysPrefix, true
	case "labels.env_prefix":
		return cfg.Labels.EnvPrefix, true
	case "patch.step_budget":
		return cfg.Patch.StepBudget, true
	case "patch.start_radius":
		return cfg.Patch.StartRadius, true
	case "patch.radius_step":
		return cfg.Patch.RadiusStep, true
	case "patch.max_radius":
		return cfg.Patch.MaxRadius, true
	case "patch.exit_policy":
		return cfg.Patch.ExitPolicy, true
	case "patch.stitch_policy":
		return cfg.Patch.StitchPolicy, true
	case "patch.obstacle_radius":
		return cfg.Patch.ObstacleRadius, true
	case "patch.seed":
		return cfg.Patch.Seed, true
	case "oracle.kind":
		return cfg.Oracle.Kind, true
	case "oracle.command":
		return cfg.Oracle.Command, true
	case "oracle.timeout":
		return cfg.Oracle.Timeout.String(), true
	case "store.kind":
		return cfg.Store.Kind, true
	case "store.dir":
		return cfg.StoreDir(), true
	case "logging.level":
		return cfg.Logging.Level, true
	case "logging.dir":
		return cfg.LogDir(), true
	case "telemetry.metrics":
		return cfg.Telemetry.Metrics, true
	case "telemetry.traces":
		return cfg.Telemetry.Traces, true
	case "telemetry.metrics_addr":
		return cfg.Telemetry.MetricsAddr, true
	default:
		return nil, false
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	atoi := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %s", key, value)
		}
		*dst = n
		return nil
	}

	switch key {
	case "labels.sys_prefix":
		cfg.Labels.SysPrefix = value
	case "labels.env_prefix":
		cfg.Labels.EnvPrefix = value
	case "patch.step_budget":
		return atoi(&cfg.Patch.StepBudget)
	case "patch.start_radius":
		return atoi(&cfg.Patch.StartRadius)
	case "patch.radius_step":
		return atoi(&cfg.Patch.RadiusStep)
	case "patch.max_radius":
		return atoi(&cfg.Patch.MaxRadius)
	case "patch.obstacle_radius":
		return atoi(&cfg.Patch.ObstacleRadius)
	case "patch.exit_policy":
		cfg.Patch.ExitPolicy = value
	case "patch.stitch_policy":
		cfg.Patch.StitchPolicy = value
	case "patch.seed":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seed: %s", value)
		}
		cfg.Patch.Seed = n
	case "oracle.kind":
		cfg.Oracle.Kind = value
	case "oracle.command":
		cfg.Oracle.Command = value
	case "oracle.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %s", key, value)
		}
		cfg.Oracle.Timeout = d
	case "store.kind":
		cfg.Store.Kind = value
	case "store.dir":
		cfg.Store.Dir = value
	case "logging.level":
		cfg.Logging.Level = value
	case "logging.dir":
		cfg.Logging.Dir = value
	case "telemetry.metrics":
		cfg.Telemetry.Metrics = value
	case "telemetry.traces":
		cfg.Telemetry.Traces = value
	case "telemetry.metrics_addr":
		cfg.Telemetry.MetricsAddr = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
