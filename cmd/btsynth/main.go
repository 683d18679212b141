package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/config"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/logging"
	"github.com/nvandessel/btsynth/internal/patch"
	"github.com/nvandessel/btsynth/internal/store"
	"github.com/nvandessel/btsynth/internal/telemetry"
)

// Set at build time via -ldflags.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

// exitCannotHelp is the exit status when a divergence hit a required goal
// and only full resynthesis can repair the controller.
const exitCannotHelp = 2

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "btsynth",
		Short: "Backtrack-and-patch synthesis for gridworld controllers",
		Long: `btsynth builds reactive controllers for agents on a grid and repairs
them locally when the real map differs from the one they were built for.

A controller is synthesized for a nominal world. When a run hits a cell
that is blocked in reality, btsynth grows a neighborhood around it, asks
the oracle for local controllers and merges them back in.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.btsynth/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: warn, info, debug or trace")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newWorldCmd(),
		newNominalCmd(),
		newSimCmd(),
		newPatchCmd(),
		newWatchCmd(),
		newDotCmd(),
		newListCmd(),
		newValidateCmd(),
		newServeCmd(),
		newStatsCmd(),
		newBackupCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, patch.ErrPatchCannotHelp) {
			os.Exit(exitCannotHelp)
		}
		os.Exit(1)
	}
}

// loadSettings resolves configuration from --config or the home config,
// then applies --log-level.
func loadSettings(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		settings *config.Config
		err      error
	)
	if path != "" {
		settings, err = config.LoadFromFile(path)
	} else {
		settings, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		settings.Logging.Level = level
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func newLogger(cmd *cobra.Command, settings *config.Config) *slog.Logger {
	return logging.NewLogger(settings.Logging.Level, cmd.ErrOrStderr())
}

// startTelemetry installs the configured metric and trace providers as the
// otel globals. The returned function flushes them.
func startTelemetry(cmd *cobra.Command, settings *config.Config) (func(), error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "btsynth",
		ServiceVersion: version,
		Metrics:        settings.Telemetry.Metrics,
		Traces:         settings.Telemetry.Traces,
		Output:         cmd.ErrOrStderr(),
	}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to start telemetry: %w", err)
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: telemetry shutdown: %v\n", err)
		}
	}, nil
}

// serveMetrics exposes /metrics on telemetry.metrics_addr, if set, until
// ctx is done.
func serveMetrics(ctx context.Context, settings *config.Config, logger *slog.Logger) {
	addr := settings.Telemetry.MetricsAddr
	if addr == "" {
		return
	}
	go func() {
		if err := telemetry.ServeMetrics(ctx, addr); err != nil {
			logger.Warn("metrics endpoint stopped", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", addr))
}

func openStore(settings *config.Config, logger *slog.Logger) (store.ControllerStore, error) {
	cs, err := store.Open(settings.Store.Kind, settings.StoreDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open controller store: %w", err)
	}
	return cs, nil
}

// readWorld loads a world file, resolving relative paths against --root.
func readWorld(cmd *cobra.Command, path string) (*grid.World, error) {
	w, err := grid.ReadFile(rootPath(cmd, path))
	if err != nil {
		return nil, fmt.Errorf("failed to read world: %w", err)
	}
	return w, nil
}

func rootPath(cmd *cobra.Command, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	root, _ := cmd.Flags().GetString("root")
	return filepath.Join(root, path)
}

// readController loads a persisted controller. Files ending in .yaml or
// .yml are YAML, everything else JSON.
func readController(cmd *cobra.Command, path string) (*automaton.Graph, error) {
	f, err := os.Open(rootPath(cmd, path))
	if err != nil {
		return nil, fmt.Errorf("failed to open controller: %w", err)
	}
	defer f.Close()
	if isYAML(path) {
		return automaton.DecodeYAML(f)
	}
	return automaton.Decode(f)
}

// writeController persists g to path, or to w when path is empty.
func writeController(cmd *cobra.Command, g *automaton.Graph, path string, w io.Writer) error {
	if path == "" {
		return g.EncodeYAML(w)
	}
	f, err := os.Create(rootPath(cmd, path))
	if err != nil {
		return fmt.Errorf("failed to create controller file: %w", err)
	}
	defer f.Close()
	if isYAML(path) {
		err = g.EncodeYAML(f)
	} else {
		err = g.Encode(f)
	}
	if err != nil {
		return err
	}
	return f.Close()
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// parseCells parses "r,c" cell flags.
func parseCells(specs []string) ([]grid.Coord, error) {
	out := make([]grid.Coord, 0, len(specs))
	for _, s := range specs {
		parts := strings.Split(s, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid cell %q (want ROW,COL)", s)
		}
		r, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		c, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("invalid cell %q (want ROW,COL)", s)
		}
		out = append(out, grid.Coord{Row: r, Col: c})
	}
	return out, nil
}

// actualWorld derives the actual world from --actual or --block flags.
func actualWorld(cmd *cobra.Command, nominal *grid.World) (*grid.World, error) {
	actualPath, _ := cmd.Flags().GetString("actual")
	blocks, _ := cmd.Flags().GetStringSlice("block")
	if actualPath != "" && len(blocks) > 0 {
		return nil, fmt.Errorf("--actual and --block are mutually exclusive")
	}
	if actualPath != "" {
		actual, err := readWorld(cmd, actualPath)
		if err != nil {
			return nil, err
		}
		if actual.Rows != nominal.Rows || actual.Cols != nominal.Cols {
			return nil, fmt.Errorf("actual world is %dx%d, nominal is %dx%d", actual.Rows, actual.Cols, nominal.Rows, nominal.Cols)
		}
		return actual, nil
	}
	cells, err := parseCells(blocks)
	if err != nil {
		return nil, err
	}
	actual := nominal.Clone()
	for _, c := range cells {
		if err := actual.SetBlocked(c, true); err != nil {
			return nil, err
		}
	}
	return actual, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
