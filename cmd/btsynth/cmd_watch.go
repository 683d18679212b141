package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/config"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/patch"
)

const watchDebounce = 200 * time.Millisecond

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <world>",
		Short: "Re-patch the controller whenever the actual world file changes",
		Long: `Synthesize a controller for the nominal world, then watch the actual
world file. Every time it is saved the current controller is patched
against it, and the patched controller becomes the starting point for
the next change. When patching cannot help, the controller is
resynthesized for the actual world.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actualPath, _ := cmd.Flags().GetString("actual")
			if actualPath == "" {
				return fmt.Errorf("--actual is required")
			}
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			stopTelemetry, err := startTelemetry(cmd, settings)
			if err != nil {
				return err
			}
			defer stopTelemetry()
			logger := newLogger(cmd, settings)

			nominal, err := readWorld(cmd, args[0])
			if err != nil {
				return err
			}
			o := settings.NewOracle(logger)
			g, err := synthesizeNominal(cmd.Context(), settings, o, nominal)
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")

			w := &worldWatch{cmd: cmd, settings: settings, logger: logger, known: nominal, g: g, output: output}
			fmt.Fprintf(cmd.OutOrStdout(), "Nominal controller has %d nodes; watching %s\n", g.Len(), actualPath)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			notifySignals(sigCh)
			go func() {
				select {
				case <-sigCh:
					cancel()
				case <-ctx.Done():
				}
			}()

			serveMetrics(ctx, settings, logger)

			path := rootPath(cmd, actualPath)
			if _, err := os.Stat(path); err == nil {
				w.repatch(ctx, path)
			}
			return watchFile(ctx, path, watchDebounce, logger, func() { w.repatch(ctx, path) })
		},
	}
	cmd.Flags().String("actual", "", "Actual world file to watch")
	cmd.Flags().StringP("output", "o", "", "Rewrite the controller to this file after every change")
	return cmd
}

// worldWatch carries the controller across changes of the actual world.
type worldWatch struct {
	cmd      *cobra.Command
	settings *config.Config
	logger   *slog.Logger
	output   string

	// known is the nominal world updated with every patched neighborhood.
	known *grid.World
	g     *automaton.Graph
}

// repatch reports problems instead of returning them so a bad save does
// not stop the watch.
func (w *worldWatch) repatch(ctx context.Context, path string) {
	out := w.cmd.OutOrStdout()
	actual, err := grid.ReadFile(path)
	if err != nil {
		fmt.Fprintf(w.cmd.ErrOrStderr(), "Skipping change: %v\n", err)
		return
	}
	if actual.Rows != w.known.Rows || actual.Cols != w.known.Cols {
		fmt.Fprintf(w.cmd.ErrOrStderr(), "Skipping change: actual world is %dx%d, nominal is %dx%d\n",
			actual.Rows, actual.Cols, w.known.Rows, w.known.Cols)
		return
	}

	o := w.settings.NewOracle(w.logger)
	engine, err := patch.NewEngine(o, actual, w.known, w.settings.PatchEngine(len(w.known.Obstacles)), patch.WithLogger(w.logger))
	if err != nil {
		fmt.Fprintf(w.cmd.ErrOrStderr(), "Skipping change: %v\n", err)
		return
	}
	before := w.g.Len()
	patched, res, err := engine.Run(ctx, w.g.Clone(), w.known.Inits[0], w.known.Goals)
	switch {
	case errors.Is(err, patch.ErrPatchCannotHelp):
		fmt.Fprintf(out, "%v; resynthesizing for the actual world\n", err)
		g, err := synthesizeNominal(ctx, w.settings, o, actual)
		if err != nil {
			fmt.Fprintf(w.cmd.ErrOrStderr(), "Resynthesis failed: %v\n", err)
			return
		}
		w.g, w.known = g, actual
		fmt.Fprintf(out, "Resynthesized: %d nodes\n", g.Len())
	case err != nil:
		fmt.Fprintf(w.cmd.ErrOrStderr(), "Patching failed: %v\n", err)
		return
	default:
		w.g, w.known = patched, res.Known
		fmt.Fprintf(out, "Patched in %d rounds: %d -> %d nodes\n", len(res.Rounds), before, patched.Len())
	}

	if w.output != "" {
		if err := writeController(w.cmd, w.g, w.output, out); err != nil {
			fmt.Fprintf(w.cmd.ErrOrStderr(), "Write failed: %v\n", err)
		}
	}
}

// watchFile calls onChange after path is written or created, once per burst of events within debounce. The parent directory
// is watched so editors that save by rename are seen. Blocks until ctx is
// done.
func watchFile(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			logger.Debug("actual world changed", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)
		}
	}
}
