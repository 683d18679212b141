package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/config"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/oracle"
	"github.com/nvandessel/btsynth/internal/store"
)

func newNominalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nominal <world>",
		Short: "Synthesize a controller for a world",
		Long: `Synthesize a controller that visits every goal of the world infinitely
often. The controller is written as YAML to stdout, or to --output where
a .json extension selects JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, settings)

			w, err := readWorld(cmd, args[0])
			if err != nil {
				return err
			}
			g, err := synthesizeNominal(cmd.Context(), settings, settings.NewOracle(logger), w)
			if err != nil {
				return err
			}

			output, _ := cmd.Flags().GetString("output")
			save, _ := cmd.Flags().GetBool("save")
			if save {
				id, err := saveController(cmd.Context(), settings, logger, store.NewController(args[0], store.KindNominal, g))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved nominal controller %s\n", id)
			}
			if err := writeController(cmd, g, output, cmd.OutOrStdout()); err != nil {
				return err
			}
			if output != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d-node controller to %s\n", g.Len(), output)
			}
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Controller file (.yaml or .json)")
	cmd.Flags().Bool("save", false, "Save the controller to the store")
	return cmd
}

// synthesizeNominal builds the trimmed controller for w.
func synthesizeNominal(ctx context.Context, settings *config.Config, o oracle.Oracle, w *grid.World) (*automaton.Graph, error) {
	if len(w.Inits) == 0 {
		return nil, fmt.Errorf("world has no initial position")
	}
	g, err := o.Synthesize(ctx, &oracle.Request{
		World:     w,
		Inits:     w.Inits,
		Goals:     w.Goals,
		SysPrefix: settings.Labels.SysPrefix,
		EnvPrefix: settings.Labels.EnvPrefix,
		Obstacles: obstacles(settings, w),
	})
	if err != nil {
		return nil, fmt.Errorf("nominal synthesis: %w", err)
	}
	g.TrimDeadStates()
	return g, nil
}

// obstacles places an environment agent at each obstacle marker of w with
// the configured movement radius.
func obstacles(settings *config.Config, w *grid.World) []oracle.Obstacle {
	var out []oracle.Obstacle
	for _, c := range w.Obstacles {
		out = append(out, oracle.Obstacle{Center: c, Radius: settings.Patch.ObstacleRadius})
	}
	return out
}

// saveController stores c in the configured store and flushes it.
func saveController(ctx context.Context, settings *config.Config, logger *slog.Logger, c *store.Controller) (string, error) {
	cs, err := openStore(settings, logger)
	if err != nil {
		return "", err
	}
	defer cs.Close()
	id, err := cs.SaveController(ctx, c)
	if err != nil {
		return "", fmt.Errorf("failed to save controller: %w", err)
	}
	return id, cs.Sync(ctx)
}
