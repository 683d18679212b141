package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/execution"
	"github.com/nvandessel/btsynth/internal/grid"
)

func newSimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim <world>",
		Short: "Run a controller on the actual world",
		Long: `Run a controller from the world's initial position until the step
budget is spent or the controller tries to enter a cell that is blocked
in the actual world but free in the nominal one.

The controller is read from --controller, or synthesized for the world.
The actual world is the nominal one with --block cells added, or the
world file given by --actual.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, settings)

			nominal, err := readWorld(cmd, args[0])
			if err != nil {
				return err
			}
			if len(nominal.Inits) == 0 {
				return fmt.Errorf("world has no initial position")
			}
			actual, err := actualWorld(cmd, nominal)
			if err != nil {
				return err
			}

			var g *automaton.Graph
			if path, _ := cmd.Flags().GetString("controller"); path != "" {
				g, err = readController(cmd, path)
			} else {
				g, err = synthesizeNominal(cmd.Context(), settings, settings.NewOracle(logger), nominal)
			}
			if err != nil {
				return err
			}

			steps, _ := cmd.Flags().GetInt("steps")
			if steps <= 0 {
				steps = settings.Patch.StepBudget
			}
			runner := execution.NewRunner(g, actual, nominal, execution.Config{
				SysPrefix:    settings.Labels.SysPrefix,
				EnvPrefix:    settings.Labels.EnvPrefix,
				NumObstacles: len(nominal.Obstacles),
			}, logger)

			var tr *execution.Trace
			if cmd.Flags().Changed("seed") || len(nominal.Obstacles) > 0 {
				seed, _ := cmd.Flags().GetUint64("seed")
				tr, err = runner.RunRandom(cmd.Context(), nominal.Inits[0], steps, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
			} else {
				tr, err = runner.Run(cmd.Context(), nominal.Inits[0], steps, nil)
			}
			if err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"path":     tr.Path,
					"steps":    tr.Steps,
					"diverged": tr.Diverged(),
					"blocked":  tr.Blocked,
				})
			}

			out, err := grid.Pretty(actual, tr.Overlay(), true)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			if tr.Diverged() {
				fmt.Fprintf(cmd.OutOrStdout(), "Diverged after %d steps: %s is blocked\n", tr.Steps, *tr.Blocked)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Completed %d steps without divergence\n", tr.Steps)
			}
			return nil
		},
	}
	cmd.Flags().String("controller", "", "Controller file (.yaml or .json); synthesized when empty")
	cmd.Flags().String("actual", "", "Actual world file")
	cmd.Flags().StringSlice("block", nil, "Cell blocked in the actual world, as ROW,COL (repeatable)")
	cmd.Flags().Int("steps", 0, "Step budget (default from config)")
	cmd.Flags().Uint64("seed", 0, "Sample environment moves at random with this seed")
	return cmd
}
