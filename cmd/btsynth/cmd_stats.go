package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/btsynth/internal/simulation"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Compare patching with global resynthesis over random trials",
		Long: `Run repeated trials. Each trial synthesizes a nominal controller,
blocks a free cell that interrupts it, then times both the patch run and
a global resynthesis for the actual world.

Trials use --world when given, otherwise a random world per trial.
Every controller produced is saved to the configured store.

Examples:
  btsynth stats --rows 8 --cols 8 --trials 20
  btsynth stats --world maze.txt --block 3,4`,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			sc := simulation.Scenario{Name: "stats"}
			sc.Rows, _ = cmd.Flags().GetInt("rows")
			sc.Cols, _ = cmd.Flags().GetInt("cols")
			sc.Density, _ = cmd.Flags().GetFloat64("density")
			sc.NumGoals, _ = cmd.Flags().GetInt("goals")
			sc.Trials, _ = cmd.Flags().GetInt("trials")
			sc.MaxBlockingTries, _ = cmd.Flags().GetInt("tries")
			sc.Seed, _ = cmd.Flags().GetUint64("seed")

			if path, _ := cmd.Flags().GetString("world"); path != "" {
				if sc.World, err = readWorld(cmd, path); err != nil {
					return err
				}
				sc.Name = path
			}
			blocks, _ := cmd.Flags().GetStringSlice("block")
			if sc.Blocks, err = parseCells(blocks); err != nil {
				return err
			}

			cfg := settings.PatchEngine(0)
			sc.Patch = &cfg
			sc.Oracle = settings.NewOracle(logger)

			cs, err := openStore(settings, logger)
			if err != nil {
				return err
			}
			defer cs.Close()

			result, err := simulation.NewRunner(cs, logger).Run(cmd.Context(), sc)
			if err != nil {
				return err
			}
			if err := cs.Sync(cmd.Context()); err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), statsJSON(result))
			}
			fmt.Fprint(cmd.OutOrStdout(), result.Summary())
			return nil
		},
	}
	cmd.Flags().String("world", "", "Nominal world file (random worlds when empty)")
	cmd.Flags().StringSlice("block", nil, "Cell blocked in the actual world, as ROW,COL (repeatable)")
	cmd.Flags().Int("rows", 8, "Rows of random worlds")
	cmd.Flags().Int("cols", 8, "Columns of random worlds")
	cmd.Flags().Float64("density", 0.2, "Wall density of random worlds")
	cmd.Flags().Int("goals", 2, "Goals of random worlds")
	cmd.Flags().Int("trials", 10, "Number of trials")
	cmd.Flags().Int("tries", 10, "Attempts to find an interrupting block per trial")
	cmd.Flags().Uint64("seed", 0, "Random seed")
	return cmd
}

func statsJSON(result simulation.SimulationResult) map[string]interface{} {
	trials := make([]map[string]interface{}, 0, len(result.Trials))
	for _, t := range result.Trials {
		entry := map[string]interface{}{
			"index":         t.Index,
			"outcome":       t.Outcome,
			"block":         t.Block,
			"nominal_ms":    t.NominalTime.Seconds() * 1000,
			"global_ms":     t.GlobalTime.Seconds() * 1000,
			"patch_ms":      t.PatchTime.Seconds() * 1000,
			"nominal_nodes": t.NominalNodes,
			"global_nodes":  t.GlobalNodes,
			"patched_nodes": t.PatchedNodes,
			"nominal_id":    t.NominalID,
			"patched_id":    t.PatchedID,
		}
		if t.Patch != nil {
			entry["rounds"] = len(t.Patch.Rounds)
		}
		if t.Err != nil {
			entry["error"] = t.Err.Error()
		}
		trials = append(trials, entry)
	}
	counts := map[simulation.Outcome]int{}
	for _, o := range []simulation.Outcome{
		simulation.OutcomePatched, simulation.OutcomeCannotHelp, simulation.OutcomeFailed,
		simulation.OutcomeInfeasible, simulation.OutcomeUninterrupted,
	} {
		counts[o] = result.Count(o)
	}
	return map[string]interface{}{"trials": trials, "outcomes": counts}
}
