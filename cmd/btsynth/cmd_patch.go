package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/config"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/logging"
	"github.com/nvandessel/btsynth/internal/patch"
	"github.com/nvandessel/btsynth/internal/store"
)

func newPatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch <world>",
		Short: "Repair a controller against the actual world",
		Long: `Simulate the controller on the actual world and, at every divergence,
synthesize a local controller for a growing neighborhood of the blocked
cell and merge it in. Repeats until the step budget runs out without a
new divergence.

Exits with status 2 when a divergence lies on a goal the controller
must visit; only resynthesis for the actual world can help then.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			applyPatchFlags(cmd, settings)
			stopTelemetry, err := startTelemetry(cmd, settings)
			if err != nil {
				return err
			}
			defer stopTelemetry()
			if err := settings.Validate(); err != nil {
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

			decisions, closeDecisions, err := openDecisions(cmd, settings)
			if err != nil {
				return err
			}
			defer closeDecisions()

			o := settings.NewOracle(logger)
			engine, err := patch.NewEngine(o, actual, nominal, settings.PatchEngine(len(nominal.Obstacles)),
				patch.WithLogger(logger), patch.WithDecisionLogger(decisions))
			if err != nil {
				return err
			}

			var g *automaton.Graph
			if path, _ := cmd.Flags().GetString("controller"); path != "" {
				g, err = readController(cmd, path)
			} else {
				g, err = synthesizeNominal(cmd.Context(), settings, o, nominal)
			}
			if err != nil {
				return err
			}
			before := g.Len()
			var nominalDoc *store.Controller
			save, _ := cmd.Flags().GetBool("save")
			if save {
				nominalDoc = store.NewController(args[0], store.KindNominal, g)
			}

			patched, res, err := engine.Run(cmd.Context(), g, nominal.Inits[0], nominal.Goals)
			if errors.Is(err, patch.ErrPatchCannotHelp) {
				return fmt.Errorf("%w; resynthesize the controller for the actual world", err)
			}
			if err != nil {
				return fmt.Errorf("patching failed: %w", err)
			}

			if save {
				if err := savePatchRun(cmd, settings, nominalDoc, patched, res, args[0]); err != nil {
					return err
				}
			}
			output, _ := cmd.Flags().GetString("output")
			if output != "" {
				if err := writeController(cmd, patched, output, cmd.OutOrStdout()); err != nil {
					return err
				}
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"run_id":       res.RunID,
					"rounds":       res.Rounds,
					"steps":        res.Steps,
					"nodes_before": before,
					"nodes_after":  patched.Len(),
				})
			}
			return printPatchResult(cmd, actual, res, before, patched.Len())
		},
	}
	cmd.Flags().String("controller", "", "Controller file (.yaml or .json); synthesized when empty")
	cmd.Flags().String("actual", "", "Actual world file")
	cmd.Flags().StringSlice("block", nil, "Cell blocked in the actual world, as ROW,COL (repeatable)")
	cmd.Flags().Int("steps", 0, "Step budget across all rounds (default from config)")
	cmd.Flags().Int("max-radius", 0, "Largest neighborhood radius (default from config)")
	cmd.Flags().String("exit-policy", "", "Neighborhood exits: all-reachable or first-reachable")
	cmd.Flags().String("stitch-policy", "", "Merge conflicts: first or strict")
	cmd.Flags().StringP("output", "o", "", "Write the patched controller to this file")
	cmd.Flags().Bool("save", false, "Save both controllers and the patch rounds to the store")
	cmd.Flags().String("decisions", "", "Write decision events to this file")
	return cmd
}

// applyPatchFlags overrides patch settings with explicitly set flags.
func applyPatchFlags(cmd *cobra.Command, settings *config.Config) {
	if v, _ := cmd.Flags().GetInt("steps"); v > 0 {
		settings.Patch.StepBudget = v
	}
	if v, _ := cmd.Flags().GetInt("max-radius"); v > 0 {
		settings.Patch.MaxRadius = v
	}
	if v, _ := cmd.Flags().GetString("exit-policy"); v != "" {
		settings.Patch.ExitPolicy = v
	}
	if v, _ := cmd.Flags().GetString("stitch-policy"); v != "" {
		settings.Patch.StitchPolicy = v
	}
}

// openDecisions returns the decision logger for --decisions, or the one
// enabled by a debug log level.
func openDecisions(cmd *cobra.Command, settings *config.Config) (*logging.DecisionLogger, func(), error) {
	path, _ := cmd.Flags().GetString("decisions")
	if path == "" {
		dl := logging.NewDecisionLogger(settings.LogDir(), settings.Logging.Level)
		return dl, dl.Close, nil
	}
	f, err := os.OpenFile(rootPath(cmd, path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open decisions file: %w", err)
	}
	return logging.NewDecisionWriter(f), func() { f.Close() }, nil
}

func savePatchRun(cmd *cobra.Command, settings *config.Config, nominal *store.Controller, patched *automaton.Graph, res *patch.Result, name string) error {
	ctx := cmd.Context()
	cs, err := openStore(settings, newLogger(cmd, settings))
	if err != nil {
		return err
	}
	defer cs.Close()

	nominalID, err := cs.SaveController(ctx, nominal)
	if err != nil {
		return fmt.Errorf("save nominal controller: %w", err)
	}
	pc := store.NewController(name, store.KindPatched, patched)
	pc.ParentID = nominalID
	pc.RunID = res.RunID
	patchedID, err := cs.SaveController(ctx, pc)
	if err != nil {
		return fmt.Errorf("save patched controller: %w", err)
	}
	if err := cs.SaveRounds(ctx, res.RunID, patchedID, res.Rounds); err != nil {
		return fmt.Errorf("save rounds: %w", err)
	}
	if err := cs.Sync(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Saved nominal %s and patched %s\n", nominalID, patchedID)
	return nil
}

func printPatchResult(cmd *cobra.Command, actual *grid.World, res *patch.Result, before, after int) error {
	w := cmd.OutOrStdout()
	if res.Trace != nil {
		out, err := grid.Pretty(actual, res.Trace.Overlay(), true)
		if err != nil {
			return err
		}
		fmt.Fprint(w, out)
	}
	fmt.Fprintf(w, "Run %s: %d rounds, %d steps, %d -> %d nodes\n", res.RunID, len(res.Rounds), res.Steps, before, after)
	for _, r := range res.Rounds {
		fmt.Fprintf(w, "  round %d: divergence %s, radius %d after %d attempts, %d -> %d nodes\n",
			r.Index, r.Divergence, r.Radius, r.Attempts, r.NodesBefore, r.NodesAfter)
	}
	return nil
}
