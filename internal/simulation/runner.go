package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/execution"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/oracle"
	"github.com/nvandessel/btsynth/internal/patch"
	"github.com/nvandessel/btsynth/internal/store"
)

// Runner orchestrates multi-trial patch experiments against a real
// controller store.
type Runner struct {
	store  store.ControllerStore
	logger *slog.Logger
}

// NewRunner creates a runner persisting into cs. A nil logger discards output.
func NewRunner(cs store.ControllerStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{store: cs, logger: logger}
}

// Store returns the runner's controller store.
func (r *Runner) Store() store.ControllerStore {
	return r.store
}

// Run executes every trial of the scenario. Per-trial failures are recorded
// in the trial; only scenario and store errors are returned.
func (r *Runner) Run(ctx context.Context, sc Scenario) (SimulationResult, error) {
	if err := sc.Validate(); err != nil {
		return SimulationResult{}, err
	}
	sc = sc.withDefaults()
	if err := sc.Patch.Validate(); err != nil {
		return SimulationResult{}, err
	}

	rng := rand.New(rand.NewPCG(sc.Seed, sc.Seed^0x9e3779b97f4a7c15))
	result := SimulationResult{Scenario: sc, Trials: make([]TrialResult, 0, sc.Trials)}
	for i := 0; i < sc.Trials; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		tr, err := r.trial(ctx, sc, i, rng)
		if err != nil {
			return result, fmt.Errorf("trial %d: %w", i, err)
		}
		r.logger.Info("trial complete",
			slog.String("scenario", sc.Name),
			slog.Int("trial", i),
			slog.String("outcome", string(tr.Outcome)))
		result.Trials = append(result.Trials, tr)
	}
	return result, nil
}

// trial runs one nominal-block-patch cycle.
func (r *Runner) trial(ctx context.Context, sc Scenario, index int, rng *rand.Rand) (TrialResult, error) {
	tr := TrialResult{Index: index}
	cfg := *sc.Patch

	var nominal *grid.World
	if sc.World != nil {
		nominal = sc.World.Clone()
	} else {
		w, err := grid.Random(rng, sc.Rows, sc.Cols, sc.Density, sc.NumGoals, 0)
		if err != nil {
			return tr, err
		}
		nominal = w
	}
	tr.Nominal = nominal
	init := nominal.Inits[0]

	start := time.Now()
	g, err := r.synthesize(ctx, sc.Oracle, nominal, cfg)
	tr.NominalTime = time.Since(start)
	if errors.Is(err, oracle.ErrUnrealizable) {
		tr.Outcome = OutcomeInfeasible
		tr.Err = err
		return tr, nil
	}
	if err != nil {
		return tr, err
	}
	g.TrimDeadStates()
	tr.NominalNodes = g.Len()

	nc := store.NewController(fmt.Sprintf("%s/%d/nominal", sc.Name, index), store.KindNominal, g)
	if tr.NominalID, err = r.store.SaveController(ctx, nc); err != nil {
		return tr, err
	}

	actual, block, globalTime, globalNodes, err := r.place(ctx, sc, g, nominal, init, cfg, rng)
	if err != nil {
		return tr, err
	}
	if actual == nil {
		tr.Outcome = OutcomeUninterrupted
		return tr, nil
	}
	tr.Actual, tr.Block, tr.GlobalTime, tr.GlobalNodes = actual, block, globalTime, globalNodes

	engine, err := patch.NewEngine(sc.Oracle, actual, nominal, cfg, patch.WithLogger(r.logger))
	if err != nil {
		return tr, err
	}
	start = time.Now()
	patched, res, err := engine.Run(ctx, g.Clone(), init, nominal.Goals)
	tr.PatchTime = time.Since(start)
	tr.Patch = res
	switch {
	case errors.Is(err, patch.ErrPatchCannotHelp):
		tr.Outcome = OutcomeCannotHelp
		tr.Err = err
		return tr, nil
	case err != nil:
		tr.Outcome = OutcomeFailed
		tr.Err = err
		return tr, nil
	}
	tr.Outcome = OutcomePatched
	tr.PatchedNodes = patched.Len()

	pc := store.NewController(fmt.Sprintf("%s/%d/patched", sc.Name, index), store.KindPatched, patched)
	pc.ParentID = tr.NominalID
	pc.RunID = res.RunID
	if tr.PatchedID, err = r.store.SaveController(ctx, pc); err != nil {
		return tr, err
	}
	if err := r.store.SaveRounds(ctx, res.RunID, tr.PatchedID, res.Rounds); err != nil {
		return tr, err
	}
	return tr, nil
}

func (r *Runner) synthesize(ctx context.Context, o oracle.Oracle, w *grid.World, cfg patch.Config) (*automaton.Graph, error) {
	return o.Synthesize(ctx, &oracle.Request{
		World:     w,
		Inits:     w.Inits,
		Goals:     w.Goals,
		SysPrefix: cfg.SysPrefix,
		EnvPrefix: cfg.EnvPrefix,
	})
}

// place builds the actual world. Fixed blocks are used as given. Otherwise
// random free cells are tried until one interrupts the nominal plan while
// leaving the global problem realizable. A nil world means no such cell was
// found.
func (r *Runner) place(ctx context.Context, sc Scenario, g *automaton.Graph, nominal *grid.World, init grid.Coord, cfg patch.Config, rng *rand.Rand) (*grid.World, []grid.Coord, time.Duration, int, error) {
	if len(sc.Blocks) > 0 {
		actual := nominal.Clone()
		for _, b := range sc.Blocks {
			if err := actual.SetBlocked(b, true); err != nil {
				return nil, nil, 0, 0, err
			}
		}
		start := time.Now()
		global, err := r.synthesize(ctx, sc.Oracle, actual, cfg)
		elapsed := time.Since(start)
		nodes := 0
		if err == nil {
			nodes = global.Len()
		} else if !errors.Is(err, oracle.ErrUnrealizable) {
			return nil, nil, 0, 0, err
		}
		return actual, slices.Clone(sc.Blocks), elapsed, nodes, nil
	}

	var candidates []grid.Coord
	for _, c := range nominal.FreeCells() {
		if slices.Contains(nominal.Inits, c) || slices.Contains(nominal.Goals, c) {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, nil, 0, 0, nil
	}

	exec := execution.Config{SysPrefix: cfg.SysPrefix, EnvPrefix: cfg.EnvPrefix}
	for try := 0; try < sc.MaxBlockingTries; try++ {
		b := candidates[rng.IntN(len(candidates))]
		actual := nominal.Clone()
		_ = actual.SetBlocked(b, true)

		run, err := execution.NewRunner(g, actual, nominal, exec, r.logger).Run(ctx, init, cfg.StepBudget, nil)
		if err != nil {
			return nil, nil, 0, 0, err
		}
		if !run.Diverged() {
			continue
		}

		start := time.Now()
		global, err := r.synthesize(ctx, sc.Oracle, actual, cfg)
		elapsed := time.Since(start)
		if errors.Is(err, oracle.ErrUnrealizable) {
			continue
		}
		if err != nil {
			return nil, nil, 0, 0, err
		}
		return actual, []grid.Coord{b}, elapsed, global.Len(), nil
	}
	return nil, nil, 0, 0, nil
}
