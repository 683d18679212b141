package simulation

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/oracle"
	"github.com/nvandessel/btsynth/internal/patch"
	"github.com/nvandessel/btsynth/internal/store"
)

// open3x3 has a single goal in the far corner. The planner routes down the
// left column and along the bottom row.
const open3x3 = `3 3
-
-
-
G 2 2
I 0 0
`

func TestE2E_PatchAroundWall(t *testing.T) {
	r := NewTestRunner(t)
	result := r.MustRun(Scenario{
		Name:   "wall",
		World:  MustWorld(t, open3x3),
		Blocks: []grid.Coord{{Row: 2, Col: 1}},
	})

	AssertAllPatched(t, result)
	AssertRoundsAtMost(t, result, 1)
	AssertGoalsVisited(t, r, result)
	AssertLineage(t, r)

	tr := result.Trials[0]
	if tr.Patch.Rounds[0].Divergence != (grid.Coord{Row: 2, Col: 1}) {
		t.Errorf("divergence at %s, want (2, 1)", tr.Patch.Rounds[0].Divergence)
	}
	if tr.GlobalNodes == 0 {
		t.Error("blocked world should be solvable from scratch")
	}

	ctx := context.Background()
	patched, err := r.Store().GetController(ctx, tr.PatchedID)
	if err != nil {
		t.Fatalf("GetController: %v", err)
	}
	if patched.Kind != store.KindPatched || patched.ParentID != tr.NominalID || patched.RunID != tr.Patch.RunID {
		t.Errorf("unexpected lineage %+v", patched)
	}
	rounds, err := r.Store().Rounds(ctx, tr.Patch.RunID)
	if err != nil {
		t.Fatalf("Rounds: %v", err)
	}
	if len(rounds) != 1 || rounds[0].ControllerID != tr.PatchedID {
		t.Errorf("unexpected rounds %+v", rounds)
	}
}

func TestE2E_BlockedGoal(t *testing.T) {
	r := NewTestRunner(t)
	result := r.MustRun(Scenario{
		Name:   "goal",
		World:  MustWorld(t, open3x3),
		Blocks: []grid.Coord{{Row: 2, Col: 2}},
	})

	AssertOutcome(t, result, OutcomeCannotHelp, 1)
	tr := result.Trials[0]
	if !errors.Is(tr.Err, patch.ErrPatchCannotHelp) {
		t.Errorf("expected ErrPatchCannotHelp, got %v", tr.Err)
	}
	if tr.GlobalNodes != 0 {
		t.Errorf("blocked goal cannot be solvable, got %d nodes", tr.GlobalNodes)
	}
	if tr.PatchedID != "" {
		t.Error("no patched controller may be stored")
	}
}

func TestE2E_Infeasible(t *testing.T) {
	r := NewTestRunner(t)
	result := r.MustRun(Scenario{
		Name:   "infeasible",
		World:  MustWorld(t, open3x3),
		Oracle: oracle.NewMock().WithError(oracle.ErrUnrealizable),
	})
	AssertOutcome(t, result, OutcomeInfeasible, 1)
}

func TestE2E_LocalRefusalFails(t *testing.T) {
	// Nominal and global requests are answered; every local one is refused.
	var calls atomic.Int32
	planner := oracle.NewPlanner()
	o := oracle.SynthesizeFunc(func(ctx context.Context, req *oracle.Request) (*automaton.Graph, error) {
		if calls.Add(1) > 2 {
			return nil, oracle.ErrUnrealizable
		}
		return planner.Synthesize(ctx, req)
	})

	r := NewTestRunner(t)
	result := r.MustRun(Scenario{
		Name:   "refusal",
		World:  MustWorld(t, open3x3),
		Blocks: []grid.Coord{{Row: 2, Col: 1}},
		Oracle: o,
	})

	AssertOutcome(t, result, OutcomeFailed, 1)
	if tr := result.Trials[0]; !errors.Is(tr.Err, patch.ErrNeighborhoodExhausted) {
		t.Errorf("expected ErrNeighborhoodExhausted, got %v", tr.Err)
	}
	AssertLineage(t, r)
}

func TestE2E_RandomWorlds(t *testing.T) {
	r := NewTestRunner(t)
	result := r.MustRun(Scenario{
		Name:    "random",
		Rows:    4,
		Cols:    4,
		Density: 0.1,
		Trials:  3,
		Seed:    7,
	})

	if len(result.Trials) != 3 {
		t.Fatalf("expected 3 trials, got %d", len(result.Trials))
	}
	known := map[Outcome]bool{
		OutcomePatched: true, OutcomeCannotHelp: true, OutcomeFailed: true,
		OutcomeInfeasible: true, OutcomeUninterrupted: true,
	}
	for _, tr := range result.Trials {
		if !known[tr.Outcome] {
			t.Errorf("trial %d: unknown outcome %q", tr.Index, tr.Outcome)
		}
		if tr.Outcome == OutcomePatched && len(tr.Block) != 1 {
			t.Errorf("trial %d: expected one random block, got %v", tr.Index, tr.Block)
		}
	}
	AssertLineage(t, r)

	summary := result.Summary()
	if !strings.HasPrefix(summary, "# random: 3 trials\n") {
		t.Errorf("unexpected summary header:\n%s", summary)
	}
}

func TestE2E_Deterministic(t *testing.T) {
	sc := Scenario{Name: "seeded", Rows: 4, Cols: 4, Density: 0.1, Trials: 2, Seed: 11}
	a := NewTestRunner(t).MustRun(sc)
	b := NewTestRunner(t).MustRun(sc)
	for i := range a.Trials {
		if !a.Trials[i].Nominal.Equal(b.Trials[i].Nominal) {
			t.Errorf("trial %d: worlds differ for the same seed", i)
		}
		if a.Trials[i].Outcome != b.Trials[i].Outcome {
			t.Errorf("trial %d: outcomes differ: %s vs %s", i, a.Trials[i].Outcome, b.Trials[i].Outcome)
		}
	}
}

func TestScenarioValidate(t *testing.T) {
	tests := []struct {
		name string
		sc   Scenario
	}{
		{"no world", Scenario{Name: "a"}},
		{"no init", Scenario{Name: "b", World: grid.New(2, 2)}},
		{"negative trials", Scenario{Name: "c", Rows: 2, Cols: 2, Trials: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.sc.Validate(); err == nil {
				t.Error("expected error")
			}
			if _, err := NewRunner(store.NewInMemoryStore(), nil).Run(context.Background(), tt.sc); err == nil {
				t.Error("Run accepted an invalid scenario")
			}
		})
	}
}
