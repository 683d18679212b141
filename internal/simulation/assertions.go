package simulation

import (
	"context"
	"slices"
	"testing"

	"github.com/nvandessel/btsynth/internal/execution"
	"github.com/nvandessel/btsynth/internal/store"
)

// AssertAllPatched asserts that every trial ended with a patched controller.
func AssertAllPatched(t *testing.T, result SimulationResult) {
	t.Helper()
	if len(result.Trials) == 0 {
		t.Fatal("AssertAllPatched: no trials")
	}
	for _, tr := range result.Trials {
		if tr.Outcome != OutcomePatched {
			t.Errorf("AssertAllPatched: trial %d outcome %s (err: %v)", tr.Index, tr.Outcome, tr.Err)
		}
	}
}

// AssertOutcome asserts that exactly n trials ended with outcome o.
func AssertOutcome(t *testing.T, result SimulationResult, o Outcome, n int) {
	t.Helper()
	if got := result.Count(o); got != n {
		t.Errorf("AssertOutcome: %d trials %s, want %d", got, o, n)
	}
}

// AssertRoundsAtMost asserts that no patched trial needed more than max
// rounds.
func AssertRoundsAtMost(t *testing.T, result SimulationResult, max int) {
	t.Helper()
	for _, tr := range result.Trials {
		if n := rounds(tr); n > max {
			t.Errorf("AssertRoundsAtMost: trial %d used %d rounds (max %d)", tr.Index, n, max)
		}
	}
}

// AssertGoalsVisited reloads every patched controller from the store and
// runs it on the actual world with full knowledge. The run must not diverge
// and its path must cover every goal.
func AssertGoalsVisited(t *testing.T, r *TestRunner, result SimulationResult) {
	t.Helper()
	ctx := context.Background()
	cfg := result.Scenario.Patch
	for _, tr := range result.Trials {
		if tr.Outcome != OutcomePatched {
			continue
		}
		c, err := r.Store().GetController(ctx, tr.PatchedID)
		if err != nil {
			t.Errorf("AssertGoalsVisited: trial %d: loading controller: %v", tr.Index, err)
			continue
		}
		g, err := c.Graph()
		if err != nil {
			t.Errorf("AssertGoalsVisited: trial %d: decoding controller: %v", tr.Index, err)
			continue
		}
		exec := execution.Config{SysPrefix: cfg.SysPrefix, EnvPrefix: cfg.EnvPrefix}
		run, err := execution.NewRunner(g, tr.Actual, tr.Actual, exec, nil).
			Run(ctx, tr.Nominal.Inits[0], cfg.StepBudget, nil)
		if err != nil {
			t.Errorf("AssertGoalsVisited: trial %d: run failed: %v", tr.Index, err)
			continue
		}
		if run.Diverged() {
			t.Errorf("AssertGoalsVisited: trial %d: diverged at %s", tr.Index, run.Blocked)
			continue
		}
		for _, goal := range tr.Nominal.Goals {
			if !slices.Contains(run.Path, goal) {
				t.Errorf("AssertGoalsVisited: trial %d: goal %s not visited in %d steps", tr.Index, goal, run.Steps)
			}
		}
	}
}

// AssertLineage asserts that the store holds no dangling or cyclic parent
// references and no malformed controllers.
func AssertLineage(t *testing.T, r *TestRunner) {
	t.Helper()
	issues, err := store.Validate(context.Background(), r.Store())
	if err != nil {
		t.Fatalf("AssertLineage: %v", err)
	}
	for _, issue := range issues {
		t.Errorf("AssertLineage: %s", issue)
	}
}
