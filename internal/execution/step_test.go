package execution

import (
	"errors"
	"testing"

	"github.com/nvandessel/btsynth/internal/automaton"
)

// fan builds a source node with successors whose X_0 value alternates.
func fan(t *testing.T, guards ...automaton.Guard) (*automaton.Graph, automaton.Handle, []automaton.Handle) {
	t.Helper()
	g := automaton.New()
	src := g.AddNode(map[string]bool{"Y_0_0": true})
	var succ []automaton.Handle
	for i, guard := range guards {
		h := g.AddNode(map[string]bool{"Y_0_1": true, "X_0_0_0": i%2 == 0})
		succ = append(succ, h)
		if err := g.AddEdge(src, h, guard); err != nil {
			t.Fatal(err)
		}
	}
	return g, src, succ
}

func TestStepSoleCandidateIgnoresGuard(t *testing.T) {
	g, src, succ := fan(t, automaton.GuardAllSet, automaton.GuardNone)
	g.MemInit([]string{"Y_5_5"})
	// Only succ[0] has X_0_0_0 true. Its guard is disabled (memory unset)
	// but it is the sole match.
	next, err := Step(g, src, map[string]bool{"X_0_0_0": true})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if next != succ[0] {
		t.Errorf("expected %s, got %s", succ[0], next)
	}
}

func TestStepGuardsBreakTies(t *testing.T) {
	g, src, succ := fan(t, automaton.GuardAnyUnset, automaton.GuardNone, automaton.GuardAllSet)
	g.MemInit([]string{"Y_0_1"})

	// succ[0] (any-unset) and succ[2] (all-set) both match X_0_0_0; memory
	// is unset so succ[0] wins.
	next, err := Step(g, src, map[string]bool{"X_0_0_0": true})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if next != succ[0] {
		t.Errorf("expected %s, got %s", succ[0], next)
	}
	// Entering a node with no rule leaves memory unset; set it through a
	// set-matched node so the all-set edge is chosen next.
	n, _ := g.Node(succ[0])
	n.Rule = automaton.RuleSetMatched
	if err := g.Enter(succ[0]); err != nil {
		t.Fatal(err)
	}
	next, err = Step(g, src, map[string]bool{"X_0_0_0": true})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if next != succ[2] {
		t.Errorf("expected %s once memory is set, got %s", succ[2], next)
	}
}

func TestStepErrors(t *testing.T) {
	t.Run("no match", func(t *testing.T) {
		g, src, _ := fan(t, automaton.GuardNone)
		_, err := Step(g, src, map[string]bool{"X_0_0_0": false})
		if !errors.Is(err, ErrNoMatchingTransition) {
			t.Errorf("expected ErrNoMatchingTransition, got %v", err)
		}
	})
	t.Run("ambiguous", func(t *testing.T) {
		g, src, _ := fan(t, automaton.GuardNone, automaton.GuardNone, automaton.GuardNone)
		_, err := Step(g, src, map[string]bool{"X_0_0_0": true})
		if !errors.Is(err, ErrAmbiguousTransition) {
			t.Errorf("expected ErrAmbiguousTransition, got %v", err)
		}
	})
	t.Run("none enabled", func(t *testing.T) {
		g, src, _ := fan(t, automaton.GuardAllSet, automaton.GuardNone, automaton.GuardAllSet)
		g.MemInit([]string{"Y_9_9"})
		_, err := Step(g, src, map[string]bool{"X_0_0_0": true})
		if !errors.Is(err, ErrDeadEnd) {
			t.Errorf("expected ErrDeadEnd, got %v", err)
		}
	})
	t.Run("guard on empty memory", func(t *testing.T) {
		g, src, _ := fan(t, automaton.GuardAllSet, automaton.GuardNone, automaton.GuardAllSet)
		_, err := Step(g, src, map[string]bool{"X_0_0_0": true})
		if !errors.Is(err, automaton.ErrEmptyMemory) {
			t.Errorf("expected ErrEmptyMemory, got %v", err)
		}
	})
	t.Run("no transitions", func(t *testing.T) {
		g, _, succ := fan(t, automaton.GuardNone)
		_, err := Step(g, succ[0], nil)
		if !errors.Is(err, ErrDeadEnd) {
			t.Errorf("expected ErrDeadEnd, got %v", err)
		}
	})
}

func TestStepAppliesTargetRule(t *testing.T) {
	g, src, succ := fan(t, automaton.GuardNone)
	n, _ := g.Node(succ[0])
	n.Rule = automaton.RuleSetMatched
	g.MemInit([]string{"Y_0_1"})
	if _, err := Step(g, src, nil); err != nil {
		t.Fatal(err)
	}
	if v, _ := g.MemGet("Y_0_1"); v != 1 {
		t.Errorf("expected rule of entered node to set memory, got %v", g.Memory())
	}
}
