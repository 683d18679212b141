package automaton

import "testing"

func TestTrimDeadStates(t *testing.T) {
	g := New()
	a := g.AddNode(map[string]bool{"Y_0_0": true})
	b := g.AddNode(map[string]bool{"Y_0_1": true})
	c := g.AddNode(map[string]bool{"Y_0_2": true})
	d := g.AddNode(map[string]bool{"Y_1_0": true})
	// a <-> b, c -> d, d is dead so c becomes dead.
	g.AddEdge(a, b, GuardNone)
	g.AddEdge(b, a, GuardNone)
	g.AddEdge(c, d, GuardNone)
	g.AddEdge(a, c, GuardNone)

	if got := g.TrimDeadStates(); got != 2 {
		t.Errorf("expected 2 removed, got %d", got)
	}
	if g.Contains(c) || g.Contains(d) {
		t.Error("dead chain not trimmed")
	}
	n, _ := g.Node(a)
	if n.Degree() != 1 {
		t.Errorf("expected a to keep only its edge to b, got %v", n.Transitions())
	}
	assertParallel(t, g)
}

func TestRemoveFalseInits(t *testing.T) {
	g := New()
	start := g.AddNode(map[string]bool{"Y_0_0": true})
	loop := g.AddNode(map[string]bool{"Y_0_1": true})
	orphan := g.AddNode(map[string]bool{"Y_1_1": true})
	tail := g.AddNode(map[string]bool{"Y_1_2": true})
	g.AddEdge(start, loop, GuardNone)
	g.AddEdge(loop, loop, GuardNone)
	g.AddEdge(orphan, tail, GuardNone)
	g.AddEdge(tail, loop, GuardNone)
	n, _ := g.Node(start)
	n.Initial = true

	if got := g.RemoveFalseInits(); got != 2 {
		t.Errorf("expected orphan and tail removed, got %d", got)
	}
	if !g.Contains(start) || !g.Contains(loop) {
		t.Error("initial node or its successor removed")
	}
	if g.Contains(orphan) || g.Contains(tail) {
		t.Error("false initial chain kept")
	}
}

func TestCleanDuplicateTransitions(t *testing.T) {
	g := New()
	a := g.AddNode(nil)
	b := g.AddNode(nil)
	c := g.AddNode(nil)
	d := g.AddNode(nil)
	g.AddEdge(a, b, GuardAnyUnset)
	g.AddEdge(a, c, GuardAllSet)
	g.AddEdge(a, b, GuardAllSet)
	g.AddEdge(a, c, GuardAllSet)
	g.AddEdge(a, d, GuardNone)
	g.AddEdge(a, d, GuardAnyUnset)

	if got := g.CleanDuplicateTransitions(); got != 3 {
		t.Errorf("expected 3 merged edges, got %d", got)
	}
	n, _ := g.Node(a)
	want := []Edge{{b, GuardNone}, {c, GuardAllSet}, {d, GuardNone}}
	got := n.Edges()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("edge %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	assertParallel(t, g)
}

func TestFleshOutGridState(t *testing.T) {
	g := New()
	a := g.AddNode(map[string]bool{"X_0_1_1": true})
	b := g.AddNode(map[string]bool{})
	vars := []string{"X_0_1_1", "X_0_1_2", "X_0_n_n"}
	g.FleshOutGridState(vars, "X_0_n_n")

	na, _ := g.Node(a)
	if len(na.State) != 3 || na.State["X_0_n_n"] {
		t.Errorf("unexpected state %v", na.State)
	}
	nb, _ := g.Node(b)
	if !nb.State["X_0_n_n"] {
		t.Errorf("expected nowhere set for node without position, got %v", nb.State)
	}
}
