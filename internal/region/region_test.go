package region

import (
	"errors"
	"testing"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/label"
)

// ring builds a cyclic controller over cells, each node linked to the next.
func ring(t *testing.T, cells []grid.Coord) (*automaton.Graph, []automaton.Handle) {
	t.Helper()
	g := automaton.New()
	hs := make([]automaton.Handle, len(cells))
	for i, c := range cells {
		hs[i] = g.AddNode(map[string]bool{label.Format("Y", c): true})
	}
	for i := range hs {
		if err := g.AddEdge(hs[i], hs[(i+1)%len(hs)], automaton.GuardNone); err != nil {
			t.Fatal(err)
		}
	}
	return g, hs
}

var square = []grid.Coord{
	{Row: 0, Col: 0}, {Row: 0, Col: 1}, {Row: 0, Col: 2},
	{Row: 1, Col: 2}, {Row: 2, Col: 2}, {Row: 2, Col: 1},
	{Row: 2, Col: 0}, {Row: 1, Col: 0},
}

func TestRegionEntryExit(t *testing.T) {
	g, hs := ring(t, square)
	w := grid.New(3, 3)
	reg, err := Region(g, "Y", w.Box(grid.Coord{Row: 0, Col: 2}, 1))
	if err != nil {
		t.Fatalf("Region failed: %v", err)
	}
	// Box around (0,2) holds (0,1) (0,2) (1,2) of the ring, plus (1,1) which
	// no node visits.
	want := NewSet(hs[1], hs[2], hs[3])
	if !reg.Equals(want) {
		t.Fatalf("Region = %v, want %v", reg.Slice(), want.Slice())
	}
	if entry := Entry(g, reg); !entry.Equals(NewSet(hs[1])) {
		t.Errorf("Entry = %v, want [%s]", entry.Slice(), hs[1])
	}
	if exit := Exit(g, reg); !exit.Equals(NewSet(hs[3])) {
		t.Errorf("Exit = %v, want [%s]", exit.Slice(), hs[3])
	}
}

func TestReachConfinedToRegion(t *testing.T) {
	g, hs := ring(t, square)
	reg := NewSet(hs[1], hs[2], hs[3], hs[6])
	got := Reach(g, hs[1], reg)
	if !got.Equals(NewSet(hs[1], hs[2], hs[3])) {
		t.Errorf("Reach = %v", got.Slice())
	}
}

func TestReachTerminatesOnCycles(t *testing.T) {
	g, hs := ring(t, square)
	// Add self loops and a back edge so the region is strongly connected.
	for _, h := range hs {
		g.AddEdge(h, h, automaton.GuardNone)
	}
	g.AddEdge(hs[3], hs[0], automaton.GuardNone)
	all := NewSet(g.Handles()...)
	if got := Reach(g, hs[0], all); got.Len() != len(hs) {
		t.Errorf("expected all %d nodes reachable, got %d", len(hs), got.Len())
	}
	if got := Reachable(g, []automaton.Handle{hs[4]}); got.Len() != len(hs) {
		t.Errorf("Reachable = %d nodes", got.Len())
	}
}

func TestRegionMutexViolation(t *testing.T) {
	g := automaton.New()
	g.AddNode(map[string]bool{"Y_0_0": true, "Y_0_1": true})
	_, err := Region(g, "Y", []grid.Coord{{Row: 0, Col: 0}})
	if !errors.Is(err, label.ErrMutexViolation) {
		t.Errorf("expected ErrMutexViolation, got %v", err)
	}
}

func TestSetOperations(t *testing.T) {
	_, hs := ring(t, square[:4])
	a := NewSet(hs[0], hs[1])
	b := NewSet(hs[1], hs[2])
	if u := a.Union(b); u.Len() != 3 {
		t.Errorf("Union size %d", u.Len())
	}
	if i := a.Intersect(b); !i.Equals(NewSet(hs[1])) {
		t.Errorf("Intersect = %v", i.Slice())
	}
	s := NewSet(hs[3], hs[0], hs[2]).Slice()
	for i := 1; i < len(s); i++ {
		if s[i-1].Index() > s[i].Index() {
			t.Errorf("Slice not ordered: %v", s)
		}
	}
}
