// Package region computes node sets of a controller selected by grid
// position, their boundary crossings, and reachability confined to them.
package region

import (
	"fmt"
	"sort"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/label"
)

// Set is a set of node handles.
type Set map[automaton.Handle]struct{}

// NewSet returns a set holding hs.
func NewSet(hs ...automaton.Handle) Set {
	s := make(Set, len(hs))
	for _, h := range hs {
		s.Add(h)
	}
	return s
}

// Has reports membership.
func (s Set) Has(h automaton.Handle) bool {
	_, ok := s[h]
	return ok
}

// Add inserts h.
func (s Set) Add(h automaton.Handle) {
	s[h] = struct{}{}
}

func (s Set) Len() int {
	return len(s)
}

// Union returns s ∪ o.
func (s Set) Union(o Set) Set {
	out := make(Set, len(s)+len(o))
	for h := range s {
		out.Add(h)
	}
	for h := range o {
		out.Add(h)
	}
	return out
}

// Intersect returns s ∩ o.
func (s Set) Intersect(o Set) Set {
	out := make(Set)
	for h := range s {
		if o.Has(h) {
			out.Add(h)
		}
	}
	return out
}

// Equals reports whether both sets hold the same handles.
func (s Set) Equals(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for h := range s {
		if !o.Has(h) {
			return false
		}
	}
	return true
}

// Slice returns the handles in arena order.
func (s Set) Slice() []automaton.Handle {
	out := make([]automaton.Handle, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out
}

// Region returns the nodes whose prefix position lies in nbhd. Nodes without
// a position of prefix are not part of any region.
func Region(g *automaton.Graph, prefix string, nbhd []grid.Coord) (Set, error) {
	cells := make(map[grid.Coord]bool, len(nbhd))
	for _, c := range nbhd {
		cells[c] = true
	}
	out := make(Set)
	for _, n := range g.Nodes() {
		c, found, err := label.Extract(n.State, prefix)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID(), err)
		}
		if found && cells[c] {
			out.Add(n.ID())
		}
	}
	return out, nil
}

// Entry returns the nodes of reg with an inbound transition from outside reg.
func Entry(g *automaton.Graph, reg Set) Set {
	out := make(Set)
	for _, n := range g.Nodes() {
		if reg.Has(n.ID()) {
			continue
		}
		for _, t := range n.Transitions() {
			if reg.Has(t) {
				out.Add(t)
			}
		}
	}
	return out
}

// Exit returns the nodes of reg with an outbound transition leaving reg.
func Exit(g *automaton.Graph, reg Set) Set {
	out := make(Set)
	for h := range reg {
		n, err := g.Node(h)
		if err != nil {
			continue
		}
		for _, t := range n.Transitions() {
			if !reg.Has(t) {
				out.Add(h)
				break
			}
		}
	}
	return out
}

// Reach returns the nodes reachable from seed without leaving reg, seed
// included. It is the least fixed point of W = {seed} ∪ (post(W) ∩ reg).
func Reach(g *automaton.Graph, seed automaton.Handle, reg Set) Set {
	w := NewSet(seed)
	frontier := []automaton.Handle{seed}
	for len(frontier) > 0 {
		var next []automaton.Handle
		for _, h := range frontier {
			n, err := g.Node(h)
			if err != nil {
				continue
			}
			for _, t := range n.Transitions() {
				if reg.Has(t) && !w.Has(t) {
					w.Add(t)
					next = append(next, t)
				}
			}
		}
		frontier = next
	}
	return w
}

// Reachable returns every node reachable from the given roots, roots
// included.
func Reachable(g *automaton.Graph, roots []automaton.Handle) Set {
	all := NewSet(g.Handles()...)
	out := make(Set)
	for _, r := range roots {
		if out.Has(r) {
			continue
		}
		out = out.Union(Reach(g, r, all))
	}
	return out
}
