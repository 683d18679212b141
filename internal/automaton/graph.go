// Package automaton holds the controller graph: an arena of nodes addressed
// by stable handles, their guarded transitions, and the finite memory
// register that guards read and node rules write.
package automaton

import (
	"errors"
	"fmt"
	"maps"
)

var (
	// ErrHandleNotFound is returned for removed, stale or foreign handles.
	ErrHandleNotFound = errors.New("handle not found")

	// ErrEdgeIndex is returned for an out-of-range transition index.
	ErrEdgeIndex = errors.New("transition index out of range")
)

// Handle addresses a node. A handle stays valid until its node is removed
// or the graph is repacked; after that every lookup with it fails.
type Handle struct {
	index uint32
	gen   uint32
}

// Index is the node's dense position at the time the handle was issued.
func (h Handle) Index() int {
	return int(h.index)
}

func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.index, h.gen)
}

// Edge is one guarded transition.
type Edge struct {
	To    Handle
	Guard Guard
}

// Node is a controller state.
type Node struct {
	// State is the node's valuation. Absent propositions are false.
	State map[string]bool
	// Rule runs on the memory register when the node is entered.
	Rule Rule
	// Initial marks membership in the controller's original initial set.
	Initial bool

	id          Handle
	transitions []Handle
	guards      []Guard
}

// ID returns the node's handle.
func (n *Node) ID() Handle {
	return n.id
}

// Transitions returns a copy of the successor list.
func (n *Node) Transitions() []Handle {
	return append([]Handle(nil), n.transitions...)
}

// Guards returns a copy of the guard list, parallel to Transitions.
func (n *Node) Guards() []Guard {
	return append([]Guard(nil), n.guards...)
}

// Edges returns transitions paired with their guards.
func (n *Node) Edges() []Edge {
	out := make([]Edge, len(n.transitions))
	for i := range n.transitions {
		out[i] = Edge{To: n.transitions[i], Guard: n.guards[i]}
	}
	return out
}

// Degree is the number of outgoing transitions.
func (n *Node) Degree() int {
	return len(n.transitions)
}

type slot struct {
	node *Node
	gen  uint32
}

// Graph is the controller automaton. It owns its nodes and its memory
// register. A Graph is not safe for concurrent use.
type Graph struct {
	slots   []slot
	live    int
	nextGen uint32
	memory  map[string]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nextGen: 1}
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	return g.live
}

func (g *Graph) lookup(h Handle) (*Node, bool) {
	if int(h.index) >= len(g.slots) {
		return nil, false
	}
	s := g.slots[h.index]
	if s.node == nil || s.gen != h.gen {
		return nil, false
	}
	return s.node, true
}

// Node returns the node addressed by h.
func (g *Graph) Node(h Handle) (*Node, error) {
	n, ok := g.lookup(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandleNotFound, h)
	}
	return n, nil
}

// Contains reports whether h addresses a live node.
func (g *Graph) Contains(h Handle) bool {
	_, ok := g.lookup(h)
	return ok
}

// AddNode appends a node with the given valuation and no transitions.
func (g *Graph) AddNode(state map[string]bool) Handle {
	h := Handle{index: uint32(len(g.slots)), gen: g.nextGen}
	g.nextGen++
	if state == nil {
		state = make(map[string]bool)
	}
	g.slots = append(g.slots, slot{node: &Node{id: h, State: state}, gen: h.gen})
	g.live++
	return h
}

// Handles returns every live handle in arena order.
func (g *Graph) Handles() []Handle {
	out := make([]Handle, 0, g.live)
	for _, s := range g.slots {
		if s.node != nil {
			out = append(out, s.node.id)
		}
	}
	return out
}

// Nodes returns every live node in arena order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, g.live)
	for _, s := range g.slots {
		if s.node != nil {
			out = append(out, s.node)
		}
	}
	return out
}

// AddEdge appends a guarded transition from -> to.
func (g *Graph) AddEdge(from, to Handle, guard Guard) error {
	n, err := g.Node(from)
	if err != nil {
		return err
	}
	if !g.Contains(to) {
		return fmt.Errorf("%w: edge target %s", ErrHandleNotFound, to)
	}
	n.transitions = append(n.transitions, to)
	n.guards = append(n.guards, guard)
	return nil
}

// SetEdges replaces the outgoing transitions of h.
func (g *Graph) SetEdges(h Handle, edges []Edge) error {
	n, err := g.Node(h)
	if err != nil {
		return err
	}
	ts := make([]Handle, len(edges))
	gs := make([]Guard, len(edges))
	for i, e := range edges {
		if !g.Contains(e.To) {
			return fmt.Errorf("%w: edge target %s", ErrHandleNotFound, e.To)
		}
		ts[i] = e.To
		gs[i] = e.Guard
	}
	n.transitions = ts
	n.guards = gs
	return nil
}

// Redirect points transition i of h at to and sets its guard.
func (g *Graph) Redirect(h Handle, i int, to Handle, guard Guard) error {
	n, err := g.Node(h)
	if err != nil {
		return err
	}
	if i < 0 || i >= len(n.transitions) {
		return fmt.Errorf("%w: %d of %d", ErrEdgeIndex, i, len(n.transitions))
	}
	if !g.Contains(to) {
		return fmt.Errorf("%w: edge target %s", ErrHandleNotFound, to)
	}
	n.transitions[i] = to
	n.guards[i] = guard
	return nil
}

// SetGuard changes the guard of transition i of h.
func (g *Graph) SetGuard(h Handle, i int, guard Guard) error {
	n, err := g.Node(h)
	if err != nil {
		return err
	}
	if i < 0 || i >= len(n.guards) {
		return fmt.Errorf("%w: %d of %d", ErrEdgeIndex, i, len(n.guards))
	}
	n.guards[i] = guard
	return nil
}

// RemoveNode deletes h and strips every transition into it.
func (g *Graph) RemoveNode(h Handle) error {
	if _, err := g.Node(h); err != nil {
		return err
	}
	g.slots[h.index].node = nil
	g.live--
	for _, n := range g.Nodes() {
		n.dropTargets(map[Handle]bool{h: true})
	}
	return nil
}

// RemoveNodes deletes a batch of nodes in one sweep over the edges.
// Unknown handles are ignored.
func (g *Graph) RemoveNodes(hs []Handle) int {
	dead := make(map[Handle]bool, len(hs))
	for _, h := range hs {
		if g.Contains(h) {
			dead[h] = true
			g.slots[h.index].node = nil
			g.live--
		}
	}
	if len(dead) == 0 {
		return 0
	}
	for _, n := range g.Nodes() {
		n.dropTargets(dead)
	}
	return len(dead)
}

func (n *Node) dropTargets(dead map[Handle]bool) {
	k := 0
	for i, t := range n.transitions {
		if dead[t] {
			continue
		}
		n.transitions[k] = t
		n.guards[k] = n.guards[i]
		k++
	}
	n.transitions = n.transitions[:k]
	n.guards = n.guards[:k]
}

// ImportSubgraph copies every node of other into g under fresh handles and
// rewrites other's internal transitions through the returned table, which
// maps other's handles to g's.
func (g *Graph) ImportSubgraph(other *Graph) map[Handle]Handle {
	remap := make(map[Handle]Handle, other.live)
	src := other.Nodes()
	for _, n := range src {
		remap[n.id] = g.AddNode(maps.Clone(n.State))
	}
	for _, n := range src {
		dst, _ := g.lookup(remap[n.id])
		dst.Rule = n.Rule
		dst.Initial = n.Initial
		for i, t := range n.transitions {
			nt, ok := remap[t]
			if !ok {
				continue
			}
			dst.transitions = append(dst.transitions, nt)
			dst.guards = append(dst.guards, n.guards[i])
		}
	}
	return remap
}

// PackIDs renumbers the live nodes densely in arena order. Every handle
// issued before the call becomes stale; the returned table maps old handles
// to new ones.
func (g *Graph) PackIDs() map[Handle]Handle {
	remap := make(map[Handle]Handle, g.live)
	packed := make([]slot, 0, g.live)
	for _, s := range g.slots {
		if s.node == nil {
			continue
		}
		h := Handle{index: uint32(len(packed)), gen: g.nextGen}
		g.nextGen++
		remap[s.node.id] = h
		packed = append(packed, slot{node: s.node, gen: h.gen})
	}
	for _, s := range packed {
		old := s.node.id
		s.node.id = remap[old]
		for i, t := range s.node.transitions {
			s.node.transitions[i] = remap[t]
		}
	}
	g.slots = packed
	return remap
}

// Clone returns a deep copy. Handles of the copy equal those of g.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		slots:   make([]slot, len(g.slots)),
		live:    g.live,
		nextGen: g.nextGen,
		memory:  maps.Clone(g.memory),
	}
	for i, s := range g.slots {
		out.slots[i].gen = s.gen
		if s.node == nil {
			continue
		}
		out.slots[i].node = &Node{
			id:          s.node.id,
			State:       maps.Clone(s.node.State),
			Rule:        s.node.Rule,
			Initial:     s.node.Initial,
			transitions: append([]Handle(nil), s.node.transitions...),
			guards:      append([]Guard(nil), s.node.guards...),
		}
	}
	return out
}

// Predecessors returns, for every live node, the handles with an edge into
// it.
func (g *Graph) Predecessors() map[Handle][]Handle {
	preds := make(map[Handle][]Handle, g.live)
	for _, n := range g.Nodes() {
		for _, t := range n.transitions {
			preds[t] = append(preds[t], n.id)
		}
	}
	return preds
}

// FindAll returns the nodes whose valuation agrees with every entry of
// partial. Absent propositions are false.
func (g *Graph) FindAll(partial map[string]bool) []Handle {
	var out []Handle
	for _, n := range g.Nodes() {
		if Agrees(n.State, partial) {
			out = append(out, n.id)
		}
	}
	return out
}

// Agrees reports whether state matches every entry of partial.
func Agrees(state, partial map[string]bool) bool {
	for k, v := range partial {
		if state[k] != v {
			return false
		}
	}
	return true
}

// InitialNodes returns the nodes of the original initial set.
func (g *Graph) InitialNodes() []Handle {
	var out []Handle
	for _, n := range g.Nodes() {
		if n.Initial {
			out = append(out, n.id)
		}
	}
	return out
}

// Validate checks that every transition list has a parallel guard list and
// targets live nodes.
func (g *Graph) Validate() error {
	for _, n := range g.Nodes() {
		if len(n.transitions) != len(n.guards) {
			return fmt.Errorf("node %s: %d transitions, %d guards", n.id, len(n.transitions), len(n.guards))
		}
		for _, t := range n.transitions {
			if !g.Contains(t) {
				return fmt.Errorf("node %s: %w: dangling transition to %s", n.id, ErrHandleNotFound, t)
			}
		}
	}
	return nil
}
