// Package execution runs controllers: single guarded steps, and runs against
// an actual world that stop where the controller's map assumption breaks.
package execution

import (
	"errors"
	"fmt"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/grid"
)

var (
	// ErrNoMatchingTransition means no successor agrees with the input.
	ErrNoMatchingTransition = errors.New("no transition matches input")

	// ErrAmbiguousTransition means more than one agreeing successor is enabled.
	ErrAmbiguousTransition = errors.New("more than one enabled transition")

	// ErrDeadEnd means the node has no way forward: no transitions, no enabled
	// candidate, or no system position.
	ErrDeadEnd = errors.New("controller dead end")

	// ErrInitBlocked means the run's start cell is a wall in the actual world.
	ErrInitBlocked = errors.New("initial position blocked")

	// ErrNoInitialNode means no node places the system at the start cell.
	ErrNoInitialNode = errors.New("no node at initial position")

	// ErrUnsafeController means the controller moved into a wall of the world
	// it was synthesized for.
	ErrUnsafeController = errors.New("controller enters a nominal wall")
)

// ExecutionError records where a run failed.
type ExecutionError struct {
	Node automaton.Handle
	Path []grid.Coord
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed at node %s after %d positions: %v", e.Node, len(e.Path), e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Step takes one transition from node under input. Successors whose
// valuation disagrees with input on any named variable are dropped. A sole
// remaining candidate is taken whatever its guard says; otherwise guards
// pick exactly one. The chosen node's rule is applied to memory.
func Step(g *automaton.Graph, node automaton.Handle, input map[string]bool) (automaton.Handle, error) {
	n, err := g.Node(node)
	if err != nil {
		return automaton.Handle{}, err
	}
	edges := n.Edges()
	if len(edges) == 0 {
		return automaton.Handle{}, fmt.Errorf("%w: node %s has no transitions", ErrDeadEnd, node)
	}

	var candidates []automaton.Edge
	for _, e := range edges {
		succ, err := g.Node(e.To)
		if err != nil {
			return automaton.Handle{}, err
		}
		if automaton.Agrees(succ.State, input) {
			candidates = append(candidates, e)
		}
	}

	var next automaton.Handle
	switch len(candidates) {
	case 0:
		return automaton.Handle{}, fmt.Errorf("%w: node %s", ErrNoMatchingTransition, node)
	case 1:
		next = candidates[0].To
	default:
		enabled := make(map[automaton.Handle]bool)
		var order []automaton.Handle
		for _, c := range candidates {
			ok, err := g.EvalGuard(c.Guard)
			if err != nil {
				return automaton.Handle{}, fmt.Errorf("node %s: %w", node, err)
			}
			if ok && !enabled[c.To] {
				enabled[c.To] = true
				order = append(order, c.To)
			}
		}
		switch len(order) {
		case 0:
			return automaton.Handle{}, fmt.Errorf("%w: node %s has %d candidates, none enabled", ErrDeadEnd, node, len(candidates))
		case 1:
			next = order[0]
		default:
			return automaton.Handle{}, fmt.Errorf("%w: node %s enables %v", ErrAmbiguousTransition, node, order)
		}
	}

	if err := g.Enter(next); err != nil {
		return automaton.Handle{}, err
	}
	return next, nil
}
