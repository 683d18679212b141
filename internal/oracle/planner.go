package oracle

import (
	"context"
	"fmt"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/grid"
)

// Planner answers requests without environment agents by building, for each
// initial cell, a lasso that reaches the first goal, tours the remaining
// goals and the nearest disjunctive goal, and closes the cycle on shortest
// paths. Requests with obstacles get ErrUnsupported.
type Planner struct{}

// NewPlanner returns a Planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Synthesize implements Oracle.
func (p *Planner) Synthesize(ctx context.Context, req *Request) (*automaton.Graph, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(req.Obstacles) > 0 {
		return nil, fmt.Errorf("%w: planner cannot handle %d environment agents", ErrUnsupported, len(req.Obstacles))
	}
	out := automaton.New()
	for _, init := range req.Inits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, loop, err := Plan(req.World, init, req.Goals, req.GoalsDisjunct)
		if err != nil {
			return nil, err
		}
		lasso, err := Lasso(req.World, path, loop, LassoOptions{SysPrefix: req.SysPrefix})
		if err != nil {
			return nil, err
		}
		out.ImportSubgraph(lasso)
	}
	return out, nil
}

// Plan computes a lasso path from init: the returned path ends on the cell
// that steps back to path[loop]. An unreachable or blocked target is
// ErrUnrealizable.
func Plan(w *grid.World, init grid.Coord, goals, disjunct []grid.Coord) ([]grid.Coord, int, error) {
	if w.Blocked(init) {
		return nil, 0, fmt.Errorf("%w: initial cell %s blocked", ErrUnrealizable, init)
	}
	path := []grid.Coord{init}
	loop := -1
	cur := init
	visit := func(target grid.Coord) error {
		seg, ok := shortestPath(w, cur, target)
		if !ok {
			return fmt.Errorf("%w: %s unreachable from %s", ErrUnrealizable, target, cur)
		}
		path = append(path, seg...)
		cur = target
		if loop < 0 {
			loop = len(path) - 1
		}
		return nil
	}

	for _, g := range goals {
		if err := visit(g); err != nil {
			return nil, 0, err
		}
	}
	if len(disjunct) > 0 {
		best, bestLen := grid.Coord{}, -1
		for _, d := range disjunct {
			seg, ok := shortestPath(w, cur, d)
			if ok && (bestLen < 0 || len(seg) < bestLen) {
				best, bestLen = d, len(seg)
			}
		}
		if bestLen < 0 {
			return nil, 0, fmt.Errorf("%w: no disjunctive goal reachable from %s", ErrUnrealizable, cur)
		}
		if err := visit(best); err != nil {
			return nil, 0, err
		}
	}
	if loop < 0 {
		// Nothing to visit: stay put.
		return path, 0, nil
	}

	back, ok := shortestPath(w, cur, path[loop])
	if !ok {
		return nil, 0, fmt.Errorf("%w: cannot return to %s from %s", ErrUnrealizable, path[loop], cur)
	}
	if len(back) > 0 {
		path = append(path, back[:len(back)-1]...)
	}
	return path, loop, nil
}

var moves = []grid.Coord{{Row: -1}, {Row: 1}, {Col: -1}, {Col: 1}}

// shortestPath returns the cells after from up to and including to, moving
// between adjacent free cells. An empty path means from == to.
func shortestPath(w *grid.World, from, to grid.Coord) ([]grid.Coord, bool) {
	if w.Blocked(to) {
		return nil, false
	}
	if from == to {
		return nil, true
	}
	parent := map[grid.Coord]grid.Coord{from: from}
	queue := []grid.Coord{from}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, m := range moves {
			n := c.Add(m)
			if w.Blocked(n) {
				continue
			}
			if _, seen := parent[n]; seen {
				continue
			}
			parent[n] = c
			if n == to {
				var rev []grid.Coord
				for x := to; x != from; x = parent[x] {
					rev = append(rev, x)
				}
				out := make([]grid.Coord, len(rev))
				for i := range rev {
					out[i] = rev[len(rev)-1-i]
				}
				return out, true
			}
			queue = append(queue, n)
		}
	}
	return nil, false
}
