package patch

import (
	"context"
	"fmt"
	"slices"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/constants"
	"github.com/nvandessel/btsynth/internal/execution"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/label"
	"github.com/nvandessel/btsynth/internal/oracle"
	"github.com/nvandessel/btsynth/internal/region"
)

// neighborhood is one radius attempt around a divergence.
type neighborhood struct {
	center grid.Coord
	radius int
	cells  []grid.Coord
	// goals are the required goals inside cells, in the global frame.
	goals []grid.Coord
	// whole is set when cells cover the grid.
	whole bool

	region region.Set
	init   region.Set
	entry  region.Set
	exit   region.Set

	sub    *grid.World
	offset grid.Coord
}

// seeds returns Init ∪ Entry in handle order.
func (nb *neighborhood) seeds() []automaton.Handle {
	return nb.init.Union(nb.entry).Slice()
}

// seedPatch is the local controller synthesized for one seed.
type seedPatch struct {
	seed  automaton.Handle
	local *automaton.Graph
	// exits are the region exits the local controller must be able to
	// reach, in handle order.
	exits []automaton.Handle
}

// neighborhood computes the region of g within radius of center.
func (e *Engine) neighborhood(g *automaton.Graph, center grid.Coord, radius int, goals []grid.Coord) (*neighborhood, error) {
	nb := &neighborhood{center: center, radius: radius}
	nb.cells = e.actual.Box(center, radius)
	if len(nb.cells) == 0 {
		return nil, fmt.Errorf("empty neighborhood at %s radius %d", center, radius)
	}
	nb.whole = e.actual.Covers(nb.cells)
	for _, c := range nb.cells {
		if slices.Contains(goals, c) {
			nb.goals = append(nb.goals, c)
		}
	}

	reg, err := region.Region(g, e.cfg.SysPrefix, nb.cells)
	if err != nil {
		return nil, err
	}
	if reg.Len() == g.Len() {
		return nil, fmt.Errorf("%w: region at radius %d holds every controller node", ErrNeighborhoodExhausted, radius)
	}
	nb.region = reg
	nb.init = region.NewSet(g.InitialNodes()...).Intersect(reg)
	nb.entry = region.Entry(g, reg)
	nb.exit = region.Exit(g, reg)

	nb.sub, nb.offset, err = e.actual.Subworld(nb.cells)
	if err != nil {
		return nil, err
	}
	return nb, nil
}

// solve poses one local request per seed. Any failure abandons the whole
// attempt.
func (e *Engine) solve(ctx context.Context, g *automaton.Graph, nb *neighborhood) ([]seedPatch, error) {
	localGoals := make([]grid.Coord, len(nb.goals))
	for i, c := range nb.goals {
		localGoals[i] = c.Sub(nb.offset)
	}

	var patches []seedPatch
	for _, seed := range nb.seeds() {
		req, exits, err := e.request(g, nb, seed, localGoals)
		if err != nil {
			return nil, err
		}
		local, err := e.oracle.Synthesize(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", seed, err)
		}
		patches = append(patches, seedPatch{seed: seed, local: local, exits: exits})
	}
	return patches, nil
}

// request builds the local synthesis problem of seed.
func (e *Engine) request(g *automaton.Graph, nb *neighborhood, seed automaton.Handle, localGoals []grid.Coord) (*oracle.Request, []automaton.Handle, error) {
	pos, err := execution.SysPosition(g, seed, e.cfg.SysPrefix)
	if err != nil {
		return nil, nil, err
	}
	n, err := g.Node(seed)
	if err != nil {
		return nil, nil, err
	}

	var obstacles []oracle.Obstacle
	for i := range e.cfg.NumObstacles {
		c, found, err := label.Extract(n.State, label.EnvPrefix(e.cfg.EnvPrefix, i))
		if err != nil {
			return nil, nil, fmt.Errorf("seed %s: %w", seed, err)
		}
		switch {
		case !found:
			c = grid.Nowhere
		case !c.IsNowhere():
			c = c.Sub(nb.offset)
		}
		obstacles = append(obstacles, oracle.Obstacle{Center: c, Radius: e.cfg.ObstacleRadius})
	}

	var exits []automaton.Handle
	if nb.exit.Len() > 0 {
		exits = region.Reach(g, seed, nb.region).Intersect(nb.exit).Slice()
		if e.cfg.ExitPolicy == constants.ExitFirstReachable && len(exits) > 1 {
			exits = exits[:1]
		}
	}
	var disjunct []grid.Coord
	for _, x := range exits {
		c, err := execution.SysPosition(g, x, e.cfg.SysPrefix)
		if err != nil {
			return nil, nil, err
		}
		c = c.Sub(nb.offset)
		if !slices.Contains(disjunct, c) {
			disjunct = append(disjunct, c)
		}
	}

	req := &oracle.Request{
		World:         nb.sub,
		Inits:         []grid.Coord{pos.Sub(nb.offset)},
		Goals:         localGoals,
		GoalsDisjunct: disjunct,
		SysPrefix:     e.cfg.SysPrefix,
		EnvPrefix:     e.cfg.EnvPrefix,
		Obstacles:     obstacles,
	}
	return req, exits, nil
}
