package patch

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/constants"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/label"
)

// mergeStats summarizes one merge.
type mergeStats struct {
	imported   int
	redirected int
	spliced    int
	killed     int
	orphans    int
	duplicates int
}

// merge folds every seed patch into g and removes the nodes standing on the
// divergence cell. On error g may be partially modified.
func (e *Engine) merge(g *automaton.Graph, nb *neighborhood, patches []seedPatch) (*mergeStats, error) {
	st := &mergeStats{}
	sysVars, envVars := e.globalVars(g)

	for _, p := range patches {
		p.local.TrimDeadStates()
		p.local.ClearInitial()
		if err := e.globalize(p.local, nb.offset, sysVars, envVars); err != nil {
			return nil, fmt.Errorf("seed %s: %w", p.seed, err)
		}
		p.local.SetRuleAll(automaton.RuleSetMatched)
	}

	g.SetRuleAll(automaton.RuleClearAll)

	remaps := make([]map[automaton.Handle]automaton.Handle, len(patches))
	for i, p := range patches {
		remaps[i] = g.ImportSubgraph(p.local)
		st.imported += p.local.Len()
	}

	memNames := make([]string, len(nb.goals))
	for i, c := range nb.goals {
		memNames[i] = label.Format(e.cfg.SysPrefix, c)
	}
	g.MemInit(memNames)

	for i, p := range patches {
		n, err := e.stitchEntry(g, p, remaps[i])
		if err != nil {
			return nil, err
		}
		st.redirected += n
		n, err = e.spliceExits(g, p, remaps[i])
		if err != nil {
			return nil, err
		}
		st.spliced += n
	}

	var kill []automaton.Handle
	for _, n := range g.Nodes() {
		c, found, err := label.Extract(n.State, e.cfg.SysPrefix)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID(), err)
		}
		if found && c == nb.center {
			kill = append(kill, n.ID())
		}
	}
	st.killed = g.RemoveNodes(kill)
	g.PackIDs()
	st.orphans = g.RemoveFalseInits()
	g.PackIDs()
	st.duplicates = g.CleanDuplicateTransitions()
	return st, nil
}

// globalVars lists the system propositions of g and, per environment
// agent, its propositions.
func (e *Engine) globalVars(g *automaton.Graph) ([]string, [][]string) {
	sys := make(map[string]bool)
	env := make([]map[string]bool, e.cfg.NumObstacles)
	for i := range env {
		env[i] = make(map[string]bool)
	}
	for _, n := range g.Nodes() {
		for k := range n.State {
			if label.HasPrefix(k, e.cfg.SysPrefix) {
				sys[k] = true
			}
			for i := range env {
				if label.HasPrefix(k, label.EnvPrefix(e.cfg.EnvPrefix, i)) {
					env[i][k] = true
				}
			}
		}
	}
	envVars := make([][]string, len(env))
	for i := range env {
		envVars[i] = slices.Sorted(maps.Keys(env[i]))
	}
	return slices.Sorted(maps.Keys(sys)), envVars
}

// globalize moves local into the global frame: locative names shift by
// offset, absent system propositions become false and each environment
// agent gets the full global proposition list.
func (e *Engine) globalize(local *automaton.Graph, offset grid.Coord, sysVars []string, envVars [][]string) error {
	for _, n := range local.Nodes() {
		state := make(map[string]bool, len(sysVars)+len(n.State))
		for k, v := range n.State {
			if _, _, err := label.Parse(k); err != nil {
				state[k] = v
				continue
			}
			shifted, err := label.Shift(k, offset)
			if err != nil {
				return err
			}
			state[shifted] = v
		}
		for _, k := range sysVars {
			if _, ok := state[k]; !ok {
				state[k] = false
			}
		}
		n.State = state
	}
	for i, vars := range envVars {
		local.FleshOutGridState(vars, label.Nowhere(label.EnvPrefix(e.cfg.EnvPrefix, i)))
	}
	return nil
}

// stitchEntry redirects the outgoing edges of the seed into the imported
// controller. Edge k goes to a successor of an imported node at the seed's
// system state whose valuation agrees with the environment part of the
// old target. Edges with no consistent successor are left alone.
func (e *Engine) stitchEntry(g *automaton.Graph, p seedPatch, remap map[automaton.Handle]automaton.Handle) (int, error) {
	seed, err := g.Node(p.seed)
	if err != nil {
		return 0, err
	}
	matches := p.local.FindAll(e.sysState(seed.State))
	if len(matches) == 0 {
		return 0, fmt.Errorf("%w: no imported node at the position of seed %s", ErrMergeInconsistent, p.seed)
	}

	redirected := 0
	for k, edge := range seed.Edges() {
		next, err := g.Node(edge.To)
		if err != nil {
			return redirected, err
		}
		envState := e.envState(next.State)

		var candidates []automaton.Handle
		for _, m := range matches {
			mn, _ := p.local.Node(m)
			for _, t := range mn.Transitions() {
				tn, _ := p.local.Node(t)
				if automaton.Agrees(tn.State, envState) && !slices.Contains(candidates, remap[t]) {
					candidates = append(candidates, remap[t])
				}
			}
		}
		if len(candidates) == 0 {
			continue
		}
		if len(candidates) > 1 && e.cfg.StitchPolicy == constants.StitchStrict {
			return redirected, fmt.Errorf("%w: seed %s edge %d matches %d successors", ErrAmbiguousStitch, p.seed, k, len(candidates))
		}
		if err := g.Redirect(p.seed, k, candidates[0], automaton.GuardNone); err != nil {
			return redirected, err
		}
		redirected++
	}
	e.logger.Debug("entry stitched",
		slog.String("seed", p.seed.String()),
		slog.Int("matches", len(matches)),
		slog.Int("redirected", redirected))
	return redirected, nil
}

// spliceExits hands control from the imported controller back to the
// global one at every exit. With memory, the local edges stay enabled
// while any cell is unset and the exit's continuation opens once all are
// set; without memory the continuation replaces the local edges.
func (e *Engine) spliceExits(g *automaton.Graph, p seedPatch, remap map[automaton.Handle]automaton.Handle) (int, error) {
	if len(p.exits) == 0 {
		return 0, nil
	}
	gated := len(g.Memory()) > 0
	spliced := 0
	for _, x := range p.exits {
		exit, err := g.Node(x)
		if err != nil {
			return spliced, err
		}
		cont := exit.Edges()
		for _, lh := range p.local.FindAll(e.sysState(exit.State)) {
			h := remap[lh]
			n, err := g.Node(h)
			if err != nil {
				return spliced, err
			}
			var edges []automaton.Edge
			if gated {
				edges = n.Edges()
				for i := range edges {
					if edges[i].Guard == automaton.GuardNone {
						edges[i].Guard = automaton.GuardAnyUnset
					}
				}
				for _, c := range cont {
					edges = append(edges, automaton.Edge{To: c.To, Guard: automaton.GuardAllSet})
				}
			} else {
				for _, c := range cont {
					edges = append(edges, automaton.Edge{To: c.To, Guard: automaton.GuardNone})
				}
			}
			if err := g.SetEdges(h, edges); err != nil {
				return spliced, err
			}
			spliced++
		}
	}
	if spliced == 0 {
		return 0, fmt.Errorf("%w: no imported node at any exit of seed %s", ErrMergeInconsistent, p.seed)
	}
	return spliced, nil
}

// sysState is the system part of a valuation.
func (e *Engine) sysState(state map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k, v := range state {
		if label.HasPrefix(k, e.cfg.SysPrefix) {
			out[k] = v
		}
	}
	return out
}

// envState is the environment part of a valuation.
func (e *Engine) envState(state map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k, v := range state {
		if label.InGroup(k, e.cfg.EnvPrefix) {
			out[k] = v
		}
	}
	return out
}
