package automaton

// TrimDeadStates repeatedly removes nodes without outgoing transitions until
// every remaining node has a successor. It returns the number removed.
func (g *Graph) TrimDeadStates() int {
	removed := 0
	for {
		var dead []Handle
		for _, n := range g.Nodes() {
			if len(n.transitions) == 0 {
				dead = append(dead, n.id)
			}
		}
		if len(dead) == 0 {
			return removed
		}
		removed += g.RemoveNodes(dead)
	}
}

// RemoveFalseInits repeatedly removes nodes that have no inbound transition
// and are not part of the original initial set. It returns the number
// removed.
func (g *Graph) RemoveFalseInits() int {
	removed := 0
	for {
		preds := g.Predecessors()
		var orphans []Handle
		for _, n := range g.Nodes() {
			if !n.Initial && len(preds[n.id]) == 0 {
				orphans = append(orphans, n.id)
			}
		}
		if len(orphans) == 0 {
			return removed
		}
		removed += g.RemoveNodes(orphans)
	}
}

// CleanDuplicateTransitions merges parallel transitions that share a target.
// Identical guards collapse to one edge. A target reachable through an
// ungated edge, or through both GuardAnyUnset and GuardAllSet, is always
// reachable and keeps a single ungated edge. Edge order follows the first
// occurrence of each target.
func (g *Graph) CleanDuplicateTransitions() int {
	merged := 0
	for _, n := range g.Nodes() {
		type acc struct {
			pos    int
			guards map[Guard]bool
		}
		byTarget := make(map[Handle]*acc, len(n.transitions))
		var order []Handle
		for i, t := range n.transitions {
			a, ok := byTarget[t]
			if !ok {
				a = &acc{pos: len(order), guards: map[Guard]bool{}}
				byTarget[t] = a
				order = append(order, t)
			}
			a.guards[n.guards[i]] = true
		}
		if len(order) == len(n.transitions) {
			continue
		}
		merged += len(n.transitions) - len(order)

		var ts []Handle
		var gs []Guard
		for _, t := range order {
			a := byTarget[t]
			switch {
			case a.guards[GuardNone], a.guards[GuardAnyUnset] && a.guards[GuardAllSet]:
				ts, gs = append(ts, t), append(gs, GuardNone)
			default:
				for _, guard := range []Guard{GuardAnyUnset, GuardAllSet} {
					if a.guards[guard] {
						ts, gs = append(ts, t), append(gs, guard)
					}
				}
			}
		}
		n.transitions, n.guards = ts, gs
	}
	return merged
}

// FleshOutGridState makes every node define each proposition of vars.
// Missing propositions are set false; a node with none of vars true gets
// special set true.
func (g *Graph) FleshOutGridState(vars []string, special string) {
	for _, n := range g.Nodes() {
		found := false
		for _, v := range vars {
			if n.State[v] {
				found = true
			} else {
				n.State[v] = false
			}
		}
		if !found && special != "" {
			n.State[special] = true
		}
	}
}

// SetRuleAll sets the rule of every live node.
func (g *Graph) SetRuleAll(r Rule) {
	for _, n := range g.Nodes() {
		n.Rule = r
	}
}

// ClearInitial drops every node from the initial set.
func (g *Graph) ClearInitial() {
	for _, n := range g.Nodes() {
		n.Initial = false
	}
}
