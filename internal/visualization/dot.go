// Package visualization renders controllers in various output formats.
package visualization

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/label"
)

// Format specifies the output format for controller rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
)

// ruleColors maps node memory rules to DOT fill colors.
var ruleColors = map[automaton.Rule]string{
	automaton.RuleNone:       "white",
	automaton.RuleClearAll:   "lightgray",
	automaton.RuleSetMatched: "lightblue",
}

// guardStyles maps transition guards to DOT edge styles.
var guardStyles = map[automaton.Guard]string{
	automaton.GuardNone:     "solid",
	automaton.GuardAnyUnset: "dashed",
	automaton.GuardAllSet:   "bold",
}

// Options controls rendering.
type Options struct {
	// Name is the graph identifier. Defaults to "controller".
	Name string

	// SysPrefix selects the proposition shown as the node's position.
	SysPrefix string

	// Highlight marks nodes, e.g. those visited by a simulation trace.
	Highlight []automaton.Handle
}

// nodeIDs assigns dense ids in arena order, matching automaton documents.
func nodeIDs(g *automaton.Graph) map[automaton.Handle]int {
	ids := make(map[automaton.Handle]int, g.Len())
	for i, n := range g.Nodes() {
		ids[n.ID()] = i
	}
	return ids
}

// nodeLabel returns the node's position and its other true propositions.
func nodeLabel(n *automaton.Node, sysPrefix string) (string, []string) {
	pos := "?"
	if c, found, err := label.Extract(n.State, sysPrefix); err == nil && found {
		pos = c.String()
	}
	var rest []string
	for name, v := range n.State {
		if v && !label.HasPrefix(name, sysPrefix) {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return pos, rest
}

// RenderDOT produces a Graphviz DOT representation of a controller.
func RenderDOT(g *automaton.Graph, opts Options) string {
	name := opts.Name
	if name == "" {
		name = "controller"
	}
	ids := nodeIDs(g)

	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", name)
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=filled, fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n")
	if names := g.MemNames(); len(names) > 0 {
		fmt.Fprintf(&b, "  label=%q;\n", "memory: "+strings.Join(names, ", "))
	}
	b.WriteString("\n")

	var inits []int
	for _, n := range g.Nodes() {
		id := ids[n.ID()]
		pos, rest := nodeLabel(n, opts.SysPrefix)
		text := fmt.Sprintf("n%d %s", id, pos)
		if len(rest) > 0 {
			text += "\n" + strings.Join(rest, " ")
		}
		color := ruleColors[n.Rule]
		if slices.Contains(opts.Highlight, n.ID()) {
			color = "gold"
		}
		fmt.Fprintf(&b, "  n%d [label=%q, fillcolor=%q];\n", id, text, color)
		if n.Initial {
			inits = append(inits, id)
		}
	}
	b.WriteString("\n")

	for i, id := range inits {
		fmt.Fprintf(&b, "  start%d [shape=point];\n", i)
		fmt.Fprintf(&b, "  start%d -> n%d;\n", i, id)
	}

	for _, n := range g.Nodes() {
		for _, e := range n.Edges() {
			attrs := "style=" + guardStyles[e.Guard]
			if e.Guard != automaton.GuardNone {
				attrs += fmt.Sprintf(", label=%q", e.Guard.String())
			}
			fmt.Fprintf(&b, "  n%d -> n%d [%s];\n", ids[n.ID()], ids[e.To], attrs)
		}
	}

	b.WriteString("}\n")
	return b.String()
}

// RenderJSON produces a JSON graph representation with nodes and edges arrays.
func RenderJSON(g *automaton.Graph, opts Options) map[string]interface{} {
	ids := nodeIDs(g)

	jsonNodes := make([]map[string]interface{}, 0, g.Len())
	jsonEdges := make([]map[string]interface{}, 0)
	for _, n := range g.Nodes() {
		id := ids[n.ID()]
		pos, rest := nodeLabel(n, opts.SysPrefix)
		entry := map[string]interface{}{
			"id":       id,
			"position": pos,
			"props":    rest,
			"rule":     n.Rule.String(),
			"initial":  n.Initial,
		}
		if slices.Contains(opts.Highlight, n.ID()) {
			entry["highlight"] = true
		}
		jsonNodes = append(jsonNodes, entry)

		for _, e := range n.Edges() {
			jsonEdges = append(jsonEdges, map[string]interface{}{
				"source": id,
				"target": ids[e.To],
				"guard":  e.Guard.String(),
			})
		}
	}

	return map[string]interface{}{
		"nodes":      jsonNodes,
		"edges":      jsonEdges,
		"memory":     g.Memory(),
		"node_count": len(jsonNodes),
		"edge_count": len(jsonEdges),
	}
}
