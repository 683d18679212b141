package automaton

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/btsynth/internal/constants"
	"github.com/nvandessel/btsynth/internal/label"
)

// ErrMalformedAutomaton is returned when a persisted automaton cannot be
// decoded into a consistent graph.
var ErrMalformedAutomaton = errors.New("malformed automaton")

// Document is the persisted automaton format. Node ids are integers,
// valuations map proposition names to 0 or 1, and transitions list
// successor ids. Guards, rules and memory are present only for patched
// controllers.
type Document struct {
	Nodes   []NodeDocument `json:"nodes" yaml:"nodes"`
	Initial []int          `json:"initial,omitempty" yaml:"initial,omitempty"`
	Memory  map[string]int `json:"memory,omitempty" yaml:"memory,omitempty"`
}

// NodeDocument is one persisted node.
type NodeDocument struct {
	ID          int            `json:"id" yaml:"id"`
	State       map[string]int `json:"state" yaml:"state"`
	Transitions []int          `json:"transitions" yaml:"transitions"`
	Guards      []Guard        `json:"guards,omitempty" yaml:"guards,omitempty"`
	Rule        Rule           `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// ToDocument snapshots g with dense ids in arena order.
func (g *Graph) ToDocument() *Document {
	nodes := g.Nodes()
	ids := make(map[Handle]int, len(nodes))
	for i, n := range nodes {
		ids[n.id] = i
	}
	doc := &Document{Nodes: make([]NodeDocument, 0, len(nodes)), Memory: maps.Clone(g.memory)}
	for i, n := range nodes {
		nd := NodeDocument{
			ID:          i,
			State:       make(map[string]int, len(n.State)),
			Transitions: make([]int, len(n.transitions)),
			Rule:        n.Rule,
		}
		for k, v := range n.State {
			if v {
				nd.State[k] = 1
			} else {
				nd.State[k] = 0
			}
		}
		gated := false
		for j, t := range n.transitions {
			nd.Transitions[j] = ids[t]
			if n.guards[j] != GuardNone {
				gated = true
			}
		}
		if gated {
			nd.Guards = slices.Clone(n.guards)
		}
		if n.Initial {
			doc.Initial = append(doc.Initial, i)
		}
		doc.Nodes = append(doc.Nodes, nd)
	}
	return doc
}

// DecodeOption adjusts how a persisted automaton is decoded.
type DecodeOption func(*decodeConfig)

type decodeConfig struct {
	groups []string
}

// WithLocativeGroups replaces the locative groups checked at decode. Every
// proposition in one of the groups must parse as prefix_ROW_COL.
func WithLocativeGroups(groups ...string) DecodeOption {
	return func(c *decodeConfig) {
		c.groups = groups
	}
}

func (c *decodeConfig) checkName(name string) error {
	for _, group := range c.groups {
		if group == "" || !label.InGroup(name, group) {
			continue
		}
		_, _, err := label.Parse(name)
		return err
	}
	return nil
}

// FromDocument builds a graph from doc. When doc lists no initial nodes,
// nodes without inbound transitions are initial. Names in the default
// system and environment groups must be well formed locatives.
func FromDocument(doc *Document, opts ...DecodeOption) (*Graph, error) {
	cfg := &decodeConfig{groups: []string{constants.DefaultSysPrefix, constants.DefaultEnvPrefix}}
	for _, opt := range opts {
		opt(cfg)
	}
	g := New()
	handles := make(map[int]Handle, len(doc.Nodes))
	for _, nd := range doc.Nodes {
		if _, dup := handles[nd.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %d", ErrMalformedAutomaton, nd.ID)
		}
		state := make(map[string]bool, len(nd.State))
		for k, v := range nd.State {
			if err := cfg.checkName(k); err != nil {
				return nil, fmt.Errorf("%w: node %d: %w", ErrMalformedAutomaton, nd.ID, err)
			}
			switch v {
			case 0:
				state[k] = false
			case 1:
				state[k] = true
			default:
				return nil, fmt.Errorf("%w: node %d: %s = %d is not boolean", ErrMalformedAutomaton, nd.ID, k, v)
			}
		}
		h := g.AddNode(state)
		handles[nd.ID] = h
		n, _ := g.lookup(h)
		n.Rule = nd.Rule
	}
	for _, nd := range doc.Nodes {
		if len(nd.Guards) != 0 && len(nd.Guards) != len(nd.Transitions) {
			return nil, fmt.Errorf("%w: node %d: %d guards for %d transitions", ErrMalformedAutomaton, nd.ID, len(nd.Guards), len(nd.Transitions))
		}
		from := handles[nd.ID]
		for i, t := range nd.Transitions {
			to, ok := handles[t]
			if !ok {
				return nil, fmt.Errorf("%w: node %d: transition to unknown node %d", ErrMalformedAutomaton, nd.ID, t)
			}
			guard := GuardNone
			if len(nd.Guards) != 0 {
				guard = nd.Guards[i]
			}
			if err := g.AddEdge(from, to, guard); err != nil {
				return nil, err
			}
		}
	}
	if len(doc.Initial) > 0 {
		for _, id := range doc.Initial {
			h, ok := handles[id]
			if !ok {
				return nil, fmt.Errorf("%w: unknown initial node %d", ErrMalformedAutomaton, id)
			}
			n, _ := g.lookup(h)
			n.Initial = true
		}
	} else {
		preds := g.Predecessors()
		for _, n := range g.Nodes() {
			n.Initial = len(preds[n.id]) == 0
		}
	}
	if doc.Memory != nil {
		g.memory = maps.Clone(doc.Memory)
	}
	return g, nil
}

// Decode reads a JSON automaton.
func Decode(r io.Reader, opts ...DecodeOption) (*Graph, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAutomaton, err)
	}
	return FromDocument(&doc, opts...)
}

// Encode writes g as JSON.
func (g *Graph) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(g.ToDocument())
}

// DecodeYAML reads a YAML automaton.
func DecodeYAML(r io.Reader, opts ...DecodeOption) (*Graph, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAutomaton, err)
	}
	return FromDocument(&doc, opts...)
}

// EncodeYAML writes g as YAML.
func (g *Graph) EncodeYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(g.ToDocument()); err != nil {
		return err
	}
	return enc.Close()
}
