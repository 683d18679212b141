package automaton

import (
	"fmt"
	"maps"
	"slices"
)

// MemInit replaces the memory register with one zeroed cell per name.
func (g *Graph) MemInit(names []string) {
	g.memory = make(map[string]int, len(names))
	for _, name := range names {
		g.memory[name] = 0
	}
}

// MemGet returns the value of a memory cell.
func (g *Graph) MemGet(name string) (int, bool) {
	v, ok := g.memory[name]
	return v, ok
}

// MemClear discards the register. Guards fail until the next MemInit.
func (g *Graph) MemClear() {
	g.memory = nil
}

// Memory returns a copy of the register, nil when uninitialized.
func (g *Graph) Memory() map[string]int {
	return maps.Clone(g.memory)
}

// MemNames returns the sorted cell names.
func (g *Graph) MemNames() []string {
	return slices.Sorted(maps.Keys(g.memory))
}

// Enter applies next's rule to the register. It is the only way memory
// changes after MemInit.
func (g *Graph) Enter(next Handle) error {
	n, err := g.Node(next)
	if err != nil {
		return err
	}
	mem, err := n.Rule.apply(g.memory, n)
	if err != nil {
		return fmt.Errorf("entering %s: %w", next, err)
	}
	g.memory = mem
	return nil
}

// EvalGuard evaluates guard against the current register.
func (g *Graph) EvalGuard(guard Guard) (bool, error) {
	return guard.Eval(g.memory)
}
