package oracle

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/label"
)

// ParseNominal reads a nominal path: one "row col" line per step, with the
// step the path loops back to marked by a trailing "*".
//
//	0 0
//	0 1
//	0 2 *
//	1 2
//
// Lines with fewer than two fields are skipped.
func ParseNominal(r io.Reader) ([]grid.Coord, int, error) {
	var path []grid.Coord
	loop := -1
	lineNo := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		row, err1 := strconv.Atoi(fields[0])
		col, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			return nil, 0, fmt.Errorf("malformed nominal path at line %d", lineNo)
		}
		if len(fields) > 2 {
			loop = len(path)
		}
		path = append(path, grid.Coord{Row: row, Col: col})
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}
	if loop < 0 {
		return nil, 0, fmt.Errorf("no loop marker in nominal path")
	}
	return path, loop, nil
}

// LassoOptions names the propositions of a lasso controller.
type LassoOptions struct {
	SysPrefix string
	EnvPrefix string
	// Obstacles are parked: each agent stays at its nowhere position when
	// its box leaves the world, else at the first cell of its box.
	Obstacles []Obstacle
}

// Lasso builds the controller that walks path and then jumps back to
// path[loop] forever. Every node defines every system proposition of w.
// Consecutive cells, including the jump back, must be equal or adjacent.
func Lasso(w *grid.World, path []grid.Coord, loop int, opts LassoOptions) (*automaton.Graph, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	if loop < 0 || loop >= len(path) {
		return nil, fmt.Errorf("loop index %d outside path of %d cells", loop, len(path))
	}
	for i, c := range path {
		if w.Blocked(c) {
			return nil, fmt.Errorf("path cell %d %s is blocked", i, c)
		}
		next := loop
		if i+1 < len(path) {
			next = i + 1
		}
		if !adjacentOrSame(c, path[next]) {
			return nil, fmt.Errorf("path step %s -> %s is not a move", c, path[next])
		}
	}

	base := make(map[string]bool, w.Rows*w.Cols)
	for i := 0; i < w.Rows; i++ {
		for j := 0; j < w.Cols; j++ {
			base[label.Format(opts.SysPrefix, grid.Coord{Row: i, Col: j})] = false
		}
	}

	g := automaton.New()
	hs := make([]automaton.Handle, len(path))
	for i, c := range path {
		state := make(map[string]bool, len(base))
		for k := range base {
			state[k] = false
		}
		state[label.Format(opts.SysPrefix, c)] = true
		hs[i] = g.AddNode(state)
	}
	for i := range hs {
		next := loop
		if i+1 < len(hs) {
			next = i + 1
		}
		if err := g.AddEdge(hs[i], hs[next], automaton.GuardNone); err != nil {
			return nil, err
		}
	}
	g.Nodes()[0].Initial = true

	for i, ob := range opts.Obstacles {
		vars, nowhere := obstacleVars(w, label.EnvPrefix(opts.EnvPrefix, i), ob)
		park := vars[0]
		if nowhere != "" {
			vars = append(vars, nowhere)
			park = nowhere
		}
		for _, n := range g.Nodes() {
			n.State[park] = true
		}
		g.FleshOutGridState(vars, park)
	}
	return g, nil
}

// obstacleVars lists the in-world cell propositions of an obstacle's box,
// and its nowhere proposition when the box leaves the world.
func obstacleVars(w *grid.World, prefix string, ob Obstacle) ([]string, string) {
	var vars []string
	nowhere := ""
	for i := ob.Center.Row - ob.Radius; i <= ob.Center.Row+ob.Radius; i++ {
		for j := ob.Center.Col - ob.Radius; j <= ob.Center.Col+ob.Radius; j++ {
			c := grid.Coord{Row: i, Col: j}
			if w.InBounds(c) {
				vars = append(vars, label.Format(prefix, c))
			} else {
				nowhere = label.Nowhere(prefix)
			}
		}
	}
	if len(vars) == 0 {
		return []string{label.Nowhere(prefix)}, ""
	}
	return vars, nowhere
}

func adjacentOrSame(a, b grid.Coord) bool {
	dr, dc := a.Row-b.Row, a.Col-b.Col
	if dr < 0 {
		dr = -dr
	}
	if dc < 0 {
		dc = -dc
	}
	return dr+dc <= 1
}
