package grid

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Overlay marks a simulation run on a pretty-printed world.
type Overlay struct {
	// Path holds visited positions in order.
	Path []Coord
	// Blocked is the position the run failed to enter. Nil means the run
	// finished without diverging and the last path entry is drawn as 'O'.
	Blocked *Coord
	// Obstacles are environment agent positions at the end of the run.
	Obstacles []Coord
}

// Legend:
//
//	*  wall
//	.  visited
//	X  failed to enter, cell occupied
//	?  failed to enter, cell free
//	O  last position of a run that did not fail
//	!  obstacle
//	G  goal, I initial position, E obstacle start
const (
	glyphFree     = ' '
	glyphWall     = '*'
	glyphVisited  = '.'
	glyphFailOcc  = 'X'
	glyphFailFree = '?'
	glyphLast     = 'O'
	glyphObstacle = '!'
	glyphGoal     = 'G'
	glyphInit     = 'I'
	glyphEnv      = 'E'
)

// Pretty renders w as a bordered character map. With showGrid, row and
// column labels and cell separators are drawn.
func Pretty(w *World, ov *Overlay, showGrid bool) (string, error) {
	canvas := make([][]rune, w.Rows)
	for i := range canvas {
		canvas[i] = make([]rune, w.Cols)
		for j := range canvas[i] {
			if w.Cells[i][j] {
				canvas[i][j] = glyphWall
			} else {
				canvas[i][j] = glyphFree
			}
		}
	}
	put := func(c Coord, r rune) {
		if w.InBounds(c) {
			canvas[c.Row][c.Col] = r
		}
	}

	if ov != nil {
		for _, c := range ov.Path {
			if !w.InBounds(c) {
				continue
			}
			if cur := canvas[c.Row][c.Col]; cur != glyphFree && cur != glyphVisited {
				return "", fmt.Errorf("path visits wall at %s", c)
			}
			canvas[c.Row][c.Col] = glyphVisited
		}
		switch {
		case ov.Blocked == nil && len(ov.Path) > 0:
			put(ov.Path[len(ov.Path)-1], glyphLast)
		case ov.Blocked != nil:
			if w.Blocked(*ov.Blocked) {
				put(*ov.Blocked, glyphFailOcc)
			} else {
				put(*ov.Blocked, glyphFailFree)
			}
		}
		for _, c := range ov.Obstacles {
			put(c, glyphObstacle)
		}
	}
	for _, c := range w.Goals {
		put(c, glyphGoal)
	}
	for _, c := range w.Inits {
		put(c, glyphInit)
	}
	for _, c := range w.Obstacles {
		put(c, glyphEnv)
	}

	var b strings.Builder
	if showGrid {
		b.WriteString("  ")
		for j := 0; j < w.Cols; j++ {
			fmt.Fprintf(&b, "%2d", j)
		}
		b.WriteString("\n")
	} else {
		b.WriteString(strings.Repeat("-", w.Cols+2) + "\n")
	}
	for i := 0; i < w.Rows; i++ {
		if showGrid {
			b.WriteString("  " + strings.Repeat("-", w.Cols*2+1) + "\n")
			fmt.Fprintf(&b, "%2d", i)
		} else {
			b.WriteString("|")
		}
		for j := 0; j < w.Cols; j++ {
			if showGrid {
				b.WriteString("|")
			}
			b.WriteRune(canvas[i][j])
		}
		b.WriteString("|\n")
	}
	if showGrid {
		b.WriteString("  " + strings.Repeat("-", w.Cols*2+1) + "\n")
	} else {
		b.WriteString(strings.Repeat("-", w.Cols+2) + "\n")
	}
	return b.String(), nil
}

// Random generates a rows x cols world with the given wall density,
// numGoals goals, numEnv obstacle centers and a single initial position.
// Goals, obstacle centers and the initial position are distinct free cells.
func Random(rng *rand.Rand, rows, cols int, density float64, numGoals, numEnv int) (*World, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", rows, cols)
	}
	if density < 0 || density >= 1 {
		return nil, fmt.Errorf("wall density %v outside [0, 1)", density)
	}
	n := rows * cols
	walls := int(density*float64(n) + 0.5)
	if walls+numGoals+numEnv+1 > n {
		return nil, fmt.Errorf("%dx%d grid too small for %d walls, %d goals, %d obstacles", rows, cols, walls, numGoals, numEnv)
	}

	w := New(rows, cols)
	// Shuffled cell indices: walls first, then goals, obstacles, init.
	perm := rng.Perm(n)
	at := func(k int) Coord { return Coord{Row: perm[k] / cols, Col: perm[k] % cols} }
	k := 0
	for ; k < walls; k++ {
		c := at(k)
		w.Cells[c.Row][c.Col] = true
	}
	for i := 0; i < numGoals; i, k = i+1, k+1 {
		w.Goals = append(w.Goals, at(k))
	}
	for i := 0; i < numEnv; i, k = i+1, k+1 {
		w.Obstacles = append(w.Obstacles, at(k))
	}
	w.Inits = []Coord{at(k)}
	return w, nil
}
