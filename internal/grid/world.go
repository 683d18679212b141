// Package grid models the gridworlds that controllers move through: an
// occupancy matrix plus goal, initial and obstacle-center coordinate lists.
package grid

import (
	"fmt"
	"sort"
)

// Coord is a (row, column) grid position.
type Coord struct {
	Row int `json:"row" yaml:"row"`
	Col int `json:"col" yaml:"col"`
}

// Nowhere is the position of an agent outside its restricted region.
var Nowhere = Coord{Row: -1, Col: -1}

// IsNowhere reports whether c is the nowhere sentinel.
func (c Coord) IsNowhere() bool {
	return c == Nowhere
}

// Add returns c translated by d.
func (c Coord) Add(d Coord) Coord {
	return Coord{Row: c.Row + d.Row, Col: c.Col + d.Col}
}

// Sub returns c translated by -d.
func (c Coord) Sub(d Coord) Coord {
	return Coord{Row: c.Row - d.Row, Col: c.Col - d.Col}
}

func (c Coord) String() string {
	if c.IsNowhere() {
		return "(n, n)"
	}
	return fmt.Sprintf("(%d, %d)", c.Row, c.Col)
}

// SortCoords orders coordinates row-major in place.
func SortCoords(cs []Coord) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Row != cs[j].Row {
			return cs[i].Row < cs[j].Row
		}
		return cs[i].Col < cs[j].Col
	})
}

// World is a gridworld. Cells[r][c] is true when the cell is blocked.
type World struct {
	Rows  int      `json:"rows" yaml:"rows"`
	Cols  int      `json:"cols" yaml:"cols"`
	Cells [][]bool `json:"cells" yaml:"cells"`

	Goals     []Coord `json:"goals,omitempty" yaml:"goals,omitempty"`
	Inits     []Coord `json:"inits,omitempty" yaml:"inits,omitempty"`
	Obstacles []Coord `json:"obstacles,omitempty" yaml:"obstacles,omitempty"`
}

// New returns an empty rows x cols world.
func New(rows, cols int) *World {
	cells := make([][]bool, rows)
	for i := range cells {
		cells[i] = make([]bool, cols)
	}
	return &World{Rows: rows, Cols: cols, Cells: cells}
}

// InBounds reports whether c lies on the grid.
func (w *World) InBounds(c Coord) bool {
	return c.Row >= 0 && c.Row < w.Rows && c.Col >= 0 && c.Col < w.Cols
}

// Blocked reports whether c is a wall. Positions off the grid count as
// blocked.
func (w *World) Blocked(c Coord) bool {
	if w == nil {
		return false
	}
	if !w.InBounds(c) {
		return true
	}
	return w.Cells[c.Row][c.Col]
}

// SetBlocked marks c as a wall (or clears it).
func (w *World) SetBlocked(c Coord, blocked bool) error {
	if !w.InBounds(c) {
		return fmt.Errorf("cell %s outside %dx%d grid", c, w.Rows, w.Cols)
	}
	w.Cells[c.Row][c.Col] = blocked
	return nil
}

// IsGoal reports whether c is one of the world's goals.
func (w *World) IsGoal(c Coord) bool {
	for _, g := range w.Goals {
		if g == c {
			return true
		}
	}
	return false
}

// FreeCells returns every unblocked cell in row-major order.
func (w *World) FreeCells() []Coord {
	var out []Coord
	for i := 0; i < w.Rows; i++ {
		for j := 0; j < w.Cols; j++ {
			if !w.Cells[i][j] {
				out = append(out, Coord{Row: i, Col: j})
			}
		}
	}
	return out
}

// Clone returns a deep copy.
func (w *World) Clone() *World {
	out := New(w.Rows, w.Cols)
	for i := range w.Cells {
		copy(out.Cells[i], w.Cells[i])
	}
	out.Goals = append([]Coord(nil), w.Goals...)
	out.Inits = append([]Coord(nil), w.Inits...)
	out.Obstacles = append([]Coord(nil), w.Obstacles...)
	return out
}

// Equal compares occupancy and all coordinate lists.
func (w *World) Equal(o *World) bool {
	if w.Rows != o.Rows || w.Cols != o.Cols {
		return false
	}
	for i := 0; i < w.Rows; i++ {
		for j := 0; j < w.Cols; j++ {
			if w.Cells[i][j] != o.Cells[i][j] {
				return false
			}
		}
	}
	return coordsEqual(w.Goals, o.Goals) &&
		coordsEqual(w.Inits, o.Inits) &&
		coordsEqual(w.Obstacles, o.Obstacles)
}

func coordsEqual(a, b []Coord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Box returns the cells within radius of center in both row and column,
// clipped to the grid, in row-major order.
func (w *World) Box(center Coord, radius int) []Coord {
	var out []Coord
	for i := center.Row - radius; i <= center.Row+radius; i++ {
		for j := center.Col - radius; j <= center.Col+radius; j++ {
			c := Coord{Row: i, Col: j}
			if w.InBounds(c) {
				out = append(out, c)
			}
		}
	}
	return out
}

// Covers reports whether cells contains every position of the grid.
func (w *World) Covers(cells []Coord) bool {
	seen := make(map[Coord]struct{}, len(cells))
	for _, c := range cells {
		if w.InBounds(c) {
			seen[c] = struct{}{}
		}
	}
	return len(seen) == w.Rows*w.Cols
}

// Subworld returns the bounding rectangle of region as a new world together
// with the offset of its top-left corner. Goal, init and obstacle lists of
// the result are empty.
func (w *World) Subworld(region []Coord) (*World, Coord, error) {
	if len(region) == 0 {
		return nil, Coord{}, fmt.Errorf("empty subregion")
	}
	minR, maxR := w.Rows, -1
	minC, maxC := w.Cols, -1
	for _, c := range region {
		if !w.InBounds(c) {
			return nil, Coord{}, fmt.Errorf("subregion cell %s outside grid", c)
		}
		minR = min(minR, c.Row)
		maxR = max(maxR, c.Row)
		minC = min(minC, c.Col)
		maxC = max(maxC, c.Col)
	}
	sub := New(maxR-minR+1, maxC-minC+1)
	for i := minR; i <= maxR; i++ {
		copy(sub.Cells[i-minR], w.Cells[i][minC:maxC+1])
	}
	return sub, Coord{Row: minR, Col: minC}, nil
}
