package grid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrMalformedWorld is returned for unreadable world descriptions.
var ErrMalformedWorld = errors.New("malformed world description")

// Read parses the plain-text world format:
//
//	# comment
//	R C          size line
//	0 3          blocked columns of a row, "-" for an empty row
//	G r c        goal
//	I r c        system initial position
//	E r c        environment obstacle center
//
// Blank lines and lines starting with '#' are ignored. Rows not listed are
// free.
func Read(r io.Reader) (*World, error) {
	var w *World
	row := 0
	lineNo := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		if w == nil {
			if len(fields) != 2 {
				return nil, fmt.Errorf("%w: size header at line %d", ErrMalformedWorld, lineNo)
			}
			rows, err1 := strconv.Atoi(fields[0])
			cols, err2 := strconv.Atoi(fields[1])
			if err1 != nil || err2 != nil || rows <= 0 || cols <= 0 {
				return nil, fmt.Errorf("%w: size header at line %d", ErrMalformedWorld, lineNo)
			}
			w = New(rows, cols)
			continue
		}

		switch strings.ToUpper(fields[0]) {
		case "G", "I", "E":
			c, err := parseMarker(w, fields)
			if err != nil {
				return nil, fmt.Errorf("%w: %s line at line %d", ErrMalformedWorld, fields[0], lineNo)
			}
			switch strings.ToUpper(fields[0]) {
			case "G":
				w.Goals = append(w.Goals, c)
			case "I":
				w.Inits = append(w.Inits, c)
			case "E":
				w.Obstacles = append(w.Obstacles, c)
			}
			continue
		}

		if row >= w.Rows {
			return nil, fmt.Errorf("%w: too many rows at line %d", ErrMalformedWorld, lineNo)
		}
		if fields[0] == "-" {
			row++
			continue
		}
		for _, f := range fields {
			col, err := strconv.Atoi(f)
			if err != nil || col < 0 || col >= w.Cols {
				return nil, fmt.Errorf("%w: row at line %d", ErrMalformedWorld, lineNo)
			}
			w.Cells[row][col] = true
		}
		row++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading world: %w", err)
	}
	if w == nil {
		return nil, fmt.Errorf("%w: missing size line", ErrMalformedWorld)
	}
	return w, nil
}

func parseMarker(w *World, fields []string) (Coord, error) {
	if len(fields) != 3 {
		return Coord{}, ErrMalformedWorld
	}
	r, err := strconv.Atoi(fields[1])
	if err != nil {
		return Coord{}, err
	}
	c, err := strconv.Atoi(fields[2])
	if err != nil {
		return Coord{}, err
	}
	pos := Coord{Row: r, Col: c}
	if !w.InBounds(pos) {
		return Coord{}, ErrMalformedWorld
	}
	return pos, nil
}

// ReadFile reads a world description from path.
func ReadFile(path string) (*World, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open world: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Dump is the inverse of Read.
func Dump(w *World) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %d\n", w.Rows, w.Cols)
	for i := 0; i < w.Rows; i++ {
		var cols []string
		for j := 0; j < w.Cols; j++ {
			if w.Cells[i][j] {
				cols = append(cols, strconv.Itoa(j))
			}
		}
		if len(cols) == 0 {
			b.WriteString("-\n")
			continue
		}
		b.WriteString(strings.Join(cols, " "))
		b.WriteString("\n")
	}
	for _, c := range w.Goals {
		fmt.Fprintf(&b, "G %d %d\n", c.Row, c.Col)
	}
	for _, c := range w.Inits {
		fmt.Fprintf(&b, "I %d %d\n", c.Row, c.Col)
	}
	for _, c := range w.Obstacles {
		fmt.Fprintf(&b, "E %d %d\n", c.Row, c.Col)
	}
	return b.String()
}

// WriteFile dumps w to path.
func WriteFile(path string, w *World) error {
	return os.WriteFile(path, []byte(Dump(w)), 0644)
}
