// Package label encodes grid positions as proposition names.
//
// A locative proposition is named prefix_ROW_COL. The name prefix_n_n is the
// nowhere sentinel of an agent outside its restricted region. Prefixes may
// themselves contain underscores (X_0 is the prefix of obstacle 0), so a name
// is always split at its last two fragments.
package label

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nvandessel/btsynth/internal/constants"
	"github.com/nvandessel/btsynth/internal/grid"
)

var (
	// ErrLabelParse reports a malformed proposition name.
	ErrLabelParse = errors.New("malformed proposition name")

	// ErrMutexViolation reports more than one true position for a prefix.
	ErrMutexViolation = errors.New("more than one true position for prefix")
)

// ParseError describes a name that does not follow prefix_ROW_COL.
type ParseError struct {
	Name   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrLabelParse, e.Name, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrLabelParse
}

// Format returns the proposition name of c under prefix.
func Format(prefix string, c grid.Coord) string {
	if c.IsNowhere() {
		return Nowhere(prefix)
	}
	return fmt.Sprintf("%s_%d_%d", prefix, c.Row, c.Col)
}

// Nowhere returns the nowhere sentinel name for prefix.
func Nowhere(prefix string) string {
	return prefix + "_" + constants.NowhereFragment + "_" + constants.NowhereFragment
}

// EnvPrefix returns the prefix of environment agent i.
func EnvPrefix(base string, i int) string {
	return base + "_" + strconv.Itoa(i)
}

// Split separates name into its prefix and the last two fragments. ok is
// false when name has fewer than three fragments.
func Split(name string) (prefix, row, col string, ok bool) {
	i := strings.LastIndexByte(name, '_')
	if i <= 0 {
		return "", "", "", false
	}
	j := strings.LastIndexByte(name[:i], '_')
	if j <= 0 {
		return "", "", "", false
	}
	return name[:j], name[j+1 : i], name[i+1:], true
}

// Parse extracts prefix and position from a locative name.
func Parse(name string) (string, grid.Coord, error) {
	prefix, rs, cs, ok := Split(name)
	if !ok {
		return "", grid.Coord{}, &ParseError{Name: name, Reason: "expected prefix_ROW_COL"}
	}
	if rs == constants.NowhereFragment && cs == constants.NowhereFragment {
		return prefix, grid.Nowhere, nil
	}
	r, err := strconv.Atoi(rs)
	if err != nil || r < 0 {
		return "", grid.Coord{}, &ParseError{Name: name, Reason: "invalid row"}
	}
	c, err := strconv.Atoi(cs)
	if err != nil || c < 0 {
		return "", grid.Coord{}, &ParseError{Name: name, Reason: "invalid column"}
	}
	return prefix, grid.Coord{Row: r, Col: c}, nil
}

// HasPrefix reports whether name is a locative name of exactly prefix.
// Malformed coordinates still count; Parse reports them.
func HasPrefix(name, prefix string) bool {
	p, _, _, ok := Split(name)
	return ok && p == prefix
}

// InGroup reports whether name belongs to base or to any sub-prefix of it,
// so X_0_1_2 and X_n_n are both in group X.
func InGroup(name, base string) bool {
	return strings.HasPrefix(name, base+"_")
}

// Positions returns every true position of prefix in state, sorted.
// Malformed names under prefix are rejected.
func Positions(state map[string]bool, prefix string) ([]grid.Coord, error) {
	var out []grid.Coord
	for name, v := range state {
		if !v || !HasPrefix(name, prefix) {
			continue
		}
		_, c, err := Parse(name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	grid.SortCoords(out)
	return out, nil
}

// Extract returns the unique true position of prefix in state. found is
// false when no proposition of prefix is true. Two or more true positions
// is ErrMutexViolation.
func Extract(state map[string]bool, prefix string) (c grid.Coord, found bool, err error) {
	cs, err := Positions(state, prefix)
	if err != nil {
		return grid.Coord{}, false, err
	}
	switch len(cs) {
	case 0:
		return grid.Coord{}, false, nil
	case 1:
		return cs[0], true, nil
	default:
		return grid.Coord{}, false, fmt.Errorf("%w %s: %v", ErrMutexViolation, prefix, cs)
	}
}

// Shift translates a locative name by offset. The nowhere sentinel is
// returned unchanged.
func Shift(name string, offset grid.Coord) (string, error) {
	prefix, c, err := Parse(name)
	if err != nil {
		return "", err
	}
	if c.IsNowhere() {
		return name, nil
	}
	return Format(prefix, c.Add(offset)), nil
}
