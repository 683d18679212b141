package automaton

import (
	"errors"
	"fmt"
)

// ErrEmptyMemory is returned when a guard is evaluated before the memory
// register holds any cell.
var ErrEmptyMemory = errors.New("guard evaluated on empty memory")

// Guard gates a transition on the memory register.
type Guard uint8

const (
	// GuardNone is always enabled.
	GuardNone Guard = iota
	// GuardAnyUnset is enabled while at least one memory cell is 0.
	GuardAnyUnset
	// GuardAllSet is enabled once every memory cell is non-zero.
	GuardAllSet
)

var guardNames = map[Guard]string{
	GuardNone:     "",
	GuardAnyUnset: "any-unset",
	GuardAllSet:   "all-set",
}

func (g Guard) String() string {
	if s, ok := guardNames[g]; ok {
		if s == "" {
			return "none"
		}
		return s
	}
	return fmt.Sprintf("Guard(%d)", uint8(g))
}

// MarshalText encodes the guard name; GuardNone encodes as "".
func (g Guard) MarshalText() ([]byte, error) {
	s, ok := guardNames[g]
	if !ok {
		return nil, fmt.Errorf("unknown guard %d", uint8(g))
	}
	return []byte(s), nil
}

func (g *Guard) UnmarshalText(b []byte) error {
	for k, v := range guardNames {
		if v == string(b) {
			*g = k
			return nil
		}
	}
	if string(b) == "none" {
		*g = GuardNone
		return nil
	}
	return fmt.Errorf("unknown guard %q", string(b))
}

// Eval reports whether the guard enables its edge under mem.
func (g Guard) Eval(mem map[string]int) (bool, error) {
	switch g {
	case GuardNone:
		return true, nil
	case GuardAnyUnset, GuardAllSet:
		if len(mem) == 0 {
			return false, ErrEmptyMemory
		}
		unset := false
		for _, v := range mem {
			if v == 0 {
				unset = true
				break
			}
		}
		if g == GuardAnyUnset {
			return unset, nil
		}
		return !unset, nil
	default:
		return false, fmt.Errorf("unknown guard %d", uint8(g))
	}
}

// Rule mutates the memory register when its node is entered.
type Rule uint8

const (
	// RuleNone leaves memory untouched.
	RuleNone Rule = iota
	// RuleClearAll sets every memory cell to 0.
	RuleClearAll
	// RuleSetMatched sets to 1 each cell named by a true proposition of the
	// entered node. It never clears a cell.
	RuleSetMatched
)

var ruleNames = map[Rule]string{
	RuleNone:       "",
	RuleClearAll:   "clear-all",
	RuleSetMatched: "set-matched",
}

func (r Rule) String() string {
	if s, ok := ruleNames[r]; ok {
		if s == "" {
			return "none"
		}
		return s
	}
	return fmt.Sprintf("Rule(%d)", uint8(r))
}

func (r Rule) MarshalText() ([]byte, error) {
	s, ok := ruleNames[r]
	if !ok {
		return nil, fmt.Errorf("unknown rule %d", uint8(r))
	}
	return []byte(s), nil
}

func (r *Rule) UnmarshalText(b []byte) error {
	for k, v := range ruleNames {
		if v == string(b) {
			*r = k
			return nil
		}
	}
	if string(b) == "none" {
		*r = RuleNone
		return nil
	}
	return fmt.Errorf("unknown rule %q", string(b))
}

// apply returns the memory that results from entering next. mem is not
// modified.
func (r Rule) apply(mem map[string]int, next *Node) (map[string]int, error) {
	if mem == nil {
		return nil, nil
	}
	out := make(map[string]int, len(mem))
	switch r {
	case RuleNone:
		for k, v := range mem {
			out[k] = v
		}
	case RuleClearAll:
		for k := range mem {
			out[k] = 0
		}
	case RuleSetMatched:
		for k, v := range mem {
			if next.State[k] {
				v = 1
			}
			out[k] = v
		}
	default:
		return nil, fmt.Errorf("unknown rule %d", uint8(r))
	}
	return out, nil
}
