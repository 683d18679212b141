package store

import (
	"context"
	"fmt"
)

// ValidationError describes a store consistency issue.
type ValidationError struct {
	ControllerID string `json:"controller_id"`
	Field        string `json:"field"`            // "parent_id", "automaton"
	RefID        string `json:"ref_id,omitempty"` // The problematic reference
	Issue        string `json:"issue"`            // "dangling", "cycle", "self-reference", "malformed"
}

// String returns a human-readable description of the validation error.
func (e ValidationError) String() string {
	if e.RefID == "" {
		return fmt.Sprintf("%s: %s in %s", e.Issue, e.ControllerID, e.Field)
	}
	return fmt.Sprintf("%s: %s in %s references %s", e.Issue, e.ControllerID, e.Field, e.RefID)
}

// validateController checks a controller before it is written.
func validateController(c *Controller) error {
	if c == nil {
		return fmt.Errorf("controller is nil")
	}
	switch c.Kind {
	case KindNominal, KindPatched, KindLocal:
	default:
		return fmt.Errorf("unknown controller kind %q", c.Kind)
	}
	if c.Automaton == nil || len(c.Automaton.Nodes) == 0 {
		return fmt.Errorf("controller %s has no automaton", c.ID)
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("controller %s: CreatedAt must be set", c.ID)
	}
	return nil
}

// Validate checks lineage and automaton consistency across a store.
// Returns validation errors for:
// - Dangling parent references
// - Cycles in the parent chain
// - Self-references
// - Automata that no longer decode
func Validate(ctx context.Context, s ControllerStore) ([]ValidationError, error) {
	all, err := s.ListControllers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list controllers: %w", err)
	}

	parent := make(map[string]string, len(all))
	for _, c := range all {
		parent[c.ID] = c.ParentID
	}

	var issues []ValidationError
	for _, c := range all {
		if _, err := c.Graph(); err != nil {
			issues = append(issues, ValidationError{ControllerID: c.ID, Field: "automaton", Issue: "malformed"})
		}
		if c.ParentID == "" {
			continue
		}
		if c.ParentID == c.ID {
			issues = append(issues, ValidationError{ControllerID: c.ID, Field: "parent_id", RefID: c.ID, Issue: "self-reference"})
			continue
		}
		if _, ok := parent[c.ParentID]; !ok {
			issues = append(issues, ValidationError{ControllerID: c.ID, Field: "parent_id", RefID: c.ParentID, Issue: "dangling"})
			continue
		}
		if inCycle(c.ID, parent) {
			issues = append(issues, ValidationError{ControllerID: c.ID, Field: "parent_id", RefID: c.ParentID, Issue: "cycle"})
		}
	}
	return issues, nil
}

// inCycle reports whether following parents from id returns to id.
func inCycle(id string, parent map[string]string) bool {
	seen := map[string]bool{id: true}
	for cur := parent[id]; cur != ""; cur = parent[cur] {
		if cur == id {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true
	}
	return false
}
