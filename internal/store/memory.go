package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nvandessel/btsynth/internal/patch"
)

// InMemoryStore implements ControllerStore for testing and development.
type InMemoryStore struct {
	mu          sync.RWMutex
	controllers map[string]Controller
	rounds      map[string][]RoundRecord
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		controllers: make(map[string]Controller),
		rounds:      make(map[string][]RoundRecord),
	}
}

// SaveController adds or replaces a controller.
func (s *InMemoryStore) SaveController(ctx context.Context, c *Controller) (string, error) {
	if err := prepare(c); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.controllers[c.ID] = *c
	return c.ID, nil
}

// GetController retrieves a controller by ID.
func (s *InMemoryStore) GetController(ctx context.Context, id string) (*Controller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.controllers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &c, nil
}

// ListControllers returns all controllers, oldest first.
func (s *InMemoryStore) ListControllers(ctx context.Context) ([]Controller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		out = append(out, c)
	}
	sortControllers(out)
	return out, nil
}

// DeleteController removes a controller. Deleting an unknown ID is a no-op.
func (s *InMemoryStore) DeleteController(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.controllers, id)
	return nil
}

// SaveRounds appends rounds to a run.
func (s *InMemoryStore) SaveRounds(ctx context.Context, runID, controllerID string, rounds []patch.Round) error {
	if runID == "" {
		return fmt.Errorf("run ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rounds {
		s.rounds[runID] = append(s.rounds[runID], RoundRecord{RunID: runID, ControllerID: controllerID, Round: r})
	}
	return nil
}

// Rounds returns the rounds of a run.
func (s *InMemoryStore) Rounds(ctx context.Context, runID string) ([]RoundRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]RoundRecord(nil), s.rounds[runID]...)
	sortRounds(out)
	return out, nil
}

// Sync is a no-op for in-memory storage.
func (s *InMemoryStore) Sync(ctx context.Context) error {
	return nil
}

// Close is a no-op for in-memory storage.
func (s *InMemoryStore) Close() error {
	return nil
}

// prepare assigns a missing ID and validates c.
func prepare(c *Controller) error {
	if c != nil && c.ID == "" {
		c.ID = uuid.NewString()
	}
	return validateController(c)
}

func sortControllers(cs []Controller) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

func sortRounds(rs []RoundRecord) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Round.Index < rs[j].Round.Index
	})
}
