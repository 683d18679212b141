// Package store defines the ControllerStore interface for persisting
// controllers and the patch rounds that produced them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/patch"
	"github.com/nvandessel/btsynth/internal/sanitize"
)

// ErrNotFound is returned when a controller does not exist.
var ErrNotFound = errors.New("controller not found")

// Controller kinds.
const (
	KindNominal = "nominal" // synthesized for the nominal world
	KindPatched = "patched" // produced by a patch run
	KindLocal   = "local"   // a neighborhood controller
)

// Controller is a stored automaton with provenance.
type Controller struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Kind      string              `json:"kind"`
	ParentID  string              `json:"parent_id,omitempty"` // controller this one was patched from
	RunID     string              `json:"run_id,omitempty"`    // patch run that produced it
	CreatedAt time.Time           `json:"created_at"`
	Automaton *automaton.Document `json:"automaton"`
}

// NewController snapshots g into a Controller with a fresh ID. The name is
// reduced to path-safe characters.
func NewController(name, kind string, g *automaton.Graph) *Controller {
	return &Controller{
		ID:        uuid.NewString(),
		Name:      sanitize.Name(name),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
		Automaton: g.ToDocument(),
	}
}

// Graph rebuilds the stored automaton.
func (c *Controller) Graph() (*automaton.Graph, error) {
	return automaton.FromDocument(c.Automaton)
}

// RoundRecord is one patch round of a run.
type RoundRecord struct {
	RunID        string      `json:"run_id"`
	ControllerID string      `json:"controller_id,omitempty"`
	Round        patch.Round `json:"round"`
}

// ControllerStore persists controllers and patch rounds.
type ControllerStore interface {
	// SaveController inserts or replaces c. An empty ID is assigned a UUID.
	SaveController(ctx context.Context, c *Controller) (string, error)

	// GetController returns ErrNotFound for unknown IDs.
	GetController(ctx context.Context, id string) (*Controller, error)

	// ListControllers returns all controllers, oldest first.
	ListControllers(ctx context.Context) ([]Controller, error)

	DeleteController(ctx context.Context, id string) error

	// SaveRounds appends the rounds of a run.
	SaveRounds(ctx context.Context, runID, controllerID string, rounds []patch.Round) error

	// Rounds returns the rounds of a run ordered by index.
	Rounds(ctx context.Context, runID string) ([]RoundRecord, error)

	// Persistence
	Sync(ctx context.Context) error
	Close() error
}
