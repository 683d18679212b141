// Package oracle poses synthesis problems to a game-solving backend and
// returns the controllers it produces.
//
// The Oracle interface is the only contract the patch engine relies on.
// Exec runs an external solver process, Planner builds lasso controllers
// for problems without environment agents, and Mock serves tests.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/grid"
)

var (
	// ErrUnrealizable is returned when no controller satisfies the request.
	ErrUnrealizable = errors.New("synthesis request unrealizable")

	// ErrUnsupported is returned by oracles that cannot pose the request.
	ErrUnsupported = errors.New("request not supported by oracle")

	// ErrInvalidRequest is returned for requests failing validation.
	ErrInvalidRequest = errors.New("invalid synthesis request")
)

// Oracle synthesizes a controller for a request. Implementations block until
// the backend answers or ctx is done, and never retry internally.
type Oracle interface {
	Synthesize(ctx context.Context, req *Request) (*automaton.Graph, error)
}

// Obstacle is an environment agent confined to the cells within Radius of
// Center. Cells of that box outside the world are the agent's nowhere
// position.
type Obstacle struct {
	Center grid.Coord `json:"center" yaml:"center"`
	Radius int        `json:"radius" yaml:"radius" validate:"gte=0"`
}

// Request is a synthesis problem. The system starts in one of Inits, must
// visit every cell of Goals infinitely often and, when GoalsDisjunct is
// non-empty, must also visit some cell of GoalsDisjunct infinitely often.
// Safety is implied by the world: the system moves to adjacent free cells
// and never shares a cell with an obstacle.
type Request struct {
	World         *grid.World  `json:"world" validate:"required"`
	Inits         []grid.Coord `json:"inits" validate:"required,min=1"`
	Goals         []grid.Coord `json:"goals"`
	GoalsDisjunct []grid.Coord `json:"goals_disjunct,omitempty"`
	SysPrefix     string       `json:"sys_prefix" validate:"required"`
	EnvPrefix     string       `json:"env_prefix" validate:"required_with=Obstacles"`
	Obstacles     []Obstacle   `json:"obstacles,omitempty" validate:"dive"`
}

var validate = validator.New()

// Validate checks field constraints and that every coordinate lies on the
// world.
func (r *Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	check := func(kind string, cs []grid.Coord) error {
		for _, c := range cs {
			if !r.World.InBounds(c) {
				return fmt.Errorf("%w: %s %s outside %dx%d world", ErrInvalidRequest, kind, c, r.World.Rows, r.World.Cols)
			}
		}
		return nil
	}
	if err := check("init", r.Inits); err != nil {
		return err
	}
	if err := check("goal", r.Goals); err != nil {
		return err
	}
	return check("disjunctive goal", r.GoalsDisjunct)
}
