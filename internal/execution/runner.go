package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/constants"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/label"
)

// Config names the propositions a run reads.
type Config struct {
	// SysPrefix is the locative prefix of the controlled agent.
	SysPrefix string
	// EnvPrefix is the base prefix of environment agents; agent i uses
	// EnvPrefix_i.
	EnvPrefix string
	// NumObstacles is the number of environment agents whose positions are
	// reported with a trace.
	NumObstacles int
}

// DefaultConfig returns the standard Y/X naming with no obstacles.
func DefaultConfig() Config {
	return Config{
		SysPrefix: constants.DefaultSysPrefix,
		EnvPrefix: constants.DefaultEnvPrefix,
	}
}

// Trace is the outcome of a run.
type Trace struct {
	// Path holds the start cell and every cell entered afterwards.
	Path []grid.Coord `json:"path"`
	// Nodes holds the controller node of each Path entry.
	Nodes []automaton.Handle `json:"-"`
	// Blocked is the cell the controller tried to enter when it diverged.
	// Nil when the step budget ran out first.
	Blocked *grid.Coord `json:"blocked,omitempty"`
	// Obstacles are the environment agent positions in the node current at
	// the end of the run.
	Obstacles []grid.Coord `json:"obstacles,omitempty"`
	// Steps counts transitions taken.
	Steps int `json:"steps"`
}

// Diverged reports whether the run stopped at a blocked cell.
func (t *Trace) Diverged() bool {
	return t.Blocked != nil
}

// Overlay converts the trace for grid.Pretty.
func (t *Trace) Overlay() *grid.Overlay {
	return &grid.Overlay{Path: t.Path, Blocked: t.Blocked, Obstacles: t.Obstacles}
}

// InputFunc supplies the environment valuation for a step. A nil valuation
// constrains nothing.
type InputFunc func(step int, current automaton.Handle) map[string]bool

// Runner executes a controller against an actual world. Nominal is the
// world the controller was synthesized for; nil means every cell was
// assumed free.
type Runner struct {
	graph   *automaton.Graph
	actual  *grid.World
	nominal *grid.World
	cfg     Config
	logger  *slog.Logger
}

// NewRunner creates a runner. A nil logger discards output.
func NewRunner(g *automaton.Graph, actual, nominal *grid.World, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{graph: g, actual: actual, nominal: nominal, cfg: cfg, logger: logger}
}

// Position returns the system cell of node h.
func (r *Runner) Position(h automaton.Handle) (grid.Coord, error) {
	return SysPosition(r.graph, h, r.cfg.SysPrefix)
}

// SysPosition returns the unique true position of prefix in node h.
func SysPosition(g *automaton.Graph, h automaton.Handle, prefix string) (grid.Coord, error) {
	n, err := g.Node(h)
	if err != nil {
		return grid.Coord{}, err
	}
	c, found, err := label.Extract(n.State, prefix)
	if err != nil {
		return grid.Coord{}, fmt.Errorf("node %s: %w", h, err)
	}
	if !found {
		return grid.Coord{}, fmt.Errorf("%w: node %s has no %s position", ErrDeadEnd, h, prefix)
	}
	return c, nil
}

// Start finds the node a run from init begins in: the first initial node at
// init, else the first node at init.
func (r *Runner) Start(init grid.Coord) (automaton.Handle, error) {
	if r.actual.Blocked(init) {
		return automaton.Handle{}, fmt.Errorf("%w: %s", ErrInitBlocked, init)
	}
	at := r.graph.FindAll(map[string]bool{label.Format(r.cfg.SysPrefix, init): true})
	if len(at) == 0 {
		return automaton.Handle{}, fmt.Errorf("%w: %s", ErrNoInitialNode, init)
	}
	for _, h := range at {
		if n, _ := r.graph.Node(h); n.Initial {
			return h, nil
		}
	}
	return at[0], nil
}

// Run steps the controller from init with environment input from input,
// for at most budget transitions.
func (r *Runner) Run(ctx context.Context, init grid.Coord, budget int, input InputFunc) (*Trace, error) {
	return r.run(ctx, init, budget, func(step int, cur automaton.Handle) (automaton.Handle, error) {
		var in map[string]bool
		if input != nil {
			in = input(step, cur)
		}
		return Step(r.graph, cur, in)
	})
}

// RunRandom steps the controller by sampling an outgoing edge uniformly,
// reading the environment valuation off the sampled successor and stepping
// under that valuation.
func (r *Runner) RunRandom(ctx context.Context, init grid.Coord, budget int, rng *rand.Rand) (*Trace, error) {
	return r.run(ctx, init, budget, func(_ int, cur automaton.Handle) (automaton.Handle, error) {
		n, err := r.graph.Node(cur)
		if err != nil {
			return automaton.Handle{}, err
		}
		ts := n.Transitions()
		if len(ts) == 0 {
			return automaton.Handle{}, fmt.Errorf("%w: node %s has no transitions", ErrDeadEnd, cur)
		}
		sampled, err := r.graph.Node(ts[rng.IntN(len(ts))])
		if err != nil {
			return automaton.Handle{}, err
		}
		return Step(r.graph, cur, r.envValuation(sampled.State))
	})
}

func (r *Runner) envValuation(state map[string]bool) map[string]bool {
	in := make(map[string]bool)
	for k, v := range state {
		if label.InGroup(k, r.cfg.EnvPrefix) {
			in[k] = v
		}
	}
	return in
}

func (r *Runner) run(ctx context.Context, init grid.Coord, budget int, next func(int, automaton.Handle) (automaton.Handle, error)) (*Trace, error) {
	cur, err := r.Start(init)
	if err != nil {
		return nil, err
	}
	trace := &Trace{Path: []grid.Coord{init}, Nodes: []automaton.Handle{cur}}

	for step := 0; step < budget; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nh, err := next(step, cur)
		if err != nil {
			return nil, &ExecutionError{Node: cur, Path: trace.Path, Err: err}
		}
		pos, err := r.Position(nh)
		if err != nil {
			return nil, &ExecutionError{Node: nh, Path: trace.Path, Err: err}
		}
		if r.actual.Blocked(pos) {
			if r.nominal.Blocked(pos) {
				return nil, &ExecutionError{Node: nh, Path: trace.Path, Err: fmt.Errorf("%w: %s", ErrUnsafeController, pos)}
			}
			trace.Blocked = &pos
			trace.Obstacles, err = r.obstacles(cur)
			if err != nil {
				return nil, err
			}
			r.logger.Debug("run diverged", "at", pos.String(), "steps", trace.Steps)
			return trace, nil
		}
		cur = nh
		trace.Steps++
		trace.Path = append(trace.Path, pos)
		trace.Nodes = append(trace.Nodes, cur)
	}

	trace.Obstacles, err = r.obstacles(cur)
	if err != nil {
		return nil, err
	}
	return trace, nil
}

// obstacles returns each environment agent's position in node h, Nowhere
// when the agent has none.
func (r *Runner) obstacles(h automaton.Handle) ([]grid.Coord, error) {
	if r.cfg.NumObstacles == 0 {
		return nil, nil
	}
	n, err := r.graph.Node(h)
	if err != nil {
		return nil, err
	}
	out := make([]grid.Coord, r.cfg.NumObstacles)
	for i := range out {
		c, found, err := label.Extract(n.State, label.EnvPrefix(r.cfg.EnvPrefix, i))
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", h, err)
		}
		if !found {
			c = grid.Nowhere
		}
		out[i] = c
	}
	return out, nil
}
