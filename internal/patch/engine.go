// Package patch repairs a controller in place when its run diverges from
// the world it was synthesized for.
//
// Each round simulates the controller against the actual world. At a
// divergence the engine grows a box around the blocked cell until every
// seed of the enclosed region (initial nodes and entry nodes) gets a
// realizable local controller from the oracle, then merges the local
// controllers into the global one. Memory cells gate the return from a
// patch to the global controller until every required goal inside the box
// has been visited.
package patch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/execution"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/logging"
	"github.com/nvandessel/btsynth/internal/oracle"
)

// Round records one repair.
type Round struct {
	Index      int          `json:"index"`
	Divergence grid.Coord   `json:"divergence"`
	Obstacles  []grid.Coord `json:"obstacles,omitempty"`
	// Radius is the radius of the adopted patch.
	Radius int `json:"radius"`
	// Attempts counts radii tried, the adopted one included.
	Attempts    int           `json:"attempts"`
	Seeds       int           `json:"seeds"`
	PatchGoals  []grid.Coord  `json:"patch_goals,omitempty"`
	NodesBefore int           `json:"nodes_before"`
	NodesAfter  int           `json:"nodes_after"`
	Duration    time.Duration `json:"duration"`
}

// Result describes a patch run.
type Result struct {
	RunID  string  `json:"run_id"`
	Rounds []Round `json:"rounds"`
	// Steps counts positions consumed from the budget.
	Steps int `json:"steps"`
	// Trace is the last simulation.
	Trace *execution.Trace `json:"trace,omitempty"`
	// Known is the nominal world updated with every patched neighborhood.
	Known *grid.World `json:"-"`
}

// Engine runs the simulate and patch loop.
type Engine struct {
	oracle    oracle.Oracle
	actual    *grid.World
	nominal   *grid.World
	cfg       Config
	logger    *slog.Logger
	decisions *logging.DecisionLogger
	tracer    trace.Tracer
	meter     metric.Meter

	metricsOnce sync.Once
	roundsTotal metric.Int64Counter
	radiusHist  metric.Int64Histogram
	attempts    metric.Int64Counter
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithDecisionLogger sets the decision trace.
func WithDecisionLogger(dl *logging.DecisionLogger) Option {
	return func(e *Engine) {
		e.decisions = dl
	}
}

// NewEngine creates an engine patching controllers synthesized for nominal
// and executed in actual. A nil nominal means every cell was assumed free.
func NewEngine(o oracle.Oracle, actual, nominal *grid.World, cfg Config, opts ...Option) (*Engine, error) {
	if o == nil {
		return nil, errors.New("patch engine requires an oracle")
	}
	if actual == nil {
		return nil, errors.New("patch engine requires the actual world")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if nominal == nil {
		nominal = grid.New(actual.Rows, actual.Cols)
	}
	if nominal.Rows != actual.Rows || nominal.Cols != actual.Cols {
		return nil, fmt.Errorf("nominal world is %dx%d, actual is %dx%d", nominal.Rows, nominal.Cols, actual.Rows, actual.Cols)
	}
	e := &Engine{
		oracle:  o,
		actual:  actual,
		nominal: nominal,
		cfg:     cfg,
		logger:  logging.Discard(),
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		var failed []string
		var err error
		e.roundsTotal, err = e.meter.Int64Counter("btsynth_patch_rounds_total",
			metric.WithDescription("Patch rounds completed"),
		)
		if err != nil {
			failed = append(failed, "rounds: "+err.Error())
		}
		e.radiusHist, err = e.meter.Int64Histogram("btsynth_patch_radius",
			metric.WithDescription("Radius of adopted patches"),
		)
		if err != nil {
			failed = append(failed, "radius: "+err.Error())
		}
		e.attempts, err = e.meter.Int64Counter("btsynth_patch_attempts_total",
			metric.WithDescription("Neighborhood attempts by outcome"),
		)
		if err != nil {
			failed = append(failed, "attempts: "+err.Error())
		}
		if len(failed) > 0 {
			e.logger.Error("failed to initialize patch metrics", slog.Any("errors", failed))
		}
	})
}

func (e *Engine) countAttempt(ctx context.Context, result string) {
	if e.attempts != nil {
		e.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

// Run simulates g from init and patches it at every divergence until the
// step budget is spent. g is modified in place and returned. goals are the
// required goals of the global problem. A divergence at one of them returns
// a nil graph and ErrPatchCannotHelp.
func (e *Engine) Run(ctx context.Context, g *automaton.Graph, init grid.Coord, goals []grid.Coord) (*automaton.Graph, *Result, error) {
	e.initMetrics()
	res := &Result{RunID: uuid.NewString(), Known: e.nominal.Clone()}
	decisions := e.decisions.WithRun(res.RunID)
	logger := e.logger.With(slog.String("run_id", res.RunID))

	ctx, span := e.tracer.Start(ctx, "patch.Run",
		trace.WithAttributes(
			attribute.String("patch.run_id", res.RunID),
			attribute.Int("patch.budget", e.cfg.StepBudget),
			attribute.Int("patch.nodes", g.Len()),
		),
	)
	defer span.End()

	fail := func(err error) (*automaton.Graph, *Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, res, err
	}

	rng := rand.New(rand.NewPCG(e.cfg.Seed, e.cfg.Seed))
	remaining := e.cfg.StepBudget
	for index := 1; ; index++ {
		if remaining <= 0 {
			break
		}
		tr, err := e.simulate(ctx, g, res.Known, init, remaining, rng)
		if err != nil {
			return fail(fmt.Errorf("round %d: simulating: %w", index, err))
		}
		res.Trace = tr
		if !tr.Diverged() {
			res.Steps += tr.Steps
			break
		}
		remaining -= len(tr.Path)
		res.Steps += len(tr.Path)

		p := *tr.Blocked
		decisions.Log(map[string]any{
			"event":     "divergence",
			"round":     index,
			"at":        p,
			"steps":     tr.Steps,
			"obstacles": tr.Obstacles,
		})
		if slices.Contains(goals, p) {
			logger.Info("divergence at required goal", slog.String("at", p.String()))
			return fail(fmt.Errorf("%w: %s", ErrPatchCannotHelp, p))
		}

		round, err := e.round(ctx, g, res.Known, tr, goals, index, logger, decisions)
		if round != nil {
			res.Rounds = append(res.Rounds, *round)
		}
		if err != nil {
			return fail(fmt.Errorf("round %d: %w", index, err))
		}
	}

	span.SetAttributes(attribute.Int("patch.rounds", len(res.Rounds)))
	span.SetStatus(codes.Ok, "")
	logger.Info("patch run complete",
		slog.Int("rounds", len(res.Rounds)),
		slog.Int("steps", res.Steps),
		slog.Int("nodes", g.Len()))
	return g, res, nil
}

// simulate runs g once, with sampled environment moves when obstacles are
// configured.
func (e *Engine) simulate(ctx context.Context, g *automaton.Graph, known *grid.World, init grid.Coord, budget int, rng *rand.Rand) (*execution.Trace, error) {
	cfg := execution.Config{
		SysPrefix:    e.cfg.SysPrefix,
		EnvPrefix:    e.cfg.EnvPrefix,
		NumObstacles: e.cfg.NumObstacles,
	}
	r := execution.NewRunner(g, e.actual, known, cfg, e.logger)
	if e.cfg.NumObstacles > 0 {
		return r.RunRandom(ctx, init, budget, rng)
	}
	return r.Run(ctx, init, budget, nil)
}

// round grows the neighborhood of a divergence until every seed is
// realizable, then merges.
func (e *Engine) round(ctx context.Context, g *automaton.Graph, known *grid.World, tr *execution.Trace, goals []grid.Coord, index int, logger *slog.Logger, decisions *logging.DecisionLogger) (*Round, error) {
	p := *tr.Blocked
	ctx, span := e.tracer.Start(ctx, "patch.Round",
		trace.WithAttributes(
			attribute.Int("patch.round", index),
			attribute.String("patch.divergence", p.String()),
		),
	)
	defer span.End()

	start := time.Now()
	rd := &Round{Index: index, Divergence: p, Obstacles: tr.Obstacles, NodesBefore: g.Len()}

	fail := func(err error) (*Round, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rd, err
	}

	// lastErr is the unrealizable answer of the previous radius.
	var lastErr error
	var nb *neighborhood
	var patches []seedPatch
	for attempt := 1; ; attempt++ {
		radius := e.cfg.StartRadius + (attempt-1)*e.cfg.RadiusStep
		rd.Attempts = attempt
		if e.cfg.MaxRadius > 0 && radius > e.cfg.MaxRadius {
			return fail(withCause(fmt.Errorf("%w: %d", ErrRadiusCapReached, e.cfg.MaxRadius), lastErr))
		}

		var err error
		nb, err = e.neighborhood(g, p, radius, goals)
		if err != nil {
			if errors.Is(err, ErrNeighborhoodExhausted) {
				err = withCause(err, lastErr)
			}
			return fail(err)
		}
		patches, err = e.solve(ctx, g, nb)
		if err == nil {
			e.countAttempt(ctx, "realizable")
			rd.Radius = radius
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rd, ctxErr
		}
		// Only an unrealizable local problem is worth a larger box.
		if !errors.Is(err, oracle.ErrUnrealizable) {
			e.countAttempt(ctx, "error")
			return fail(fmt.Errorf("radius %d: %w", radius, err))
		}
		lastErr = err
		e.countAttempt(ctx, "rejected")
		logger.Debug("patch attempt rejected",
			slog.Int("round", index),
			slog.Int("radius", radius),
			slog.String("error", err.Error()))
		decisions.Log(map[string]any{
			"event":  "attempt_rejected",
			"round":  index,
			"radius": radius,
			"error":  err.Error(),
		})
		if nb.whole {
			return fail(fmt.Errorf("%w: no realizable patch at radius %d covering the grid: %w", ErrNeighborhoodExhausted, radius, err))
		}
	}

	rd.Seeds = len(patches)
	rd.PatchGoals = nb.goals
	st, err := e.merge(g, nb, patches)
	if err != nil {
		return fail(fmt.Errorf("merging: %w", err))
	}
	if err := g.Validate(); err != nil {
		return fail(fmt.Errorf("merged controller invalid: %w", err))
	}
	for _, c := range nb.cells {
		if err := known.SetBlocked(c, e.actual.Blocked(c)); err != nil {
			return fail(fmt.Errorf("recording neighborhood: %w", err))
		}
	}

	rd.NodesAfter = g.Len()
	rd.Duration = time.Since(start)
	if e.roundsTotal != nil {
		e.roundsTotal.Add(ctx, 1)
	}
	if e.radiusHist != nil {
		e.radiusHist.Record(ctx, int64(rd.Radius))
	}
	span.SetAttributes(
		attribute.Int("patch.radius", rd.Radius),
		attribute.Int("patch.seeds", rd.Seeds),
		attribute.Int("patch.nodes_after", rd.NodesAfter),
	)

	logger.Info("patch merged",
		slog.Int("round", index),
		slog.String("at", p.String()),
		slog.Int("radius", rd.Radius),
		slog.Int("seeds", rd.Seeds),
		slog.Int("nodes_before", rd.NodesBefore),
		slog.Int("nodes_after", rd.NodesAfter))
	decisions.Log(map[string]any{
		"event":        "patch_merged",
		"round":        index,
		"radius":       rd.Radius,
		"attempts":     rd.Attempts,
		"seeds":        rd.Seeds,
		"patch_goals":  rd.PatchGoals,
		"imported":     st.imported,
		"redirected":   st.redirected,
		"spliced":      st.spliced,
		"killed":       st.killed,
		"orphans":      st.orphans,
		"duplicates":   st.duplicates,
		"nodes_before": rd.NodesBefore,
		"nodes_after":  rd.NodesAfter,
	})
	return rd, nil
}

// withCause attaches the last rejected attempt to a terminal radius error.
func withCause(err, cause error) error {
	if cause == nil {
		return err
	}
	return fmt.Errorf("%w (last attempt: %w)", err, cause)
}
