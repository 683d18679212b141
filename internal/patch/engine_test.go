package patch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/constants"
	"github.com/nvandessel/btsynth/internal/execution"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/label"
	"github.com/nvandessel/btsynth/internal/logging"
	"github.com/nvandessel/btsynth/internal/oracle"
	"github.com/nvandessel/btsynth/internal/region"
)

func c(row, col int) grid.Coord {
	return grid.Coord{Row: row, Col: col}
}

// controller builds the lasso controller of path on w.
func controller(t *testing.T, w *grid.World, path []grid.Coord, loop int) *automaton.Graph {
	t.Helper()
	g, err := oracle.Lasso(w, path, loop, oracle.LassoOptions{SysPrefix: "Y"})
	if err != nil {
		t.Fatalf("Lasso failed: %v", err)
	}
	return g
}

// topRow walks the top row of a 5x5 grid and down the right column to a
// self-loop at (4, 4).
var topRow = []grid.Coord{
	c(0, 0), c(0, 1), c(0, 2), c(0, 3), c(0, 4),
	c(1, 4), c(2, 4), c(3, 4), c(4, 4),
}

func engine(t *testing.T, o oracle.Oracle, actual, nominal *grid.World, cfg Config, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(o, actual, nominal, cfg, opts...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

// positions returns the system cells of the nodes reachable from the
// initial nodes of g.
func positions(t *testing.T, g *automaton.Graph) map[grid.Coord]bool {
	t.Helper()
	out := make(map[grid.Coord]bool)
	for _, h := range region.Reachable(g, g.InitialNodes()).Slice() {
		p, err := execution.SysPosition(g, h, "Y")
		if err != nil {
			t.Fatalf("node %s: %v", h, err)
		}
		out[p] = true
	}
	return out
}

func TestRunWithoutDivergence(t *testing.T) {
	w := grid.New(3, 3)
	g := controller(t, w, []grid.Coord{c(0, 0), c(0, 1), c(0, 2), c(1, 2), c(2, 2)}, 4)
	mock := oracle.NewMock()
	e := engine(t, mock, w, w.Clone(), DefaultConfig())

	out, res, err := e.Run(context.Background(), g, c(0, 0), []grid.Coord{c(2, 2)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != g {
		t.Error("expected the input graph back")
	}
	if len(res.Rounds) != 0 || mock.CallCount() != 0 {
		t.Errorf("expected no rounds, got %d rounds and %d oracle calls", len(res.Rounds), mock.CallCount())
	}
	if res.Steps != DefaultConfig().StepBudget {
		t.Errorf("expected %d steps, got %d", DefaultConfig().StepBudget, res.Steps)
	}
	if res.RunID == "" {
		t.Error("missing run ID")
	}
}

func TestRunDivergenceAtGoal(t *testing.T) {
	nominal := grid.New(3, 3)
	actual := nominal.Clone()
	actual.SetBlocked(c(2, 2), true)
	g := controller(t, nominal, []grid.Coord{c(0, 0), c(0, 1), c(0, 2), c(1, 2), c(2, 2)}, 4)
	mock := oracle.NewMock()
	e := engine(t, mock, actual, nominal, DefaultConfig())

	out, res, err := e.Run(context.Background(), g, c(0, 0), []grid.Coord{c(2, 2)})
	if !errors.Is(err, ErrPatchCannotHelp) {
		t.Fatalf("expected ErrPatchCannotHelp, got %v", err)
	}
	if out != nil {
		t.Error("expected nil graph")
	}
	if mock.CallCount() != 0 {
		t.Errorf("no repair may be attempted, got %d oracle calls", mock.CallCount())
	}
	if res.Trace == nil || *res.Trace.Blocked != c(2, 2) {
		t.Errorf("expected trace blocked at the goal, got %+v", res.Trace)
	}
}

func TestRunPatchesAroundWall(t *testing.T) {
	nominal := grid.New(3, 3)
	actual := nominal.Clone()
	actual.SetBlocked(c(2, 1), true)
	g := controller(t, nominal, []grid.Coord{c(0, 0), c(1, 0), c(2, 0), c(2, 1), c(2, 2)}, 4)

	var decisions bytes.Buffer
	mock := oracle.NewMock()
	e := engine(t, mock, actual, nominal, DefaultConfig(), WithDecisionLogger(logging.NewDecisionWriter(&decisions)))

	out, res, err := e.Run(context.Background(), g, c(0, 0), []grid.Coord{c(2, 2)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Rounds) != 1 {
		t.Fatalf("expected 1 round, got %d", len(res.Rounds))
	}
	rd := res.Rounds[0]
	if rd.Divergence != c(2, 1) || rd.Radius != 1 || rd.Attempts != 1 || rd.Seeds != 1 {
		t.Errorf("unexpected round %+v", rd)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("patched controller invalid: %v", err)
	}

	// The last simulation ran out its budget without touching the wall.
	if res.Trace.Diverged() {
		t.Fatalf("patched controller diverged at %s", res.Trace.Blocked)
	}
	sawGoal := false
	for _, p := range res.Trace.Path {
		if p == c(2, 1) {
			t.Fatal("patched controller entered the wall")
		}
		if p == c(2, 2) {
			sawGoal = true
		}
	}
	if !sawGoal {
		t.Error("patched controller never reached the goal")
	}
	if res.Steps != DefaultConfig().StepBudget {
		t.Errorf("expected the whole budget consumed, got %d", res.Steps)
	}
	if !res.Known.Blocked(c(2, 1)) {
		t.Error("known world must record the wall")
	}
	for _, n := range out.Nodes() {
		if n.State[label.Format("Y", c(2, 1))] {
			t.Errorf("node %s still stands on the wall", n.ID())
		}
	}

	req := mock.Calls[0]
	if req.World.Rows != 2 || req.World.Cols != 3 {
		t.Errorf("expected 2x3 local world, got %dx%d", req.World.Rows, req.World.Cols)
	}
	if req.Inits[0] != c(0, 0) || len(req.Goals) != 1 || req.Goals[0] != c(1, 2) {
		t.Errorf("unexpected local request %+v", req)
	}
	if got := out.MemNames(); len(got) != 1 || got[0] != "Y_2_2" {
		t.Errorf("expected memory for the patched goal, got %v", got)
	}

	if !strings.Contains(decisions.String(), `"event":"patch_merged"`) {
		t.Errorf("missing merge decision in %q", decisions.String())
	}
}

func TestRunRetriesLargerRadius(t *testing.T) {
	nominal := grid.New(5, 5)
	actual := nominal.Clone()
	actual.SetBlocked(c(0, 2), true)
	g := controller(t, nominal, topRow, len(topRow)-1)
	before := positions(t, g)

	// Every radius 1 sub-problem is unrealizable.
	mock := oracle.NewMock().WithRefusal(func(r *oracle.Request) bool {
		return r.World.Rows == 2 && r.World.Cols == 3
	})
	e := engine(t, mock, actual, nominal, DefaultConfig())

	out, res, err := e.Run(context.Background(), g, c(0, 0), []grid.Coord{c(4, 4)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Rounds) != 1 {
		t.Fatalf("expected 1 round, got %d", len(res.Rounds))
	}
	if rd := res.Rounds[0]; rd.Radius != 2 || rd.Attempts != 2 {
		t.Errorf("expected adoption at radius 2 after 2 attempts, got %+v", rd)
	}
	if mock.CallCount() != 2 {
		t.Fatalf("expected one refused and one accepted request, got %d", mock.CallCount())
	}
	if w := mock.Calls[1].World; w.Rows != 3 || w.Cols != 5 {
		t.Errorf("second attempt must use the radius 2 box, got %dx%d", w.Rows, w.Cols)
	}
	if d := mock.Calls[1].GoalsDisjunct; len(d) != 1 || d[0] != c(2, 4) {
		t.Errorf("expected the region exit as disjunctive goal, got %v", d)
	}

	after := positions(t, out)
	if after[c(0, 2)] {
		t.Error("failing cell still reachable")
	}
	for _, p := range []grid.Coord{c(0, 0), c(3, 4), c(4, 4)} {
		if before[p] && !after[p] {
			t.Errorf("%s no longer reachable", p)
		}
	}
	if res.Trace.Diverged() {
		t.Errorf("patched controller diverged at %s", res.Trace.Blocked)
	}
}

func TestRunGatesExitOnMemory(t *testing.T) {
	nominal := grid.New(5, 5)
	actual := nominal.Clone()
	actual.SetBlocked(c(0, 2), true)
	g := controller(t, nominal, topRow, len(topRow)-1)
	goals := []grid.Coord{c(0, 3), c(4, 4)}

	e := engine(t, oracle.NewMock(), actual, nominal, DefaultConfig())
	out, res, err := e.Run(context.Background(), g, c(0, 0), goals)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rd := res.Rounds[0]; len(rd.PatchGoals) != 1 || rd.PatchGoals[0] != c(0, 3) {
		t.Errorf("expected patch goal (0, 3), got %v", rd.PatchGoals)
	}

	gated := 0
	for _, n := range out.Nodes() {
		for _, guard := range n.Guards() {
			if guard != automaton.GuardNone {
				gated++
			}
		}
	}
	if gated == 0 {
		t.Error("expected guarded exit edges")
	}

	visited := map[grid.Coord]bool{}
	for _, p := range res.Trace.Path {
		visited[p] = true
	}
	if res.Trace.Diverged() || visited[c(0, 2)] {
		t.Fatal("patched controller reached the wall")
	}
	for _, goal := range goals {
		if !visited[goal] {
			t.Errorf("goal %s never visited", goal)
		}
	}
}

func TestRunNeighborhoodExhausted(t *testing.T) {
	nominal := grid.New(3, 3)
	actual := nominal.Clone()
	actual.SetBlocked(c(2, 1), true)
	g := controller(t, nominal, []grid.Coord{c(0, 0), c(1, 0), c(2, 0), c(2, 1), c(2, 2)}, 4)
	mock := oracle.NewMock().WithError(oracle.ErrUnrealizable)

	out, res, err := engine(t, mock, actual, nominal, DefaultConfig()).Run(context.Background(), g, c(0, 0), []grid.Coord{c(2, 2)})
	if !errors.Is(err, ErrNeighborhoodExhausted) {
		t.Fatalf("expected ErrNeighborhoodExhausted, got %v", err)
	}
	if out != nil {
		t.Error("expected nil graph")
	}
	if len(res.Rounds) != 1 || res.Rounds[0].Attempts < 2 {
		t.Errorf("expected radius growth before exhaustion, got %+v", res.Rounds)
	}
	if !errors.Is(err, oracle.ErrUnrealizable) {
		t.Errorf("exhaustion must carry the last rejection, got %v", err)
	}
}

func TestRunSolverFailureStopsRound(t *testing.T) {
	nominal := grid.New(5, 5)
	actual := nominal.Clone()
	actual.SetBlocked(c(0, 2), true)
	g := controller(t, nominal, topRow, len(topRow)-1)

	crash := errors.New("solver process exited with status 139")
	mock := oracle.NewMock().WithError(crash)
	out, res, err := engine(t, mock, actual, nominal, DefaultConfig()).Run(context.Background(), g, c(0, 0), []grid.Coord{c(4, 4)})
	if !errors.Is(err, crash) {
		t.Fatalf("expected the solver error, got %v", err)
	}
	if errors.Is(err, ErrNeighborhoodExhausted) || errors.Is(err, ErrRadiusCapReached) {
		t.Errorf("solver failure reported as radius exhaustion: %v", err)
	}
	if out != nil {
		t.Error("expected nil graph")
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected no retry after a solver failure, got %d calls", mock.CallCount())
	}
	if len(res.Rounds) != 1 || res.Rounds[0].Attempts != 1 {
		t.Errorf("expected a single attempt, got %+v", res.Rounds)
	}
}

func TestRunUnsupportedRequestStopsRound(t *testing.T) {
	nominal := grid.New(5, 5)
	actual := nominal.Clone()
	actual.SetBlocked(c(0, 2), true)
	g, err := oracle.Lasso(nominal, topRow, len(topRow)-1, oracle.LassoOptions{
		SysPrefix: "Y",
		EnvPrefix: "X",
		Obstacles: []oracle.Obstacle{{Center: c(1, 2), Radius: 0}},
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.NumObstacles = 1
	mock := oracle.NewMock()
	_, _, err = engine(t, mock, actual, nominal, cfg).Run(context.Background(), g, c(0, 0), []grid.Coord{c(4, 4)})
	if !errors.Is(err, oracle.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected a single request, got %d", mock.CallCount())
	}
}

func TestRunRadiusCap(t *testing.T) {
	nominal := grid.New(5, 5)
	actual := nominal.Clone()
	actual.SetBlocked(c(0, 2), true)
	g := controller(t, nominal, topRow, len(topRow)-1)

	cfg := DefaultConfig()
	cfg.MaxRadius = 1
	mock := oracle.NewMock().WithError(oracle.ErrUnrealizable)
	_, _, err := engine(t, mock, actual, nominal, cfg).Run(context.Background(), g, c(0, 0), []grid.Coord{c(4, 4)})
	if !errors.Is(err, ErrRadiusCapReached) {
		t.Fatalf("expected ErrRadiusCapReached, got %v", err)
	}
	if errors.Is(err, ErrNeighborhoodExhausted) {
		t.Error("cap must be distinct from exhaustion")
	}
	if !errors.Is(err, oracle.ErrUnrealizable) {
		t.Errorf("cap must carry the last rejection, got %v", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected a single attempt, got %d", mock.CallCount())
	}
}

func TestRunTranslatesObstacles(t *testing.T) {
	nominal := grid.New(5, 5)
	actual := nominal.Clone()
	actual.SetBlocked(c(0, 2), true)
	g, err := oracle.Lasso(nominal, topRow, len(topRow)-1, oracle.LassoOptions{
		SysPrefix: "Y",
		EnvPrefix: "X",
		Obstacles: []oracle.Obstacle{{Center: c(1, 2), Radius: 0}},
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.NumObstacles = 1
	cfg.MaxRadius = 1
	mock := oracle.NewMock().WithError(oracle.ErrUnrealizable)
	_, res, err := engine(t, mock, actual, nominal, cfg).Run(context.Background(), g, c(0, 0), []grid.Coord{c(4, 4)})
	if !errors.Is(err, ErrRadiusCapReached) {
		t.Fatalf("expected ErrRadiusCapReached, got %v", err)
	}
	if obs := res.Rounds[0].Obstacles; len(obs) != 1 || obs[0] != c(1, 2) {
		t.Errorf("expected obstacle at (1, 2) at divergence, got %v", obs)
	}
	req := mock.Calls[0]
	if len(req.Obstacles) != 1 {
		t.Fatalf("expected 1 obstacle in request, got %d", len(req.Obstacles))
	}
	want := oracle.Obstacle{Center: c(1, 1), Radius: cfg.ObstacleRadius}
	if req.Obstacles[0] != want {
		t.Errorf("obstacle = %+v, want %+v", req.Obstacles[0], want)
	}
	if req.EnvPrefix != "X" {
		t.Errorf("env prefix = %q", req.EnvPrefix)
	}
}

// envLasso answers a request with a planner lasso whose nodes carry the
// requested obstacles in the local frame.
var envLasso = oracle.SynthesizeFunc(func(ctx context.Context, req *oracle.Request) (*automaton.Graph, error) {
	path, loop, err := oracle.Plan(req.World, req.Inits[0], req.Goals, req.GoalsDisjunct)
	if err != nil {
		return nil, err
	}
	return oracle.Lasso(req.World, path, loop, oracle.LassoOptions{
		SysPrefix: req.SysPrefix,
		EnvPrefix: req.EnvPrefix,
		Obstacles: req.Obstacles,
	})
})

func TestRunMergesEnvironmentPatch(t *testing.T) {
	nominal := grid.New(5, 5)
	actual := nominal.Clone()
	actual.SetBlocked(c(0, 2), true)
	g, err := oracle.Lasso(nominal, topRow, len(topRow)-1, oracle.LassoOptions{
		SysPrefix: "Y",
		EnvPrefix: "X",
		Obstacles: []oracle.Obstacle{{Center: c(1, 2), Radius: 0}},
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.NumObstacles = 1
	cfg.ObstacleRadius = 0
	mock := oracle.NewMock().WithDelegate(envLasso)
	out, res, err := engine(t, mock, actual, nominal, cfg).Run(context.Background(), g, c(0, 0), []grid.Coord{c(4, 4)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Rounds) != 1 {
		t.Fatalf("expected 1 round, got %d", len(res.Rounds))
	}
	if res.Trace.Diverged() {
		t.Fatalf("patched controller diverged at %s", res.Trace.Blocked)
	}
	if got := mock.Calls[0].Obstacles; len(got) != 1 || got[0].Center != c(1, 1) {
		t.Errorf("expected the obstacle at local (1, 1), got %v", got)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("patched controller invalid: %v", err)
	}

	// Imported nodes come back in the global frame with the agent where
	// the global controller has it.
	agent := label.Format(label.EnvPrefix("X", 0), c(1, 2))
	for _, n := range out.Nodes() {
		if !n.State[agent] {
			t.Errorf("node %s lost %s: %v", n.ID(), agent, n.State)
		}
		for k, v := range n.State {
			if v && k != agent && label.InGroup(k, "X") {
				t.Errorf("node %s has stray agent proposition %s", n.ID(), k)
			}
		}
	}

	after := positions(t, out)
	if after[c(0, 2)] {
		t.Error("failing cell still reachable")
	}
	if !after[c(1, 2)] || !after[c(4, 4)] {
		t.Errorf("expected the detour and the goal reachable, got %v", after)
	}
}

func TestRunCancelled(t *testing.T) {
	w := grid.New(3, 3)
	g := controller(t, w, []grid.Coord{c(0, 0), c(0, 1)}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := engine(t, oracle.NewMock(), w, nil, DefaultConfig()).Run(ctx, g, c(0, 0), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestResultJSON(t *testing.T) {
	nominal := grid.New(3, 3)
	actual := nominal.Clone()
	actual.SetBlocked(c(2, 1), true)
	g := controller(t, nominal, []grid.Coord{c(0, 0), c(1, 0), c(2, 0), c(2, 1), c(2, 2)}, 4)
	_, res, err := engine(t, oracle.NewMock(), actual, nominal, DefaultConfig()).Run(context.Background(), g, c(0, 0), []grid.Coord{c(2, 2)})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var back Result
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.RunID != res.RunID || len(back.Rounds) != 1 || back.Rounds[0].Divergence != c(2, 1) {
		t.Errorf("unexpected decoded result %+v", back)
	}
}

func TestNewEngineValidation(t *testing.T) {
	w := grid.New(2, 2)
	bad := DefaultConfig()
	bad.StartRadius = 0
	if _, err := NewEngine(oracle.NewMock(), w, nil, bad); err == nil {
		t.Error("expected error for zero start radius")
	}
	if _, err := NewEngine(nil, w, nil, DefaultConfig()); err == nil {
		t.Error("expected error without oracle")
	}
	if _, err := NewEngine(oracle.NewMock(), w, grid.New(3, 3), DefaultConfig()); err == nil {
		t.Error("expected error for mismatched worlds")
	}
	policy := DefaultConfig()
	policy.StitchPolicy = constants.StitchPolicy("last")
	if err := policy.Validate(); err == nil {
		t.Error("expected error for unknown stitch policy")
	}
}
