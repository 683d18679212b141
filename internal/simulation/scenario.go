package simulation

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/oracle"
	"github.com/nvandessel/btsynth/internal/patch"
)

// Scenario defines a simulation experiment.
type Scenario struct {
	Name string

	// World, when non-nil, is the nominal world of every trial. Otherwise
	// each trial draws a random world of Rows x Cols.
	World *grid.World

	// Blocks, when non-empty, are the cells blocked in the actual world.
	// Otherwise a random free cell interrupting the nominal plan is chosen,
	// retrying up to MaxBlockingTries times.
	Blocks []grid.Coord

	Rows, Cols       int
	Density          float64
	NumGoals         int
	Trials           int
	MaxBlockingTries int

	// Seed drives world generation and block placement.
	Seed uint64

	// Patch configures the engine. Zero value means patch.DefaultConfig().
	Patch *patch.Config

	// Oracle overrides the planner.
	Oracle oracle.Oracle
}

func (s Scenario) withDefaults() Scenario {
	if s.Trials == 0 {
		s.Trials = 1
	}
	if s.MaxBlockingTries == 0 {
		s.MaxBlockingTries = 10
	}
	if s.NumGoals == 0 {
		s.NumGoals = 2
	}
	if s.Patch == nil {
		cfg := patch.DefaultConfig()
		s.Patch = &cfg
	}
	if s.Oracle == nil {
		s.Oracle = oracle.NewPlanner()
	}
	return s
}

// Validate checks that the scenario can run.
func (s Scenario) Validate() error {
	if s.World == nil && (s.Rows <= 0 || s.Cols <= 0) {
		return fmt.Errorf("scenario %q: no world and invalid size %dx%d", s.Name, s.Rows, s.Cols)
	}
	if s.World != nil && len(s.World.Inits) == 0 {
		return fmt.Errorf("scenario %q: world has no initial position", s.Name)
	}
	if s.Trials < 0 {
		return fmt.Errorf("scenario %q: negative trial count", s.Name)
	}
	return nil
}

// Outcome classifies a trial.
type Outcome string

const (
	OutcomePatched       Outcome = "patched"       // nominal controller repaired
	OutcomeCannotHelp    Outcome = "cannot-help"   // divergence at a required goal
	OutcomeFailed        Outcome = "failed"        // patching returned another error
	OutcomeInfeasible    Outcome = "infeasible"    // no nominal controller exists
	OutcomeUninterrupted Outcome = "uninterrupted" // no block interrupted the plan
)

// TrialResult captures one trial.
type TrialResult struct {
	Index   int
	Outcome Outcome
	Err     error

	Nominal *grid.World
	Actual  *grid.World
	Block   []grid.Coord

	NominalTime time.Duration
	GlobalTime  time.Duration
	PatchTime   time.Duration

	NominalNodes int
	GlobalNodes  int
	PatchedNodes int

	Patch *patch.Result

	// Controller IDs in the store.
	NominalID string
	PatchedID string
}

// SimulationResult captures all trials.
type SimulationResult struct {
	Scenario Scenario
	Trials   []TrialResult
}

// Count returns the number of trials with outcome o.
func (r SimulationResult) Count(o Outcome) int {
	n := 0
	for _, t := range r.Trials {
		if t.Outcome == o {
			n++
		}
	}
	return n
}

// Summary renders one line per trial followed by outcome totals, in the
// form nominal_time, global_time, patch_time.
func (r SimulationResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %d trials\n", r.Scenario.Name, len(r.Trials))
	for _, t := range r.Trials {
		fmt.Fprintf(&b, "%d %s nominal=%s global=%s patch=%s nodes=%d->%d rounds=%d\n",
			t.Index, t.Outcome,
			t.NominalTime.Round(time.Microsecond), t.GlobalTime.Round(time.Microsecond), t.PatchTime.Round(time.Microsecond),
			t.NominalNodes, t.PatchedNodes, rounds(t))
	}
	outcomes := []Outcome{OutcomePatched, OutcomeCannotHelp, OutcomeFailed, OutcomeInfeasible, OutcomeUninterrupted}
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if n := r.Count(o); n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", o, n))
		}
	}
	slices.Sort(parts)
	fmt.Fprintf(&b, "# %s\n", strings.Join(parts, " "))
	return b.String()
}

func rounds(t TrialResult) int {
	if t.Patch == nil {
		return 0
	}
	return len(t.Patch.Rounds)
}
