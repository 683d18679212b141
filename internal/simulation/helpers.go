package simulation

import (
	"context"
	"strings"
	"testing"

	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/logging"
	"github.com/nvandessel/btsynth/internal/store"
)

// TestRunner binds a Runner to a test. Controllers go to a SQLite store in
// the test's temporary directory, closed on cleanup.
type TestRunner struct {
	*Runner
	t *testing.T
}

// NewTestRunner creates a TestRunner with a fresh SQLite store.
func NewTestRunner(t *testing.T) *TestRunner {
	t.Helper()
	cs, err := store.NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewTestRunner: opening store: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return &TestRunner{Runner: NewRunner(cs, logging.Discard()), t: t}
}

// MustRun runs the scenario and fails the test on error.
func (r *TestRunner) MustRun(sc Scenario) SimulationResult {
	r.t.Helper()
	result, err := r.Run(context.Background(), sc)
	if err != nil {
		r.t.Fatalf("MustRun %q: %v", sc.Name, err)
	}
	return result
}

// MustWorld parses a world in the text format and fails the test on error.
func MustWorld(t *testing.T, text string) *grid.World {
	t.Helper()
	w, err := grid.Read(strings.NewReader(text))
	if err != nil {
		t.Fatalf("MustWorld: %v", err)
	}
	return w
}
