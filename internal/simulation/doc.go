// Package simulation provides a multi-trial harness for measuring how the
// patch engine behaves on gridworlds.
//
// Each trial synthesizes a nominal controller, blocks a cell that interrupts
// its plan, confirms the blocked world is still solvable from scratch, and
// then patches the nominal controller. Timings, controller sizes and rounds
// are recorded per trial, and controllers are persisted with their lineage
// in a ControllerStore. The harness exercises the real oracle, engine and
// store; nothing is mocked unless the scenario supplies its own oracle.
//
// Usage:
//
//	func TestPatchAroundWall(t *testing.T) {
//	    r := simulation.NewTestRunner(t)
//	    result := r.MustRun(simulation.Scenario{
//	        Name:   "wall",
//	        World:  world,
//	        Blocks: []grid.Coord{{Row: 2, Col: 1}},
//	    })
//	    simulation.AssertAllPatched(t, result)
//	    simulation.AssertGoalsVisited(t, result)
//	}
package simulation
