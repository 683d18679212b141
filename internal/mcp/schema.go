package mcp

import (
	"time"

	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/patch"
)

// WorldInput defines the input for the btsynth_world tool.
type WorldInput struct {
	Path    string  `json:"path,omitempty" jsonschema:"World file to load, relative to the project root. When empty a random world is generated"`
	Rows    int     `json:"rows,omitempty" jsonschema:"Rows of a generated world (default 5)"`
	Cols    int     `json:"cols,omitempty" jsonschema:"Columns of a generated world (default 5)"`
	Density float64 `json:"density,omitempty" jsonschema:"Wall density of a generated world in [0, 1)"`
	Goals   int     `json:"goals,omitempty" jsonschema:"Goals of a generated world (default 2)"`
	Seed    uint64  `json:"seed,omitempty" jsonschema:"Random seed of a generated world"`
}

// WorldOutput defines the output for the btsynth_world tool.
type WorldOutput struct {
	World     string       `json:"world" jsonschema:"World in the plain-text format"`
	Pretty    string       `json:"pretty" jsonschema:"Character map of the world"`
	Rows      int          `json:"rows"`
	Cols      int          `json:"cols"`
	Goals     []grid.Coord `json:"goals"`
	Inits     []grid.Coord `json:"inits"`
	FreeCells int          `json:"free_cells"`
}

// SimulateInput defines the input for the btsynth_simulate tool. Exactly
// one of World and Path must be set.
type SimulateInput struct {
	World  string       `json:"world,omitempty" jsonschema:"Nominal world in the plain-text format"`
	Path   string       `json:"path,omitempty" jsonschema:"Nominal world file, relative to the project root"`
	Blocks []grid.Coord `json:"blocks,omitempty" jsonschema:"Cells blocked in the actual world but free in the nominal one"`
	Steps  int          `json:"steps,omitempty" jsonschema:"Step budget (default from configuration)"`
}

// SimulateOutput defines the output for the btsynth_simulate tool.
type SimulateOutput struct {
	Path     []grid.Coord `json:"path" jsonschema:"Cells visited from the initial position on"`
	Steps    int          `json:"steps"`
	Diverged bool         `json:"diverged" jsonschema:"Whether the run tried to enter a blocked cell"`
	Blocked  *grid.Coord  `json:"blocked,omitempty" jsonschema:"Cell the controller failed to enter"`
	Nodes    int          `json:"nodes" jsonschema:"Nodes of the nominal controller"`
	Pretty   string       `json:"pretty" jsonschema:"Character map of the run"`
}

// PatchInput defines the input for the btsynth_patch tool. Exactly one of
// World and Path must be set.
type PatchInput struct {
	World     string       `json:"world,omitempty" jsonschema:"Nominal world in the plain-text format"`
	Path      string       `json:"path,omitempty" jsonschema:"Nominal world file, relative to the project root"`
	Blocks    []grid.Coord `json:"blocks,omitempty" jsonschema:"Cells blocked in the actual world but free in the nominal one"`
	Steps     int          `json:"steps,omitempty" jsonschema:"Step budget (default from configuration)"`
	MaxRadius int          `json:"max_radius,omitempty" jsonschema:"Largest neighborhood radius tried (0 grows until the grid is covered)"`
	Save      bool         `json:"save,omitempty" jsonschema:"Persist the nominal and patched controllers with their rounds"`
}

// PatchOutput defines the output for the btsynth_patch tool.
type PatchOutput struct {
	RunID       string        `json:"run_id"`
	Rounds      []patch.Round `json:"rounds"`
	Steps       int           `json:"steps"`
	NodesBefore int           `json:"nodes_before"`
	NodesAfter  int           `json:"nodes_after"`
	CannotHelp  bool          `json:"cannot_help" jsonschema:"Divergence at a required goal; only full resynthesis can repair it"`
	NominalID   string        `json:"nominal_id,omitempty"`
	PatchedID   string        `json:"patched_id,omitempty"`
	Pretty      string        `json:"pretty,omitempty" jsonschema:"Character map of the final run"`
	Message     string        `json:"message"`
}

// ListInput defines the input for the btsynth_list tool.
type ListInput struct {
	Kind string `json:"kind,omitempty" jsonschema:"Only list controllers of this kind: nominal, patched or local"`
}

// ListOutput defines the output for the btsynth_list tool.
type ListOutput struct {
	Controllers []ControllerItem `json:"controllers"`
	Count       int              `json:"count"`
}

// ControllerItem is a list view of a stored controller.
type ControllerItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	ParentID  string    `json:"parent_id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Nodes     int       `json:"nodes"`
	CreatedAt time.Time `json:"created_at"`
}

// GraphInput defines the input for the btsynth_graph tool.
type GraphInput struct {
	ID     string `json:"id" jsonschema:"Stored controller ID"`
	Format string `json:"format,omitempty" jsonschema:"Output format: dot or json (default dot)"`
}

// GraphOutput defines the output for the btsynth_graph tool.
type GraphOutput struct {
	Format    string      `json:"format"`
	Graph     interface{} `json:"graph"`
	NodeCount int         `json:"node_count"`
}

// ValidateInput defines the input for the btsynth_validate tool.
type ValidateInput struct{}

// ValidateOutput defines the output for the btsynth_validate tool.
type ValidateOutput struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}
