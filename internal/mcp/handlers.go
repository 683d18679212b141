package mcp

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/execution"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/oracle"
	"github.com/nvandessel/btsynth/internal/pathutil"
	"github.com/nvandessel/btsynth/internal/patch"
	"github.com/nvandessel/btsynth/internal/ratelimit"
	"github.com/nvandessel/btsynth/internal/sanitize"
	"github.com/nvandessel/btsynth/internal/store"
	"github.com/nvandessel/btsynth/internal/visualization"
)

const controllersURI = "btsynth://controllers"

// registerTools registers all btsynth MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "btsynth_world",
		Description: "Load a gridworld file or generate a random gridworld",
	}, s.handleWorld)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "btsynth_simulate",
		Description: "Synthesize a controller for a nominal world and run it where some cells are blocked",
	}, s.handleSimulate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "btsynth_patch",
		Description: "Synthesize a controller for a nominal world and patch it locally around cells that turn out blocked",
	}, s.handlePatch)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "btsynth_list",
		Description: "List stored controllers",
	}, s.handleList)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "btsynth_graph",
		Description: "Render a stored controller in DOT (Graphviz) or JSON format",
	}, s.handleGraph)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "btsynth_validate",
		Description: "Check stored controllers for malformed automata and broken lineage (dangling parents, cycles, self-references)",
	}, s.handleValidate)
}

// registerResources registers MCP resources for browsing stored controllers.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         controllersURI,
		Name:        "btsynth-controllers",
		Description: "Stored controllers with their kind, size and lineage.",
		MIMEType:    "text/markdown",
	}, s.handleControllersResource)

	s.server.AddResourceTemplate(&sdk.ResourceTemplate{
		URITemplate: controllersURI + "/{id}",
		Name:        "btsynth-controller-dot",
		Description: "A stored controller rendered in DOT format.",
		MIMEType:    "text/vnd.graphviz",
	}, s.handleControllerResource)
}

func (s *Server) handleControllersResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	cs, err := s.store.ListControllers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list controllers: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Controllers\n\n")
	if len(cs) == 0 {
		sb.WriteString("No stored controllers yet. Patch one with `btsynth_patch` and `save: true`.\n")
	}
	for _, c := range cs {
		fmt.Fprintf(&sb, "- `%s` %s (%s, %d nodes)", c.ID, sanitize.Inline(c.Name), c.Kind, len(c.Automaton.Nodes))
		if c.ParentID != "" {
			fmt.Fprintf(&sb, " patched from `%s`", c.ParentID)
		}
		sb.WriteString("\n")
	}
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{{URI: controllersURI, MIMEType: "text/markdown", Text: sb.String()}},
	}, nil
}

func (s *Server) handleControllerResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	uri := req.Params.URI
	id := strings.TrimPrefix(uri, controllersURI+"/")
	if id == "" || id == uri {
		return nil, fmt.Errorf("invalid URI format: %s", uri)
	}
	c, err := s.store.GetController(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := c.Graph()
	if err != nil {
		return nil, err
	}
	dot := visualization.RenderDOT(g, visualization.Options{Name: c.Name, SysPrefix: s.settings.Labels.SysPrefix})
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{{URI: uri, MIMEType: "text/vnd.graphviz", Text: dot}},
	}, nil
}

// handleWorld implements the btsynth_world tool.
func (s *Server) handleWorld(ctx context.Context, req *sdk.CallToolRequest, args WorldInput) (_ *sdk.CallToolResult, _ WorldOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("btsynth_world", start, retErr, sanitizeToolParams(map[string]interface{}{
			"path": args.Path, "rows": args.Rows, "cols": args.Cols, "density": args.Density, "goals": args.Goals, "seed": args.Seed,
		}))
	}()
	if err := ratelimit.CheckLimit(s.toolLimiters, "btsynth_world"); err != nil {
		return nil, WorldOutput{}, err
	}

	var w *grid.World
	if args.Path != "" {
		path, err := pathutil.ResolveWorldPath(args.Path, s.root)
		if err != nil {
			return nil, WorldOutput{}, err
		}
		if w, err = grid.ReadFile(path); err != nil {
			return nil, WorldOutput{}, fmt.Errorf("read world %s: %w", pathutil.RedactPath(path), err)
		}
	} else {
		rows, cols, goals := orDefault(args.Rows, 5), orDefault(args.Cols, 5), orDefault(args.Goals, 2)
		rng := rand.New(rand.NewPCG(args.Seed, args.Seed))
		var err error
		if w, err = grid.Random(rng, rows, cols, args.Density, goals, 0); err != nil {
			return nil, WorldOutput{}, err
		}
	}

	pretty, err := grid.Pretty(w, nil, true)
	if err != nil {
		return nil, WorldOutput{}, err
	}
	return nil, WorldOutput{
		World:     grid.Dump(w),
		Pretty:    pretty,
		Rows:      w.Rows,
		Cols:      w.Cols,
		Goals:     w.Goals,
		Inits:     w.Inits,
		FreeCells: len(w.FreeCells()),
	}, nil
}

// handleSimulate implements the btsynth_simulate tool.
func (s *Server) handleSimulate(ctx context.Context, req *sdk.CallToolRequest, args SimulateInput) (_ *sdk.CallToolResult, _ SimulateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("btsynth_simulate", start, retErr, sanitizeToolParams(map[string]interface{}{
			"world": args.World, "path": args.Path, "blocks": len(args.Blocks), "steps": args.Steps,
		}))
	}()
	if err := ratelimit.CheckLimit(s.toolLimiters, "btsynth_simulate"); err != nil {
		return nil, SimulateOutput{}, err
	}

	nominal, actual, err := s.problem(args.World, args.Path, args.Blocks)
	if err != nil {
		return nil, SimulateOutput{}, err
	}
	g, err := s.synthesize(ctx, nominal)
	if err != nil {
		return nil, SimulateOutput{}, err
	}

	budget := orDefault(args.Steps, s.settings.Patch.StepBudget)
	exec := execution.Config{SysPrefix: s.settings.Labels.SysPrefix, EnvPrefix: s.settings.Labels.EnvPrefix}
	tr, err := execution.NewRunner(g, actual, nominal, exec, s.logger).Run(ctx, nominal.Inits[0], budget, nil)
	if err != nil {
		return nil, SimulateOutput{}, fmt.Errorf("simulation failed: %w", err)
	}
	pretty, err := grid.Pretty(actual, tr.Overlay(), true)
	if err != nil {
		return nil, SimulateOutput{}, err
	}
	return nil, SimulateOutput{
		Path:     tr.Path,
		Steps:    tr.Steps,
		Diverged: tr.Diverged(),
		Blocked:  tr.Blocked,
		Nodes:    g.Len(),
		Pretty:   pretty,
	}, nil
}

// handlePatch implements the btsynth_patch tool.
func (s *Server) handlePatch(ctx context.Context, req *sdk.CallToolRequest, args PatchInput) (_ *sdk.CallToolResult, _ PatchOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("btsynth_patch", start, retErr, sanitizeToolParams(map[string]interface{}{
			"world": args.World, "path": args.Path, "blocks": len(args.Blocks), "steps": args.Steps,
			"max_radius": args.MaxRadius, "save": args.Save,
		}))
	}()
	if err := ratelimit.CheckLimit(s.toolLimiters, "btsynth_patch"); err != nil {
		return nil, PatchOutput{}, err
	}

	nominal, actual, err := s.problem(args.World, args.Path, args.Blocks)
	if err != nil {
		return nil, PatchOutput{}, err
	}
	cfg := s.settings.PatchEngine(0)
	if args.Steps > 0 {
		cfg.StepBudget = args.Steps
	}
	if args.MaxRadius > 0 {
		cfg.MaxRadius = args.MaxRadius
	}
	engine, err := patch.NewEngine(s.oracle, actual, nominal, cfg, patch.WithLogger(s.logger))
	if err != nil {
		return nil, PatchOutput{}, err
	}

	g, err := s.synthesize(ctx, nominal)
	if err != nil {
		return nil, PatchOutput{}, err
	}
	g.TrimDeadStates()
	out := PatchOutput{NodesBefore: g.Len()}

	if args.Save {
		nc := store.NewController("nominal", store.KindNominal, g)
		if out.NominalID, err = s.store.SaveController(ctx, nc); err != nil {
			return nil, PatchOutput{}, fmt.Errorf("save nominal controller: %w", err)
		}
	}

	patched, res, err := engine.Run(ctx, g, nominal.Inits[0], nominal.Goals)
	if res != nil {
		out.RunID, out.Rounds, out.Steps = res.RunID, res.Rounds, res.Steps
	}
	if errors.Is(err, patch.ErrPatchCannotHelp) {
		out.CannotHelp = true
		out.Message = fmt.Sprintf("%v; resynthesize the controller for the actual world", err)
		return nil, out, nil
	}
	if err != nil {
		return nil, PatchOutput{}, fmt.Errorf("patching failed: %w", err)
	}
	out.NodesAfter = patched.Len()
	if res.Trace != nil {
		if out.Pretty, err = grid.Pretty(actual, res.Trace.Overlay(), true); err != nil {
			return nil, PatchOutput{}, err
		}
	}

	if args.Save {
		pc := store.NewController("patched", store.KindPatched, patched)
		pc.ParentID = out.NominalID
		pc.RunID = res.RunID
		if out.PatchedID, err = s.store.SaveController(ctx, pc); err != nil {
			return nil, PatchOutput{}, fmt.Errorf("save patched controller: %w", err)
		}
		if err := s.store.SaveRounds(ctx, res.RunID, out.PatchedID, res.Rounds); err != nil {
			return nil, PatchOutput{}, fmt.Errorf("save rounds: %w", err)
		}
		if err := s.store.Sync(ctx); err != nil {
			return nil, PatchOutput{}, fmt.Errorf("sync store: %w", err)
		}
	}

	out.Message = fmt.Sprintf("patched in %d rounds, %d -> %d nodes", len(out.Rounds), out.NodesBefore, out.NodesAfter)
	return nil, out, nil
}

// handleList implements the btsynth_list tool.
func (s *Server) handleList(ctx context.Context, req *sdk.CallToolRequest, args ListInput) (_ *sdk.CallToolResult, _ ListOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("btsynth_list", start, retErr, sanitizeToolParams(map[string]interface{}{"kind": args.Kind}))
	}()
	if err := ratelimit.CheckLimit(s.toolLimiters, "btsynth_list"); err != nil {
		return nil, ListOutput{}, err
	}

	cs, err := s.store.ListControllers(ctx)
	if err != nil {
		return nil, ListOutput{}, fmt.Errorf("failed to list controllers: %w", err)
	}
	out := ListOutput{Controllers: []ControllerItem{}}
	for _, c := range cs {
		if args.Kind != "" && c.Kind != args.Kind {
			continue
		}
		out.Controllers = append(out.Controllers, ControllerItem{
			ID:        c.ID,
			Name:      c.Name,
			Kind:      c.Kind,
			ParentID:  c.ParentID,
			RunID:     c.RunID,
			Nodes:     len(c.Automaton.Nodes),
			CreatedAt: c.CreatedAt,
		})
	}
	out.Count = len(out.Controllers)
	return nil, out, nil
}

// handleGraph implements the btsynth_graph tool.
func (s *Server) handleGraph(ctx context.Context, req *sdk.CallToolRequest, args GraphInput) (_ *sdk.CallToolResult, _ GraphOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("btsynth_graph", start, retErr, sanitizeToolParams(map[string]interface{}{
			"id": args.ID, "format": args.Format,
		}))
	}()
	if err := ratelimit.CheckLimit(s.toolLimiters, "btsynth_graph"); err != nil {
		return nil, GraphOutput{}, err
	}
	if args.ID == "" {
		return nil, GraphOutput{}, fmt.Errorf("'id' parameter is required")
	}

	c, err := s.store.GetController(ctx, args.ID)
	if err != nil {
		return nil, GraphOutput{}, err
	}
	g, err := c.Graph()
	if err != nil {
		return nil, GraphOutput{}, err
	}
	opts := visualization.Options{Name: c.Name, SysPrefix: s.settings.Labels.SysPrefix}

	format := args.Format
	if format == "" {
		format = string(visualization.FormatDOT)
	}
	switch visualization.Format(format) {
	case visualization.FormatDOT:
		return nil, GraphOutput{Format: format, Graph: visualization.RenderDOT(g, opts), NodeCount: g.Len()}, nil
	case visualization.FormatJSON:
		return nil, GraphOutput{Format: format, Graph: visualization.RenderJSON(g, opts), NodeCount: g.Len()}, nil
	default:
		return nil, GraphOutput{}, fmt.Errorf("unsupported format %q (use dot or json)", format)
	}
}

// handleValidate implements the btsynth_validate tool.
func (s *Server) handleValidate(ctx context.Context, req *sdk.CallToolRequest, args ValidateInput) (_ *sdk.CallToolResult, _ ValidateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("btsynth_validate", start, retErr, nil)
	}()
	if err := ratelimit.CheckLimit(s.toolLimiters, "btsynth_validate"); err != nil {
		return nil, ValidateOutput{}, err
	}

	issues, err := store.Validate(ctx, s.store)
	if err != nil {
		return nil, ValidateOutput{}, fmt.Errorf("validation failed: %w", err)
	}
	out := ValidateOutput{Valid: len(issues) == 0}
	for _, issue := range issues {
		out.Issues = append(out.Issues, issue.String())
	}
	return nil, out, nil
}

// problem parses the nominal world from text or a file and derives the
// actual world by blocking blocks.
func (s *Server) problem(text, path string, blocks []grid.Coord) (*grid.World, *grid.World, error) {
	var nominal *grid.World
	var err error
	switch {
	case text != "" && path != "":
		return nil, nil, fmt.Errorf("'world' and 'path' are mutually exclusive")
	case text != "":
		nominal, err = grid.Read(strings.NewReader(text))
	case path != "":
		var resolved string
		if resolved, err = pathutil.ResolveWorldPath(path, s.root); err == nil {
			nominal, err = grid.ReadFile(resolved)
		}
	default:
		return nil, nil, fmt.Errorf("one of 'world' or 'path' is required")
	}
	if err != nil {
		return nil, nil, err
	}
	if len(nominal.Inits) == 0 {
		return nil, nil, fmt.Errorf("world has no initial position")
	}

	actual := nominal.Clone()
	for _, b := range blocks {
		if err := actual.SetBlocked(b, true); err != nil {
			return nil, nil, fmt.Errorf("block %s: %w", b, err)
		}
	}
	return nominal, actual, nil
}

func (s *Server) synthesize(ctx context.Context, w *grid.World) (*automaton.Graph, error) {
	g, err := s.oracle.Synthesize(ctx, &oracle.Request{
		World:     w,
		Inits:     w.Inits,
		Goals:     w.Goals,
		SysPrefix: s.settings.Labels.SysPrefix,
		EnvPrefix: s.settings.Labels.EnvPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("nominal synthesis: %w", err)
	}
	return g, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
