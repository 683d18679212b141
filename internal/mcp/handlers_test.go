package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/btsynth/internal/config"
	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/store"
)

// open3x3 routes down the left column and along the bottom row to (2, 2).
const open3x3 = `3 3
-
-
-
G 2 2
I 0 0
`

// setupTestServer creates a server over an in-memory store with HOME and
// the log directory isolated in a temp directory.
func setupTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", filepath.Join(tmpDir, "home"))

	settings := config.Default()
	settings.Logging.Dir = filepath.Join(tmpDir, "logs")
	server, err := NewServer(&Config{
		Name:     "btsynth-test",
		Version:  "v0.0.0",
		Root:     tmpDir,
		Settings: settings,
		Store:    store.NewInMemoryStore(),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return server, tmpDir
}

func TestNewServer(t *testing.T) {
	server, tmpDir := setupTestServer(t)
	if server.server == nil || server.store == nil || server.oracle == nil {
		t.Fatal("server not fully initialized")
	}
	if server.root != tmpDir {
		t.Errorf("root = %q, want %q", server.root, tmpDir)
	}
	if server.auditLogger == nil {
		t.Error("audit logger not opened")
	}
}

func TestHandleWorld_Random(t *testing.T) {
	server, _ := setupTestServer(t)
	_, out, err := server.handleWorld(context.Background(), nil, WorldInput{Rows: 4, Cols: 6, Goals: 3, Seed: 9})
	if err != nil {
		t.Fatalf("handleWorld failed: %v", err)
	}
	if out.Rows != 4 || out.Cols != 6 || len(out.Goals) != 3 || len(out.Inits) != 1 {
		t.Errorf("unexpected world %+v", out)
	}
	if out.FreeCells != 24 {
		t.Errorf("free cells = %d, want 24 without walls", out.FreeCells)
	}
	if !strings.HasPrefix(out.World, "4 6\n") {
		t.Errorf("dump does not start with the size line: %q", out.World)
	}

	_, again, err := server.handleWorld(context.Background(), nil, WorldInput{Rows: 4, Cols: 6, Goals: 3, Seed: 9})
	if err != nil {
		t.Fatal(err)
	}
	if again.World != out.World {
		t.Error("same seed produced different worlds")
	}
}

func TestHandleWorld_Path(t *testing.T) {
	server, root := setupTestServer(t)
	if err := os.WriteFile(filepath.Join(root, "nominal.txt"), []byte(open3x3), 0600); err != nil {
		t.Fatal(err)
	}

	_, out, err := server.handleWorld(context.Background(), nil, WorldInput{Path: "nominal.txt"})
	if err != nil {
		t.Fatalf("handleWorld failed: %v", err)
	}
	if out.Rows != 3 || len(out.Goals) != 1 || out.Goals[0] != (grid.Coord{Row: 2, Col: 2}) {
		t.Errorf("unexpected world %+v", out)
	}

	if _, _, err := server.handleWorld(context.Background(), nil, WorldInput{Path: "../../etc/passwd"}); err == nil {
		t.Error("path outside the project root accepted")
	}
}

func TestHandleSimulate(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	_, out, err := server.handleSimulate(ctx, nil, SimulateInput{World: open3x3, Steps: 10})
	if err != nil {
		t.Fatalf("handleSimulate failed: %v", err)
	}
	if out.Diverged || out.Steps != 10 {
		t.Errorf("nominal run: diverged=%v steps=%d", out.Diverged, out.Steps)
	}

	_, out, err = server.handleSimulate(ctx, nil, SimulateInput{
		World:  open3x3,
		Blocks: []grid.Coord{{Row: 2, Col: 1}},
	})
	if err != nil {
		t.Fatalf("handleSimulate failed: %v", err)
	}
	if !out.Diverged || out.Blocked == nil || *out.Blocked != (grid.Coord{Row: 2, Col: 1}) {
		t.Errorf("expected divergence at (2, 1), got %+v", out)
	}
	if !strings.Contains(out.Pretty, "X") {
		t.Errorf("blocked cell not marked:\n%s", out.Pretty)
	}
}

func TestHandleSimulate_BadInput(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   SimulateInput
	}{
		{"no world", SimulateInput{}},
		{"both sources", SimulateInput{World: open3x3, Path: "w.txt"}},
		{"malformed", SimulateInput{World: "not a world"}},
		{"block out of range", SimulateInput{World: open3x3, Blocks: []grid.Coord{{Row: 9, Col: 9}}}},
		{"no init", SimulateInput{World: "2 2\nG 1 1\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := server.handleSimulate(ctx, nil, tt.in); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHandlePatch_SaveAndBrowse(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	_, out, err := server.handlePatch(ctx, nil, PatchInput{
		World:  open3x3,
		Blocks: []grid.Coord{{Row: 2, Col: 1}},
		Save:   true,
	})
	if err != nil {
		t.Fatalf("handlePatch failed: %v", err)
	}
	if out.CannotHelp || len(out.Rounds) != 1 || out.RunID == "" {
		t.Fatalf("unexpected patch output %+v", out)
	}
	if out.NominalID == "" || out.PatchedID == "" {
		t.Fatal("controllers not saved")
	}

	_, list, err := server.handleList(ctx, nil, ListInput{Kind: store.KindPatched})
	if err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 || list.Controllers[0].ParentID != out.NominalID || list.Controllers[0].Nodes != out.NodesAfter {
		t.Errorf("unexpected list %+v", list)
	}

	_, graph, err := server.handleGraph(ctx, nil, GraphInput{ID: out.PatchedID})
	if err != nil {
		t.Fatal(err)
	}
	if dot, _ := graph.Graph.(string); !strings.HasPrefix(dot, `digraph "patched"`) {
		t.Errorf("unexpected DOT %v", graph.Graph)
	}
	_, graph, err = server.handleGraph(ctx, nil, GraphInput{ID: out.PatchedID, Format: "json"})
	if err != nil {
		t.Fatal(err)
	}
	if graph.NodeCount != out.NodesAfter {
		t.Errorf("node count = %d, want %d", graph.NodeCount, out.NodesAfter)
	}
	if _, _, err := server.handleGraph(ctx, nil, GraphInput{ID: out.PatchedID, Format: "svg"}); err == nil {
		t.Error("unsupported format accepted")
	}

	_, valid, err := server.handleValidate(ctx, nil, ValidateInput{})
	if err != nil {
		t.Fatal(err)
	}
	if !valid.Valid {
		t.Errorf("unexpected issues %v", valid.Issues)
	}

	rounds, err := server.store.Rounds(ctx, out.RunID)
	if err != nil || len(rounds) != 1 {
		t.Errorf("rounds = %v, %v", rounds, err)
	}
}

func TestHandlePatch_CannotHelp(t *testing.T) {
	server, _ := setupTestServer(t)
	_, out, err := server.handlePatch(context.Background(), nil, PatchInput{
		World:  open3x3,
		Blocks: []grid.Coord{{Row: 2, Col: 2}},
		Save:   true,
	})
	if err != nil {
		t.Fatalf("handlePatch failed: %v", err)
	}
	if !out.CannotHelp || out.PatchedID != "" {
		t.Errorf("expected cannot-help without a patched controller, got %+v", out)
	}
	if !strings.Contains(out.Message, "resynthesize") {
		t.Errorf("message = %q", out.Message)
	}
}

func TestHandleGraph_Missing(t *testing.T) {
	server, _ := setupTestServer(t)
	if _, _, err := server.handleGraph(context.Background(), nil, GraphInput{}); err == nil {
		t.Error("empty id accepted")
	}
	if _, _, err := server.handleGraph(context.Background(), nil, GraphInput{ID: "missing"}); err == nil {
		t.Error("missing controller accepted")
	}
}

func TestRateLimit(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()
	in := PatchInput{World: open3x3}

	var lastErr error
	for i := 0; i < 4; i++ {
		_, _, lastErr = server.handlePatch(ctx, nil, in)
	}
	if lastErr == nil || !strings.Contains(lastErr.Error(), "rate limit") {
		t.Errorf("expected rate limit after burst, got %v", lastErr)
	}
}

func TestControllersResource(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	res, err := server.handleControllersResource(ctx, &sdk.ReadResourceRequest{Params: &sdk.ReadResourceParams{URI: controllersURI}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Contents[0].Text, "No stored controllers") {
		t.Errorf("unexpected empty listing %q", res.Contents[0].Text)
	}

	_, out, err := server.handlePatch(ctx, nil, PatchInput{World: open3x3, Blocks: []grid.Coord{{Row: 2, Col: 1}}, Save: true})
	if err != nil {
		t.Fatal(err)
	}
	res, err = server.handleControllersResource(ctx, &sdk.ReadResourceRequest{Params: &sdk.ReadResourceParams{URI: controllersURI}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Contents[0].Text, "patched from `"+out.NominalID+"`") {
		t.Errorf("lineage missing from listing:\n%s", res.Contents[0].Text)
	}

	uri := controllersURI + "/" + out.PatchedID
	res, err = server.handleControllerResource(ctx, &sdk.ReadResourceRequest{Params: &sdk.ReadResourceParams{URI: uri}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Contents[0].Text, "digraph") {
		t.Errorf("expected DOT, got %q", res.Contents[0].Text)
	}
}

func TestAuditLog(t *testing.T) {
	server, tmpDir := setupTestServer(t)
	if _, _, err := server.handleSimulate(context.Background(), nil, SimulateInput{World: open3x3, Steps: 3}); err != nil {
		t.Fatal(err)
	}
	server.auditLogger.Close()

	data, err := os.ReadFile(filepath.Join(tmpDir, "logs", AuditFile))
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	var entry AuditEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("decode audit entry: %v", err)
	}
	if entry.Tool != "btsynth_simulate" || entry.Status != "success" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.Params["world"] != "(set)" || entry.Params["steps"] != "3" {
		t.Errorf("params not sanitized: %v", entry.Params)
	}
	if strings.Contains(string(data), "G 2 2") {
		t.Error("world text leaked into the audit log")
	}
}

func TestSanitizeToolParams(t *testing.T) {
	if sanitizeToolParams(nil) != nil {
		t.Error("nil params should stay nil")
	}
	got := sanitizeToolParams(map[string]interface{}{"path": "/secret", "rows": 4, "unknown": "x"})
	if got["path"] != "(set)" || got["rows"] != "4" || got["_param_count"] != "3" {
		t.Errorf("unexpected %v", got)
	}
	if _, ok := got["unknown"]; ok {
		t.Error("unknown param logged")
	}
}
