package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/btsynth/internal/grid"
	"github.com/nvandessel/btsynth/internal/patch"
)

// open3x3 routes down the left column and along the bottom row to (2, 2).
const open3x3 = `3 3
-
-
-
G 2 2
I 0 0
`

// isolateHome sets HOME to a temp directory to avoid touching the real
// ~/.btsynth. MUST be called by any test that opens the store.
func isolateHome(t *testing.T, tmpDir string) {
	t.Helper()
	tmpHome := filepath.Join(tmpDir, "home")
	if err := os.MkdirAll(tmpHome, 0700); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", tmpHome)
	t.Setenv("BTSYNTH_METRICS", "none")
}

// runCmd executes the root command with args rooted at dir.
func runCmd(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--root", dir}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// setupProject writes open3x3 as world.txt into an isolated project.
func setupProject(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	if err := os.WriteFile(filepath.Join(tmpDir, "world.txt"), []byte(open3x3), 0600); err != nil {
		t.Fatal(err)
	}
	return tmpDir
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"version", "config", "world", "nominal", "sim", "patch", "watch", "dot", "list", "validate", "serve", "stats", "backup", "mcp-server"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
	for _, flag := range []string{"json", "root", "config", "log-level"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag --%s", flag)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, t.TempDir(), "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}
}

func TestParseCells(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []grid.Coord
		wantErr bool
	}{
		{"empty", nil, []grid.Coord{}, false},
		{"single", []string{"2,1"}, []grid.Coord{{Row: 2, Col: 1}}, false},
		{"spaces", []string{" 0 , 3 "}, []grid.Coord{{Row: 0, Col: 3}}, false},
		{"missing col", []string{"2"}, nil, true},
		{"not a number", []string{"a,b"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCells(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("cell %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWorldGenAndPrint(t *testing.T) {
	dir := setupProject(t)
	if _, err := runCmd(t, dir, "world", "gen", "--rows", "4", "--cols", "5", "--density", "0", "--goals", "2", "--seed", "3", "-o", "gen.txt"); err != nil {
		t.Fatalf("world gen: %v", err)
	}
	w, err := grid.ReadFile(filepath.Join(dir, "gen.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if w.Rows != 4 || w.Cols != 5 || len(w.Goals) != 2 || len(w.Inits) != 1 {
		t.Errorf("unexpected world %+v", w)
	}

	out, err := runCmd(t, dir, "world", "print", "gen.txt")
	if err != nil {
		t.Fatalf("world print: %v", err)
	}
	if out == "" {
		t.Error("empty rendering")
	}

	if _, err := runCmd(t, dir, "world", "gen", "--rows", "0"); err == nil {
		t.Error("zero rows accepted")
	}
}

func TestNominalWritesController(t *testing.T) {
	dir := setupProject(t)
	for _, name := range []string{"c.json", "c.yaml"} {
		if _, err := runCmd(t, dir, "nominal", "world.txt", "-o", name); err != nil {
			t.Fatalf("nominal -o %s: %v", name, err)
		}
	}
	root := newRootCmd()
	fromJSON, err := readController(root, filepath.Join(dir, "c.json"))
	if err != nil {
		t.Fatal(err)
	}
	fromYAML, err := readController(root, filepath.Join(dir, "c.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if fromJSON.Len() == 0 || fromJSON.Len() != fromYAML.Len() {
		t.Errorf("controllers differ: json %d nodes, yaml %d nodes", fromJSON.Len(), fromYAML.Len())
	}
}

func TestSimDiverges(t *testing.T) {
	dir := setupProject(t)
	out, err := runCmd(t, dir, "sim", "world.txt", "--block", "2,1")
	if err != nil {
		t.Fatalf("sim: %v", err)
	}
	if !strings.Contains(out, "Diverged") || !strings.Contains(out, "(2, 1)") {
		t.Errorf("expected divergence at (2, 1), got:\n%s", out)
	}

	out, err = runCmd(t, dir, "sim", "world.txt", "--steps", "8")
	if err != nil {
		t.Fatalf("sim: %v", err)
	}
	if !strings.Contains(out, "Completed 8 steps") {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, err := runCmd(t, dir, "sim", "world.txt", "--block", "2,1", "--actual", "world.txt"); err == nil {
		t.Error("--actual with --block accepted")
	}
}

func TestPatchExportsTraces(t *testing.T) {
	dir := setupProject(t)
	t.Setenv("BTSYNTH_TRACES", "stdout")

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"--root", dir, "patch", "world.txt", "--block", "2,1"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("patch: %v", err)
	}
	for _, span := range []string{"patch.Run", "patch.Round"} {
		if !strings.Contains(errOut.String(), span) {
			t.Errorf("expected span %s in trace output", span)
		}
	}
}

func TestPatchSaveListDot(t *testing.T) {
	dir := setupProject(t)
	out, err := runCmd(t, dir, "patch", "world.txt", "--block", "2,1", "--save", "--json", "-o", "patched.yaml")
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	var res struct {
		RunID  string            `json:"run_id"`
		Rounds []json.RawMessage `json:"rounds"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if res.RunID == "" || len(res.Rounds) != 1 {
		t.Errorf("unexpected result %s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "patched.yaml")); err != nil {
		t.Errorf("patched controller not written: %v", err)
	}

	out, err = runCmd(t, dir, "list", "--kind", "patched", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var list struct {
		Count       int `json:"count"`
		Controllers []struct {
			ID       string `json:"id"`
			ParentID string `json:"parent_id"`
			RunID    string `json:"run_id"`
		} `json:"controllers"`
	}
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if list.Count != 1 || list.Controllers[0].ParentID == "" || list.Controllers[0].RunID != res.RunID {
		t.Fatalf("unexpected listing %s", out)
	}

	out, err = runCmd(t, dir, "dot", "--id", list.Controllers[0].ID)
	if err != nil {
		t.Fatalf("dot: %v", err)
	}
	if !strings.HasPrefix(out, `digraph "patched"`) {
		t.Errorf("unexpected DOT %q", out)
	}

	out, err = runCmd(t, dir, "validate")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := runCmd(t, dir, "list", "--kind", "bogus"); err == nil {
		t.Error("invalid kind accepted")
	}
}

func TestPatchCannotHelp(t *testing.T) {
	dir := setupProject(t)
	_, err := runCmd(t, dir, "patch", "world.txt", "--block", "2,2")
	if !errors.Is(err, patch.ErrPatchCannotHelp) {
		t.Fatalf("err = %v, want ErrPatchCannotHelp", err)
	}
	if !strings.Contains(err.Error(), "resynthesize") {
		t.Errorf("error does not suggest resynthesis: %v", err)
	}
}

func TestPatchDecisions(t *testing.T) {
	dir := setupProject(t)
	if _, err := runCmd(t, dir, "patch", "world.txt", "--block", "2,1", "--decisions", "decisions.jsonl"); err != nil {
		t.Fatalf("patch: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "decisions.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		t.Error("no decision events written")
	}
}

func TestStatsFixedBlock(t *testing.T) {
	dir := setupProject(t)
	out, err := runCmd(t, dir, "stats", "--world", "world.txt", "--block", "2,1", "--trials", "2")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "patched=2") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}

func TestConfigSetGet(t *testing.T) {
	dir := setupProject(t)
	cfgPath := filepath.Join(dir, "cfg.yaml")

	if _, err := runCmd(t, dir, "--config", cfgPath, "config", "set", "patch.max_radius", "3"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := runCmd(t, dir, "--config", cfgPath, "config", "get", "patch.max_radius")
	if err != nil {
		t.Fatalf("config get: %v", err)
	}
	if strings.TrimSpace(out) != "patch.max_radius = 3" {
		t.Errorf("got %q", out)
	}

	tests := []struct {
		name       string
		key, value string
	}{
		{"unknown key", "nope", "1"},
		{"not an integer", "patch.step_budget", "many"},
		{"invalid policy", "patch.exit_policy", "sideways"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCmd(t, dir, "--config", cfgPath, "config", "set", tt.key, tt.value); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBackupCommands(t *testing.T) {
	dir := setupProject(t)
	if _, err := runCmd(t, dir, "patch", "world.txt", "--block", "2,1", "--save"); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if _, err := runCmd(t, dir, "backup", "--output", "store.bak"); err != nil {
		t.Fatalf("backup: %v", err)
	}
	out, err := runCmd(t, dir, "backup", "verify", "store.bak")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, "2 controllers, 1 runs") {
		t.Errorf("unexpected verify output %q", out)
	}

	out, err = runCmd(t, dir, "backup", "restore", "store.bak", "--mode", "replace")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !strings.Contains(out, "Restored 2 controllers") {
		t.Errorf("unexpected restore output %q", out)
	}

	if _, err := runCmd(t, dir, "backup"); err != nil {
		t.Fatalf("backup to default location: %v", err)
	}
	out, err = runCmd(t, dir, "backup", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "btsynth-backup-") {
		t.Errorf("default backup not listed: %q", out)
	}
}
