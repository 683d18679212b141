package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	allowed := t.TempDir()
	other := t.TempDir()
	sub := filepath.Join(allowed, "worlds")
	if err := os.MkdirAll(sub, 0700); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		allowed []string
		wantErr string
	}{
		{"inside", filepath.Join(allowed, "nominal.txt"), []string{allowed}, ""},
		{"subdirectory", filepath.Join(sub, "nominal.txt"), []string{allowed}, ""},
		{"the directory itself", allowed, []string{allowed}, ""},
		{"not yet created", filepath.Join(allowed, "new", "deeper", "w.txt"), []string{allowed}, ""},
		{"dot-dot escape", filepath.Join(allowed, "..", "etc", "passwd"), []string{allowed}, "outside allowed directories"},
		{"embedded dot-dot escape", filepath.Join(sub, "..", "..", "etc"), []string{allowed}, "outside allowed directories"},
		{"other directory", filepath.Join(other, "w.txt"), []string{allowed}, "outside allowed directories"},
		{"second allowed", filepath.Join(other, "w.txt"), []string{allowed, other}, ""},
		{"null byte", filepath.Join(allowed, "w\x00.txt"), []string{allowed}, "null byte"},
		{"redundant separators", allowed + "//w.txt", []string{allowed}, ""},
		{"empty", "", []string{allowed}, "empty"},
		{"no allowed", filepath.Join(allowed, "w.txt"), nil, "no allowed directories"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path, tt.allowed)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidatePath() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidatePath() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePath_Symlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks not supported on Windows")
	}
	allowed := t.TempDir()
	outside := t.TempDir()
	real := filepath.Join(allowed, "real")
	if err := os.MkdirAll(real, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(allowed, "escape")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(real, filepath.Join(allowed, "link")); err != nil {
		t.Fatal(err)
	}

	err := ValidatePath(filepath.Join(allowed, "escape", "w.txt"), []string{allowed})
	if !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("symlink out of the tree: got %v, want ErrOutsideAllowed", err)
	}
	if err := ValidatePath(filepath.Join(allowed, "link", "w.txt"), []string{allowed}); err != nil {
		t.Errorf("symlink inside the tree rejected: %v", err)
	}
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/home/user/.btsynth/config.yaml", ".../.btsynth/config.yaml"},
		{"/a/b/c/d/e.txt", ".../d/e.txt"},
		{"/file.txt", "file.txt"},
		{"dir/file.txt", ".../dir/file.txt"},
		{"file.txt", "file.txt"},
		{"/home/user/.btsynth/", ".../user/.btsynth"},
	}
	for _, tt := range tests {
		if got := RedactPath(tt.in); got != tt.want {
			t.Errorf("RedactPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWorldDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	root := t.TempDir()

	dirs := WorldDirs(root)
	if len(dirs) != 2 || dirs[0] != root || dirs[1] != filepath.Join(home, ".btsynth", "worlds") {
		t.Errorf("WorldDirs() = %v", dirs)
	}
}

func TestResolveWorldPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()

	got, err := ResolveWorldPath("maps/nominal.txt", root)
	if err != nil {
		t.Fatalf("relative path: %v", err)
	}
	if got != filepath.Join(root, "maps", "nominal.txt") {
		t.Errorf("ResolveWorldPath() = %s", got)
	}
	if _, err := ResolveWorldPath("../outside.txt", root); !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("escape accepted: %v", err)
	}
	if _, err := ResolveWorldPath("", root); err == nil {
		t.Error("empty path accepted")
	}
}
