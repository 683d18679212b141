// Package pathutil confines file paths supplied by tool clients to a set of
// allowed directories.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowed is returned for paths that escape every allowed directory.
var ErrOutsideAllowed = errors.New("path outside allowed directories")

// RedactPath shortens a path to .../<parent>/<basename> for error messages.
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(cleaned)
	}
	return ".../" + parent + "/" + filepath.Base(cleaned)
}

// ValidatePath checks that path lies inside one of allowed after cleaning
// and resolving symlinks. The file itself need not exist.
func ValidatePath(path string, allowed []string) error {
	switch {
	case path == "":
		return fmt.Errorf("path validation failed: path is empty")
	case len(allowed) == 0:
		return fmt.Errorf("path validation failed: no allowed directories configured")
	case strings.ContainsRune(path, '\x00'):
		return fmt.Errorf("path validation failed: path contains null byte")
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("path validation failed: %w", err)
	}
	dir, err := resolveExisting(filepath.Dir(abs))
	if err != nil {
		return fmt.Errorf("path validation failed: %w", err)
	}
	resolved := filepath.Join(dir, filepath.Base(abs))

	for _, a := range allowed {
		base, err := filepath.Abs(filepath.Clean(a))
		if err != nil {
			continue
		}
		if base, err = resolveExisting(base); err != nil {
			continue
		}
		if within(resolved, base) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrOutsideAllowed, RedactPath(abs))
}

// resolveExisting resolves symlinks on the deepest existing ancestor of dir
// and re-appends the missing tail.
func resolveExisting(dir string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return "", fmt.Errorf("cannot resolve %s", RedactPath(dir))
	}
	resolved, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolved, filepath.Base(dir)), nil
}

func within(path, base string) bool {
	return path == base || strings.HasPrefix(path, base+string(os.PathSeparator))
}

// WorldDirs returns the directories world files may be read from: root and
// ~/.btsynth/worlds.
func WorldDirs(root string) []string {
	dirs := []string{root}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".btsynth", "worlds"))
	}
	return dirs
}

// ResolveWorldPath joins a relative path to root and checks the result
// against WorldDirs(root).
func ResolveWorldPath(path, root string) (string, error) {
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	if err := ValidatePath(path, WorldDirs(root)); err != nil {
		return "", err
	}
	return path, nil
}
