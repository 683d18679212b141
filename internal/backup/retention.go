package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// BackupInfo describes one backup file in a directory listing.
type BackupInfo struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	Controllers int       `json:"controllers"`

	// ControllerIDs is only loaded when a prune needs it.
	ControllerIDs []string `json:"-"`
}

// Retention selects which backups in the default directory survive a
// prune. A backup survives when any rule keeps it.
type Retention struct {
	// Keep is the number of newest backups kept unconditionally.
	Keep int
	// MaxAge keeps backups younger than this. Zero disables the rule.
	MaxAge time.Duration
	// LastCopies keeps the newest backup that holds each controller ID, so a
	// controller since deleted from the store stays restorable.
	LastCopies bool

	now func() time.Time
}

// Select returns the kept subset of backups, which must be newest-first.
func (r Retention) Select(backups []BackupInfo) []BackupInfo {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	cutoff := now().Add(-r.MaxAge)

	seen := make(map[string]bool)
	var keep []BackupInfo
	for i, b := range backups {
		kept := i < r.Keep || (r.MaxAge > 0 && b.CreatedAt.After(cutoff))
		if r.LastCopies {
			for _, id := range b.ControllerIDs {
				if !seen[id] {
					seen[id] = true
					kept = true
				}
			}
		}
		if kept {
			keep = append(keep, b)
		}
	}
	return keep
}

// ListBackups scans dir for backup files, newest first. A file whose header
// cannot be read is listed with its modification time and no controllers.
func ListBackups(dir string) ([]BackupInfo, error) {
	return listBackups(dir, false)
}

func listBackups(dir string, withIDs bool) ([]BackupInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, e := range entries {
		if e.IsDir() || !isBackupFile(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		b := BackupInfo{Path: filepath.Join(dir, e.Name()), Size: fi.Size(), CreatedAt: fi.ModTime()}
		if h, err := ReadHeader(b.Path); err == nil {
			b.CreatedAt = h.CreatedAt
			b.Controllers = h.ControllerCount
		}
		if withIDs {
			if snap, err := Read(b.Path); err == nil {
				for _, c := range snap.Controllers {
					b.ControllerIDs = append(b.ControllerIDs, c.ID)
				}
			}
		}
		backups = append(backups, b)
	}

	// GenerateBackupPath embeds a sortable timestamp.
	sort.Slice(backups, func(i, j int) bool {
		return filepath.Base(backups[i].Path) > filepath.Base(backups[j].Path)
	})
	return backups, nil
}

// Prune deletes the backups in dir that r does not keep.
func Prune(dir string, r Retention) (deleted []string, err error) {
	backups, err := listBackups(dir, r.LastCopies)
	if err != nil {
		return nil, err
	}
	kept := make(map[string]bool)
	for _, b := range r.Select(backups) {
		kept[b.Path] = true
	}
	for _, b := range backups {
		if kept[b.Path] {
			continue
		}
		if err := os.Remove(b.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(b.Path), err)
		}
		deleted = append(deleted, b.Path)
	}
	return deleted, nil
}

var ageUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseAge reads a --max-age value. On top of time.ParseDuration it takes
// whole days ("30d") and weeks ("2w").
func ParseAge(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if len(s) > 1 {
		if unit, ok := ageUnits[s[len(s)-1]]; ok {
			if n, err := strconv.Atoi(s[:len(s)-1]); err == nil && n >= 0 {
				return time.Duration(n) * unit, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid age %q", s)
}
