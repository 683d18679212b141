// Package backup snapshots and restores the controller store.
package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nvandessel/btsynth/internal/patch"
	"github.com/nvandessel/btsynth/internal/store"
)

// Snapshot is the payload of a backup file.
type Snapshot struct {
	Version     int                `json:"version"`
	CreatedAt   time.Time          `json:"created_at"`
	Controllers []store.Controller `json:"controllers"`
	Runs        []Run              `json:"runs,omitempty"`
}

// Run holds the rounds of one patch run.
type Run struct {
	RunID        string        `json:"run_id"`
	ControllerID string        `json:"controller_id,omitempty"`
	Rounds       []patch.Round `json:"rounds"`
}

// Collect reads every controller and the rounds of every run that
// produced one.
func Collect(ctx context.Context, cs store.ControllerStore) (*Snapshot, error) {
	controllers, err := cs.ListControllers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list controllers: %w", err)
	}

	snap := &Snapshot{Version: FormatVersion, CreatedAt: time.Now().UTC(), Controllers: controllers}
	seen := make(map[string]bool)
	for _, c := range controllers {
		if c.RunID == "" || seen[c.RunID] {
			continue
		}
		seen[c.RunID] = true
		records, err := cs.Rounds(ctx, c.RunID)
		if err != nil {
			return nil, fmt.Errorf("failed to read rounds of run %s: %w", c.RunID, err)
		}
		if len(records) == 0 {
			continue
		}
		run := Run{RunID: c.RunID, ControllerID: records[0].ControllerID}
		for _, r := range records {
			run.Rounds = append(run.Rounds, r.Round)
		}
		snap.Runs = append(snap.Runs, run)
	}
	return snap, nil
}

// Backup writes a snapshot of cs to outputPath.
func Backup(ctx context.Context, cs store.ControllerStore, outputPath string) (*Snapshot, error) {
	snap, err := Collect(ctx, cs)
	if err != nil {
		return nil, err
	}
	if err := Write(outputPath, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// RestoreMode controls how restore handles existing data.
type RestoreMode string

const (
	// RestoreMerge skips controllers that already exist (default).
	RestoreMerge RestoreMode = "merge"
	// RestoreReplace deletes every stored controller first.
	RestoreReplace RestoreMode = "replace"
)

// RestoreResult contains statistics about the restore operation.
type RestoreResult struct {
	ControllersRestored int `json:"controllers_restored"`
	ControllersSkipped  int `json:"controllers_skipped"`
	RunsRestored        int `json:"runs_restored"`
}

// Restore loads the backup at inputPath into cs. Rounds are restored with
// the controller their run produced, and only when the store holds none
// for that run.
func Restore(ctx context.Context, cs store.ControllerStore, inputPath string, mode RestoreMode) (*RestoreResult, error) {
	if mode != RestoreMerge && mode != RestoreReplace {
		return nil, fmt.Errorf("invalid restore mode: %s (must be merge or replace)", mode)
	}
	snap, err := Read(inputPath)
	if err != nil {
		return nil, err
	}

	if mode == RestoreReplace {
		existing, err := cs.ListControllers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list controllers: %w", err)
		}
		for _, c := range existing {
			if err := cs.DeleteController(ctx, c.ID); err != nil {
				return nil, fmt.Errorf("failed to delete controller %s: %w", c.ID, err)
			}
		}
	}

	result := &RestoreResult{}
	restored := make(map[string]bool)
	for i := range snap.Controllers {
		c := snap.Controllers[i]
		if mode == RestoreMerge {
			_, err := cs.GetController(ctx, c.ID)
			if err == nil {
				result.ControllersSkipped++
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("failed to check controller %s: %w", c.ID, err)
			}
		}
		if _, err := cs.SaveController(ctx, &c); err != nil {
			return nil, fmt.Errorf("failed to restore controller %s: %w", c.ID, err)
		}
		restored[c.ID] = true
		result.ControllersRestored++
	}

	for _, run := range snap.Runs {
		if !restored[run.ControllerID] {
			continue
		}
		existing, err := cs.Rounds(ctx, run.RunID)
		if err != nil {
			return nil, fmt.Errorf("failed to read rounds of run %s: %w", run.RunID, err)
		}
		if len(existing) > 0 {
			continue
		}
		if err := cs.SaveRounds(ctx, run.RunID, run.ControllerID, run.Rounds); err != nil {
			return nil, fmt.Errorf("failed to restore rounds of run %s: %w", run.RunID, err)
		}
		result.RunsRestored++
	}

	if err := cs.Sync(ctx); err != nil {
		return nil, fmt.Errorf("failed to sync after restore: %w", err)
	}
	return result, nil
}

// GenerateBackupPath creates a timestamped backup filename in dir.
func GenerateBackupPath(dir string) string {
	ts := time.Now().Format("20060102-150405")
	return filepath.Join(dir, fmt.Sprintf("%s%s%s", filePrefix, ts, fileExt))
}
