package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nvandessel/btsynth/internal/patch"
)

// FileStore implements ControllerStore using JSONL files for persistence.
// It stores controllers and rounds in controllers.jsonl and rounds.jsonl
// under its directory. Thread-safe for concurrent access.
type FileStore struct {
	mu              sync.RWMutex
	dir             string
	controllersFile string
	roundsFile      string

	// In-memory cache, synced to disk on Sync() or Close()
	mem   *InMemoryStore
	dirty bool

	// LoadErrors tracks any errors encountered while loading data.
	// Malformed lines are skipped but recorded here for debugging.
	LoadErrors []LoadError
}

// LoadError represents an error encountered while loading data from disk.
type LoadError struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
	Error   string `json:"error"`
}

// NewFileStore creates a FileStore in dir, loading any existing data.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FileStore{
		dir:             dir,
		controllersFile: filepath.Join(dir, "controllers.jsonl"),
		roundsFile:      filepath.Join(dir, "rounds.jsonl"),
		mem:             NewInMemoryStore(),
		LoadErrors:      make([]LoadError, 0),
	}

	if err := s.loadControllers(); err != nil {
		return nil, fmt.Errorf("failed to load controllers: %w", err)
	}
	if err := s.loadRounds(); err != nil {
		return nil, fmt.Errorf("failed to load rounds: %w", err)
	}

	return s, nil
}

// scanLines calls fn for each non-empty line of path, recording decode
// failures in LoadErrors.
func (s *FileStore) scanLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No file yet is fine
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			s.LoadErrors = append(s.LoadErrors, LoadError{
				File:    path,
				Line:    lineNum,
				Content: truncateForError(string(line)),
				Error:   err.Error(),
			})
		}
	}
	return scanner.Err()
}

func (s *FileStore) loadControllers() error {
	return s.scanLines(s.controllersFile, func(line []byte) error {
		var c Controller
		if err := json.Unmarshal(line, &c); err != nil {
			return err
		}
		if err := validateController(&c); err != nil {
			return err
		}
		s.mem.controllers[c.ID] = c
		return nil
	})
}

func (s *FileStore) loadRounds() error {
	return s.scanLines(s.roundsFile, func(line []byte) error {
		var r RoundRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		s.mem.rounds[r.RunID] = append(s.mem.rounds[r.RunID], r)
		return nil
	})
}

// SaveController adds or replaces a controller.
func (s *FileStore) SaveController(ctx context.Context, c *Controller) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.mem.SaveController(ctx, c)
	if err != nil {
		return "", err
	}
	s.dirty = true
	return id, nil
}

// GetController retrieves a controller by ID.
func (s *FileStore) GetController(ctx context.Context, id string) (*Controller, error) {
	return s.mem.GetController(ctx, id)
}

// ListControllers returns all controllers, oldest first.
func (s *FileStore) ListControllers(ctx context.Context) ([]Controller, error) {
	return s.mem.ListControllers(ctx)
}

// DeleteController removes a controller.
func (s *FileStore) DeleteController(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.DeleteController(ctx, id); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

// SaveRounds appends rounds to a run.
func (s *FileStore) SaveRounds(ctx context.Context, runID, controllerID string, rounds []patch.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.SaveRounds(ctx, runID, controllerID, rounds); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

// Rounds returns the rounds of a run.
func (s *FileStore) Rounds(ctx context.Context, runID string) ([]RoundRecord, error) {
	return s.mem.Rounds(ctx, runID)
}

// Sync writes all changes to disk.
func (s *FileStore) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	controllers, _ := s.mem.ListControllers(ctx)
	if err := writeJSONL(s.controllersFile, controllers); err != nil {
		return fmt.Errorf("failed to write controllers: %w", err)
	}

	var rounds []RoundRecord
	s.mem.mu.RLock()
	for _, rs := range s.mem.rounds {
		rounds = append(rounds, rs...)
	}
	s.mem.mu.RUnlock()
	if err := writeJSONL(s.roundsFile, rounds); err != nil {
		return fmt.Errorf("failed to write rounds: %w", err)
	}

	s.dirty = false
	return nil
}

// writeJSONL replaces path with one JSON document per item.
func writeJSONL[T any](path string, items []T) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(f)
	for _, item := range items {
		if err := encoder.Encode(item); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Close syncs and closes the store.
func (s *FileStore) Close() error {
	return s.Sync(context.Background())
}

// truncateForError truncates a string for error reporting to avoid huge messages.
func truncateForError(s string) string {
	const maxLen = 100
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
