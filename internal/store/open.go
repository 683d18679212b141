package store

import (
	"fmt"
	"log/slog"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Open returns the store backend named kind rooted at dir.
func Open(kind, dir string, logger *slog.Logger) (ControllerStore, error) {
	switch kind {
	case BackendMemory:
		return NewInMemoryStore(), nil
	case BackendFile:
		s, err := NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		if logger != nil && len(s.LoadErrors) > 0 {
			logger.Warn("skipped malformed store lines", "count", len(s.LoadErrors), "dir", dir)
		}
		return s, nil
	case BackendSQLite:
		return NewSQLiteStore(dir)
	case BackendBadger:
		return NewBadgerStore(BadgerConfig{Dir: dir, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
}
