package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/nvandessel/btsynth/internal/patch"
)

// Key layout:
//
//	c/<controller id>            -> Controller JSON
//	r/<run id>/<%08d index>      -> RoundRecord JSON
const (
	controllerPrefix = "c/"
	roundPrefix      = "r/"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Dir holds the database files. Ignored when InMemory is true.
	Dir string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// BadgerStore implements ControllerStore on an embedded key-value store.
type BadgerStore struct {
	db       *badger.DB
	inMemory bool
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadgerStore opens a BadgerStore.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("dir is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db, inMemory: cfg.InMemory}, nil
}

func controllerKey(id string) []byte {
	return []byte(controllerPrefix + id)
}

func roundKey(runID string, index int) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d", roundPrefix, runID, index))
}

// SaveController inserts or replaces a controller.
func (s *BadgerStore) SaveController(ctx context.Context, c *Controller) (string, error) {
	if err := prepare(c); err != nil {
		return "", err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal controller: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(controllerKey(c.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to save controller: %w", err)
	}
	return c.ID, nil
}

// GetController retrieves a controller by ID.
func (s *BadgerStore) GetController(ctx context.Context, id string) (*Controller, error) {
	var c Controller
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(controllerKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListControllers returns all controllers, oldest first.
func (s *BadgerStore) ListControllers(ctx context.Context) ([]Controller, error) {
	out := make([]Controller, 0)
	err := scanPrefix(ctx, s.db, []byte(controllerPrefix), func(val []byte) error {
		var c Controller
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortControllers(out)
	return out, nil
}

// DeleteController removes a controller.
func (s *BadgerStore) DeleteController(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(controllerKey(id))
	})
}

// SaveRounds writes the rounds of a run in one transaction.
func (s *BadgerStore) SaveRounds(ctx context.Context, runID, controllerID string, rounds []patch.Round) error {
	if runID == "" {
		return fmt.Errorf("run ID is required")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, r := range rounds {
			data, err := json.Marshal(RoundRecord{RunID: runID, ControllerID: controllerID, Round: r})
			if err != nil {
				return fmt.Errorf("marshal round %d: %w", r.Index, err)
			}
			if err := txn.Set(roundKey(runID, r.Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Rounds returns the rounds of a run ordered by index.
func (s *BadgerStore) Rounds(ctx context.Context, runID string) ([]RoundRecord, error) {
	out := make([]RoundRecord, 0)
	err := scanPrefix(ctx, s.db, []byte(roundPrefix+runID+"/"), func(val []byte) error {
		var r RoundRecord
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scanPrefix calls fn with the value of every key under prefix, in key order.
func scanPrefix(ctx context.Context, db *badger.DB, prefix []byte, fn func(val []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := it.Item().Value(fn); err != nil {
				return fmt.Errorf("key %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
}

// Sync flushes pending writes to disk.
func (s *BadgerStore) Sync(ctx context.Context) error {
	if s.inMemory {
		return nil
	}
	return s.db.Sync()
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
