package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/patch"
)

// SQLiteStore implements ControllerStore using SQLite for persistence.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens or creates btsynth.db in dir.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dbPath := filepath.Join(dir, "btsynth.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// SaveController inserts or replaces a controller.
func (s *SQLiteStore) SaveController(ctx context.Context, c *Controller) (string, error) {
	if err := prepare(c); err != nil {
		return "", err
	}
	doc, err := json.Marshal(c.Automaton)
	if err != nil {
		return "", fmt.Errorf("marshal automaton: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO controllers (id, name, kind, parent_id, run_id, node_count, automaton, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			parent_id = excluded.parent_id,
			run_id = excluded.run_id,
			node_count = excluded.node_count,
			automaton = excluded.automaton,
			created_at = excluded.created_at`,
		c.ID, c.Name, c.Kind, nullString(c.ParentID), nullString(c.RunID),
		len(c.Automaton.Nodes), string(doc), c.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to save controller: %w", err)
	}
	return c.ID, nil
}

const controllerColumns = `id, name, kind, parent_id, run_id, automaton, created_at`

// GetController retrieves a controller by ID.
func (s *SQLiteStore) GetController(ctx context.Context, id string) (*Controller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+controllerColumns+` FROM controllers WHERE id = ?`, id)
	c, err := scanController(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListControllers returns all controllers, oldest first.
func (s *SQLiteStore) ListControllers(ctx context.Context) ([]Controller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+controllerColumns+` FROM controllers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query controllers: %w", err)
	}
	defer rows.Close()

	out := make([]Controller, 0)
	for rows.Next() {
		c, err := scanController(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RFC3339Nano strings do not sort lexically when fractions differ in width.
	sortControllers(out)
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanController(r rowScanner) (*Controller, error) {
	var (
		c                 Controller
		parentID, runID   sql.NullString
		doc, createdAtStr string
	)
	if err := r.Scan(&c.ID, &c.Name, &c.Kind, &parentID, &runID, &doc, &createdAtStr); err != nil {
		return nil, err
	}
	c.ParentID = parentID.String
	c.RunID = runID.String

	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("controller %s: bad created_at: %w", c.ID, err)
	}
	c.CreatedAt = createdAt

	c.Automaton = &automaton.Document{}
	if err := json.Unmarshal([]byte(doc), c.Automaton); err != nil {
		return nil, fmt.Errorf("controller %s: bad automaton: %w", c.ID, err)
	}
	return &c, nil
}

// DeleteController removes a controller.
func (s *SQLiteStore) DeleteController(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM controllers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete controller: %w", err)
	}
	return nil
}

// SaveRounds inserts the rounds of a run in one transaction.
func (s *SQLiteStore) SaveRounds(ctx context.Context, runID, controllerID string, rounds []patch.Round) error {
	if runID == "" {
		return fmt.Errorf("run ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO rounds (run_id, round_index, controller_id, divergence_row, divergence_col, radius, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare round insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rounds {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal round %d: %w", r.Index, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, r.Index, nullString(controllerID),
			r.Divergence.Row, r.Divergence.Col, r.Radius, string(data)); err != nil {
			return fmt.Errorf("failed to insert round %d: %w", r.Index, err)
		}
	}
	return tx.Commit()
}

// Rounds returns the rounds of a run ordered by index.
func (s *SQLiteStore) Rounds(ctx context.Context, runID string) ([]RoundRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT controller_id, data FROM rounds WHERE run_id = ? ORDER BY round_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	out := make([]RoundRecord, 0)
	for rows.Next() {
		var (
			controllerID sql.NullString
			data         string
		)
		if err := rows.Scan(&controllerID, &data); err != nil {
			return nil, err
		}
		rec := RoundRecord{RunID: runID, ControllerID: controllerID.String}
		if err := json.Unmarshal([]byte(data), &rec.Round); err != nil {
			return nil, fmt.Errorf("bad round in run %s: %w", runID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Sync checkpoints the write-ahead log.
func (s *SQLiteStore) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("failed to checkpoint: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
