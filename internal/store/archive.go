// Package store archives explanation runs in SQLite so past results can be
// listed and reloaded without rerunning the engine.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"stepwise/internal/logging"
)

// ErrNotFound is returned by LoadRun for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run is one pipeline execution over a rule file.
type Run struct {
	ID            string
	Source        string
	Engine        string
	Started       time.Time
	Duration      time.Duration
	Unsatisfiable bool
	Models        []Model
}

// Model is one archived answer set and its explanation.
type Model struct {
	ID    string
	Atoms []string
	Steps []Step
	Error string
}

// Step is one rendered explanation group.
type Step struct {
	Index     int      `json:"index"`
	Template  string   `json:"template"`
	Sentences []string `json:"sentences"`
}

// Summary is a run without its models.
type Summary struct {
	ID       string
	Source   string
	Engine   string
	Started  time.Time
	Duration time.Duration
	Models   int
	Failed   int
}

// Archive is a SQLite run archive. It is safe for concurrent use.
type Archive struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// Open opens or creates the archive at path. ":memory:" opens a private
// in-memory archive.
func Open(path string) (*Archive, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	a := &Archive{db: db, path: path}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("archive open at %s", path)
	return a, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Path returns the database path.
func (a *Archive) Path() string { return a.path }

func (a *Archive) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		engine TEXT NOT NULL,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		unsatisfiable INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS models (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		model_id TEXT NOT NULL,
		atoms TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, position)
	);
	CREATE TABLE IF NOT EXISTS steps (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		step_index INTEGER NOT NULL,
		template TEXT NOT NULL,
		sentences TEXT NOT NULL,
		FOREIGN KEY (run_id, position) REFERENCES models(run_id, position) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_steps_model ON steps(run_id, position);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun stores a run and returns its id, generating one when r.ID is
// empty.
func (a *Archive) SaveRun(ctx context.Context, r Run) (id string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer func() { logging.Audit().Archived(len(r.Models), err) }()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, source, engine, started_at, duration_ms, unsatisfiable) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Source, r.Engine, r.Started.UTC().Format(time.RFC3339Nano), r.Duration.Milliseconds(), r.Unsatisfiable)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	for pos, m := range r.Models {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO models (run_id, position, model_id, atoms, error) VALUES (?, ?, ?, ?, ?)`,
			r.ID, pos, m.ID, strings.Join(m.Atoms, "\n"), m.Error)
		if err != nil {
			return "", fmt.Errorf("failed to insert model %s: %w", m.ID, err)
		}
		for _, s := range m.Steps {
			sentences, err := json.Marshal(s.Sentences)
			if err != nil {
				return "", fmt.Errorf("failed to encode step %d: %w", s.Index, err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO steps (run_id, position, step_index, template, sentences) VALUES (?, ?, ?, ?, ?)`,
				r.ID, pos, s.Index, s.Template, string(sentences))
			if err != nil {
				return "", fmt.Errorf("failed to insert step %d: %w", s.Index, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	logging.StoreDebug("saved run %s with %d models", r.ID, len(r.Models))
	return r.ID, nil
}

// Runs lists the newest runs first. A limit of zero or less lists all.
func (a *Archive) Runs(ctx context.Context, limit int) ([]Summary, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	query := `
	SELECT r.id, r.source, r.engine, r.started_at, r.duration_ms,
		COUNT(m.model_id), COALESCE(SUM(CASE WHEN m.error != '' THEN 1 ELSE 0 END), 0)
	FROM runs r LEFT JOIN models m ON m.run_id = r.id
	GROUP BY r.id
	ORDER BY r.started_at DESC, r.id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s       Summary
			started string
			ms      int64
		)
		if err := rows.Scan(&s.ID, &s.Source, &s.Engine, &started, &ms, &s.Models, &s.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if s.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: bad start time: %w", s.ID, err)
		}
		s.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, s)
	}
	return out, rows.Err()
}

// LoadRun reads a run with its models and steps.
func (a *Archive) LoadRun(ctx context.Context, id string) (*Run, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	r := &Run{ID: id}
	var (
		started string
		ms      int64
	)
	err := a.db.QueryRowContext(ctx,
		`SELECT source, engine, started_at, duration_ms, unsatisfiable FROM runs WHERE id = ?`, id,
	).Scan(&r.Source, &r.Engine, &started, &ms, &r.Unsatisfiable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	if r.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("run %s: bad start time: %w", id, err)
	}
	r.Duration = time.Duration(ms) * time.Millisecond

	if r.Models, err = a.models(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (a *Archive) models(ctx context.Context, runID string) ([]Model, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT model_id, atoms, error FROM models WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	var out []Model
	for rows.Next() {
		var (
			m     Model
			atoms string
		)
		if err := rows.Scan(&m.ID, &atoms, &m.Error); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		if atoms != "" {
			m.Atoms = strings.Split(atoms, "\n")
		}
		out = append(out, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for pos := range out {
		if out[pos].Steps, err = a.steps(ctx, runID, pos); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (a *Archive) steps(ctx context.Context, runID string, pos int) ([]Step, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT step_index, template, sentences FROM steps WHERE run_id = ? AND position = ? ORDER BY rowid`, runID, pos)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var (
			s         Step
			sentences string
		)
		if err := rows.Scan(&s.Index, &s.Template, &sentences); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(sentences), &s.Sentences); err != nil {
			return nil, fmt.Errorf("step %d: bad sentences: %w", s.Index, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and everything archived with it.
func (a *Archive) DeleteRun(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
