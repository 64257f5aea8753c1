// Package persistence provides the SQLite-backed run journal.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"modgen/pkg/logx"
	"modgen/pkg/pipeline"
	"modgen/pkg/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	created_at     TIMESTAMP NOT NULL,
	success        INTEGER NOT NULL,
	attempts       INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL,
	module_path    TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// RunRecord is one journaled run.
type RunRecord struct {
	ID         string
	CreatedAt  time.Time
	Success    bool
	Attempts   int
	Duration   time.Duration
	ModulePath string
	Error      string
}

// Journal persists finished runs to a local SQLite database.
type Journal struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open creates or opens the journal database at path, applying the schema
// when missing. Safe to call on an existing database.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", path,
	))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Journal{db: db, logger: logx.NewLogger("journal")}, nil
}

// Record implements pipeline.Recorder.
func (j *Journal) Record(ctx context.Context, v pipeline.Verdict) error {
	modulePath := state.StringKey(v.PackageInfo, state.KeyModulePath)
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, success, attempts, duration_ms, module_path, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.RunID, time.Now().UTC(), v.Success, v.Attempts,
		v.Duration.Milliseconds(), modulePath, v.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", v.RunID, err)
	}
	j.logger.Debug("journaled run %s", v.RunID)
	return nil
}

// Recent returns up to limit runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, created_at, success, attempts, duration_ms, module_path, error
		 FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Success, &r.Attempts,
			&durationMS, &r.ModulePath, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
