// Package history persists every received report in SQLite so the API can
// serve per-project trends beyond the in-memory store's TTL.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/obsidianstack/projectlens/pkg/types"
)

// DefaultLimit caps List when the caller passes no limit.
const DefaultLimit = 100

const schema = `
CREATE TABLE IF NOT EXISTS reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id INTEGER NOT NULL,
    run_id TEXT NOT NULL,
    generated_at INTEGER NOT NULL,
    risk_level TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT '',
    health_score REAL NOT NULL DEFAULT 0,
    completion_rate REAL NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    payload TEXT NOT NULL,
    UNIQUE(project_id, run_id)
);
CREATE INDEX IF NOT EXISTS idx_reports_project_time ON reports(project_id, generated_at);
CREATE INDEX IF NOT EXISTS idx_reports_time ON reports(generated_at);
`

// Store is a SQLite-backed report history. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores r. A report already recorded for the same project and run is
// ignored, so redelivered batches are harmless.
func (s *Store) Record(ctx context.Context, r *types.Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("history: encode report: %w", err)
	}
	failed := 0
	if r.Error != "" {
		failed = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO reports (
			project_id, run_id, generated_at, risk_level, state,
			health_score, completion_rate, failed, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ProjectID,
		r.RunID,
		r.GeneratedAt.UnixMilli(),
		r.RiskLevel,
		r.Health.State,
		r.Health.Score,
		r.CompletionRate,
		failed,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("history: record report: %w", err)
	}
	return nil
}

// ListOptions filters List.
type ListOptions struct {
	// Since excludes reports generated before it. Zero means no lower bound.
	Since time.Time
	// Limit caps the number of reports. Zero selects DefaultLimit.
	Limit int
}

// List returns projectID's reports, newest first.
func (s *Store) List(ctx context.Context, projectID int, opts ListOptions) ([]types.Report, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	var since int64
	if !opts.Since.IsZero() {
		since = opts.Since.UnixMilli()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM reports
		WHERE project_id = ? AND generated_at >= ?
		ORDER BY generated_at DESC, id DESC
		LIMIT ?`,
		projectID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list reports: %w", err)
	}
	defer rows.Close()

	out := []types.Report{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("history: scan report: %w", err)
		}
		var r types.Report
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("history: decode report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list reports: %w", err)
	}
	return out, nil
}

// Count returns the number of stored reports for projectID, or for every
// project when projectID is 0.
func (s *Store) Count(ctx context.Context, projectID int) (int, error) {
	q := "SELECT COUNT(*) FROM reports"
	var args []any
	if projectID != 0 {
		q += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count reports: %w", err)
	}
	return n, nil
}

// Prune deletes reports generated before the cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE generated_at < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}

// RunRetention prunes reports older than retention once at start and then
// every interval until ctx is cancelled. A zero retention returns at once.
func (s *Store) RunRetention(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	prune := func() {
		n, err := s.Prune(ctx, time.Now().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			slog.Error("history: prune failed", "err", err)
		case n > 0:
			slog.Info("history: pruned reports", "count", n, "retention", retention)
		}
	}
	prune()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			prune()
		}
	}
}
