// Package store persists run history so fidelity trends can be compared
// across strategy groups and over time.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	group_id        TEXT NOT NULL DEFAULT '',
	started_at      INTEGER NOT NULL,
	total           INTEGER NOT NULL,
	passed          INTEGER NOT NULL,
	avg_duration_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS case_results (
	run_id   TEXT NOT NULL,
	site_key TEXT NOT NULL,
	stage    TEXT NOT NULL,
	passed   INTEGER NOT NULL,
	score    REAL NOT NULL,
	error    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, site_key),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// RunRecord summarizes one full pipeline run.
type RunRecord struct {
	RunID         string
	GroupID       string
	StartedAt     time.Time
	Total         int
	Passed        int
	AvgDurationMS int64
}

// CaseRecord is the terminal outcome of a single site within a run. Stage
// holds the pipeline stage the case ended in, Score the blended fidelity
// value of its worst page (0 when the case never reached scoring).
type CaseRecord struct {
	RunID   string
	SiteKey string
	Stage   string
	Passed  bool
	Score   float64
	Error   string
}

// Store is a SQLite-backed run archive. Safe for concurrent use.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open creates or opens the archive at path and ensures the schema exists.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes a run and its case outcomes in one transaction.
func (s *Store) SaveRun(ctx context.Context, run RunRecord, cases []CaseRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, group_id, started_at, total, passed, avg_duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.GroupID, run.StartedAt.UnixMilli(), run.Total, run.Passed, run.AvgDurationMS)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}

	for _, c := range cases {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO case_results (run_id, site_key, stage, passed, score, error)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, c.SiteKey, c.Stage, c.Passed, c.Score, c.Error)
		if err != nil {
			return fmt.Errorf("insert case %s/%s: %w", run.RunID, c.SiteKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Info("run archived",
		zap.String("runId", run.RunID),
		zap.Int("total", run.Total),
		zap.Int("passed", run.Passed))
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, group_id, started_at, total, passed, avg_duration_ms
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var startedAt int64
		if err := rows.Scan(&r.RunID, &r.GroupID, &startedAt, &r.Total, &r.Passed, &r.AvgDurationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CaseResults returns all case outcomes for one run, ordered by site key.
func (s *Store) CaseResults(ctx context.Context, runID string) ([]CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, site_key, stage, passed, score, error
		 FROM case_results WHERE run_id = ? ORDER BY site_key`, runID)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var out []CaseRecord
	for rows.Next() {
		var c CaseRecord
		if err := rows.Scan(&c.RunID, &c.SiteKey, &c.Stage, &c.Passed, &c.Score, &c.Error); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
