// Package store archives every evaluated concept, accepted or not, so
// longitudinal questions ("what did we reject last month and why") stay
// answerable after the research document moves on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"arf/internal/philosophy"
)

// Archive is the sqlite-backed evaluation history.
type Archive struct {
	db *sql.DB
}

// Open opens (or creates) the archive database at path.
func Open(path string) (*Archive, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// Single writer; readers go through the same connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		concept TEXT NOT NULL,
		inevitability REAL NOT NULL,
		symmetry REAL NOT NULL,
		parsimony REAL NOT NULL,
		explanatory_power REAL NOT NULL,
		score REAL NOT NULL,
		accepted INTEGER NOT NULL,
		rationale TEXT,
		model TEXT,
		source TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_concept ON evaluations(concept);
	CREATE INDEX IF NOT EXISTS idx_evaluations_accepted ON evaluations(accepted);
	CREATE INDEX IF NOT EXISTS idx_evaluations_created ON evaluations(created_at);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate archive schema: %w", err)
	}
	return nil
}

// Record stores one evaluation. Source names where the concept came
// from (an export filename, "web", a comment id).
func (a *Archive) Record(ctx context.Context, ev *philosophy.Evaluation, source string) error {
	accepted := 0
	if ev.Accepted {
		accepted = 1
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO evaluations
			(concept, inevitability, symmetry, parsimony, explanatory_power,
			 score, accepted, rationale, model, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Concept,
		ev.Ratings.Inevitability, ev.Ratings.Symmetry,
		ev.Ratings.Parsimony, ev.Ratings.ExplanatoryPower,
		ev.Score, accepted, ev.Rationale, ev.Model, source, ev.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to record evaluation: %w", err)
	}
	return nil
}

// Entry is one archived evaluation row.
type Entry struct {
	ID        int64
	Concept   string
	Ratings   philosophy.Ratings
	Score     float64
	Accepted  bool
	Rationale string
	Model     string
	Source    string
	CreatedAt time.Time
}

// Recent returns the latest n evaluations, newest first.
func (a *Archive) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, concept, inevitability, symmetry, parsimony,
		       explanatory_power, score, accepted, rationale, model,
		       source, created_at
		FROM evaluations ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Accepted returns all accepted evaluations, newest first.
func (a *Archive) Accepted(ctx context.Context) ([]Entry, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, concept, inevitability, symmetry, parsimony,
		       explanatory_power, score, accepted, rationale, model,
		       source, created_at
		FROM evaluations WHERE accepted = 1 ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accepted evaluations: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var accepted int
		if err := rows.Scan(&e.ID, &e.Concept,
			&e.Ratings.Inevitability, &e.Ratings.Symmetry,
			&e.Ratings.Parsimony, &e.Ratings.ExplanatoryPower,
			&e.Score, &accepted, &e.Rationale, &e.Model,
			&e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		e.Accepted = accepted == 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats summarizes the archive for the dashboard.
type Stats struct {
	Total     int     `json:"total"`
	Accepted  int     `json:"accepted"`
	MeanScore float64 `json:"mean_score"`
}

// Summary computes archive-wide counters.
func (a *Archive) Summary(ctx context.Context) (Stats, error) {
	var s Stats
	var mean sql.NullFloat64
	err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(accepted), 0), AVG(score)
		FROM evaluations`).Scan(&s.Total, &s.Accepted, &mean)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to summarize archive: %w", err)
	}
	if mean.Valid {
		s.MeanScore = mean.Float64
	}
	return s, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}
