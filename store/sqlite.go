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
	"time"

	_ "modernc.org/sqlite"

	"github.com/taar/callqa-pipeline/orchestrator"
)

// Fixed-width timestamps keep ORDER BY created_at chronological.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analysis_results (
    id              TEXT PRIMARY KEY,
    agent_name      TEXT NOT NULL DEFAULT '',
    audio_filename  TEXT NOT NULL DEFAULT '',
    transcript      TEXT NOT NULL DEFAULT '',
    evaluation      TEXT NOT NULL DEFAULT '[]',
    emotion_scores  TEXT NOT NULL DEFAULT '{}',
    emotion_summary TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_results_agent
    ON analysis_results (agent_name, created_at);

CREATE INDEX IF NOT EXISTS idx_analysis_results_created
    ON analysis_results (created_at);
`

const sqliteColumns = `id, agent_name, audio_filename, transcript, evaluation, emotion_scores, emotion_summary, created_at`

// SQLite is the embedded Store backend.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Save(ctx context.Context, a *orchestrator.CallAnalysis) error {
	r, err := encodeRow(a)
	if err != nil {
		return observe("sqlite", "save", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_results (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.id, r.agent, r.filename, r.transcript,
		string(r.evaluation), string(r.scores), string(r.summary),
		r.createdAt.Format(sqliteTimeLayout),
	)
	return observe("sqlite", "save", err)
}

func (s *SQLite) Get(ctx context.Context, id string) (*orchestrator.CallAnalysis, error) {
	rw := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM analysis_results WHERE id = ?`, id)
	a, err := scanSQLite(rw)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	if err != nil {
		return nil, observe("sqlite", "get", err)
	}
	return a, observe("sqlite", "get", nil)
}

func (s *SQLite) List(ctx context.Context, f Filter) ([]*orchestrator.CallAnalysis, error) {
	var (
		where []string
		args  []any
	)
	if f.Agent != "" {
		where = append(where, "agent_name = ?")
		args = append(args, f.Agent)
	}
	q := `SELECT ` + sqliteColumns + ` FROM analysis_results`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, observe("sqlite", "list", err)
	}
	defer rows.Close()

	var out []*orchestrator.CallAnalysis
	for rows.Next() {
		a, err := scanSQLite(rows)
		if err != nil {
			return nil, observe("sqlite", "list", err)
		}
		out = append(out, a)
	}
	return out, observe("sqlite", "list", rows.Err())
}

func (s *SQLite) Agents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT agent_name FROM analysis_results WHERE agent_name != '' ORDER BY agent_name ASC`)
	if err != nil {
		return nil, observe("sqlite", "agents", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, observe("sqlite", "agents", err)
		}
		out = append(out, name)
	}
	return out, observe("sqlite", "agents", rows.Err())
}

func (s *SQLite) Evaluations(ctx context.Context, agent string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT evaluation FROM analysis_results WHERE agent_name = ? ORDER BY created_at ASC, id ASC`, agent)
	if err != nil {
		return nil, observe("sqlite", "evaluations", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, observe("sqlite", "evaluations", err)
		}
		out = append(out, json.RawMessage(doc))
	}
	return out, observe("sqlite", "evaluations", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(sc scanner) (*orchestrator.CallAnalysis, error) {
	var (
		r                   row
		ev, scores, summary string
		created             string
	)
	if err := sc.Scan(&r.id, &r.agent, &r.filename, &r.transcript, &ev, &scores, &summary, &created); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at of %s: %w", r.id, err)
	}
	r.createdAt = t
	r.evaluation, r.scores, r.summary = []byte(ev), []byte(scores), []byte(summary)
	return r.decode()
}
