package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taar/callqa-pipeline/orchestrator"
)

const ddlAnalysisResults = `
CREATE TABLE IF NOT EXISTS analysis_results (
    id              TEXT         PRIMARY KEY,
    agent_name      TEXT         NOT NULL DEFAULT '',
    audio_filename  TEXT         NOT NULL DEFAULT '',
    transcript      TEXT         NOT NULL DEFAULT '',
    evaluation      JSONB        NOT NULL DEFAULT '[]',
    emotion_scores  JSONB        NOT NULL DEFAULT '{}',
    emotion_summary JSONB        NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analysis_results_agent
    ON analysis_results (agent_name, created_at);

CREATE INDEX IF NOT EXISTS idx_analysis_results_created
    ON analysis_results (created_at);
`

const pgColumns = `id, agent_name, audio_filename, transcript, evaluation, emotion_scores, emotion_summary, created_at`

// Migrate creates the analysis_results table and its indexes if missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlAnalysisResults); err != nil {
		return fmt.Errorf("apply analysis_results schema: %w", err)
	}
	return nil
}

// Postgres is the PostgreSQL Store backend. Safe for concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool to dsn, pings it and runs Migrate.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) Save(ctx context.Context, a *orchestrator.CallAnalysis) error {
	r, err := encodeRow(a)
	if err != nil {
		return observe("postgres", "save", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_results (`+pgColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.id, r.agent, r.filename, r.transcript, r.evaluation, r.scores, r.summary, r.createdAt,
	)
	return observe("postgres", "save", err)
}

func (s *Postgres) Get(ctx context.Context, id string) (*orchestrator.CallAnalysis, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgColumns+` FROM analysis_results WHERE id = $1`, id)
	if err != nil {
		return nil, observe("postgres", "get", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanPostgres)
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrNotFound
	}
	if err != nil {
		return nil, observe("postgres", "get", err)
	}
	return a, observe("postgres", "get", nil)
}

func (s *Postgres) List(ctx context.Context, f Filter) ([]*orchestrator.CallAnalysis, error) {
	q := `SELECT ` + pgColumns + ` FROM analysis_results`
	var args []any
	if f.Agent != "" {
		args = append(args, f.Agent)
		q += fmt.Sprintf(" WHERE agent_name = $%d", len(args))
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, observe("postgres", "list", err)
	}
	out, err := pgx.CollectRows(rows, scanPostgres)
	return out, observe("postgres", "list", err)
}

func (s *Postgres) Agents(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT agent_name FROM analysis_results WHERE agent_name <> '' ORDER BY agent_name ASC`)
	if err != nil {
		return nil, observe("postgres", "agents", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return out, observe("postgres", "agents", err)
}

func (s *Postgres) Evaluations(ctx context.Context, agent string) ([]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT evaluation FROM analysis_results WHERE agent_name = $1 ORDER BY created_at ASC, id ASC`, agent)
	if err != nil {
		return nil, observe("postgres", "evaluations", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (json.RawMessage, error) {
		var doc []byte
		if err := row.Scan(&doc); err != nil {
			return nil, err
		}
		return json.RawMessage(doc), nil
	})
	return out, observe("postgres", "evaluations", err)
}

func scanPostgres(cr pgx.CollectableRow) (*orchestrator.CallAnalysis, error) {
	var r row
	if err := cr.Scan(&r.id, &r.agent, &r.filename, &r.transcript, &r.evaluation, &r.scores, &r.summary, &r.createdAt); err != nil {
		return nil, err
	}
	return r.decode()
}
