// Package store persists call analyses. Two backends exist: an embedded
// SQLite database (the default) and PostgreSQL with JSONB columns.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taar/callqa-pipeline/emotion"
	"github.com/taar/callqa-pipeline/evaluation"
	"github.com/taar/callqa-pipeline/metrics"
	"github.com/taar/callqa-pipeline/mistakes"
	"github.com/taar/callqa-pipeline/orchestrator"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("analysis not found")

// PersistenceError wraps a backend failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Filter narrows List. Zero values mean all agents and no limit.
type Filter struct {
	Agent string
	Limit int
}

type Store interface {
	Save(ctx context.Context, a *orchestrator.CallAnalysis) error
	Get(ctx context.Context, id string) (*orchestrator.CallAnalysis, error)
	// List returns analyses newest first.
	List(ctx context.Context, f Filter) ([]*orchestrator.CallAnalysis, error)
	// Agents returns the distinct non-empty agent names, ascending.
	Agents(ctx context.Context) ([]string, error)
	// Evaluations returns the agent's stored evaluation documents, oldest
	// first.
	Evaluations(ctx context.Context, agent string) ([]json.RawMessage, error)
	Close() error
}

var (
	_ Store                  = (*SQLite)(nil)
	_ Store                  = (*Postgres)(nil)
	_ orchestrator.Saver     = Store(nil)
	_ mistakes.HistorySource = Store(nil)
)

// Open connects to the backend named by driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		s, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

// row is the column layout shared by both backends.
type row struct {
	id         string
	agent      string
	filename   string
	transcript string
	evaluation []byte
	scores     []byte
	summary    []byte
	createdAt  time.Time
}

func encodeRow(a *orchestrator.CallAnalysis) (*row, error) {
	ev, err := json.Marshal(a.Evaluation)
	if err != nil {
		return nil, fmt.Errorf("encode evaluation: %w", err)
	}
	sc, err := json.Marshal(a.EmotionScores)
	if err != nil {
		return nil, fmt.Errorf("encode emotion scores: %w", err)
	}
	su, err := json.Marshal(a.EmotionSummary)
	if err != nil {
		return nil, fmt.Errorf("encode emotion summary: %w", err)
	}
	return &row{
		id:         a.ID,
		agent:      a.AgentName,
		filename:   a.AudioFilename,
		transcript: a.Transcript,
		evaluation: ev,
		scores:     sc,
		summary:    su,
		createdAt:  a.CreatedAt.UTC(),
	}, nil
}

func (r *row) decode() (*orchestrator.CallAnalysis, error) {
	a := &orchestrator.CallAnalysis{
		ID:            r.id,
		CreatedAt:     r.createdAt.UTC(),
		AgentName:     r.agent,
		AudioFilename: r.filename,
		Transcript:    r.transcript,
	}
	if len(r.evaluation) > 0 && string(r.evaluation) != "null" {
		rec, err := evaluation.DecodeHistory(r.evaluation)
		if err != nil {
			return nil, fmt.Errorf("decode evaluation of %s: %w", r.id, err)
		}
		a.Evaluation = rec
	}
	if len(r.scores) > 0 {
		var sc emotion.Scores
		if err := json.Unmarshal(r.scores, &sc); err != nil {
			return nil, fmt.Errorf("decode emotion scores of %s: %w", r.id, err)
		}
		a.EmotionScores = sc
	}
	if len(r.summary) > 0 {
		if err := json.Unmarshal(r.summary, &a.EmotionSummary); err != nil {
			return nil, fmt.Errorf("decode emotion summary of %s: %w", r.id, err)
		}
	}
	return a, nil
}

// observe counts the operation and wraps a failure. ErrNotFound passes
// through unwrapped.
func observe(driver, op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		metrics.RecordStoreOp(driver, op, nil)
		return err
	}
	metrics.RecordStoreOp(driver, op, err)
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
