package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError means the evaluator's reply was not a usable evaluation
// document. No partial record accompanies it.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation parse: %s: %v", e.Reason, e.Err)
	}
	return "evaluation parse: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes an evaluator reply of the form {"evaluation": [...]}.
// Field values inside each entry are decoded leniently (see KPIScore), but
// the document shape is strict: the evaluation key must be present and must
// be an array. Entries that are not objects are dropped.
func Parse(content string) (Record, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, &ParseError{Reason: "reply is not a JSON object", Err: err}
	}
	raw, ok := doc["evaluation"]
	if !ok {
		return nil, &ParseError{Reason: `missing "evaluation" key`}
	}
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, &ParseError{Reason: `"evaluation" is not a list`}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &ParseError{Reason: `"evaluation" is not a list`, Err: err}
	}
	return decodeEntries(items), nil
}

// Completer is a text-reasoning backend: one system message, one user
// message, one reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Evaluator scores transcripts against the fixed rubric.
type Evaluator struct {
	backend Completer
}

// NewEvaluator returns an Evaluator backed by c.
func NewEvaluator(c Completer) *Evaluator {
	return &Evaluator{backend: c}
}

// Evaluate sends transcript with the rubric and returns the parsed record.
// Backend failures are returned wrapped; malformed replies yield *ParseError.
func (e *Evaluator) Evaluate(ctx context.Context, transcript string) (Record, error) {
	reply, err := e.backend.Complete(ctx, SystemPrompt, UserPrompt(transcript))
	if err != nil {
		return nil, fmt.Errorf("evaluate transcript: %w", err)
	}
	return Parse(reply)
}
