// Package mistakes flags rubric items an agent keeps failing across calls.
package mistakes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taar/callqa-pipeline/evaluation"
)

// MinOccurrences is the tally a KPI needs to be reported.
const MinOccurrences = 2

// Report maps a KPI number to the number of failing occurrences. KPI 0
// collects entries that carried no usable kpi_number.
type Report map[int]int

// Detect tallies mistake occurrences (score below 3 or penalty applied)
// per KPI across history and keeps KPIs seen at least MinOccurrences times.
func Detect(history []evaluation.Record) Report {
	tally := map[int]int{}
	for _, rec := range history {
		for _, kpi := range rec {
			if kpi.IsMistake() {
				tally[kpi.KPINumber]++
			}
		}
	}
	out := Report{}
	for k, n := range tally {
		if n >= MinOccurrences {
			out[k] = n
		}
	}
	return out
}

// DetectRaw decodes stored evaluation documents and runs Detect. Documents
// that are not arrays, and entries that are not objects, are skipped.
func DetectRaw(docs []json.RawMessage) Report {
	history := make([]evaluation.Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := evaluation.DecodeHistory(doc)
		if err != nil {
			continue
		}
		history = append(history, rec)
	}
	return Detect(history)
}

// HistorySource returns every stored evaluation document for an agent.
type HistorySource interface {
	Evaluations(ctx context.Context, agent string) ([]json.RawMessage, error)
}

// AgentReport is the repeated-mistakes answer for one agent.
type AgentReport struct {
	Agent            string `json:"agent"`
	RepeatedMistakes Report `json:"repeated_mistakes"`
}

// ForAgent loads the agent's history from src and detects repeated mistakes.
// Errors from src are returned unchanged.
func ForAgent(ctx context.Context, src HistorySource, agent string) (*AgentReport, error) {
	docs, err := src.Evaluations(ctx, agent)
	if err != nil {
		return nil, err
	}
	return &AgentReport{Agent: agent, RepeatedMistakes: DetectRaw(docs)}, nil
}

// String renders the report for log lines.
func (r Report) String() string {
	return fmt.Sprintf("%d repeated KPI(s) %v", len(r), map[int]int(r))
}
