// Package evaluation defines the 16-item quality rubric, the KPI records an
// evaluator returns, and the parsing rules for evaluator output and stored
// history.
package evaluation

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

const (
	// MaxScore is the top of the 0-5 rubric scale and the value assumed
	// when a stored score is missing or unreadable.
	MaxScore = 5.0
	// PassScore is the lowest score that is not a mistake.
	PassScore = 3.0
)

var errNotObject = errors.New("kpi entry is not an object")

// KPIScore is one rubric item result. Score is nil when the evaluator left
// it out or produced something that is not a number.
type KPIScore struct {
	KPINumber     int      `json:"kpi_number"`
	Description   string   `json:"description"`
	Score         *float64 `json:"score"`
	Penalty       bool     `json:"penalty"`
	Justification string   `json:"justification"`
}

// Record is one call's evaluation, normally one KPIScore per rubric item.
type Record []KPIScore

// ScoreOr returns the score, or def when it is missing.
func (k KPIScore) ScoreOr(def float64) float64 {
	if k.Score == nil {
		return def
	}
	return *k.Score
}

// IsMistake reports whether the item counts as a failure: a score below
// PassScore or an applied penalty. A missing score counts as MaxScore.
func (k KPIScore) IsMistake() bool {
	return k.ScoreOr(MaxScore) < PassScore || k.Penalty
}

// UnmarshalJSON decodes an evaluator-produced object without trusting field
// types: numbers may arrive as strings, and unusable values fall back to
// their zero value (nil for Score, false for Penalty).
func (k *KPIScore) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return errNotObject
	}
	if raw == nil {
		return errNotObject
	}

	*k = KPIScore{}
	if n, ok := number(raw["kpi_number"]); ok && n == math.Trunc(n) {
		k.KPINumber = int(n)
	}
	if n, ok := number(raw["score"]); ok {
		k.Score = &n
	}
	k.Description = text(raw["description"])
	k.Justification = text(raw["justification"])
	if v, ok := raw["penalty"]; ok {
		var p bool
		if json.Unmarshal(v, &p) == nil {
			k.Penalty = p
		}
	}
	return nil
}

// number reads a JSON number or a numeric string. null is absent.
func number(v json.RawMessage) (float64, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func text(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	if bytes.Equal(v, []byte("null")) {
		return ""
	}
	return string(v)
}

// DecodeHistory decodes a stored evaluation document. Documents that were
// stored as a JSON string holding the array are unwrapped first. Entries
// that are not objects are skipped; a document that is not an array is an
// error.
func DecodeHistory(doc []byte) (Record, error) {
	doc = bytes.TrimSpace(doc)
	if len(doc) > 0 && doc[0] == '"' {
		var inner string
		if err := json.Unmarshal(doc, &inner); err != nil {
			return nil, err
		}
		doc = []byte(strings.TrimSpace(inner))
	}

	var items []json.RawMessage
	if err := json.Unmarshal(doc, &items); err != nil {
		return nil, err
	}
	if items == nil {
		return nil, errors.New("evaluation document is null")
	}

	return decodeEntries(items), nil
}

// decodeEntries decodes the object entries of an evaluation array and drops
// everything else, null included.
func decodeEntries(items []json.RawMessage) Record {
	out := make(Record, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			continue
		}
		var k KPIScore
		if err := json.Unmarshal(item, &k); err != nil {
			continue
		}
		out = append(out, k)
	}
	return out
}
