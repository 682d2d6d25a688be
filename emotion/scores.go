// Package emotion flattens emotion-inference predictions into per-emotion
// averages and summarizes them for dashboards.
package emotion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Score is one emotion's averaged intensity on the 0-100 scale.
type Score struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Scores maps emotion names to averaged intensities. Entries keep the order
// in which each name was first observed, and it marshals as a JSON object in
// that order.
type Scores []Score

// Map returns the scores as an unordered map.
func (s Scores) Map() map[string]float64 {
	m := make(map[string]float64, len(s))
	for _, e := range s {
		m[e.Name] = e.Score
	}
	return m
}

// Values returns the scores in entry order.
func (s Scores) Values() []float64 {
	out := make([]float64, len(s))
	for i, e := range s {
		out[i] = e.Score
	}
	return out
}

// MarshalJSON encodes s as {"name": score, ...} in entry order.
func (s Scores) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Score)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order.
func (s *Scores) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("emotion scores: expected object, got %v", tok)
	}
	out := Scores{}
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := key.(string)
		if !ok {
			return fmt.Errorf("emotion scores: bad key %v", key)
		}
		var v float64
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("emotion scores: %s: %w", name, err)
		}
		out = append(out, Score{Name: name, Score: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// average returns the mean of observations, summed in sorted order so the
// result does not depend on traversal order.
func average(obs []float64) float64 {
	sorted := append([]float64(nil), obs...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted))
}
