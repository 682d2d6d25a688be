package emotion

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MalformedDataError means the prediction payload lacks the
// results/predictions/models nesting entirely.
type MalformedDataError struct {
	Reason string
	Err    error
}

func (e *MalformedDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed emotion data: %s: %v", e.Reason, e.Err)
	}
	return "malformed emotion data: " + e.Reason
}

func (e *MalformedDataError) Unwrap() error { return e.Err }

type source struct {
	Results *struct {
		Predictions []json.RawMessage `json:"predictions"`
	} `json:"results"`
}

type filePrediction struct {
	Models json.RawMessage `json:"models"`
}

type modality struct {
	GroupedPredictions []json.RawMessage `json:"grouped_predictions"`
	Predictions        []json.RawMessage `json:"predictions"`
}

type group struct {
	Predictions []json.RawMessage `json:"predictions"`
}

type segment struct {
	Emotions []json.RawMessage `json:"emotions"`
}

type observation struct {
	Name  string   `json:"name"`
	Score *float64 `json:"score"`
}

// collector accumulates raw scores per emotion name in first-seen order.
type collector struct {
	order []string
	obs   map[string][]float64
}

func (c *collector) add(name string, score float64) {
	if _, ok := c.obs[name]; !ok {
		c.order = append(c.order, name)
	}
	c.obs[name] = append(c.obs[name], score)
}

// ExtractScores averages every (emotion, score) observation in a batch
// prediction payload. The payload is a list of sources, each holding
// results.predictions[].models; every model (modality) carries segments
// either directly under "predictions" or one level down under
// "grouped_predictions[].predictions". Each segment lists emotions with
// raw scores in [0,1].
//
// The result holds mean*100 per name, rounded to 2 decimals. Malformed
// modalities, segments and emotion entries are skipped. If no models
// container exists anywhere, a *MalformedDataError is returned.
func ExtractScores(raw []byte) (Scores, error) {
	var sources []json.RawMessage
	if err := json.Unmarshal(raw, &sources); err != nil {
		return nil, &MalformedDataError{Reason: "payload is not a list of sources", Err: err}
	}

	c := &collector{obs: map[string][]float64{}}
	found := false
	for _, s := range sources {
		var src source
		if json.Unmarshal(s, &src) != nil || src.Results == nil {
			continue
		}
		for _, p := range src.Results.Predictions {
			var fp filePrediction
			if json.Unmarshal(p, &fp) != nil {
				continue
			}
			models, ok := objectValues(fp.Models)
			if !ok {
				continue
			}
			found = true
			for _, m := range models {
				collectModality(c, m)
			}
		}
	}
	if !found {
		return nil, &MalformedDataError{Reason: "missing results.predictions.models"}
	}

	out := make(Scores, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, Score{Name: name, Score: round2(average(c.obs[name]) * 100)})
	}
	return out, nil
}

func collectModality(c *collector, raw json.RawMessage) {
	var m modality
	if json.Unmarshal(raw, &m) != nil {
		return
	}
	segments := m.Predictions
	if m.GroupedPredictions != nil {
		segments = nil
		for _, g := range m.GroupedPredictions {
			var grp group
			if json.Unmarshal(g, &grp) != nil {
				continue
			}
			segments = append(segments, grp.Predictions...)
		}
	}
	for _, s := range segments {
		var seg segment
		if json.Unmarshal(s, &seg) != nil {
			continue
		}
		for _, e := range seg.Emotions {
			var o observation
			if json.Unmarshal(e, &o) != nil || o.Name == "" || o.Score == nil {
				continue
			}
			c.add(o.Name, *o.Score)
		}
	}
}

// objectValues returns the member values of a JSON object in document
// order, so first-seen emotion order is stable across runs.
func objectValues(raw json.RawMessage) ([]json.RawMessage, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, false
	}
	var out []json.RawMessage
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, false
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}
