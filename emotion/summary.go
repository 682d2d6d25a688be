package emotion

import (
	"sort"
)

// TopN is the length of each ranked emotion list.
const TopN = 3

// PositiveEmotions and NegativeEmotions restrict the ranked lists. Other
// names still count toward the distribution statistics.
var (
	PositiveEmotions = []string{
		"Admiration", "Amusement", "Compassion", "Empowerment",
		"Gratitude", "Hope", "Interest", "Joy", "Relief", "Sympathy", "Calmness",
	}
	NegativeEmotions = []string{
		"Anger", "Annoyance", "Disappointment", "Disapproval",
		"Embarrassment", "Fear", "Frustration", "Grief",
		"Jealousy", "Loneliness", "Sadness", "Shame", "Disgust",
	}
)

// Summary describes the distribution of a Scores set. Mode is nil when no
// value occurs more than once.
type Summary struct {
	Mean        float64  `json:"mean"`
	Median      float64  `json:"median"`
	Mode        *float64 `json:"mode"`
	Range       float64  `json:"range"`
	TopPositive []Score  `json:"top_positive_emotions"`
	TopNegative []Score  `json:"top_negative_emotions"`
}

// Summarize computes mean, median, mode and range over all scores (2
// decimals) and the top positive and negative emotions. An empty input
// yields zero statistics, a nil mode and empty lists.
func Summarize(scores Scores) Summary {
	s := Summary{
		TopPositive: Top(scores, PositiveEmotions, TopN),
		TopNegative: Top(scores, NegativeEmotions, TopN),
	}
	values := scores.Values()
	if len(values) == 0 {
		return s
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	s.Mean = round2(sum / float64(len(values)))

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		s.Median = round2(sorted[mid])
	} else {
		s.Median = round2((sorted[mid-1] + sorted[mid]) / 2)
	}
	s.Range = round2(sorted[len(sorted)-1] - sorted[0])
	s.Mode = mode(values)
	return s
}

// mode returns the most frequent value, the first one seen on ties, or nil
// if every value is distinct.
func mode(values []float64) *float64 {
	counts := make(map[float64]int, len(values))
	maxCount := 0
	for _, v := range values {
		counts[v]++
		maxCount = max(maxCount, counts[v])
	}
	if maxCount < 2 {
		return nil
	}
	for _, v := range values {
		if counts[v] == maxCount {
			m := round2(v)
			return &m
		}
	}
	return nil
}

// Top returns up to n entries of scores whose names are in allowed, highest
// first. Equal scores keep their order in scores.
func Top(scores Scores, allowed []string, n int) []Score {
	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		set[name] = struct{}{}
	}
	out := []Score{}
	for _, e := range scores {
		if _, ok := set[e.Name]; ok {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
