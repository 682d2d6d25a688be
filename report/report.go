// Package report computes the dashboard figures shown by the API and CLI.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/taar/callqa-pipeline/evaluation"
	"github.com/taar/callqa-pipeline/orchestrator"
)

// RecentLimit is the default number of entries returned by Recent.
const RecentLimit = 5

type Stats struct {
	TotalAnalyses int     `json:"totalAnalyses"`
	AvgKPIScore   float64 `json:"avgKpiScore"`
	TotalAgents   int     `json:"totalAgents"`
}

type LeaderboardEntry struct {
	AgentName string  `json:"agent_name"`
	AvgScore  float64 `json:"avg_score"`
	Calls     int     `json:"calls"`
}

type RecentAnalysis struct {
	ID        string    `json:"id"`
	AgentName string    `json:"agent_name"`
	KPIScore  float64   `json:"kpiScore"`
	CreatedAt time.Time `json:"createdAt"`
	Status    string    `json:"status"`
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// scores returns the items that carry a numeric score.
func scores(rec evaluation.Record) []float64 {
	out := make([]float64, 0, len(rec))
	for _, k := range rec {
		if k.Score != nil {
			out = append(out, *k.Score)
		}
	}
	return out
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// KPIAverage is the mean item score of one evaluation, 1 decimal, 0 when no
// item has a score.
func KPIAverage(rec evaluation.Record) float64 {
	return round(mean(scores(rec)), 1)
}

// Summarize counts analyses and distinct named agents and averages every
// scored KPI item across all of them (2 decimals).
func Summarize(records []*orchestrator.CallAnalysis) Stats {
	st := Stats{TotalAnalyses: len(records)}
	agents := map[string]struct{}{}
	var all []float64
	for _, a := range records {
		if a.AgentName != "" {
			agents[a.AgentName] = struct{}{}
		}
		all = append(all, scores(a.Evaluation)...)
	}
	st.TotalAgents = len(agents)
	st.AvgKPIScore = round(mean(all), 2)
	return st
}

// Leaderboard ranks agents by the average of all their scored KPI items (2
// decimals), best first, ties by name. Agents without any scored item are
// left out.
func Leaderboard(records []*orchestrator.CallAnalysis) []LeaderboardEntry {
	type acc struct {
		scores []float64
		calls  int
	}
	byAgent := map[string]*acc{}
	for _, a := range records {
		x, ok := byAgent[a.AgentName]
		if !ok {
			x = &acc{}
			byAgent[a.AgentName] = x
		}
		x.calls++
		x.scores = append(x.scores, scores(a.Evaluation)...)
	}

	out := make([]LeaderboardEntry, 0, len(byAgent))
	for name, x := range byAgent {
		if len(x.scores) == 0 {
			continue
		}
		out = append(out, LeaderboardEntry{AgentName: name, AvgScore: round(mean(x.scores), 2), Calls: x.calls})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgScore != out[j].AvgScore {
			return out[i].AvgScore > out[j].AvgScore
		}
		return out[i].AgentName < out[j].AgentName
	})
	return out
}

// Recent summarizes the n newest analyses. n <= 0 means RecentLimit.
func Recent(records []*orchestrator.CallAnalysis, n int) []RecentAnalysis {
	if n <= 0 {
		n = RecentLimit
	}
	sorted := append([]*orchestrator.CallAnalysis(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	out := make([]RecentAnalysis, 0, len(sorted))
	for _, a := range sorted {
		out = append(out, RecentAnalysis{
			ID:        a.ID,
			AgentName: a.AgentName,
			KPIScore:  KPIAverage(a.Evaluation),
			CreatedAt: a.CreatedAt,
			Status:    "completed",
		})
	}
	return out
}
