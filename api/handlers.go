package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/taar/callqa-pipeline/audio"
	"github.com/taar/callqa-pipeline/mistakes"
	"github.com/taar/callqa-pipeline/orchestrator"
	"github.com/taar/callqa-pipeline/report"
	"github.com/taar/callqa-pipeline/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "callqa-pipeline",
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer f.Close()

	agent := strings.TrimSpace(r.FormValue("agentName"))
	if agent == "" {
		agent = DefaultAgent
	}

	a, err := s.analyzer.Analyze(r.Context(), f, hdr.Filename, agent)
	if err != nil {
		var fe *audio.FormatError
		if errors.As(err, &fe) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// limit reads ?limit=, 0 when absent or invalid.
func limit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, f store.Filter) {
	out, err := s.store.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if out == nil {
		out = []*orchestrator.CallAnalysis{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, store.Filter{Agent: r.URL.Query().Get("agent"), Limit: limit(r)})
}

func (s *Server) handleAgentResults(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, store.Filter{Agent: r.PathValue("name"), Limit: limit(r)})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.Agents(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if agents == nil {
		agents = []string{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleRepeatedMistakes(w http.ResponseWriter, r *http.Request) {
	rep, err := mistakes.ForAgent(r.Context(), s.store, r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.WithField("agent", rep.Agent).Debugf("repeated mistakes: %s", rep.RepeatedMistakes)
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) all(w http.ResponseWriter, r *http.Request) ([]*orchestrator.CallAnalysis, bool) {
	out, err := s.store.List(r.Context(), store.Filter{})
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return out, true
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	records, ok := s.all(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.Leaderboard(records))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	records, ok := s.all(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.Summarize(records))
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	n := limit(r)
	if n == 0 {
		n = report.RecentLimit
	}
	records, err := s.store.List(r.Context(), store.Filter{Limit: n})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Recent(records, n))
}
