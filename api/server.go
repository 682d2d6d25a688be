// Package api exposes analyses, agent reports and dashboard figures over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taar/callqa-pipeline/metrics"
	"github.com/taar/callqa-pipeline/orchestrator"
	"github.com/taar/callqa-pipeline/store"
)

// DefaultAgent is used when an upload names no agent.
const DefaultAgent = "Unknown Agent"

// maxUpload bounds the multipart body of /evaluate.
const maxUpload = 256 << 20

// Analyzer runs one uploaded call through the pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, src io.Reader, filename, agent string) (*orchestrator.CallAnalysis, error)
}

type Server struct {
	analyzer  Analyzer
	store     store.Store
	log       *logrus.Logger
	startTime time.Time
	version   string
}

func NewServer(a Analyzer, s store.Store, log *logrus.Logger, version string) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{analyzer: a, store: s, log: log, startTime: time.Now(), version: version}
}

// Handler returns the routed mux wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /results", s.handleResults)
	mux.HandleFunc("GET /results/{id}", s.handleResult)
	mux.HandleFunc("GET /agents", s.handleAgents)
	mux.HandleFunc("GET /agents/{name}/results", s.handleAgentResults)
	mux.HandleFunc("GET /agents/{name}/repeated-mistakes", s.handleRepeatedMistakes)
	mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /recent-analyses", s.handleRecent)
	mux.Handle("GET /metrics", metrics.Handler())
	return s.logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Debug("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps err to a status code and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled):
		status = 499
	}
	if status >= 500 {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeError(w, status, err.Error())
}
