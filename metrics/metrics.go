package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Pipeline metrics
	AnalysesTotal *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec
	ActiveCalls   prometheus.Gauge

	// Emotion job metrics
	EmotionPolls *prometheus.HistogramVec

	// Storage metrics
	StoreOperations *prometheus.CounterVec
)

// Init creates the registry and registers all instruments. Later calls are
// no-ops.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		AnalysesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_analyses_total",
				Help: "Call analyses by outcome",
			},
			[]string{"outcome"},
		)

		StageDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callqa_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
			},
			[]string{"stage"},
		)

		StageErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_stage_errors_total",
				Help: "Pipeline stage failures",
			},
			[]string{"stage"},
		)

		ActiveCalls = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callqa_active_analyses",
				Help: "Analyses currently in progress",
			},
		)

		EmotionPolls = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callqa_emotion_job_polls",
				Help:    "Status checks needed per emotion job",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"state"},
		)

		StoreOperations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_store_operations_total",
				Help: "Persistence operations by driver, operation and result",
			},
			[]string{"driver", "op", "result"},
		)

		registry.MustRegister(
			AnalysesTotal,
			StageDuration,
			StageErrors,
			ActiveCalls,
			EmotionPolls,
			StoreOperations,
		)

		if logger != nil {
			logger.Debug("Prometheus metrics initialized")
		}
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	Init(nil)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          registry,
	})
}

// The helpers below are safe to call before Init; they do nothing then.

func ObserveStage(stage string, start time.Time, err error) {
	if StageDuration == nil {
		return
	}
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		StageErrors.WithLabelValues(stage).Inc()
	}
}

func RecordAnalysis(err error) {
	if AnalysesTotal == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	AnalysesTotal.WithLabelValues(outcome).Inc()
}

func TrackActive(delta float64) {
	if ActiveCalls == nil {
		return
	}
	ActiveCalls.Add(delta)
}

func ObservePolls(state string, n int) {
	if EmotionPolls == nil {
		return
	}
	EmotionPolls.WithLabelValues(state).Observe(float64(n))
}

func RecordStoreOp(driver, op string, err error) {
	if StoreOperations == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreOperations.WithLabelValues(driver, op, result).Inc()
}
