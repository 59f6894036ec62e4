// Package metrics defines the Prometheus collectors the orchestrator
// records against as a request moves through the pipeline: per-stage
// latency, the Decision Gate's outcomes, fallback usage, verification
// decisions, and the final confidence distribution. Grounded on
// TicoDavid-RAGbox.co's internal/middleware/monitoring.go for the
// promauto-free NewCounterVec/NewHistogramVec-plus-MustRegister idiom.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector the pipeline records against.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	StageDuration      *prometheus.HistogramVec
	RetrievalQuality   prometheus.Histogram
	GateDecisions      *prometheus.CounterVec
	FallbackOutcomes   *prometheus.CounterVec
	VerificationResult *prometheus.CounterVec
	Confidence         prometheus.Histogram
	FinalDecisions     *prometheus.CounterVec
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragsentinel_requests_total",
				Help: "Total number of query requests handled, by mode.",
			},
			[]string{"mode"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragsentinel_request_duration_seconds",
				Help:    "End-to-end query request latency in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 12, 20},
			},
			[]string{"mode", "decision"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragsentinel_stage_duration_seconds",
				Help:    "Per-stage pipeline latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"stage"},
		),
		RetrievalQuality: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ragsentinel_retrieval_quality",
				Help:    "Retrieval Quality score distribution.",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		GateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragsentinel_gate_decisions_total",
				Help: "Decision Gate outcomes, by mode and decision.",
			},
			[]string{"mode", "decision"},
		),
		FallbackOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragsentinel_fallback_outcomes_total",
				Help: "Fallback Manager outcomes.",
			},
			[]string{"outcome"},
		),
		VerificationResult: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragsentinel_verification_decisions_total",
				Help: "Verification Decision Maker outcomes, by mode and decision.",
			},
			[]string{"mode", "decision"},
		),
		Confidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ragsentinel_confidence",
				Help:    "Final confidence score distribution.",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		FinalDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragsentinel_final_decisions_total",
				Help: "Final response decisions returned to callers.",
			},
			[]string{"decision"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.StageDuration, m.RetrievalQuality,
		m.GateDecisions, m.FallbackOutcomes, m.VerificationResult, m.Confidence, m.FinalDecisions,
	)
	return m
}
