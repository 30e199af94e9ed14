// Package metrics provides Prometheus metrics for the risk client and the demo predictor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	SubmissionsStarted  prometheus.Counter
	SubmissionsSettled  *prometheus.CounterVec
	SubmissionsRejected prometheus.Counter
	SubmissionDuration  prometheus.Histogram
	SubmissionsInFlight prometheus.Gauge
	StaleResponses      prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
	PredictionsServed   *prometheus.CounterVec
	PredictionDuration  prometheus.Histogram
	RecorderFailures    *prometheus.CounterVec
}

// New creates all metrics and registers them on reg. A nil reg registers on
// the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		SubmissionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "risk_submissions_started_total",
			Help: "Total submissions sent to the prediction service",
		}),
		SubmissionsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_submissions_settled_total",
			Help: "Total submissions settled, by outcome",
		}, []string{"outcome"}),
		SubmissionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "risk_submissions_rejected_total",
			Help: "Total submissions rejected because another was in flight",
		}),
		SubmissionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "risk_submission_duration_seconds",
			Help:    "Round-trip duration of prediction submissions",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		SubmissionsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "risk_submissions_in_flight",
			Help: "Submissions currently awaiting a response",
		}),
		StaleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "risk_stale_responses_total",
			Help: "Responses dropped because their submission was superseded",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		PredictionsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "demo_predictions_served_total",
			Help: "Predictions served by the demo predictor, by overall category",
		}, []string{"category"}),
		PredictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "demo_prediction_duration_seconds",
			Help:    "Demo predictor scoring duration",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		}),
		RecorderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "demo_recorder_failures_total",
			Help: "Failed attempts to archive or publish a served prediction",
		}, []string{"recorder"}),
	}

	reg.MustRegister(
		m.SubmissionsStarted,
		m.SubmissionsSettled,
		m.SubmissionsRejected,
		m.SubmissionDuration,
		m.SubmissionsInFlight,
		m.StaleResponses,
		m.CircuitBreakerState,
		m.PredictionsServed,
		m.PredictionDuration,
		m.RecorderFailures,
	)

	return m
}

// Handler returns the Prometheus HTTP handler for g. A nil g serves the
// default registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
