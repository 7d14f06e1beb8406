// Package monitoring exposes Prometheus metrics for the scoring service.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the service's Prometheus registry and metric instances.
type Collector struct {
	registry *prometheus.Registry

	assessments  *prometheus.CounterVec
	scoreLatency prometheus.Histogram
	fallbacks    prometheus.Counter
	modelAge     *prometheus.GaugeVec
	trainings    *prometheus.CounterVec
}

// NewCollector registers all service metrics on a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spendscope",
			Name:      "assessments_total",
			Help:      "Completed risk assessments by scoring method and risk level.",
		}, []string{"method", "level"}),
		scoreLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spendscope",
			Name:      "score_duration_seconds",
			Help:      "End-to-end scoring latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spendscope",
			Name:      "fallback_scorings_total",
			Help:      "Assessments served by deterministic rules because models were unavailable.",
		}),
		modelAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "spendscope",
			Name:      "model_age_seconds",
			Help:      "Age of the current model artifact per model family.",
		}, []string{"model_type"}),
		trainings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spendscope",
			Name:      "trainings_total",
			Help:      "Training runs by model family and outcome.",
		}, []string{"model_type", "outcome"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.assessments,
		c.scoreLatency,
		c.fallbacks,
		c.modelAge,
		c.trainings,
	)
	return c
}

// ObserveAssessment records one completed assessment.
func (c *Collector) ObserveAssessment(method, level string, duration time.Duration) {
	c.assessments.WithLabelValues(method, level).Inc()
	c.scoreLatency.Observe(duration.Seconds())
	if method != "model" {
		c.fallbacks.Inc()
	}
}

// SetModelAge publishes the current artifact age for a model family.
func (c *Collector) SetModelAge(modelType string, age time.Duration) {
	c.modelAge.WithLabelValues(modelType).Set(age.Seconds())
}

// ObserveTraining records one training run outcome.
func (c *Collector) ObserveTraining(modelType string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.trainings.WithLabelValues(modelType, outcome).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
