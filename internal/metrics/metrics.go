// Package metrics exposes provider and bot response statistics to
// Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Collector struct {
	callsTotal       *prometheus.CounterVec
	callsFailedTotal *prometheus.CounterVec
	firstMeaningful  *prometheus.HistogramVec

	responseSuccess prometheus.Counter
	responseFailure *prometheus.CounterVec
	fullResponse    prometheus.Histogram
}

// New creates the collectors and registers them with reg, if non-nil.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ai_provider_calls_total",
			Help: "Total number of AI provider API calls.",
		}, []string{"provider", "model"}),
		callsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ai_provider_calls_failed_total",
			Help: "Total number of failed AI provider API calls.",
		}, []string{"provider", "error_kind"}),
		firstMeaningful: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ai_first_meaningful_latency_seconds",
			Help:    "Latency from AI request to the first few characters of output.",
			Buckets: []float64{0.1, 0.3, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
		}, []string{"provider", "model"}),
		responseSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_response_success_total",
			Help: "Total number of successful bot responses.",
		}),
		responseFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_response_failure_total",
			Help: "Total number of failed bot responses.",
		}, []string{"error_type"}),
		fullResponse: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_full_response_latency_seconds",
			Help:    "Latency from user message to full response rendered.",
			Buckets: []float64{0.5, 1.0, 2.0, 3.0, 5.0, 8.0, 10.0, 20.0},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			c.callsTotal,
			c.callsFailedTotal,
			c.firstMeaningful,
			c.responseSuccess,
			c.responseFailure,
			c.fullResponse,
		)
	}
	return c
}

func (c *Collector) CallIssued(provider, model string) {
	c.callsTotal.WithLabelValues(provider, model).Inc()
}

func (c *Collector) CallFailed(provider, kind string) {
	c.callsFailedTotal.WithLabelValues(provider, kind).Inc()
}

func (c *Collector) FirstMeaningful(provider, model string, latency time.Duration) {
	c.firstMeaningful.WithLabelValues(provider, model).Observe(latency.Seconds())
}

func (c *Collector) ResponseSucceeded(total time.Duration) {
	c.responseSuccess.Inc()
	c.fullResponse.Observe(total.Seconds())
}

func (c *Collector) ResponseFailed(errorType string) {
	c.responseFailure.WithLabelValues(errorType).Inc()
}
