// Package metrics holds the Prometheus collectors of the dispatch engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecipientsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_recipients_total",
		Help: "Recipients that reached a terminal state during dispatch, by outcome.",
	}, []string{"outcome"})

	TransmissionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_transmission_attempts_total",
		Help: "Transmission attempts by result kind.",
	}, []string{"result"})

	QuotaDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_quota_denials_total",
		Help: "Quota reservations denied because the daily limit was reached.",
	})

	CampaignTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_transitions_total",
		Help: "Campaign status transitions by target status.",
	}, []string{"to"})

	TransmissionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_transmission_seconds",
		Help:    "Latency of a single transmission call.",
		Buckets: prometheus.DefBuckets,
	})
)

// Recorder is the dispatch engine's view of its metrics.
type Recorder interface {
	RecipientDone(outcome string)
	TransmissionAttempt(result string, elapsed time.Duration)
	QuotaDenied()
	CampaignTransition(to string)
}

// PrometheusMetrics records into the package collectors.
type PrometheusMetrics struct{}

func (PrometheusMetrics) RecipientDone(outcome string) {
	RecipientsProcessed.WithLabelValues(outcome).Inc()
}

func (PrometheusMetrics) TransmissionAttempt(result string, elapsed time.Duration) {
	TransmissionAttempts.WithLabelValues(result).Inc()
	TransmissionLatency.Observe(elapsed.Seconds())
}

func (PrometheusMetrics) QuotaDenied() { QuotaDenials.Inc() }

func (PrometheusMetrics) CampaignTransition(to string) {
	CampaignTransitions.WithLabelValues(to).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecipientDone(string)                      {}
func (Nop) TransmissionAttempt(string, time.Duration) {}
func (Nop) QuotaDenied()                              {}
func (Nop) CampaignTransition(string)                 {}
