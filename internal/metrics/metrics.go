// Package metrics holds the Prometheus collectors shared by the delivery
// pipeline. Collectors register with the default registry on import; the
// serve command exposes them on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertrelay_deliveries_total",
			Help: "Delivery outcomes by destination (webhook, broadcast) and outcome.",
		},
		[]string{"destination", "outcome"},
	)
	webhookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alertrelay_webhook_send_duration_seconds",
			Help:    "Duration of webhook HTTP requests.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)
	queueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertrelay_queue_enqueued_total",
			Help: "Records written to the failure queue by destination.",
		},
		[]string{"destination"},
	)
	queuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alertrelay_queue_pending",
			Help: "Pending records in the failure queue after the last drain.",
		},
	)
	drainRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertrelay_drain_records_total",
			Help: "Records processed by the drainer by result.",
		},
		[]string{"result"},
	)
	drainRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertrelay_drain_runs_total",
			Help: "Completed drain runs.",
		},
	)
)

// Delivery counts one delivery outcome.
func Delivery(destination, outcome string) {
	deliveriesTotal.WithLabelValues(destination, outcome).Inc()
}

// WebhookSend observes one webhook request. status is "ok" or "error".
func WebhookSend(status string, d time.Duration) {
	webhookDuration.WithLabelValues(status).Observe(d.Seconds())
}

func Enqueued(destination string) {
	queueEnqueued.WithLabelValues(destination).Inc()
}

func QueuePending(n int) {
	queuePending.Set(float64(n))
}

func DrainRecord(result string) {
	drainRecords.WithLabelValues(result).Inc()
}

func DrainRun() {
	drainRuns.Inc()
}
