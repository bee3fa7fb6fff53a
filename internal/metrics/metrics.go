// Package metrics registers the Prometheus series the pipeline emits,
// using promauto so every metric self-registers against the default
// registry at construction.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every series the pipeline emits.
type Metrics struct {
	EventsPublishedTotal *prometheus.CounterVec
	EventsProjectedTotal *prometheus.CounterVec
	TailerLagBlocks      *prometheus.GaugeVec
	SubscriberBacklog    prometheus.Gauge
	ProjectionLatencyMs  prometheus.Histogram
	DeadLettersTotal     prometheus.Counter
}

// New registers and returns the metric set. Call once per process.
func New() *Metrics {
	return &Metrics{
		EventsPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Domain events published to the bus by the Relayer.",
			},
			[]string{"event_type"},
		),
		EventsProjectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_projected_total",
				Help: "Domain events processed by the Projection Engine.",
			},
			[]string{"event_type", "outcome"},
		),
		TailerLagBlocks: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tailer_lag_blocks",
				Help: "Blocks between chain head and the last checkpointed block.",
			},
			[]string{"chain_id"},
		),
		SubscriberBacklog: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "subscriber_backlog_messages",
				Help: "Messages received by this process and not yet acked or nacked.",
			},
		),
		ProjectionLatencyMs: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "projection_latency_ms",
				Help:    "Duration of the projection Apply() call.",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
			},
		),
		DeadLettersTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dead_letters_total",
				Help: "Messages that exhausted MaxDeliveryAttempts and were dead-lettered.",
			},
		),
	}
}

// RecordLag sets tailer_lag_blocks for chainID. Implements chain.LagRecorder.
func (m *Metrics) RecordLag(chainID int64, lagBlocks int64) {
	if lagBlocks < 0 {
		lagBlocks = 0
	}
	m.TailerLagBlocks.WithLabelValues(strconv.FormatInt(chainID, 10)).Set(float64(lagBlocks))
}

// RecordPublished increments events_published_total for eventType.
func (m *Metrics) RecordPublished(eventType string) {
	m.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// ObserveProjectionLatency records how long one Apply() call took.
func (m *Metrics) ObserveProjectionLatency(d time.Duration) {
	m.ProjectionLatencyMs.Observe(float64(d.Milliseconds()))
}

// SetSubscriberBacklog reports messages currently checked out from the bus
// subscription and not yet acked or nacked.
func (m *Metrics) SetSubscriberBacklog(n int) {
	m.SubscriberBacklog.Set(float64(n))
}

// RecordDeadLetter increments dead_letters_total.
func (m *Metrics) RecordDeadLetter() {
	m.DeadLettersTotal.Inc()
}
