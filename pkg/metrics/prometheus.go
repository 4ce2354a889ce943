package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	tradesIngested *prometheus.CounterVec
	barsBuilt      *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	analyses       *prometheus.CounterVec
	analysisTime   *prometheus.HistogramVec
	setups         *prometheus.CounterVec
	broadcasts     *prometheus.CounterVec
	receivers      *prometheus.HistogramVec
	streamClients  prometheus.Gauge
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		tradesIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_trades_ingested_total",
				Help: "Total number of trades received from the feed",
			},
			[]string{"symbol"},
		),
		barsBuilt: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_bars_built_total",
				Help: "Total number of minute bars aggregated",
			},
			[]string{"symbol"},
		),
		deliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_deliveries_total",
				Help: "Messages fanned out to local subscribers",
			},
			[]string{"channel"},
		),
		dropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_dropped_total",
				Help: "Messages dropped on backpressure",
			},
			[]string{"channel"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		analyses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_analyses_total",
				Help: "Completed setup analyses by grade",
			},
			[]string{"symbol", "grade"},
		),
		analysisTime: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signaldesk_analysis_duration_seconds",
				Help:    "Duration of a single setup analysis",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol"},
		),
		setups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_setups_total",
				Help: "Setup transitions emitted by state",
			},
			[]string{"state"},
		),
		broadcasts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_broadcasts_total",
				Help: "Broadcast events published to the broker",
			},
			[]string{"event"},
		),
		receivers: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signaldesk_broadcast_receivers",
				Help:    "Subscribers reached per broadcast",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"event"},
		),
		streamClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "signaldesk_stream_clients",
				Help: "Currently connected SSE clients",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signaldesk_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordTradeIngested records one trade received from the feed.
func (r *Recorder) RecordTradeIngested(symbol string) {
	r.tradesIngested.WithLabelValues(symbol).Inc()
}

// RecordBarBuilt records one aggregated bar.
func (r *Recorder) RecordBarBuilt(symbol string) {
	r.barsBuilt.WithLabelValues(symbol).Inc()
}

// RecordDelivery records one message fanned out to subscribers.
func (r *Recorder) RecordDelivery(channel string) {
	r.deliveries.WithLabelValues(channel).Inc()
}

// RecordDropped records a message dropped on backpressure.
func (r *Recorder) RecordDropped(channel string) {
	r.dropped.WithLabelValues(channel).Inc()
}

// RecordAnalysis records a completed analysis with its duration.
func (r *Recorder) RecordAnalysis(symbol, grade string, seconds float64) {
	r.analyses.WithLabelValues(symbol, grade).Inc()
	r.analysisTime.WithLabelValues(symbol).Observe(seconds)
}

// RecordSetup records a setup state transition.
func (r *Recorder) RecordSetup(state string) {
	r.setups.WithLabelValues(state).Inc()
}

// RecordBroadcast records a broadcast and how many subscribers it reached.
func (r *Recorder) RecordBroadcast(event string, receivers int64) {
	r.broadcasts.WithLabelValues(event).Inc()
	r.receivers.WithLabelValues(event).Observe(float64(receivers))
}

// RecordStreamClients moves the connected-clients gauge.
func (r *Recorder) RecordStreamClients(delta int) {
	r.streamClients.Add(float64(delta))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
