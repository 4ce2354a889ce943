package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce    sync.Once
	publishTotal   *prometheus.CounterVec
	publishBytes   *prometheus.CounterVec
	publishSeconds *prometheus.HistogramVec
	queueDepth     *prometheus.GaugeVec
	handleSeconds  *prometheus.HistogramVec
	handleRetries  *prometheus.CounterVec
	deadLetters    *prometheus.CounterVec
)

// registerMetrics registers on the default registry. Both constructors call
// it, so a process with only a producer still registers cleanly.
func registerMetrics() {
	metricsOnce.Do(func() {
		publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signaldesk_kafka_publish_total",
			Help: "Messages published, by topic and result.",
		}, []string{"topic", "result"})
		publishBytes = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signaldesk_kafka_publish_bytes_total",
			Help: "Payload bytes published.",
		}, []string{"topic"})
		publishSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signaldesk_kafka_publish_seconds",
			Help:    "Publish round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signaldesk_kafka_consume_queue_depth",
			Help: "Fetched messages waiting for a worker.",
		}, []string{"topic"})
		handleSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signaldesk_kafka_handle_seconds",
			Help:    "Handler time per message including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		handleRetries = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signaldesk_kafka_handle_retries_total",
			Help: "Handler retry attempts.",
		}, []string{"topic"})
		deadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signaldesk_kafka_dead_letters_total",
			Help: "Messages shipped to the dead-letter topic.",
		}, []string{"topic"})
	})
}

func observePublish(topic string, bytes int, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	publishTotal.WithLabelValues(topic, result).Inc()
	publishBytes.WithLabelValues(topic).Add(float64(bytes))
	publishSeconds.WithLabelValues(topic).Observe(dur.Seconds())
}
