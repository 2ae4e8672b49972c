package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Transport metrics
	publishTotal     *prometheus.CounterVec
	publishDuration  *prometheus.HistogramVec
	publishBatchSize *prometheus.HistogramVec

	// Publisher metrics
	messagesAccepted *prometheus.CounterVec
	messagesRejected *prometheus.CounterVec
	callbacksTotal   *prometheus.CounterVec
	keysCanceled     *prometheus.CounterVec
	keysResumed      *prometheus.CounterVec
	activeBatches    *prometheus.GaugeVec

	// Flow control metrics
	flowOutstandingMessages *prometheus.GaugeVec
	flowOutstandingBytes    *prometheus.GaugeVec

	// Controller/Database metrics
	databaseOperationTotal    *prometheus.CounterVec
	databaseOperationDuration *prometheus.HistogramVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_transport_publish_total",
				Help: "Total number of publish requests sent to the transport",
			},
			[]string{"topic", "ordered", "status"}, // status: success, error
		),

		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_transport_publish_duration_seconds",
				Help:    "Time spent in transport publish requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic", "ordered"},
		),

		publishBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_transport_batch_size",
				Help:    "Number of messages in successful publish requests",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"topic", "ordered"},
		),

		messagesAccepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_publisher_messages_accepted_total",
				Help: "Total number of messages accepted for asynchronous publish",
			},
			[]string{"topic", "result"}, // result: added, queued, full
		),

		messagesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_publisher_messages_rejected_total",
				Help: "Total number of messages rejected when published",
			},
			[]string{"topic", "reason"}, // reason: stopped, ordering_key, ordering_disabled, flow_control
		),

		callbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_publisher_callbacks_total",
				Help: "Total number of publish results delivered to callbacks",
			},
			[]string{"topic", "status"}, // status: success, error
		),

		keysCanceled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_publisher_ordering_keys_canceled_total",
				Help: "Total number of ordering keys canceled after a failed publish",
			},
			[]string{"topic"},
		),

		keysResumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_publisher_ordering_keys_resumed_total",
				Help: "Total number of canceled ordering keys resumed",
			},
			[]string{"topic"},
		),

		activeBatches: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pub_publisher_active_batches",
				Help: "Number of ordering key batches held by the publisher",
			},
			[]string{"topic"},
		),

		flowOutstandingMessages: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pub_flow_control_outstanding_messages",
				Help: "Messages held by publisher flow control",
			},
			[]string{"topic"},
		),

		flowOutstandingBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pub_flow_control_outstanding_bytes",
				Help: "Bytes held by publisher flow control",
			},
			[]string{"topic"},
		),

		databaseOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_database_operation_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"}, // operation: get_offset, commit_offset, insert_message, load_messages
		),

		databaseOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_database_operation_duration_seconds",
				Help:    "Time spent on database operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pub_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pub_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.publishTotal,
		r.publishDuration,
		r.publishBatchSize,
		r.messagesAccepted,
		r.messagesRejected,
		r.callbacksTotal,
		r.keysCanceled,
		r.keysResumed,
		r.activeBatches,
		r.flowOutstandingMessages,
		r.flowOutstandingBytes,
		r.databaseOperationTotal,
		r.databaseOperationDuration,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ordered keeps ordering keys out of label values.
func ordered(orderingKey string) string {
	if orderingKey == "" {
		return "false"
	}
	return "true"
}

// RecordTransportPublish records a transport publish request
func (r *Registry) RecordTransportPublish(topic, orderingKey string, batchSize int, duration time.Duration, err error) {
	o := ordered(orderingKey)

	r.publishTotal.WithLabelValues(topic, o, status(err)).Inc()
	r.publishDuration.WithLabelValues(topic, o).Observe(duration.Seconds())
	if err == nil {
		r.publishBatchSize.WithLabelValues(topic, o).Observe(float64(batchSize))
	}
}

// RecordAccepted records a message accepted by a batch
func (r *Registry) RecordAccepted(topic, result string) {
	r.messagesAccepted.WithLabelValues(topic, result).Inc()
}

// RecordRejected records a message rejected at publish time
func (r *Registry) RecordRejected(topic, reason string) {
	r.messagesRejected.WithLabelValues(topic, reason).Inc()
}

// RecordCallback records a result delivered to a callback
func (r *Registry) RecordCallback(topic string, err error) {
	r.callbacksTotal.WithLabelValues(topic, status(err)).Inc()
}

// RecordKeyCanceled records an ordering key being canceled
func (r *Registry) RecordKeyCanceled(topic string) {
	r.keysCanceled.WithLabelValues(topic).Inc()
}

// RecordKeyResumed records an ordering key being resumed
func (r *Registry) RecordKeyResumed(topic string) {
	r.keysResumed.WithLabelValues(topic).Inc()
}

// UpdateActiveBatches updates the number of batches held by a publisher
func (r *Registry) UpdateActiveBatches(topic string, count int) {
	r.activeBatches.WithLabelValues(topic).Set(float64(count))
}

// UpdateFlowControl updates the outstanding flow control gauges
func (r *Registry) UpdateFlowControl(topic string, messages, bytes int64) {
	r.flowOutstandingMessages.WithLabelValues(topic).Set(float64(messages))
	r.flowOutstandingBytes.WithLabelValues(topic).Set(float64(bytes))
}

// RecordDatabaseOperation records a database operation
func (r *Registry) RecordDatabaseOperation(operation string, duration time.Duration, err error) {
	r.databaseOperationTotal.WithLabelValues(operation, status(err)).Inc()
	r.databaseOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}
