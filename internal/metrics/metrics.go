package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CallsTrackedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outboundiq_calls_tracked_total",
			Help: "Outbound calls handed to the buffer, by capture mechanism and outcome.",
		},
		[]string{"request_type", "outcome"}, // outcome: ok or an error_type
	)

	BufferedCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outboundiq_buffered_calls",
			Help: "Calls currently waiting in the in-process buffer.",
		},
	)

	BatchesFlushedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outboundiq_batches_flushed_total",
			Help: "Batches handed to a transport, by transport and result.",
		},
		[]string{"transport", "status"},
	)

	BatchesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outboundiq_batches_dropped_total",
			Help: "Batches abandoned without delivery, by transport and reason.",
		},
		[]string{"transport", "reason"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outboundiq_deliveries_total",
			Help: "Delivery job attempts processed by the worker, by status.",
		},
		[]string{"status"},
	)

	DeliveryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outboundiq_delivery_latency_seconds",
			Help:    "Collector POST latency by status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outboundiq_retries_total",
			Help: "Delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outboundiq_dlq_total",
			Help: "Delivery jobs dead-lettered after exhausting attempts.",
		},
		[]string{"reason"},
	)

	QueueBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outboundiq_queue_backlog",
			Help: "Delivery jobs waiting in the worker channel.",
		},
	)

	NSQChannelDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outboundiq_nsq_channel_depth",
			Help: "Depth of NSQ channels on the metrics topic.",
		},
		[]string{"topic", "channel"},
	)

	NSQChannelInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outboundiq_nsq_channel_inflight",
			Help: "In-flight messages on NSQ channels of the metrics topic.",
		},
		[]string{"topic", "channel"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		CallsTrackedTotal,
		BufferedCalls,
		BatchesFlushedTotal,
		BatchesDroppedTotal,
		DeliveriesTotal,
		DeliveryLatencySeconds,
		RetriesTotal,
		DLQTotal,
		QueueBacklog,
		NSQChannelDepth,
		NSQChannelInflight,
	}
}

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(collectors()...)
}

// Register is MustRegister for callers that may register more than once
// against the same registry. Collectors already present are skipped; any
// other failure is returned after the remaining collectors are tried.
func Register(reg prometheus.Registerer) error {
	var errs []error
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func RecordCallTracked(requestType, errorType string) {
	outcome := "ok"
	if errorType != "" {
		outcome = errorType
	}
	CallsTrackedTotal.WithLabelValues(requestType, outcome).Inc()
}

func SetBuffered(n int) {
	BufferedCalls.Set(float64(n))
}

func RecordFlush(transport, status string) {
	BatchesFlushedTotal.WithLabelValues(transport, status).Inc()
}

func RecordDrop(transport, reason string) {
	BatchesDroppedTotal.WithLabelValues(transport, reason).Inc()
}

func RecordDelivery(status string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(status).Inc()
	DeliveryLatencySeconds.WithLabelValues(status).Observe(latency.Seconds())
}

func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

func RecordDLQ(reason string) {
	DLQTotal.WithLabelValues(reason).Inc()
}

func UpdateQueueBacklog(depth float64) {
	QueueBacklog.Set(depth)
}

func UpdateNSQChannel(topic, channel string, depth, inflight float64) {
	NSQChannelDepth.WithLabelValues(topic, channel).Set(depth)
	NSQChannelInflight.WithLabelValues(topic, channel).Set(inflight)
}
