package storage

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "tansu_storage"

var (
	recordsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_appended_total",
			Help:      "Total records appended per topic/partition.",
		},
		[]string{"topic", "partition"},
	)
	headersAttached = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "headers_attached_total",
			Help:      "Total header rows attached per topic/partition.",
		},
		[]string{"topic", "partition"},
	)
	recordsTruncated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_truncated_total",
			Help:      "Total records deleted by retention per topic/partition.",
		},
		[]string{"topic", "partition"},
	)
	operationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_latency_seconds",
			Help:      "Engine operation latency by operation.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	operationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operation_errors_total",
			Help:      "Engine operation failures by operation and error kind.",
		},
		[]string{"op", "kind"},
	)
	lowWatermark = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "low_watermark",
			Help:      "Low watermark per topic/partition.",
		},
		[]string{"topic", "partition"},
	)
	highWatermark = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "high_watermark",
			Help:      "High watermark per topic/partition.",
		},
		[]string{"topic", "partition"},
	)
	healthState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "engine_health_state",
			Help:      "Engine health: 0 healthy, 1 degraded, 2 unavailable.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		recordsAppended,
		headersAttached,
		recordsTruncated,
		operationLatency,
		operationErrors,
		lowWatermark,
		highWatermark,
		healthState,
	)
}
