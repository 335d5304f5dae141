// Package metrics declares the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bulkingest"

const (
	MetricUploads          = "uploads_total"
	MetricRowsSeen         = "rows_seen_total"
	MetricRowsFailed       = "rows_failed_total"
	MetricRecordsPersisted = "records_persisted_total"
	MetricBatchesFlushed   = "batches_flushed_total"
	MetricBatchFlush       = "batch_flush_duration_seconds"
	MetricRateLimit        = "ratelimit_decisions_total"
)

// Upload outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Rate limiter results.
const (
	RateLimitAllowed  = "allowed"
	RateLimitRejected = "rejected"
	RateLimitError    = "error"
)

var CounterUploads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricUploads,
		Help:      "Uploads handled, by outcome.",
	},
	[]string{"outcome"},
)

var CounterRowsSeen = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricRowsSeen,
		Help:      "CSV data rows read.",
	},
)

var CounterRowsFailed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricRowsFailed,
		Help:      "CSV data rows that could not be turned into records.",
	},
)

var CounterRecordsPersisted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricRecordsPersisted,
		Help:      "Records written to the store.",
	},
)

var CounterBatchesFlushed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricBatchesFlushed,
		Help:      "Non-empty batches flushed to the store.",
	},
)

var HistogramBatchFlush = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      MetricBatchFlush,
		Help:      "Time spent persisting one batch.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	},
)

var CounterRateLimit = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricRateLimit,
		Help:      "Rate limiter decisions, by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(CounterUploads)
	prometheus.MustRegister(CounterRowsSeen)
	prometheus.MustRegister(CounterRowsFailed)
	prometheus.MustRegister(CounterRecordsPersisted)
	prometheus.MustRegister(CounterBatchesFlushed)
	prometheus.MustRegister(HistogramBatchFlush)
	prometheus.MustRegister(CounterRateLimit)
}
