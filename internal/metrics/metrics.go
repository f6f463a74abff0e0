// Package metrics holds the Prometheus instruments exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txguard",
		Name:      "batches_total",
		Help:      "Batches evaluated, labelled by ingest source and result.",
	}, []string{"source", "result"})

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txguard",
		Name:      "decisions_total",
		Help:      "Transactions classified, labelled by status.",
	}, []string{"status"})

	RowsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txguard",
		Name:      "rows_rejected_total",
		Help:      "Input rows that failed validation, labelled by ingest source.",
	}, []string{"source"})

	SimulationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txguard",
		Name:      "simulations_total",
		Help:      "Single-transaction simulations, labelled by status or error.",
	}, []string{"status"})

	BatchRows = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "txguard",
		Name:      "batch_rows",
		Help:      "Rows per evaluated batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "txguard",
		Name:      "batch_duration_seconds",
		Help:      "Wall time to evaluate one batch.",
		Buckets:   prometheus.DefBuckets,
	})

	AuditLogEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "txguard",
		Name:      "audit_log_entries",
		Help:      "Entries in the session audit log.",
	})

	ReportSaveErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "txguard",
		Name:      "report_save_errors_total",
		Help:      "Failed writes to the report archive.",
	})
)
