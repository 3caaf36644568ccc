package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "absensi",
		Name:      "store_commits_total",
		Help:      "Record store commits by operation and outcome.",
	}, []string{"op", "outcome"})

	LoadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "absensi",
		Name:      "store_load_failures_total",
		Help:      "Loads that fell back to an empty collection.",
	})

	ExternalReloads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "absensi",
		Name:      "store_external_reloads_total",
		Help:      "Reloads triggered by another execution context.",
	})

	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "absensi",
		Name:      "submission_validation_failures_total",
		Help:      "Rejected submissions by field and rule.",
	}, []string{"field", "rule"})

	Imports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "absensi",
		Name:      "imports_total",
		Help:      "Import attempts by format and outcome.",
	}, []string{"format", "outcome"})

	Exports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "absensi",
		Name:      "exports_total",
		Help:      "Generated export artifacts by format.",
	}, []string{"format"})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "absensi",
		Name:      "ws_clients",
		Help:      "Connected change-stream clients.",
	})
)
