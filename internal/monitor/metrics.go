package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Self-observability for the polling engine.
var (
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "netatlas",
		Subsystem: "monitor",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one full probe cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	probeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netatlas",
		Subsystem: "monitor",
		Name:      "probe_outcomes_total",
		Help:      "Probe outcomes per cycle, by result class.",
	}, []string{"outcome"})

	cyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netatlas",
		Subsystem: "monitor",
		Name:      "cycles_skipped_total",
		Help:      "Ticks skipped because the previous cycle was still running.",
	})
)

// Outcome labels for probeOutcomes.
const (
	outcomeSuccess = "success"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
)
