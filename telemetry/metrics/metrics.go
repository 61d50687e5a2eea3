// Package metrics defines prometheus metric types for the benchmarking
// harness, used by the packages that drive the dispatch hot path.
//
// When defining new operations or metrics, these are helpful values to
// track:
//   - things coming into or going out of the system: windows dispatched,
//     chunks reassembled, adapters spawned.
//   - the success or error status of any of the above.
//   - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchLatencyHistogram tracks end-to-end window dispatch latency
	// (start_ts to end_ts) as observed by the scheduler, per plugin.
	DispatchLatencyHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "cortex_dispatch_latency_seconds",
			Help: "window dispatch latency distribution, start_ts to end_ts",
			Buckets: []float64{
				0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
				0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
			},
		},
		[]string{"plugin"})

	// ChunkReassemblyHistogram tracks the wall time spent reassembling a
	// chunked WINDOW_CHUNK or RESULT transfer.
	ChunkReassemblyHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortex_chunk_reassembly_seconds",
			Help:    "time spent reassembling a chunked transfer",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
		},
	)

	// CRCFailureCount counts frames rejected for a CRC-32 mismatch.
	CRCFailureCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_crc_failure_total",
			Help: "number of frames rejected for CRC-32 mismatch.",
		},
	)

	// DeadlineMissCount counts windows whose end_ts exceeded deadline_ts,
	// per plugin.
	DeadlineMissCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_deadline_miss_total",
			Help: "number of dispatched windows that missed their deadline.",
		}, []string{"plugin"})

	// ErrorCount measures the number of errors encountered, by kind (the
	// taxonomy names: TIMEOUT, CONN_RESET, CRC_MISMATCH, ...).
	//
	// Example usage:
	//    metrics.ErrorCount.With(prometheus.Labels{"kind": "TIMEOUT"}).Inc()
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_error_total",
			Help: "The total number of errors encountered, by kind.",
		}, []string{"kind"})

	// WindowCount counts windows dispatched, including failed ones, per plugin.
	WindowCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_window_total",
			Help: "Number of windows dispatched.",
		}, []string{"plugin"})
)

func init() {
	log.Println("prometheus metrics in cortex.telemetry/metrics are registered.")
}
