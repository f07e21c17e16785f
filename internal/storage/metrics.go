package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	kvErr "github.com/sajjad-MoBe/kvs/internal/errors"
)

// Metrics holds the Prometheus metrics of one engine
type Metrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	errors     *prometheus.CounterVec

	keys          prometheus.Gauge
	segments      prometheus.Gauge
	diskBytes     prometheus.Gauge
	staleBytes    prometheus.Gauge
	compactions   prometheus.Counter
	reclaimed     prometheus.Counter
	compactionDur prometheus.Histogram
}

// NewMetrics creates the engine metrics and registers them with reg.
// A nil registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvs_operations_total",
				Help: "Total number of engine operations",
			},
			[]string{"operation", "result"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kvs_operation_duration_seconds",
				Help:    "Duration of engine operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvs_errors_total",
				Help: "Total number of engine errors",
			},
			[]string{"operation", "error_type"},
		),
		keys: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kvs_keys",
				Help: "Number of live keys in the index",
			},
		),
		segments: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kvs_segments",
				Help: "Number of segment files on disk",
			},
		),
		diskBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kvs_disk_bytes",
				Help: "Total size of all segment files in bytes",
			},
		),
		staleBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kvs_stale_bytes",
				Help: "Log bytes no longer reachable from the index",
			},
		),
		compactions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kvs_compactions_total",
				Help: "Total number of completed compactions",
			},
		),
		reclaimed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kvs_compaction_reclaimed_bytes_total",
				Help: "Disk bytes freed by compaction",
			},
		),
		compactionDur: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kvs_compaction_duration_seconds",
				Help:    "Duration of compactions in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// recordOperation records the outcome of a single engine operation
func (m *Metrics) recordOperation(operation, result string, duration time.Duration, err error) {
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
	// an absent key is an expected outcome and keeps the caller's result label
	if err != nil && !kvErr.IsKeyNotFound(err) {
		errType := string(kvErr.TypeOf(err))
		if errType == "" {
			errType = "UNKNOWN"
		}
		m.errors.WithLabelValues(operation, errType).Inc()
		result = "error"
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) recordCompaction(duration time.Duration, reclaimed int64) {
	m.compactions.Inc()
	m.compactionDur.Observe(duration.Seconds())
	if reclaimed > 0 {
		m.reclaimed.Add(float64(reclaimed))
	}
}

// updateStorage refreshes the storage gauges
func (m *Metrics) updateStorage(keys, segments int, diskBytes, staleBytes int64) {
	m.keys.Set(float64(keys))
	m.segments.Set(float64(segments))
	m.diskBytes.Set(float64(diskBytes))
	m.staleBytes.Set(float64(staleBytes))
}
