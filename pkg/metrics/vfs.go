package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// VFSMetrics collects metrics about the VFS cache.
//
// Implementations must be safe for concurrent use. Use NewNoopVFSMetrics
// when metrics are disabled.
type VFSMetrics interface {
	// RecordLookup records the outcome of an in-memory child lookup
	// ("found", "adopted", "absent", "unknown").
	RecordLookup(result string)

	// RecordOperation records a handle operation with its duration.
	// err is nil on success.
	RecordOperation(op string, duration time.Duration, err error)

	// RecordRecordsLoaded records n slots initialized from the peer.
	RecordRecordsLoaded(n int)

	// SetSegments records the number of allocated segments.
	SetSegments(n int)

	// RecordInvalidated records n ids marked invalid by a delete.
	RecordInvalidated(n int)

	// RecordReclaimed records n slots turned into dead markers.
	RecordReclaimed(n int)

	// RecordDeadAccess records an access to a dead slot.
	RecordDeadAccess()

	// RecordDuplicateName records a pair of children colliding under the
	// directory comparator.
	RecordDuplicateName()

	// RecordCacheHit and RecordCacheMiss track the named caches
	// ("name", "handle", "user_data", "path").
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
}

type vfsMetrics struct {
	lookups        *prometheus.CounterVec
	operations     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	recordsLoaded  prometheus.Counter
	segments       prometheus.Gauge
	invalidated    prometheus.Counter
	reclaimed      prometheus.Counter
	deadAccesses   prometheus.Counter
	duplicateNames prometheus.Counter
	cacheRequests  *prometheus.CounterVec
}

// NewVFSMetrics creates a Prometheus-backed VFSMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewVFSMetrics() VFSMetrics {
	if !IsEnabled() {
		return NewNoopVFSMetrics()
	}

	reg := GetRegistry()

	return &vfsMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_lookups_total",
				Help: "Total number of in-memory child lookups by result",
			},
			[]string{"result"},
		),
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_operations_total",
				Help: "Total number of handle operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittovfs_operation_duration_seconds",
				Help: "Duration of handle operations in seconds",
				Buckets: []float64{
					0.000001, // 1µs
					0.00001,  // 10µs
					0.0001,   // 100µs
					0.001,    // 1ms
					0.01,     // 10ms
					0.1,      // 100ms
					1,        // 1s
				},
			},
			[]string{"operation"},
		),
		recordsLoaded: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittovfs_records_loaded_total",
				Help: "Total number of slots initialized from the peer",
			},
		),
		segments: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittovfs_segments",
				Help: "Number of allocated record segments",
			},
		),
		invalidated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittovfs_invalidated_total",
				Help: "Total number of ids marked invalid",
			},
		),
		reclaimed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittovfs_reclaimed_total",
				Help: "Total number of slots reclaimed as dead",
			},
		),
		deadAccesses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittovfs_dead_accesses_total",
				Help: "Total number of accesses to dead slots",
			},
		),
		duplicateNames: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittovfs_duplicate_names_total",
				Help: "Total number of colliding child names detected while sorting",
			},
		),
		cacheRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_cache_requests_total",
				Help: "Total number of cache requests by cache and result",
			},
			[]string{"cache", "result"},
		),
	}
}

func (m *vfsMetrics) RecordLookup(result string) {
	m.lookups.WithLabelValues(result).Inc()
}

func (m *vfsMetrics) RecordOperation(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *vfsMetrics) RecordRecordsLoaded(n int) {
	m.recordsLoaded.Add(float64(n))
}

func (m *vfsMetrics) SetSegments(n int) {
	m.segments.Set(float64(n))
}

func (m *vfsMetrics) RecordInvalidated(n int) {
	m.invalidated.Add(float64(n))
}

func (m *vfsMetrics) RecordReclaimed(n int) {
	m.reclaimed.Add(float64(n))
}

func (m *vfsMetrics) RecordDeadAccess() {
	m.deadAccesses.Inc()
}

func (m *vfsMetrics) RecordDuplicateName() {
	m.duplicateNames.Inc()
}

func (m *vfsMetrics) RecordCacheHit(cache string) {
	m.cacheRequests.WithLabelValues(cache, "hit").Inc()
}

func (m *vfsMetrics) RecordCacheMiss(cache string) {
	m.cacheRequests.WithLabelValues(cache, "miss").Inc()
}

// noopVFSMetrics discards everything.
type noopVFSMetrics struct{}

// NewNoopVFSMetrics returns a VFSMetrics that records nothing.
func NewNoopVFSMetrics() VFSMetrics {
	return noopVFSMetrics{}
}

func (noopVFSMetrics) RecordLookup(string)                          {}
func (noopVFSMetrics) RecordOperation(string, time.Duration, error) {}
func (noopVFSMetrics) RecordRecordsLoaded(int)                      {}
func (noopVFSMetrics) SetSegments(int)                              {}
func (noopVFSMetrics) RecordInvalidated(int)                        {}
func (noopVFSMetrics) RecordReclaimed(int)                          {}
func (noopVFSMetrics) RecordDeadAccess()                            {}
func (noopVFSMetrics) RecordDuplicateName()                         {}
func (noopVFSMetrics) RecordCacheHit(string)                        {}
func (noopVFSMetrics) RecordCacheMiss(string)                       {}
