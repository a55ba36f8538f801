// Package metrics exposes the cache's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tier label values.
const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// Store outcome label values.
const (
	StoreOK             = "ok"
	StoreDegradedMemory = "degraded_memory_only"
	StoreDegradedDisk   = "degraded_disk_only"
	StoreFailed         = "failed"
)

// Load result label values.
const (
	LoadMemoryHit = "memory_hit"
	LoadDiskHit   = "disk_hit"
	LoadMiss      = "miss"
)

// Recorder collects cache metrics on its own registry. A nil Recorder
// is valid and records nothing, so the cache can run unmetered.
type Recorder struct {
	registry *prometheus.Registry

	storeOps  *prometheus.CounterVec
	loadOps   *prometheus.CounterVec
	evictions prometheus.Counter
	sweeps    *prometheus.CounterVec
	usedBytes *prometheus.GaugeVec
	sessions  *prometheus.GaugeVec
}

// NewRecorder creates a recorder under the given metric namespace.
func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = "dscache"
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Store operations by outcome.",
		}, []string{"outcome"}),
		loadOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_operations_total",
			Help:      "Load operations by result.",
		}, []string{"result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_evictions_total",
			Help:      "Whole sessions evicted from the memory tier under pressure.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_expirations_total",
			Help:      "Sessions expired by the background sweep, per tier.",
		}, []string{"tier"}),
		usedBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "used_bytes",
			Help:      "Bytes resident per tier.",
		}, []string{"tier"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Sessions resident per tier.",
		}, []string{"tier"}),
	}

	r.registry.MustRegister(r.storeOps, r.loadOps, r.evictions, r.sweeps, r.usedBytes, r.sessions)
	return r
}

// Handler returns the HTTP handler serving the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordStore counts a store operation by outcome.
func (r *Recorder) RecordStore(outcome string) {
	if r == nil {
		return
	}
	r.storeOps.WithLabelValues(outcome).Inc()
}

// RecordLoad counts a load operation by result.
func (r *Recorder) RecordLoad(result string) {
	if r == nil {
		return
	}
	r.loadOps.WithLabelValues(result).Inc()
}

// RecordEvictions counts sessions evicted under memory pressure.
func (r *Recorder) RecordEvictions(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.evictions.Add(float64(n))
}

// RecordSweep counts sessions expired by a sweep pass on one tier.
func (r *Recorder) RecordSweep(tier string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.sweeps.WithLabelValues(tier).Add(float64(n))
}

// SetUsage publishes a tier's occupancy gauges.
func (r *Recorder) SetUsage(tier string, usedBytes int64, sessions int) {
	if r == nil {
		return
	}
	r.usedBytes.WithLabelValues(tier).Set(float64(usedBytes))
	r.sessions.WithLabelValues(tier).Set(float64(sessions))
}
