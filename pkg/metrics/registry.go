// Package metrics exposes the cache's Prometheus collectors and a small
// HTTP server for them.
//
// Collection is opt-in. Until InitRegistry is called every constructor
// returns a no-op collector, so a cache built without metrics pays only for
// an interface call:
//
//	metrics.InitRegistry()
//	v, err := vfs.New(vfs.Options{Peer: peer, Metrics: metrics.NewVFSMetrics()})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is written once by InitRegistry.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry with the Go runtime and
// process collectors already registered. Later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: "dittovfs"}),
		)
		registry = reg
	})
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
