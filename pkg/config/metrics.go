package config

import (
	"github.com/marmos91/dittovfs/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// VFSMetrics is the collector handed to the cache (never nil, uses noop if disabled)
	VFSMetrics metrics.VFSMetrics
}

// InitializeMetrics creates the metrics components described by cfg.
//
// If metrics are enabled the global Prometheus registry is initialized and
// a server exposing it (and stats, when given) is created. Otherwise the
// server is nil and the collector is a no-op.
func InitializeMetrics(cfg *Config, stats metrics.StatsFunc) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{VFSMetrics: metrics.NewNoopVFSMetrics()}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Port:  cfg.Metrics.Port,
			Stats: stats,
		}),
		VFSMetrics: metrics.NewVFSMetrics(),
	}
}
