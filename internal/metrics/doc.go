/*
Package metrics exports partition cache, preloader and memory guardian events to Prometheus.

Architecture

	┌─────────────┐
	│  Collector  │  ← implements types.MetricsRecorder
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌──────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         │  /debug/counters│
	│ - Histograms │         │  /debug/status  │
	│ - Gauges     │         └─────────────────┘
	└──────────────┘

# Exported series

All series live under the configured namespace (default "spellcache"):

	cache_requests_total{result,tier}   lookups by hit/miss and partition tier
	cache_evictions_total{tier}         evicted partitions
	cache_partitions                    resident partitions
	cache_max_partitions                current capacity
	preload_loads_total{status}         preloads by success/error
	preload_duration_seconds            latency of successful preloads
	memory_bytes{kind}                  last heap_used/heap_total/external/rss sample
	memory_cleanups_total{level}        cleanup and critical actions
	memory_freed_bytes_total{level}     heap released by those actions

The /metrics endpoint also serves the default registry, which carries the invariant
counters raised by pkg/utils and the Go runtime collectors.

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Namespace: "spellcache",
	})
	if err != nil {
		log.Fatal(err)
	}
	c := cache.NewPartitionCache(&cache.CacheConfig{MaxSize: 10, Metrics: collector})

	collector.RegisterStatus("cache", func() interface{} { return c.GetStats() })
	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

A disabled collector accepts every call and records nothing.
*/
package metrics
