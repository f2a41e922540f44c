package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spellcache/spellcache/internal/alphabet"
	"github.com/spellcache/spellcache/pkg/types"
	"github.com/spellcache/spellcache/pkg/utils"
)

// Collector records caching events as Prometheus metrics and serves them over HTTP
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *utils.StructuredLogger

	// Prometheus metrics
	cacheRequests   *prometheus.CounterVec
	cacheEvictions  *prometheus.CounterVec
	cacheSize       prometheus.Gauge
	cacheMaxSize    prometheus.Gauge
	preloadCounter  *prometheus.CounterVec
	preloadDuration prometheus.Histogram
	memoryGauge     *prometheus.GaugeVec
	cleanupCounter  *prometheus.CounterVec
	freedBytes      *prometheus.CounterVec

	// Internal tracking
	counters  Counters
	status    map[string]StatusFunc
	lastReset time.Time

	// HTTP server for metrics endpoint
	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`

	Logger *utils.StructuredLogger `yaml:"-"`
}

// Counters mirrors the Prometheus counters for the debug endpoint
type Counters struct {
	Hits               uint64 `json:"hits"`
	Misses             uint64 `json:"misses"`
	Evictions          uint64 `json:"evictions"`
	Preloads           uint64 `json:"preloads"`
	FailedPreloads     uint64 `json:"failed_preloads"`
	Cleanups           uint64 `json:"cleanups"`
	CriticalCleanups   uint64 `json:"critical_cleanups"`
	CachePartitions    int    `json:"cache_partitions"`
	CacheMaxPartitions int    `json:"cache_max_partitions"`
}

// StatusFunc produces a JSON-encodable snapshot for /debug/status
type StatusFunc func() interface{}

var _ types.MetricsRecorder = (*Collector)(nil)

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      8080,
		Path:      "/metrics",
		Namespace: "spellcache",
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}

	collector := &Collector{
		config:    config,
		logger:    logger.WithComponent("metrics"),
		status:    make(map[string]StatusFunc),
		lastReset: time.Now(),
	}
	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.initMetrics()

	// Register metrics with registry
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry returns the collector's registry, nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RegisterStatus exposes fn under name on /debug/status
func (c *Collector) RegisterStatus(name string, fn StatusFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[name] = fn
}

// Handler returns the HTTP handler serving metrics, health and debug endpoints
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.config.Enabled {
		// the default gatherer carries the invariant counters and Go runtime metrics
		gatherers := prometheus.Gatherers{c.registry, prometheus.DefaultGatherer}
		mux.Handle(c.config.Path, promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/counters", c.debugCountersHandler)
	mux.HandleFunc("/debug/status", c.debugStatusHandler)
	return mux
}

// Start starts the metrics HTTP server
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	// Start server in background
	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error", map[string]interface{}{
				"addr":  c.server.Addr,
				"error": err,
			})
		}
	}()

	c.logger.Info("Metrics server started", map[string]interface{}{
		"addr": c.server.Addr,
		"path": c.config.Path,
	})
	return nil
}

// Stop stops the metrics HTTP server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordCacheHit implements types.MetricsRecorder
func (c *Collector) RecordCacheHit(key types.PartitionKey) {
	if !c.config.Enabled {
		return
	}

	c.cacheRequests.With(prometheus.Labels{
		"result": "hit",
		"tier":   alphabet.TierOf(key).String(),
	}).Inc()

	c.mu.Lock()
	c.counters.Hits++
	c.mu.Unlock()
}

// RecordCacheMiss implements types.MetricsRecorder
func (c *Collector) RecordCacheMiss(key types.PartitionKey) {
	if !c.config.Enabled {
		return
	}

	c.cacheRequests.With(prometheus.Labels{
		"result": "miss",
		"tier":   alphabet.TierOf(key).String(),
	}).Inc()

	c.mu.Lock()
	c.counters.Misses++
	c.mu.Unlock()
}

// RecordEviction implements types.MetricsRecorder
func (c *Collector) RecordEviction(key types.PartitionKey, tier types.PriorityTier) {
	if !c.config.Enabled {
		return
	}

	c.cacheEvictions.With(prometheus.Labels{"tier": tier.String()}).Inc()

	c.mu.Lock()
	c.counters.Evictions++
	c.mu.Unlock()
}

// UpdateCacheSize implements types.MetricsRecorder
func (c *Collector) UpdateCacheSize(size, maxSize int) {
	if !c.config.Enabled {
		return
	}

	c.cacheSize.Set(float64(size))
	c.cacheMaxSize.Set(float64(maxSize))

	c.mu.Lock()
	c.counters.CachePartitions = size
	c.counters.CacheMaxPartitions = maxSize
	c.mu.Unlock()
}

// RecordPreload implements types.MetricsRecorder
func (c *Collector) RecordPreload(key types.PartitionKey, duration time.Duration, success bool) {
	if !c.config.Enabled {
		return
	}

	c.preloadCounter.With(prometheus.Labels{
		"status": map[bool]string{true: "success", false: "error"}[success],
	}).Inc()
	if success {
		c.preloadDuration.Observe(duration.Seconds())
	}

	c.mu.Lock()
	c.counters.Preloads++
	if !success {
		c.counters.FailedPreloads++
	}
	c.mu.Unlock()
}

// RecordMemorySample implements types.MetricsRecorder
func (c *Collector) RecordMemorySample(usage types.MemoryUsage) {
	if !c.config.Enabled {
		return
	}

	c.memoryGauge.With(prometheus.Labels{"kind": "heap_used"}).Set(float64(usage.HeapUsed))
	c.memoryGauge.With(prometheus.Labels{"kind": "heap_total"}).Set(float64(usage.HeapTotal))
	c.memoryGauge.With(prometheus.Labels{"kind": "external"}).Set(float64(usage.External))
	c.memoryGauge.With(prometheus.Labels{"kind": "rss"}).Set(float64(usage.RSS))
}

// RecordCleanup implements types.MetricsRecorder
func (c *Collector) RecordCleanup(level string, freed uint64) {
	if !c.config.Enabled {
		return
	}

	c.cleanupCounter.With(prometheus.Labels{"level": level}).Inc()
	c.freedBytes.With(prometheus.Labels{"level": level}).Add(float64(freed))

	c.mu.Lock()
	if level == "critical" {
		c.counters.CriticalCleanups++
	} else {
		c.counters.Cleanups++
	}
	c.mu.Unlock()
}

// GetCounters returns the internally tracked counters
func (c *Collector) GetCounters() Counters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters
}

// ResetCounters resets the internally tracked counters. Prometheus counters are unaffected.
func (c *Collector) ResetCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters = Counters{}
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	// Cache metrics
	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Total number of partition lookups",
		},
		[]string{"result", "tier"},
	)

	c.cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of evicted partitions",
		},
		[]string{"tier"},
	)

	c.cacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "cache",
			Name:      "partitions",
			Help:      "Number of resident partitions",
		},
	)

	c.cacheMaxSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "cache",
			Name:      "max_partitions",
			Help:      "Current partition capacity",
		},
	)

	// Preload metrics
	c.preloadCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "preload",
			Name:      "loads_total",
			Help:      "Total number of partition preloads",
		},
		[]string{"status"},
	)

	c.preloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "preload",
			Name:      "duration_seconds",
			Help:      "Duration of successful partition preloads in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
	)

	// Memory metrics
	c.memoryGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "memory",
			Name:      "bytes",
			Help:      "Last sampled process memory in bytes",
		},
		[]string{"kind"},
	)

	c.cleanupCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "memory",
			Name:      "cleanups_total",
			Help:      "Total number of threshold-driven cleanups",
		},
		[]string{"level"},
	)

	c.freedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "memory",
			Name:      "freed_bytes_total",
			Help:      "Heap bytes released by cleanups",
		},
		[]string{"level"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.cacheRequests,
		c.cacheEvictions,
		c.cacheSize,
		c.cacheMaxSize,
		c.preloadCounter,
		c.preloadDuration,
		c.memoryGauge,
		c.cleanupCounter,
		c.freedBytes,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"spellcache"}`)) // Ignore write error for health check
}

func (c *Collector) debugCountersHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	body := map[string]interface{}{
		"counters":   c.counters,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset).String(),
	}
	c.mu.RUnlock()

	writeJSON(w, body)
}

func (c *Collector) debugStatusHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	funcs := make(map[string]StatusFunc, len(c.status))
	for name, fn := range c.status {
		funcs[name] = fn
	}
	c.mu.RUnlock()

	body := make(map[string]interface{}, len(funcs))
	for name, fn := range funcs {
		body[name] = fn()
	}
	writeJSON(w, body)
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(body)
}
