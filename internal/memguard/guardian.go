// Package memguard watches process memory and shrinks the partition cache when heap usage
// crosses configured thresholds.
package memguard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spellcache/spellcache/internal/alphabet"
	"github.com/spellcache/spellcache/pkg/errors"
	"github.com/spellcache/spellcache/pkg/types"
	"github.com/spellcache/spellcache/pkg/utils"
)

const mb = 1024 * 1024

// Level is the highest threshold crossed by a memory sample
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCleanup
	LevelCritical
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCleanup:
		return "cleanup"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Config configures the guardian
type Config struct {
	// Interval is how often memory is checked while monitoring
	Interval time.Duration

	Thresholds types.MemoryThresholds

	// ShrinkFactor is the fraction of capacity removed by a standard cleanup
	ShrinkFactor float64

	// MinCacheSize is the capacity floor for a standard cleanup
	MinCacheSize int

	// CriticalCacheSize is the capacity forced by a critical cleanup
	CriticalCacheSize int

	// CriticalReclaimPasses is how many reclamation hints a critical cleanup issues
	CriticalReclaimPasses int

	// CriticalEvictions are deleted outright by a critical cleanup
	CriticalEvictions []types.PartitionKey

	// PreserveErrors runs before any cleanup so the engine can snapshot results that depend on
	// partitions about to be evicted
	PreserveErrors func()

	Reporter  types.MemoryReporter
	Reclaimer types.Reclaimer
	Metrics   types.MetricsRecorder
	Logger    *utils.StructuredLogger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 2 * time.Minute,
		Thresholds: types.MemoryThresholds{
			Warning:  300 * mb,
			Cleanup:  400 * mb,
			Critical: 500 * mb,
		},
		ShrinkFactor:          0.25,
		MinCacheSize:          4,
		CriticalCacheSize:     3,
		CriticalReclaimPasses: 3,
		CriticalEvictions:     alphabet.LowPriority(),
	}
}

// CheckResult describes one check cycle
type CheckResult struct {
	Level      Level             `json:"level"`
	Usage      types.MemoryUsage `json:"usage"`
	FreedBytes uint64            `json:"freed_bytes"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// MemoryStats is a snapshot of memory and cache state
type MemoryStats struct {
	Usage         types.MemoryUsage      `json:"usage"`
	UsagePercent  float64                `json:"usage_percent"`
	Thresholds    types.MemoryThresholds `json:"thresholds"`
	CacheSize     int                    `json:"cache_size"`
	CacheMaxSize  int                    `json:"cache_max_size"`
	CacheMemoryMB float64                `json:"cache_memory_mb"`
	Warnings      int64                  `json:"warnings"`
	Cleanups      int64                  `json:"cleanups"`
	Criticals     int64                  `json:"criticals"`
	LastCheck     CheckResult            `json:"last_check"`
}

// Status reports whether the guardian is monitoring
type Status struct {
	Monitoring bool                   `json:"monitoring"`
	Interval   time.Duration          `json:"interval"`
	Thresholds types.MemoryThresholds `json:"thresholds"`
	LastCheck  time.Time              `json:"last_check"`
}

// Guardian enforces memory thresholds against a partition cache
type Guardian struct {
	config Config
	cache  types.PartitionCache
	logger *utils.StructuredLogger

	checkMu sync.Mutex // serializes check cycles

	mu         sync.RWMutex
	thresholds types.MemoryThresholds
	lastCheck  CheckResult
	warnings   int64
	cleanups   int64
	criticals  int64

	runMu  sync.Mutex // owns stopCh and orders wg.Add against wg.Wait
	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// NewGuardian creates a guardian over cache. Zero config fields take their defaults.
func NewGuardian(cache types.PartitionCache, config Config) (*Guardian, error) {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Thresholds == (types.MemoryThresholds{}) {
		config.Thresholds = defaults.Thresholds
	}
	if config.ShrinkFactor <= 0 || config.ShrinkFactor >= 1 {
		config.ShrinkFactor = defaults.ShrinkFactor
	}
	if config.MinCacheSize <= 0 {
		config.MinCacheSize = defaults.MinCacheSize
	}
	if config.CriticalCacheSize <= 0 {
		config.CriticalCacheSize = defaults.CriticalCacheSize
	}
	if config.CriticalReclaimPasses <= 0 {
		config.CriticalReclaimPasses = defaults.CriticalReclaimPasses
	}
	if config.CriticalEvictions == nil {
		config.CriticalEvictions = defaults.CriticalEvictions
	}
	if config.Reporter == nil {
		config.Reporter = RuntimeReporter{}
	}
	if config.Reclaimer == nil {
		config.Reclaimer = RuntimeReclaimer{}
	}
	if config.Metrics == nil {
		config.Metrics = types.NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = utils.NewStructuredLogger(nil)
	}

	if !config.Thresholds.Ascending() {
		return nil, invalidThresholds(config.Thresholds).WithOperation("new")
	}

	return &Guardian{
		config:     config,
		cache:      cache,
		logger:     config.Logger.WithComponent("memguard"),
		thresholds: config.Thresholds,
	}, nil
}

// StartMonitoring begins periodic checks. Starting a running guardian is a logged no-op.
func (g *Guardian) StartMonitoring(ctx context.Context) error {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	if atomic.LoadInt32(&g.active) == 1 {
		g.logger.Info("Memory monitoring already running", nil)
		return nil
	}

	g.logger.Info("Starting memory monitoring", map[string]interface{}{
		"interval":   g.config.Interval.String(),
		"thresholds": g.formatThresholds(g.currentThresholds()),
	})

	stopCh := make(chan struct{})
	g.stopCh = stopCh
	g.wg.Add(1)
	atomic.StoreInt32(&g.active, 1)
	go g.monitorLoop(ctx, stopCh)

	return nil
}

// StopMonitoring stops periodic checks. Loads already in flight elsewhere are not affected.
func (g *Guardian) StopMonitoring() {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	if !atomic.CompareAndSwapInt32(&g.active, 1, 0) {
		return
	}

	g.logger.Info("Stopping memory monitoring", nil)
	close(g.stopCh)
	g.stopCh = nil
	g.wg.Wait()
}

// IsMonitoring reports whether the periodic check is running
func (g *Guardian) IsMonitoring() bool {
	return atomic.LoadInt32(&g.active) == 1
}

func (g *Guardian) monitorLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&g.active, 0)
			return
		case <-stopCh:
			return
		case <-ticker.C:
			g.checkMemoryUsage()
		}
	}
}

// ForceCheck runs one check cycle immediately
func (g *Guardian) ForceCheck() CheckResult {
	return g.checkMemoryUsage()
}

// checkMemoryUsage samples memory and runs the action of the highest crossed threshold
func (g *Guardian) checkMemoryUsage() CheckResult {
	g.checkMu.Lock()
	defer g.checkMu.Unlock()

	usage := g.config.Reporter.ReadMemory()
	g.config.Metrics.RecordMemorySample(usage)

	thresholds := g.currentThresholds()
	result := CheckResult{
		Level:     classify(usage.HeapUsed, thresholds),
		Usage:     usage,
		CheckedAt: time.Now(),
	}

	fields := map[string]interface{}{
		"heap_used":     utils.FormatBytes(usage.HeapUsed),
		"heap_total":    utils.FormatBytes(usage.HeapTotal),
		"usage_percent": usage.UsagePercent(),
	}

	switch result.Level {
	case LevelWarning:
		fields["threshold"] = utils.FormatBytes(thresholds.Warning)
		g.logger.Warn("Memory usage above warning threshold", fields)
	case LevelCleanup:
		g.preserve()
		g.performCleanup()
		result.FreedBytes = g.freedSince(usage)
		fields["threshold"] = utils.FormatBytes(thresholds.Cleanup)
		fields["freed_bytes"] = result.FreedBytes
		fields["cache_max_size"] = g.cache.GetStats().MaxSize
		g.logger.Warn("Memory cleanup performed", fields)
	case LevelCritical:
		g.preserve()
		g.performCriticalCleanup()
		result.FreedBytes = g.freedSince(usage)
		fields["threshold"] = utils.FormatBytes(thresholds.Critical)
		fields["freed_bytes"] = result.FreedBytes
		fields["cache_max_size"] = g.cache.GetStats().MaxSize
		g.logger.Error("Critical memory cleanup performed", fields)
	}

	if result.Level == LevelCleanup || result.Level == LevelCritical {
		g.config.Metrics.RecordCleanup(result.Level.String(), result.FreedBytes)
	}

	g.mu.Lock()
	g.lastCheck = result
	switch result.Level {
	case LevelWarning:
		g.warnings++
	case LevelCleanup:
		g.cleanups++
	case LevelCritical:
		g.criticals++
	}
	g.mu.Unlock()

	return result
}

// classify returns the highest threshold reached by heapUsed
func classify(heapUsed uint64, t types.MemoryThresholds) Level {
	switch {
	case heapUsed >= t.Critical:
		return LevelCritical
	case heapUsed >= t.Cleanup:
		return LevelCleanup
	case heapUsed >= t.Warning:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// performCleanup shrinks the cache by the configured factor, never below the floor and never
// growing it
func (g *Guardian) performCleanup() {
	current := g.cache.GetStats().MaxSize
	target := int(float64(current) * (1 - g.config.ShrinkFactor))
	if target < g.config.MinCacheSize {
		target = g.config.MinCacheSize
	}
	if target > current {
		target = current
	}

	g.cache.SetMaxSize(target)
	g.config.Reclaimer.Reclaim()
}

// performCriticalCleanup forces the cache down to its critical size and drops rare partitions
func (g *Guardian) performCriticalCleanup() {
	target := g.config.CriticalCacheSize
	if current := g.cache.GetStats().MaxSize; target > current {
		target = current
	}
	g.cache.SetMaxSize(target)

	for _, key := range g.config.CriticalEvictions {
		g.cache.Delete(key)
	}
	for i := 0; i < g.config.CriticalReclaimPasses; i++ {
		g.config.Reclaimer.Reclaim()
	}
}

func (g *Guardian) preserve() {
	if g.config.PreserveErrors == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Preserve hook panicked", map[string]interface{}{
				"code":  errors.ErrCodePanicRecovered,
				"panic": r,
			})
		}
	}()
	g.config.PreserveErrors()
}

func (g *Guardian) freedSince(before types.MemoryUsage) uint64 {
	after := g.config.Reporter.ReadMemory()
	if after.HeapUsed >= before.HeapUsed {
		return 0
	}
	return before.HeapUsed - after.HeapUsed
}

// UpdateThresholds merges the non-zero fields of partial into the current thresholds. A result
// that is not strictly ascending is rejected and the current thresholds are kept.
func (g *Guardian) UpdateThresholds(partial types.MemoryThresholds) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	merged := g.thresholds
	if partial.Warning != 0 {
		merged.Warning = partial.Warning
	}
	if partial.Cleanup != 0 {
		merged.Cleanup = partial.Cleanup
	}
	if partial.Critical != 0 {
		merged.Critical = partial.Critical
	}

	if !merged.Ascending() {
		return invalidThresholds(merged).WithOperation("update_thresholds")
	}

	g.thresholds = merged
	g.logger.Info("Memory thresholds updated", g.formatThresholds(merged))
	return nil
}

// GetMemoryStats returns a fresh memory sample alongside cache state and check counters
func (g *Guardian) GetMemoryStats() MemoryStats {
	usage := g.config.Reporter.ReadMemory()
	cacheStats := g.cache.GetStats()

	g.mu.RLock()
	defer g.mu.RUnlock()

	return MemoryStats{
		Usage:         usage,
		UsagePercent:  usage.UsagePercent(),
		Thresholds:    g.thresholds,
		CacheSize:     cacheStats.Size,
		CacheMaxSize:  cacheStats.MaxSize,
		CacheMemoryMB: g.cache.GetMemoryUsageMB(),
		Warnings:      g.warnings,
		Cleanups:      g.cleanups,
		Criticals:     g.criticals,
		LastCheck:     g.lastCheck,
	}
}

// GetStatus returns the monitoring state
func (g *Guardian) GetStatus() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return Status{
		Monitoring: g.IsMonitoring(),
		Interval:   g.config.Interval,
		Thresholds: g.thresholds,
		LastCheck:  g.lastCheck.CheckedAt,
	}
}

func (g *Guardian) currentThresholds() types.MemoryThresholds {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.thresholds
}

func (g *Guardian) formatThresholds(t types.MemoryThresholds) map[string]interface{} {
	return map[string]interface{}{
		"warning":  utils.FormatBytes(t.Warning),
		"cleanup":  utils.FormatBytes(t.Cleanup),
		"critical": utils.FormatBytes(t.Critical),
	}
}

func invalidThresholds(t types.MemoryThresholds) *errors.SpellCacheError {
	return errors.NewError(errors.ErrCodeInvalidThresholds, "memory thresholds must satisfy warning < cleanup < critical").
		WithComponent("memguard").
		WithDetail("warning", t.Warning).
		WithDetail("cleanup", t.Cleanup).
		WithDetail("critical", t.Critical)
}
