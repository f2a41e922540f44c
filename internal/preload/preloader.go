// Package preload predicts which dictionary partitions a text will need and loads them into the
// partition cache ahead of demand.
package preload

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/spellcache/spellcache/internal/analyzer"
	"github.com/spellcache/spellcache/pkg/errors"
	"github.com/spellcache/spellcache/pkg/types"
	"github.com/spellcache/spellcache/pkg/utils"
)

const (
	// historyPredictions is how many historically used letters widen a text prediction
	historyPredictions = 3
	// optimizeTopN is how many historically used letters OptimizeCache keeps resident
	optimizeTopN = 8
	// defaultStatsMaxAge applies when ClearOldStats is given a non-positive age
	defaultStatsMaxAge = 24 * time.Hour
)

// Config represents preloader configuration
type Config struct {
	// MaxConcurrentLoads bounds loader calls in flight. 0 means 4.
	MaxConcurrentLoads int `yaml:"max_concurrent_loads"`
	// LoadTimeout bounds a single loader call. 0 disables the deadline.
	LoadTimeout time.Duration `yaml:"load_timeout"`
	// LoadsPerSecond throttles loader calls. 0 means unlimited.
	LoadsPerSecond float64 `yaml:"loads_per_second"`

	Metrics types.MetricsRecorder   `yaml:"-"`
	Logger  *utils.StructuredLogger `yaml:"-"`
}

// Preloader races ahead of spell-check lookups, loading predicted partitions in the background.
// Failures only lower the hit rate; they are never returned to the caller.
type Preloader struct {
	cache types.PartitionCache
	load  types.LoadPartitionFn

	loadTimeout time.Duration
	sem         *semaphore.Weighted
	limiter     *rate.Limiter // nil if unlimited

	mu                 sync.Mutex
	inFlight           map[types.PartitionKey]struct{}
	usage              map[types.PartitionKey]*types.UsageStat
	totalPreloads      int64
	successfulPreloads int64
	averageLoadTime    time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	metrics types.MetricsRecorder
	logger  *utils.StructuredLogger
	now     func() time.Time
}

// NewPreloader creates a preloader that fills cache through load
func NewPreloader(cache types.PartitionCache, load types.LoadPartitionFn, config *Config) *Preloader {
	if config == nil {
		config = &Config{}
	}
	maxLoads := config.MaxConcurrentLoads
	if maxLoads <= 0 {
		maxLoads = 4
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = types.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Preloader{
		cache:       cache,
		load:        load,
		loadTimeout: config.LoadTimeout,
		sem:         semaphore.NewWeighted(int64(maxLoads)),
		inFlight:    make(map[types.PartitionKey]struct{}),
		usage:       make(map[types.PartitionKey]*types.UsageStat),
		ctx:         ctx,
		cancel:      cancel,
		metrics:     metrics,
		logger:      logger.WithComponent("preload"),
		now:         time.Now,
	}
	if config.LoadsPerSecond > 0 {
		burst := int(config.LoadsPerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(config.LoadsPerSecond), burst)
	}
	return p
}

// AnalyzeAndPreload analyzes text, records usage of its most frequent letters and schedules a
// background load for every predicted partition that is not cached yet. It returns as soon as the
// loads are scheduled.
func (p *Preloader) AnalyzeAndPreload(text string) analyzer.Analysis {
	analysis := analyzer.Analyze(text)
	p.recordUsage(analysis.TopLetters)

	for _, key := range analysis.PredictedPartitions {
		p.Preload(key)
	}
	return analysis
}

// Preload schedules a background load of key. It returns false when the key is already cached
// or a load for it is already in flight.
func (p *Preloader) Preload(key types.PartitionKey) bool {
	p.mu.Lock()
	if _, loading := p.inFlight[key]; loading || p.cache.Has(key) {
		p.mu.Unlock()
		return false
	}
	p.inFlight[key] = struct{}{}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.preloadPartition(key)
	return true
}

// Wait blocks until every scheduled preload has finished
func (p *Preloader) Wait() {
	p.wg.Wait()
}

// Close abandons preloads still waiting for a load slot and waits for running ones to finish
func (p *Preloader) Close() {
	p.cancel()
	p.wg.Wait()
}

// InFlight returns the number of partitions currently being loaded
func (p *Preloader) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// GetTopUsedLetters returns the n most used keys. Ties are broken by key order.
func (p *Preloader) GetTopUsedLetters(n int) []types.PartitionKey {
	if n <= 0 {
		return []types.PartitionKey{}
	}

	stats := p.sortedUsage()
	if n > len(stats) {
		n = len(stats)
	}
	keys := make([]types.PartitionKey, 0, n)
	for _, stat := range stats[:n] {
		keys = append(keys, stat.Key)
	}
	return keys
}

// PredictPartitionsForText widens the live prediction for text with the top historically used letters
func (p *Preloader) PredictPartitionsForText(text string) []types.PartitionKey {
	predicted := analyzer.Analyze(text).PredictedPartitions
	history := p.GetTopUsedLetters(historyPredictions)

	seen := make(map[types.PartitionKey]struct{}, len(predicted)+len(history))
	keys := make([]types.PartitionKey, 0, len(predicted)+len(history))
	for _, group := range [][]types.PartitionKey{predicted, history} {
		for _, key := range group {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

// OptimizeCache schedules loads for the most used partitions that are not cached and returns the
// keys it scheduled.
func (p *Preloader) OptimizeCache() []types.PartitionKey {
	scheduled := make([]types.PartitionKey, 0, optimizeTopN)
	for _, key := range p.GetTopUsedLetters(optimizeTopN) {
		if p.Preload(key) {
			scheduled = append(scheduled, key)
		}
	}
	if len(scheduled) > 0 {
		p.logger.Debug("Cache optimization scheduled preloads", map[string]interface{}{
			"keys": scheduled,
		})
	}
	return scheduled
}

// ClearOldStats drops usage statistics not touched within maxAge and returns how many were dropped.
// A non-positive maxAge means 24 hours.
func (p *Preloader) ClearOldStats(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = defaultStatsMaxAge
	}
	cutoff := p.now().Add(-maxAge)

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for key, stat := range p.usage {
		if stat.LastAccessedAt.Before(cutoff) {
			delete(p.usage, key)
			removed++
		}
	}
	return removed
}

// GetPreloadingStats returns a snapshot of preload counters and usage statistics
func (p *Preloader) GetPreloadingStats() types.PreloadStats {
	usage := p.sortedUsage()

	p.mu.Lock()
	stats := types.PreloadStats{
		TotalPreloads:      p.totalPreloads,
		SuccessfulPreloads: p.successfulPreloads,
		AveragePreloadTime: p.averageLoadTime,
		InFlight:           len(p.inFlight),
	}
	p.mu.Unlock()

	stats.UsageStats = usage
	stats.CacheEfficiency = p.cache.GetStats().HitRate * 100
	return stats
}

func (p *Preloader) recordUsage(keys []types.PartitionKey) {
	if len(keys) == 0 {
		return
	}
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, key := range keys {
		stat, exists := p.usage[key]
		if !exists {
			stat = &types.UsageStat{Key: key}
			p.usage[key] = stat
		}
		stat.AccessCount++
		stat.LastAccessedAt = now
	}
}

// sortedUsage returns a copy of the usage stats, most used first
func (p *Preloader) sortedUsage() []types.UsageStat {
	p.mu.Lock()
	stats := make([]types.UsageStat, 0, len(p.usage))
	for _, stat := range p.usage {
		stats = append(stats, *stat)
	}
	p.mu.Unlock()

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].AccessCount != stats[j].AccessCount {
			return stats[i].AccessCount > stats[j].AccessCount
		}
		return stats[i].Key < stats[j].Key
	})
	return stats
}

func (p *Preloader) preloadPartition(key types.PartitionKey) {
	defer p.wg.Done()
	defer p.finish(key)

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	if p.limiter != nil {
		if err := p.limiter.Wait(p.ctx); err != nil {
			return
		}
	}

	// a partition may have been inserted directly while this load waited for a slot
	if p.cache.Has(key) {
		return
	}

	start := p.now()
	words, err := p.loadWithTimeout(key)
	elapsed := p.now().Sub(start)

	if err != nil {
		p.recordResult(key, elapsed, false)
		fields := map[string]interface{}{
			"key":      key,
			"duration": elapsed.String(),
			"error":    err,
		}
		if code, ok := errors.CodeOf(err); ok {
			fields["code"] = code
		}
		p.logger.Warn("Partition preload failed", fields)
		return
	}

	p.cache.Set(key, words)
	p.recordResult(key, elapsed, true)
	p.logger.Debug("Partition preloaded", map[string]interface{}{
		"key":      key,
		"words":    words.Len(),
		"duration": elapsed.String(),
	})
}

func (p *Preloader) finish(key types.PartitionKey) {
	p.mu.Lock()
	delete(p.inFlight, key)
	p.mu.Unlock()
}

func (p *Preloader) loadWithTimeout(key types.PartitionKey) (words types.WordSet, err error) {
	ctx := p.ctx
	if p.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.loadTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.NewError(errors.ErrCodePanicRecovered, fmt.Sprintf("partition loader panicked: %v", r)).
				WithComponent("preload").
				WithOperation("load").
				WithDetail("key", key)
		}
	}()

	words, err = p.load(ctx, key)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return types.WordSet{}, errors.NewError(errors.ErrCodeOperationTimeout, "partition load timed out").
			WithComponent("preload").
			WithOperation("load").
			WithDetail("key", key).
			WithDetail("timeout", p.loadTimeout.String()).
			WithCause(err)
	}
	return words, err
}

func (p *Preloader) recordResult(key types.PartitionKey, elapsed time.Duration, success bool) {
	p.mu.Lock()
	p.totalPreloads++
	if success {
		p.successfulPreloads++
		p.averageLoadTime += (elapsed - p.averageLoadTime) / time.Duration(p.successfulPreloads)
	}
	p.mu.Unlock()

	p.metrics.RecordPreload(key, elapsed, success)
}
