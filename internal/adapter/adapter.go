package adapter

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/spellcache/spellcache/internal/alphabet"
	"github.com/spellcache/spellcache/internal/analyzer"
	"github.com/spellcache/spellcache/internal/cache"
	"github.com/spellcache/spellcache/internal/circuit"
	"github.com/spellcache/spellcache/internal/config"
	"github.com/spellcache/spellcache/internal/loader"
	"github.com/spellcache/spellcache/internal/memguard"
	"github.com/spellcache/spellcache/internal/metrics"
	"github.com/spellcache/spellcache/internal/preload"
	"github.com/spellcache/spellcache/pkg/errors"
	"github.com/spellcache/spellcache/pkg/retry"
	"github.com/spellcache/spellcache/pkg/types"
	"github.com/spellcache/spellcache/pkg/utils"
)

// Adapter wires the partition cache, preloader, memory guardian and metrics into one service
type Adapter struct {
	config *config.Configuration
	logger *utils.StructuredLogger

	source    loader.Source
	metrics   *metrics.Collector
	cache     *cache.PartitionCache
	loader    *loader.Loader
	loads     singleflight.Group
	preloader *preload.Preloader
	guardian  *memguard.Guardian

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	last      CheckResult
	preserved *CheckResult
}

// Option customizes adapter construction
type Option func(*options)

type options struct {
	source    loader.Source
	logger    *utils.StructuredLogger
	reporter  types.MemoryReporter
	reclaimer types.Reclaimer
}

// WithSource replaces the dictionary source built from configuration
func WithSource(source loader.Source) Option {
	return func(o *options) { o.source = source }
}

// WithLogger replaces the logger built from configuration
func WithLogger(logger *utils.StructuredLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMemory replaces the runtime memory reporter and reclaimer
func WithMemory(reporter types.MemoryReporter, reclaimer types.Reclaimer) Option {
	return func(o *options) {
		o.reporter = reporter
		o.reclaimer = reclaimer
	}
}

// CheckResult reports the outcome of checking one text
type CheckResult struct {
	Words     int                  `json:"words"`
	Unknown   []string             `json:"unknown"`
	Unchecked []string             `json:"unchecked,omitempty"`
	Analysis  analyzer.Analysis    `json:"analysis"`
	Missing   []types.PartitionKey `json:"missing,omitempty"`
}

// New creates a spellcache service from cfg
func New(ctx context.Context, cfg *config.Configuration, opts ...Option) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "configuration is required").
			WithComponent("adapter")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = newLogger(cfg.Global); err != nil {
			return nil, err
		}
	}
	utils.SetInvariantLogger(logger)

	source := o.source
	if source == nil {
		var err error
		if source, err = newSource(ctx, cfg.Dictionary); err != nil {
			return nil, err
		}
	}

	var breaker *circuit.Breaker
	if cfg.Dictionary.BreakerFailures > 0 {
		breakerLogger := logger.WithComponent("circuit")
		breaker = circuit.NewBreaker(source.Name(), circuit.Config{
			MaxFailures: uint32(cfg.Dictionary.BreakerFailures),
			Timeout:     cfg.Dictionary.BreakerCooldown,
			OnStateChange: func(name string, from, to circuit.State) {
				breakerLogger.Warn("Dictionary source breaker changed state", map[string]interface{}{
					"source": name,
					"from":   from.String(),
					"to":     to.String(),
				})
			},
		})
		source = loader.NewGuardedSource(source, breaker)
	}

	thresholds, err := cfg.MemoryThresholds()
	if err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      cfg.Global.MetricsPort,
		Path:      "/metrics",
		Namespace: "spellcache",
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		config:  cfg,
		logger:  logger.WithComponent("adapter"),
		source:  source,
		metrics: collector,
	}

	a.cache = cache.NewPartitionCache(&cache.CacheConfig{
		MaxSize: cfg.Cache.MaxPartitions,
		Metrics: collector,
		Logger:  logger,
	})
	loaderCfg := &loader.Config{
		Prefix:    cfg.Dictionary.Prefix,
		Extension: cfg.Dictionary.Extension,
		Logger:    logger,
	}
	if cfg.Dictionary.RetryAttempts > 1 {
		policy := retry.DefaultConfig()
		policy.MaxAttempts = cfg.Dictionary.RetryAttempts
		policy.InitialDelay = cfg.Dictionary.RetryDelay
		loaderCfg.Retry = &policy
	}
	a.loader = loader.NewLoader(source, loaderCfg)
	a.preloader = preload.NewPreloader(a.cache, a.loadPartition, &preload.Config{
		MaxConcurrentLoads: cfg.Preload.MaxConcurrentLoads,
		LoadTimeout:        cfg.Preload.LoadTimeout,
		LoadsPerSecond:     cfg.Preload.LoadsPerSecond,
		Metrics:            collector,
		Logger:             logger,
	})

	guardCfg := memguard.DefaultConfig()
	guardCfg.Interval = cfg.Memory.MonitorInterval
	guardCfg.Thresholds = thresholds
	guardCfg.ShrinkFactor = cfg.Memory.CleanupShrinkFactor
	guardCfg.MinCacheSize = cfg.Memory.MinCacheSize
	guardCfg.CriticalCacheSize = cfg.Memory.CriticalCacheSize
	guardCfg.CriticalReclaimPasses = cfg.Memory.CriticalReclaimPasses
	guardCfg.PreserveErrors = a.preserveResults
	guardCfg.Reporter = o.reporter
	guardCfg.Reclaimer = o.reclaimer
	guardCfg.Metrics = collector
	guardCfg.Logger = logger
	if a.guardian, err = memguard.NewGuardian(a.cache, guardCfg); err != nil {
		return nil, err
	}

	collector.RegisterStatus("cache", func() interface{} { return a.cache.GetStats() })
	collector.RegisterStatus("preload", func() interface{} { return a.preloader.GetPreloadingStats() })
	collector.RegisterStatus("memory", func() interface{} { return a.guardian.GetMemoryStats() })
	if breaker != nil {
		collector.RegisterStatus("source", func() interface{} { return breaker.GetStats() })
	}

	return a, nil
}

// Start warms the cache and starts monitoring, metrics and housekeeping
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return errors.NewError(errors.ErrCodeInternalError, "adapter already stopped").
			WithComponent("adapter").
			WithOperation("start")
	}
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	a.logger.Info("Starting spellcache", map[string]interface{}{
		"source":         a.source.Name(),
		"max_partitions": a.config.Cache.MaxPartitions,
		"preload":        a.config.Preload.Enabled,
	})

	keys := a.config.WarmKeys()
	if len(keys) == 0 {
		keys = alphabet.HighPriority
	}
	if _, err := loader.Warm(runCtx, a.loadPartition, a.cache, keys, a.config.Preload.MaxConcurrentLoads, a.logger); err != nil {
		// a partially warm cache still serves; misses fall back to direct loads
		a.logger.Warn("Cache warm-up incomplete", map[string]interface{}{"error": err})
	}

	if err := a.guardian.StartMonitoring(runCtx); err != nil {
		cancel()
		return err
	}

	if a.config.Global.MetricsPort > 0 {
		if err := a.metrics.Start(runCtx); err != nil {
			a.guardian.StopMonitoring()
			cancel()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if a.config.Preload.Enabled && a.config.Preload.OptimizeInterval > 0 {
		a.wg.Add(1)
		go a.housekeeping(runCtx)
	}

	a.logger.Info("Spellcache started", map[string]interface{}{
		"cached": len(a.cache.GetCachedPartitions()),
	})
	return nil
}

// Stop shuts every component down. A stopped adapter cannot be started again.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	a.stopped = true
	cancel := a.cancel
	a.mu.Unlock()

	a.logger.Info("Stopping spellcache")

	cancel()
	a.wg.Wait()
	a.guardian.StopMonitoring()
	a.preloader.Close()

	if err := a.metrics.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop metrics server: %w", err)
	}
	return nil
}

// Check spell-checks text against the cached partitions. Partitions that were not predicted are
// loaded on demand; words whose partition cannot be loaded are reported as unchecked.
func (a *Adapter) Check(ctx context.Context, text string) CheckResult {
	var result CheckResult
	if a.config.Preload.Enabled {
		result.Analysis = a.preloader.AnalyzeAndPreload(text)
	} else {
		result.Analysis = analyzer.Analyze(text)
	}

	missing := make(map[types.PartitionKey]bool)
	for _, word := range Tokenize(text) {
		result.Words++
		key := types.NewPartitionKey(word)
		if missing[key] {
			result.Unchecked = append(result.Unchecked, word)
			continue
		}
		words, ok := a.lookup(ctx, key)
		if !ok {
			result.Unchecked = append(result.Unchecked, word)
			if !missing[key] {
				missing[key] = true
				result.Missing = append(result.Missing, key)
			}
			continue
		}
		if !words.Contains(word) {
			result.Unknown = append(result.Unknown, word)
		}
	}

	a.mu.Lock()
	a.last = result
	a.mu.Unlock()
	return result
}

// loadPartition loads key from the source, sharing one load between the preloader and
// concurrent checks that miss on the same key
func (a *Adapter) loadPartition(ctx context.Context, key types.PartitionKey) (types.WordSet, error) {
	v, err, _ := a.loads.Do(string(key), func() (interface{}, error) {
		return a.loader.Load(ctx, key)
	})
	if err != nil {
		return types.WordSet{}, err
	}
	return v.(types.WordSet), nil
}

// lookup reads key from the cache, loading it synchronously on a miss
func (a *Adapter) lookup(ctx context.Context, key types.PartitionKey) (types.WordSet, bool) {
	if words, ok := a.cache.Get(key); ok {
		return words, true
	}

	words, err := a.loadPartition(ctx, key)
	if err != nil {
		a.logger.Debug("Partition unavailable", map[string]interface{}{
			"key":   key,
			"error": err,
		})
		return types.WordSet{}, false
	}
	a.cache.Set(key, words)
	return words, true
}

// housekeeping periodically reorders the usage table and prunes stale usage entries
func (a *Adapter) housekeeping(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.Preload.OptimizeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.optimize()
		}
	}
}

func (a *Adapter) optimize() {
	top := a.preloader.OptimizeCache()
	removed := a.preloader.ClearOldStats(a.config.Preload.StatsMaxAge)
	a.logger.Debug("Usage statistics optimized", map[string]interface{}{
		"top":     top,
		"removed": removed,
	})
}

// preserveResults snapshots the last check before the guardian evicts partitions it depended on
func (a *Adapter) preserveResults() {
	a.mu.Lock()
	defer a.mu.Unlock()
	snapshot := a.last
	snapshot.Unknown = append([]string(nil), a.last.Unknown...)
	a.preserved = &snapshot
}

// Preserved returns the check result saved by the last memory cleanup, if any
func (a *Adapter) Preserved() (CheckResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.preserved == nil {
		return CheckResult{}, false
	}
	return *a.preserved, true
}

// Cache returns the partition cache
func (a *Adapter) Cache() *cache.PartitionCache {
	return a.cache
}

// Preloader returns the preloader
func (a *Adapter) Preloader() *preload.Preloader {
	return a.preloader
}

// Guardian returns the memory guardian
func (a *Adapter) Guardian() *memguard.Guardian {
	return a.guardian
}

// Metrics returns the metrics collector
func (a *Adapter) Metrics() *metrics.Collector {
	return a.metrics
}

// Tokenize splits text into lower-cased words of Russian letters. Hyphens inside a word are kept.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !alphabet.IsLetter(r) && r != '-'
	})

	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}

func newLogger(global config.GlobalConfig) (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(global.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	format, err := utils.ParseLogFormat(global.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}
	return utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  level,
		Output: os.Stderr,
		Format: format,
	}), nil
}

// sdkAttempts returns the per-request attempt limit for the storage client: one when the loader
// retries whole loads itself, otherwise the client default
func sdkAttempts(dict config.DictionaryConfig) int {
	if dict.RetryAttempts > 1 {
		return 1
	}
	return 0
}

func newSource(ctx context.Context, dict config.DictionaryConfig) (loader.Source, error) {
	switch dict.Source {
	case config.SourceFile, "":
		return loader.NewFileSource(dict.Directory), nil
	case config.SourceS3:
		return loader.NewS3Source(ctx, loader.S3Config{
			Bucket:          dict.Bucket,
			Region:          dict.Region,
			Endpoint:        dict.Endpoint,
			AccessKeyID:     dict.AccessKeyID,
			SecretAccessKey: dict.SecretAccessKey,
			ForcePathStyle:  dict.ForcePathStyle,
			MaxRetries:      sdkAttempts(dict),
		})
	case config.SourceMinio:
		return loader.NewMinioSource(loader.MinioConfig{
			Endpoint:        dict.Endpoint,
			Bucket:          dict.Bucket,
			Region:          dict.Region,
			AccessKeyID:     dict.AccessKeyID,
			SecretAccessKey: dict.SecretAccessKey,
			UseSSL:          dict.UseSSL,
			MaxRetries:      sdkAttempts(dict),
		})
	default:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "unsupported dictionary source").
			WithComponent("adapter").
			WithDetail("source", dict.Source)
	}
}
