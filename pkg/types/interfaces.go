package types

import "time"

// PartitionCache is the shared partition store. The spell-check engine reads it while the
// preloader and memory guardian mutate it, so implementations must be safe for concurrent use.
type PartitionCache interface {
	Get(key PartitionKey) (WordSet, bool)
	Set(key PartitionKey, words WordSet)
	Has(key PartitionKey) bool
	Delete(key PartitionKey) bool
	Clear()
	SetMaxSize(n int)
	GetStats() CacheStats
	GetCachedPartitions() []PartitionKey
	GetTotalWords() int
	GetMemoryUsageMB() float64
}

// MemoryReporter samples process memory on demand
type MemoryReporter interface {
	ReadMemory() MemoryUsage
}

// Reclaimer asks the host runtime to give back unused memory. The effect is not guaranteed.
type Reclaimer interface {
	Reclaim()
}

// MetricsRecorder receives events from the caching subsystem
type MetricsRecorder interface {
	RecordCacheHit(key PartitionKey)
	RecordCacheMiss(key PartitionKey)
	RecordEviction(key PartitionKey, tier PriorityTier)
	UpdateCacheSize(size, maxSize int)
	RecordPreload(key PartitionKey, duration time.Duration, success bool)
	RecordMemorySample(usage MemoryUsage)
	RecordCleanup(level string, freedBytes uint64)
}

// NoopMetrics discards every event. It is used when metrics are disabled.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordCacheHit(PartitionKey) {}
func (NoopMetrics) RecordCacheMiss(PartitionKey) {}
func (NoopMetrics) RecordEviction(PartitionKey, PriorityTier) {}
func (NoopMetrics) UpdateCacheSize(int, int) {}
func (NoopMetrics) RecordPreload(PartitionKey, time.Duration, bool) {}
func (NoopMetrics) RecordMemorySample(MemoryUsage) {}
func (NoopMetrics) RecordCleanup(string, uint64) {}
