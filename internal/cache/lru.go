package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/spellcache/spellcache/internal/alphabet"
	"github.com/spellcache/spellcache/pkg/types"
	"github.com/spellcache/spellcache/pkg/utils"
)

// bytesPerWord is the heuristic resident size of one dictionary word
const bytesPerWord = 50

// PartitionCache is a bounded, thread-safe partition store with LRU-with-priority-tier eviction.
// It never performs I/O and does not know why a partition was loaded.
type PartitionCache struct {
	mu        sync.Mutex
	maxSize   int
	items     map[types.PartitionKey]*cacheItem
	evictList *list.List // front is most recently used

	requests  uint64
	hits      uint64
	evictions uint64

	metrics types.MetricsRecorder
	logger  *utils.StructuredLogger
	now     func() time.Time
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	MaxSize int                     `yaml:"max_size"`
	Metrics types.MetricsRecorder   `yaml:"-"`
	Logger  *utils.StructuredLogger `yaml:"-"`
}

// cacheItem represents an entry in the cache
type cacheItem struct {
	key          types.PartitionKey
	words        types.WordSet
	lastAccessed time.Time
	element      *list.Element
}

// EntryInfo describes one resident partition
type EntryInfo struct {
	Key          types.PartitionKey `json:"key"`
	Words        int                `json:"words"`
	Tier         string             `json:"tier"`
	LastAccessed time.Time          `json:"last_accessed"`
}

var _ types.PartitionCache = (*PartitionCache)(nil)

// NewPartitionCache creates a new partition cache. A negative MaxSize is clamped to 0.
func NewPartitionCache(config *CacheConfig) *PartitionCache {
	if config == nil {
		config = &CacheConfig{MaxSize: 10}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = types.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}

	c := &PartitionCache{
		maxSize:   clampCapacity(config.MaxSize),
		items:     make(map[types.PartitionKey]*cacheItem),
		evictList: list.New(),
		metrics:   metrics,
		logger:    logger.WithComponent("cache"),
		now:       time.Now,
	}
	c.metrics.UpdateCacheSize(0, c.maxSize)
	return c
}

// Get returns the word set for key. It records a request and, on a hit, refreshes recency.
func (c *PartitionCache) Get(key types.PartitionKey) (types.WordSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests++
	item, exists := c.items[key]
	if !exists {
		c.metrics.RecordCacheMiss(key)
		return types.WordSet{}, false
	}

	c.hits++
	item.lastAccessed = c.now()
	c.evictList.MoveToFront(item.element)
	c.metrics.RecordCacheHit(key)
	return item.words, true
}

// Set inserts or overwrites the partition for key. Inserting a new key into a full cache first
// evicts one entry, so the new entry is never its own victim. With a capacity of zero the
// insert is dropped.
func (c *PartitionCache) Set(key types.PartitionKey, words types.WordSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		item.words = words
		item.lastAccessed = c.now()
		c.evictList.MoveToFront(item.element)
		return
	}

	if c.maxSize == 0 {
		c.logger.Debug("Dropping partition insert, cache capacity is zero", map[string]interface{}{
			"key": key,
		})
		return
	}
	if len(c.items) >= c.maxSize {
		c.evictOne()
	}

	item := &cacheItem{
		key:          key,
		words:        words,
		lastAccessed: c.now(),
	}
	item.element = c.evictList.PushFront(item)
	c.items[key] = item

	if len(c.items) > c.maxSize {
		utils.RaiseInvariant("cache", "size_exceeds_capacity", "Cache grew beyond its capacity.",
			map[string]interface{}{"size": len(c.items), "max_size": c.maxSize})
	}
	c.metrics.UpdateCacheSize(len(c.items), c.maxSize)
}

// Has reports whether key is resident. It is not counted as a request and does not
// refresh recency.
func (c *PartitionCache) Has(key types.PartitionKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.items[key]
	return exists
}

// Delete removes key and reports whether anything was removed
func (c *PartitionCache) Delete(key types.PartitionKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		return false
	}
	c.removeItem(item)
	c.metrics.UpdateCacheSize(len(c.items), c.maxSize)
	return true
}

// Clear drops every entry. Counters are kept.
func (c *PartitionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[types.PartitionKey]*cacheItem)
	c.evictList.Init()
	c.metrics.UpdateCacheSize(0, c.maxSize)
}

// SetMaxSize changes the capacity and evicts until the cache fits. A negative capacity is a
// caller bug; it is reported as an invariant and clamped to 0.
func (c *PartitionCache) SetMaxSize(n int) {
	if n < 0 {
		utils.RaiseInvariant("cache", "negative_max_size", "Negative cache capacity requested.",
			map[string]interface{}{"max_size": n})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.maxSize = clampCapacity(n)
	for len(c.items) > c.maxSize {
		c.evictOne()
	}
	c.metrics.UpdateCacheSize(len(c.items), c.maxSize)
}

// GetStats returns cache statistics
func (c *PartitionCache) GetStats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := types.CacheStats{
		Size:          len(c.items),
		MaxSize:       c.maxSize,
		TotalRequests: c.requests,
		TotalHits:     c.hits,
		Evictions:     c.evictions,
	}
	if c.requests > 0 {
		stats.HitRate = float64(c.hits) / float64(c.requests)
	}
	return stats
}

// GetCachedPartitions returns resident keys, most recently used first
func (c *PartitionCache) GetCachedPartitions() []types.PartitionKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]types.PartitionKey, 0, len(c.items))
	for e := c.evictList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*cacheItem).key)
	}
	return keys
}

// GetTotalWords returns the sum of all resident word-set sizes
func (c *PartitionCache) GetTotalWords() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalWords()
}

// GetMemoryUsageMB estimates resident size as totalWords × 50 bytes
func (c *PartitionCache) GetMemoryUsageMB() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.totalWords()*bytesPerWord) / (1024 * 1024)
}

// Entries returns resident partitions, least recently used first
func (c *PartitionCache) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]EntryInfo, 0, len(c.items))
	for e := c.evictList.Back(); e != nil; e = e.Prev() {
		item := e.Value.(*cacheItem)
		entries = append(entries, EntryInfo{
			Key:          item.key,
			Words:        item.words.Len(),
			Tier:         alphabet.TierOf(item.key).String(),
			LastAccessed: item.lastAccessed,
		})
	}
	return entries
}

// Helper methods

func clampCapacity(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func (c *PartitionCache) totalWords() int {
	total := 0
	for _, item := range c.items {
		total += item.words.Len()
	}
	return total
}

func (c *PartitionCache) removeItem(item *cacheItem) {
	c.evictList.Remove(item.element)
	delete(c.items, item.key)
}

// evictOne removes a single entry: the least recently used LOW-tier entry, else the least
// recently used MEDIUM-tier entry, else the least recently used entry overall.
func (c *PartitionCache) evictOne() {
	victim := c.evictionCandidate()
	if victim == nil {
		return
	}

	tier := alphabet.TierOf(victim.key)
	c.removeItem(victim)
	c.evictions++
	c.metrics.RecordEviction(victim.key, tier)
	c.logger.Debug("Evicted partition", map[string]interface{}{
		"key":  victim.key,
		"tier": tier.String(),
	})
}

func (c *PartitionCache) evictionCandidate() *cacheItem {
	back := c.evictList.Back()
	if back == nil {
		return nil
	}

	var medium *cacheItem
	for e := back; e != nil; e = e.Prev() {
		item := e.Value.(*cacheItem)
		switch alphabet.TierOf(item.key) {
		case types.TierLow:
			return item
		case types.TierMedium:
			if medium == nil {
				medium = item
			}
		}
	}
	if medium != nil {
		return medium
	}
	return back.Value.(*cacheItem)
}
