package types

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// PartitionKey identifies a dictionary partition. It holds a single lower-cased letter.
type PartitionKey string

// NewPartitionKey normalizes s into a partition key made of its first letter, lower-cased.
// An empty string yields an empty key.
func NewPartitionKey(s string) PartitionKey {
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return ""
	}
	return PartitionKey(strings.ToLower(string(r)))
}

// String returns the key as a plain string
func (k PartitionKey) String() string {
	return string(k)
}

// WordSet is an immutable set of normalized words belonging to one partition.
type WordSet struct {
	words map[string]struct{}
}

// NewWordSet builds a word set from the given words. Words are lower-cased and trimmed;
// empty entries are dropped.
func NewWordSet(words ...string) WordSet {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		set[w] = struct{}{}
	}
	return WordSet{words: set}
}

// Contains reports whether word is in the set. The lookup is case-insensitive.
func (ws WordSet) Contains(word string) bool {
	_, ok := ws.words[strings.ToLower(word)]
	return ok
}

// Len returns the number of words in the set
func (ws WordSet) Len() int {
	return len(ws.words)
}

// Words returns the words in lexical order
func (ws WordSet) Words() []string {
	out := make([]string, 0, len(ws.words))
	for w := range ws.words {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// PriorityTier biases eviction order. Higher tiers survive longer under pressure.
type PriorityTier int

const (
	TierLow PriorityTier = iota
	TierMedium
	TierHigh
)

// String returns the string representation of the tier
func (t PriorityTier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	default:
		return "unknown"
	}
}

// LoadPartitionFn loads the full word set for a partition. It is the only I/O boundary of the
// caching subsystem and fails when the partition source is missing or corrupt.
type LoadPartitionFn func(ctx context.Context, key PartitionKey) (WordSet, error)

// CacheStats represents partition cache statistics
type CacheStats struct {
	Size          int     `json:"size"`
	MaxSize       int     `json:"max_size"`
	HitRate       float64 `json:"hit_rate"`
	TotalRequests uint64  `json:"total_requests"`
	TotalHits     uint64  `json:"total_hits"`
	Evictions     uint64  `json:"evictions"`
}

// UsageStat tracks how often the preloader has seen a partition key among the top letters of a text.
type UsageStat struct {
	Key            PartitionKey `json:"key"`
	AccessCount    int64        `json:"access_count"`
	LastAccessedAt time.Time    `json:"last_accessed_at"`
}

// PreloadStats is a snapshot of preloader counters and usage statistics
type PreloadStats struct {
	TotalPreloads      int64         `json:"total_preloads"`
	SuccessfulPreloads int64         `json:"successful_preloads"`
	AveragePreloadTime time.Duration `json:"average_preload_time"`
	InFlight           int           `json:"in_flight"`
	UsageStats         []UsageStat   `json:"usage_stats"`
	CacheEfficiency    float64       `json:"cache_efficiency"` // cache hit rate, percent
}

// MemoryThresholds are heap-usage byte values. They must satisfy Warning < Cleanup < Critical.
type MemoryThresholds struct {
	Warning  uint64 `json:"warning" yaml:"warning"`
	Cleanup  uint64 `json:"cleanup" yaml:"cleanup"`
	Critical uint64 `json:"critical" yaml:"critical"`
}

// Ascending reports whether the thresholds are strictly ordered
func (t MemoryThresholds) Ascending() bool {
	return t.Warning < t.Cleanup && t.Cleanup < t.Critical
}

// MemoryUsage is a single sample from a process memory reporter, in bytes.
type MemoryUsage struct {
	HeapUsed  uint64 `json:"heap_used"`
	HeapTotal uint64 `json:"heap_total"`
	External  uint64 `json:"external"`
	RSS       uint64 `json:"rss"`
}

// UsagePercent returns heap used as a percentage of heap total
func (u MemoryUsage) UsagePercent() float64 {
	if u.HeapTotal == 0 {
		return 0
	}
	return float64(u.HeapUsed) / float64(u.HeapTotal) * 100
}
