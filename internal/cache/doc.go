/*
Package cache provides the bounded partition store used by the spell-checker.

Every resident entry maps a partition key (the lower-cased initial letter of a word) to the
set of dictionary words starting with that letter. The cache never loads anything itself;
callers insert partitions produced by a loader and read them back on the check path.

# Eviction

When a new key is inserted into a full cache exactly one entry is evicted first, chosen by
tier and recency:

	scan from least to most recently used
	  └─ first LOW-tier entry        → evict
	  └─ else first MEDIUM-tier entry → evict
	  └─ else least recently used     → evict

HIGH-tier partitions (п, с, к, н, о, в, р, м, д, т) therefore survive until nothing else
is left. Overwriting an existing key refreshes its recency and never evicts.

# Accounting

Get counts one request and, when present, one hit. Has is a pure membership test and counts
nothing. Evictions are counted whether they come from an insert or a capacity shrink.

# Usage

	c := cache.NewPartitionCache(&cache.CacheConfig{MaxSize: 10})
	c.Set("п", types.NewWordSet("привет", "пока"))
	if words, ok := c.Get("п"); ok {
		_ = words.Contains("Привет")
	}

All methods are safe for concurrent use.
*/
package cache
