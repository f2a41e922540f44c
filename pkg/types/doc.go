/*
Package types provides the core interfaces, data structures, and type definitions for SpellCache.

SpellCache keeps a spell-checking dictionary partially resident in memory. The dictionary is split
into partitions, one per leading letter, and only the partitions that are likely to be needed stay
loaded. This package defines the contracts shared by the components that make that work:

	┌─────────────────────────────────────────────┐
	│           Spell-check engine                │
	│      (external, calls Cache.Get)            │
	└─────────────────────────────────────────────┘
	          │                     │
	┌─────────┴─────────┐ ┌─────────┴─────────┐
	│     Preloader     │ │  Memory Guardian  │
	│ (internal/preload)│ │(internal/memguard)│
	└─────────┬─────────┘ └─────────┬─────────┘
	          │                     │
	┌─────────┴─────────────────────┴─────────┐
	│            Partition Cache              │
	│            (internal/cache)             │
	└─────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────┐
	│      LoadPartitionFn (internal/loader)  │
	│      file, S3 or MinIO dictionary       │
	└─────────────────────────────────────────┘

# Core Types

PartitionKey identifies a dictionary shard. It is always a single lower-cased letter.

WordSet is the immutable set of normalized words that belong to one partition. A loader returns a
fresh WordSet for every call, and the cache entry that receives it owns it exclusively.

PriorityTier classifies partition keys into HIGH, MEDIUM and LOW. The classification is derived from
a static membership table and only biases eviction order.

# Statistics

CacheStats, PreloadStats and MemoryStats are read-only snapshots. They are computed on demand and are
safe to hand to other goroutines.
*/
package types
