/*
Package adapter wires the spellcache subsystems into a running service.

The Adapter owns one instance of every component and passes them to each other explicitly;
nothing is reached through globals:

	┌──────────────────────────────────────────────┐
	│           Spell-check engine / CLI           │
	└──────────────────────────────────────────────┘
	                       │ Check(text)
	┌──────────────────────────────────────────────┐
	│                ADAPTER LAYER                 │ ← This Package
	└──────────────────────────────────────────────┘
	      │            │             │          │
	┌─────┴────┐ ┌─────┴─────┐ ┌─────┴────┐ ┌───┴─────┐
	│ Preloader│ │ Partition │ │ Memory   │ │ Metrics │
	│          │ │ Cache     │ │ Guardian │ │         │
	└─────┬────┘ └───────────┘ └──────────┘ └─────────┘
	      │
	┌─────┴─────────────────────┐
	│ Loader (file, S3, MinIO)  │
	└───────────────────────────┘

# Lifecycle

Startup Sequence:
	1. Configuration validation
	2. Logger, metrics collector and dictionary source construction
	3. Cache, loader, preloader and guardian construction
	4. Warm-up of the configured keys (the HIGH tier when none are set)
	5. Memory monitoring, metrics server and usage housekeeping

Shutdown Sequence:
	1. Housekeeping and monitoring stop
	2. Preloader closes, abandoning queued loads
	3. Metrics server shuts down

A warm-up failure does not prevent startup. Check loads any partition the cache does not hold,
so a cold cache only costs latency.

# Usage Example

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("spellcache.yaml"); err != nil {
		log.Fatal(err)
	}

	svc, err := adapter.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := svc.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer svc.Stop(context.Background())

	result := svc.Check(ctx, "Привет, мир")
	fmt.Println(result.Unknown)

Before a memory cleanup evicts partitions, the guardian calls back into the adapter, which
snapshots the most recent CheckResult. Preserved returns that snapshot.
*/
package adapter
