/*
Package config loads and validates the spellcache service configuration.

Sources are applied in increasing priority:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│          (SPELLCACHE_*)                     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│          (NewDefault)                       │
	└─────────────────────────────────────────────┘

# File format

	global:
	  log_level: INFO          # TRACE, DEBUG, INFO, WARN, ERROR, FATAL
	  log_format: text         # text or json
	  metrics_port: 8080       # 0 disables the metrics server

	cache:
	  max_partitions: 10
	  warm_keys: []            # empty means the high-priority letters

	preload:
	  enabled: true
	  max_concurrent_loads: 4
	  load_timeout: 30s
	  loads_per_second: 0      # 0 means unlimited
	  optimize_interval: 5m
	  stats_max_age: 24h

	memory:
	  monitor_interval: 2m
	  warning_threshold: 300MB
	  cleanup_threshold: 400MB
	  critical_threshold: 500MB
	  cleanup_shrink_factor: 0.25
	  min_cache_size: 4
	  critical_cache_size: 3
	  critical_reclaim_passes: 3

	dictionary:
	  source: file             # file, s3 or minio
	  directory: ./dictionaries
	  prefix: ""
	  extension: .txt          # .txt, .txt.gz, .txt.zst, .txt.lz4
	  bucket: ""
	  region: ""
	  endpoint: ""
	  force_path_style: false
	  use_ssl: true

Every key has an environment override named SPELLCACHE_ followed by the upper-cased
section and key, for example SPELLCACHE_PRELOAD_LOAD_TIMEOUT=10s. The global section drops
its prefix: SPELLCACHE_LOG_LEVEL, SPELLCACHE_LOG_FORMAT, SPELLCACHE_METRICS_PORT.

# Usage

	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

Load failures carry the CONFIG_LOAD code, validation failures CONFIG_VALIDATION, and
misordered memory thresholds INVALID_THRESHOLDS.
*/
package config
