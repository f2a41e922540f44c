package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/spellcache/spellcache/pkg/errors"
	"github.com/spellcache/spellcache/pkg/types"
	"github.com/spellcache/spellcache/pkg/utils"
)

// envPrefix prefixes every environment override
const envPrefix = "SPELLCACHE_"

// Dictionary sources
const (
	SourceFile  = "file"
	SourceS3    = "s3"
	SourceMinio = "minio"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Cache      CacheConfig      `yaml:"cache"`
	Preload    PreloadConfig    `yaml:"preload"`
	Memory     MemoryConfig     `yaml:"memory"`
	Dictionary DictionaryConfig `yaml:"dictionary"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"` // 0 disables the metrics server
}

// CacheConfig represents partition cache settings
type CacheConfig struct {
	MaxPartitions int `yaml:"max_partitions"`
	// WarmKeys are loaded at startup. Empty means the high-priority tier.
	WarmKeys []string `yaml:"warm_keys"`
}

// PreloadConfig represents preloader settings
type PreloadConfig struct {
	Enabled            bool          `yaml:"enabled"`
	MaxConcurrentLoads int           `yaml:"max_concurrent_loads"`
	LoadTimeout        time.Duration `yaml:"load_timeout"`
	LoadsPerSecond     float64       `yaml:"loads_per_second"`
	OptimizeInterval   time.Duration `yaml:"optimize_interval"`
	StatsMaxAge        time.Duration `yaml:"stats_max_age"`
}

// MemoryConfig represents memory guardian settings
type MemoryConfig struct {
	MonitorInterval       time.Duration `yaml:"monitor_interval"`
	WarningThreshold      string        `yaml:"warning_threshold"`
	CleanupThreshold      string        `yaml:"cleanup_threshold"`
	CriticalThreshold     string        `yaml:"critical_threshold"`
	CleanupShrinkFactor   float64       `yaml:"cleanup_shrink_factor"`
	MinCacheSize          int           `yaml:"min_cache_size"`
	CriticalCacheSize     int           `yaml:"critical_cache_size"`
	CriticalReclaimPasses int           `yaml:"critical_reclaim_passes"`
}

// DictionaryConfig represents where partitions are read from
type DictionaryConfig struct {
	Source          string `yaml:"source"`
	Directory       string `yaml:"directory"`
	Prefix          string `yaml:"prefix"`
	Extension       string `yaml:"extension"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	UseSSL          bool   `yaml:"use_ssl"`

	// RetryAttempts bounds attempts per partition load on transport failures. 1 disables retries.
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`

	// BreakerFailures stops loads after this many consecutive transport failures
	// for BreakerCooldown. 0 disables the breaker.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// NewDefault returns a configuration with default values
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			MetricsPort: 8080,
		},
		Cache: CacheConfig{
			MaxPartitions: 10,
		},
		Preload: PreloadConfig{
			Enabled:            true,
			MaxConcurrentLoads: 4,
			LoadTimeout:        30 * time.Second,
			LoadsPerSecond:     0,
			OptimizeInterval:   5 * time.Minute,
			StatsMaxAge:        24 * time.Hour,
		},
		Memory: MemoryConfig{
			MonitorInterval:       2 * time.Minute,
			WarningThreshold:      "300MB",
			CleanupThreshold:      "400MB",
			CriticalThreshold:     "500MB",
			CleanupShrinkFactor:   0.25,
			MinCacheSize:          4,
			CriticalCacheSize:     3,
			CriticalReclaimPasses: 3,
		},
		Dictionary: DictionaryConfig{
			Source:        SourceFile,
			Directory:     "./dictionaries",
			Extension:     ".txt",
			UseSSL:        true,
			RetryAttempts: 3,
			RetryDelay:    100 * time.Millisecond,

			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return loadError("failed to read config file", err).WithDetail("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return loadError("failed to parse config file", err).WithDetail("file", filename)
	}

	return nil
}

// LoadFromEnv applies SPELLCACHE_* environment overrides
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	setString(&c.Global.LogLevel, "LOG_LEVEL")
	setString(&c.Global.LogFormat, "LOG_FORMAT")
	if err := setInt(&c.Global.MetricsPort, "METRICS_PORT"); err != nil {
		return err
	}

	// Cache settings
	if err := setInt(&c.Cache.MaxPartitions, "CACHE_MAX_PARTITIONS"); err != nil {
		return err
	}
	if val := os.Getenv(envPrefix + "CACHE_WARM_KEYS"); val != "" {
		c.Cache.WarmKeys = strings.Split(val, ",")
	}

	// Preload settings
	setBool(&c.Preload.Enabled, "PRELOAD_ENABLED")
	if err := setInt(&c.Preload.MaxConcurrentLoads, "PRELOAD_MAX_CONCURRENT_LOADS"); err != nil {
		return err
	}
	if err := setDuration(&c.Preload.LoadTimeout, "PRELOAD_LOAD_TIMEOUT"); err != nil {
		return err
	}
	if err := setFloat(&c.Preload.LoadsPerSecond, "PRELOAD_LOADS_PER_SECOND"); err != nil {
		return err
	}
	if err := setDuration(&c.Preload.OptimizeInterval, "PRELOAD_OPTIMIZE_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.Preload.StatsMaxAge, "PRELOAD_STATS_MAX_AGE"); err != nil {
		return err
	}

	// Memory settings
	if err := setDuration(&c.Memory.MonitorInterval, "MEMORY_MONITOR_INTERVAL"); err != nil {
		return err
	}
	setString(&c.Memory.WarningThreshold, "MEMORY_WARNING_THRESHOLD")
	setString(&c.Memory.CleanupThreshold, "MEMORY_CLEANUP_THRESHOLD")
	setString(&c.Memory.CriticalThreshold, "MEMORY_CRITICAL_THRESHOLD")
	if err := setFloat(&c.Memory.CleanupShrinkFactor, "MEMORY_CLEANUP_SHRINK_FACTOR"); err != nil {
		return err
	}
	if err := setInt(&c.Memory.MinCacheSize, "MEMORY_MIN_CACHE_SIZE"); err != nil {
		return err
	}
	if err := setInt(&c.Memory.CriticalCacheSize, "MEMORY_CRITICAL_CACHE_SIZE"); err != nil {
		return err
	}
	if err := setInt(&c.Memory.CriticalReclaimPasses, "MEMORY_CRITICAL_RECLAIM_PASSES"); err != nil {
		return err
	}

	// Dictionary settings
	setString(&c.Dictionary.Source, "DICTIONARY_SOURCE")
	setString(&c.Dictionary.Directory, "DICTIONARY_DIRECTORY")
	setString(&c.Dictionary.Prefix, "DICTIONARY_PREFIX")
	setString(&c.Dictionary.Extension, "DICTIONARY_EXTENSION")
	setString(&c.Dictionary.Bucket, "DICTIONARY_BUCKET")
	setString(&c.Dictionary.Region, "DICTIONARY_REGION")
	setString(&c.Dictionary.Endpoint, "DICTIONARY_ENDPOINT")
	setString(&c.Dictionary.AccessKeyID, "DICTIONARY_ACCESS_KEY_ID")
	setString(&c.Dictionary.SecretAccessKey, "DICTIONARY_SECRET_ACCESS_KEY")
	setBool(&c.Dictionary.ForcePathStyle, "DICTIONARY_FORCE_PATH_STYLE")
	setBool(&c.Dictionary.UseSSL, "DICTIONARY_USE_SSL")
	if err := setInt(&c.Dictionary.RetryAttempts, "DICTIONARY_RETRY_ATTEMPTS"); err != nil {
		return err
	}
	if err := setDuration(&c.Dictionary.RetryDelay, "DICTIONARY_RETRY_DELAY"); err != nil {
		return err
	}
	if err := setInt(&c.Dictionary.BreakerFailures, "DICTIONARY_BREAKER_FAILURES"); err != nil {
		return err
	}
	if err := setDuration(&c.Dictionary.BreakerCooldown, "DICTIONARY_BREAKER_COOLDOWN"); err != nil {
		return err
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return validationError("global.log_level", c.Global.LogLevel, err.Error())
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		return validationError("global.log_format", c.Global.LogFormat, err.Error())
	}
	if c.Global.MetricsPort < 0 || c.Global.MetricsPort > 65535 {
		return validationError("global.metrics_port", c.Global.MetricsPort, "must be between 0 and 65535")
	}

	if c.Cache.MaxPartitions <= 0 {
		return validationError("cache.max_partitions", c.Cache.MaxPartitions, "must be greater than 0")
	}

	if c.Preload.MaxConcurrentLoads <= 0 {
		return validationError("preload.max_concurrent_loads", c.Preload.MaxConcurrentLoads, "must be greater than 0")
	}
	if c.Preload.LoadsPerSecond < 0 {
		return validationError("preload.loads_per_second", c.Preload.LoadsPerSecond, "must not be negative")
	}

	if c.Memory.MonitorInterval <= 0 {
		return validationError("memory.monitor_interval", c.Memory.MonitorInterval.String(), "must be greater than 0")
	}
	if _, err := c.MemoryThresholds(); err != nil {
		return err
	}
	if c.Memory.CleanupShrinkFactor <= 0 || c.Memory.CleanupShrinkFactor >= 1 {
		return validationError("memory.cleanup_shrink_factor", c.Memory.CleanupShrinkFactor, "must be between 0 and 1 exclusive")
	}
	if c.Memory.MinCacheSize <= 0 || c.Memory.CriticalCacheSize <= 0 {
		return validationError("memory.min_cache_size", c.Memory.MinCacheSize, "cache floors must be greater than 0")
	}

	if c.Dictionary.RetryAttempts < 0 {
		return validationError("dictionary.retry_attempts", c.Dictionary.RetryAttempts, "must not be negative")
	}
	if c.Dictionary.BreakerFailures < 0 {
		return validationError("dictionary.breaker_failures", c.Dictionary.BreakerFailures, "must not be negative")
	}

	switch c.Dictionary.Source {
	case SourceFile:
		if c.Dictionary.Directory == "" {
			return validationError("dictionary.directory", "", "required for the file source")
		}
	case SourceS3, SourceMinio:
		if c.Dictionary.Bucket == "" {
			return validationError("dictionary.bucket", "", "required for object storage sources")
		}
		if c.Dictionary.Source == SourceMinio && c.Dictionary.Endpoint == "" {
			return validationError("dictionary.endpoint", "", "required for the minio source")
		}
	default:
		return validationError("dictionary.source", c.Dictionary.Source,
			fmt.Sprintf("must be one of: %s", strings.Join([]string{SourceFile, SourceS3, SourceMinio}, ", ")))
	}

	return nil
}

// MemoryThresholds parses the threshold sizes and checks their ordering
func (c *Configuration) MemoryThresholds() (types.MemoryThresholds, error) {
	var thresholds types.MemoryThresholds
	fields := []struct {
		name  string
		value string
		dst   *uint64
	}{
		{"memory.warning_threshold", c.Memory.WarningThreshold, &thresholds.Warning},
		{"memory.cleanup_threshold", c.Memory.CleanupThreshold, &thresholds.Cleanup},
		{"memory.critical_threshold", c.Memory.CriticalThreshold, &thresholds.Critical},
	}
	for _, f := range fields {
		n, err := utils.ParseBytes(f.value)
		if err != nil {
			return types.MemoryThresholds{}, validationError(f.name, f.value, err.Error())
		}
		*f.dst = n
	}

	if !thresholds.Ascending() {
		return types.MemoryThresholds{}, errors.NewError(errors.ErrCodeInvalidThresholds,
			"memory thresholds must satisfy warning < cleanup < critical").
			WithComponent("config").
			WithDetail("warning", c.Memory.WarningThreshold).
			WithDetail("cleanup", c.Memory.CleanupThreshold).
			WithDetail("critical", c.Memory.CriticalThreshold)
	}
	return thresholds, nil
}

// WarmKeys returns the configured warm-up keys, normalized
func (c *Configuration) WarmKeys() []types.PartitionKey {
	keys := make([]types.PartitionKey, 0, len(c.Cache.WarmKeys))
	for _, raw := range c.Cache.WarmKeys {
		if key := types.NewPartitionKey(strings.TrimSpace(raw)); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// Helper functions

func setString(dst *string, name string) {
	if val := os.Getenv(envPrefix + name); val != "" {
		*dst = val
	}
}

func setBool(dst *bool, name string) {
	if val := os.Getenv(envPrefix + name); val != "" {
		*dst = strings.ToLower(val) == "true"
	}
}

func setInt(dst *int, name string) error {
	if val := os.Getenv(envPrefix + name); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError(name, val, err)
		}
		*dst = n
	}
	return nil
}

func setFloat(dst *float64, name string) error {
	if val := os.Getenv(envPrefix + name); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return envError(name, val, err)
		}
		*dst = f
	}
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	if val := os.Getenv(envPrefix + name); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError(name, val, err)
		}
		*dst = d
	}
	return nil
}

func loadError(msg string, cause error) *errors.SpellCacheError {
	return errors.NewError(errors.ErrCodeConfigLoad, msg).
		WithComponent("config").
		WithCause(cause)
}

func envError(name, value string, cause error) error {
	return loadError("invalid environment override", cause).
		WithDetail("variable", envPrefix+name).
		WithDetail("value", value)
}

func validationError(field string, value interface{}, reason string) error {
	return errors.NewError(errors.ErrCodeConfigValidation, fmt.Sprintf("invalid %s: %s", field, reason)).
		WithComponent("config").
		WithDetail("field", field).
		WithDetail("value", value)
}
