package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spellcache/spellcache/pkg/errors"
	"github.com/spellcache/spellcache/pkg/types"
)

// Test Constants
const (
	TestDebugLevel = "DEBUG"
	mb             = 1024 * 1024
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	// Test global defaults
	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 8080 {
		t.Errorf("Expected MetricsPort to be 8080, got %d", cfg.Global.MetricsPort)
	}

	// Test cache and preload defaults
	if cfg.Cache.MaxPartitions != 10 {
		t.Errorf("Expected MaxPartitions to be 10, got %d", cfg.Cache.MaxPartitions)
	}
	if !cfg.Preload.Enabled {
		t.Error("Expected preloading to be enabled by default")
	}
	if cfg.Preload.LoadTimeout != 30*time.Second {
		t.Errorf("Expected LoadTimeout to be 30s, got %v", cfg.Preload.LoadTimeout)
	}
	if cfg.Preload.StatsMaxAge != 24*time.Hour {
		t.Errorf("Expected StatsMaxAge to be 24h, got %v", cfg.Preload.StatsMaxAge)
	}

	// Test memory defaults
	if cfg.Memory.MonitorInterval != 2*time.Minute {
		t.Errorf("Expected MonitorInterval to be 2m, got %v", cfg.Memory.MonitorInterval)
	}
	thresholds, err := cfg.MemoryThresholds()
	if err != nil {
		t.Fatalf("MemoryThresholds() error = %v", err)
	}
	want := types.MemoryThresholds{Warning: 300 * mb, Cleanup: 400 * mb, Critical: 500 * mb}
	if thresholds != want {
		t.Errorf("Expected thresholds %+v, got %+v", want, thresholds)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		config   func() *Configuration
		wantErr  bool
		wantCode errors.ErrorCode
		errMsg   string
	}{
		{
			name: "valid config",
			config: func() *Configuration {
				return NewDefault()
			},
			wantErr: false,
		},
		{
			name: "non-positive max partitions",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.MaxPartitions = 0
				return cfg
			},
			wantErr:  true,
			wantCode: errors.ErrCodeConfigValidation,
			errMsg:   "cache.max_partitions",
		},
		{
			name: "thresholds out of order",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Memory.CleanupThreshold = "600MB"
				return cfg
			},
			wantErr:  true,
			wantCode: errors.ErrCodeInvalidThresholds,
		},
		{
			name: "unparsable threshold",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Memory.WarningThreshold = "lots"
				return cfg
			},
			wantErr:  true,
			wantCode: errors.ErrCodeConfigValidation,
			errMsg:   "memory.warning_threshold",
		},
		{
			name: "shrink factor out of range",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Memory.CleanupShrinkFactor = 1
				return cfg
			},
			wantErr:  true,
			wantCode: errors.ErrCodeConfigValidation,
			errMsg:   "cleanup_shrink_factor",
		},
		{
			name: "unknown source",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Dictionary.Source = "ftp"
				return cfg
			},
			wantErr:  true,
			wantCode: errors.ErrCodeConfigValidation,
			errMsg:   "dictionary.source",
		},
		{
			name: "s3 without bucket",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Dictionary.Source = SourceS3
				return cfg
			},
			wantErr:  true,
			wantCode: errors.ErrCodeConfigValidation,
			errMsg:   "dictionary.bucket",
		},
		{
			name: "minio without endpoint",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Dictionary.Source = SourceMinio
				cfg.Dictionary.Bucket = "dictionaries"
				return cfg
			},
			wantErr:  true,
			wantCode: errors.ErrCodeConfigValidation,
			errMsg:   "dictionary.endpoint",
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "INVALID"
				return cfg
			},
			wantErr:  true,
			wantCode: errors.ErrCodeConfigValidation,
			errMsg:   "global.log_level",
		},
		{
			name: "invalid log format",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogFormat = "xml"
				return cfg
			},
			wantErr:  true,
			wantCode: errors.ErrCodeConfigValidation,
			errMsg:   "global.log_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil {
				return
			}
			if code, _ := errors.CodeOf(err); code != tt.wantCode {
				t.Errorf("Validate() code = %s, want %s", code, tt.wantCode)
			}
			if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  log_level: DEBUG
  log_format: json
  metrics_port: 9090

cache:
  max_partitions: 16
  warm_keys: [п, С, к]

preload:
  max_concurrent_loads: 8
  load_timeout: 5s
  loads_per_second: 20

memory:
  monitor_interval: 30s
  critical_threshold: 1GB

dictionary:
  source: s3
  bucket: ru-dictionaries
  prefix: partitions/
  extension: .txt.zst
`

	err := os.WriteFile(configFile, []byte(configContent), 0600)
	if err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	err = cfg.LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	// Verify loaded values
	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9090 {
		t.Errorf("Expected MetricsPort to be 9090, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Cache.MaxPartitions != 16 {
		t.Errorf("Expected MaxPartitions to be 16, got %d", cfg.Cache.MaxPartitions)
	}
	if cfg.Preload.LoadTimeout != 5*time.Second {
		t.Errorf("Expected LoadTimeout to be 5s, got %v", cfg.Preload.LoadTimeout)
	}
	if cfg.Preload.LoadsPerSecond != 20 {
		t.Errorf("Expected LoadsPerSecond to be 20, got %v", cfg.Preload.LoadsPerSecond)
	}
	if cfg.Memory.MonitorInterval != 30*time.Second {
		t.Errorf("Expected MonitorInterval to be 30s, got %v", cfg.Memory.MonitorInterval)
	}
	// untouched fields keep defaults
	if cfg.Memory.WarningThreshold != "300MB" {
		t.Errorf("Expected WarningThreshold default, got %s", cfg.Memory.WarningThreshold)
	}
	if cfg.Dictionary.Source != SourceS3 || cfg.Dictionary.Bucket != "ru-dictionaries" {
		t.Errorf("Unexpected dictionary config %+v", cfg.Dictionary)
	}

	keys := cfg.WarmKeys()
	wantKeys := []types.PartitionKey{"п", "с", "к"}
	if len(keys) != len(wantKeys) {
		t.Fatalf("Expected %d warm keys, got %v", len(wantKeys), keys)
	}
	for i := range keys {
		if keys[i] != wantKeys[i] {
			t.Errorf("warm key %d = %s, want %s", i, keys[i], wantKeys[i])
		}
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected loaded config to validate, got %v", err)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile("/nonexistent/config.yaml")
	if !errors.Is(err, errors.Sentinel(errors.ErrCodeConfigLoad)) {
		t.Errorf("Expected CONFIG_LOAD for missing file, got %v", err)
	}

	configFile := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(configFile, []byte("cache: [unterminated"), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}
	err = cfg.LoadFromFile(configFile)
	if !errors.Is(err, errors.Sentinel(errors.ErrCodeConfigLoad)) {
		t.Errorf("Expected CONFIG_LOAD for malformed file, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	// Set up environment variables
	testEnvVars := map[string]string{
		"SPELLCACHE_LOG_LEVEL":                 "ERROR",
		"SPELLCACHE_METRICS_PORT":              "9191",
		"SPELLCACHE_CACHE_MAX_PARTITIONS":      "12",
		"SPELLCACHE_CACHE_WARM_KEYS":           "п, с",
		"SPELLCACHE_PRELOAD_ENABLED":           "false",
		"SPELLCACHE_PRELOAD_LOAD_TIMEOUT":      "10s",
		"SPELLCACHE_PRELOAD_LOADS_PER_SECOND":  "2.5",
		"SPELLCACHE_MEMORY_CLEANUP_THRESHOLD":  "450MB",
		"SPELLCACHE_DICTIONARY_SOURCE":         "minio",
		"SPELLCACHE_DICTIONARY_ENDPOINT":       "localhost:9000",
		"SPELLCACHE_DICTIONARY_BUCKET":         "dict",
		"SPELLCACHE_DICTIONARY_USE_SSL":        "false",
		"SPELLCACHE_DICTIONARY_RETRY_ATTEMPTS": "5",
	}
	for key, value := range testEnvVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9191 {
		t.Errorf("Expected MetricsPort to be 9191, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Cache.MaxPartitions != 12 {
		t.Errorf("Expected MaxPartitions to be 12, got %d", cfg.Cache.MaxPartitions)
	}
	if len(cfg.WarmKeys()) != 2 {
		t.Errorf("Expected 2 warm keys, got %v", cfg.WarmKeys())
	}
	if cfg.Preload.Enabled {
		t.Error("Expected preloading to be disabled")
	}
	if cfg.Preload.LoadTimeout != 10*time.Second {
		t.Errorf("Expected LoadTimeout to be 10s, got %v", cfg.Preload.LoadTimeout)
	}
	if cfg.Preload.LoadsPerSecond != 2.5 {
		t.Errorf("Expected LoadsPerSecond to be 2.5, got %v", cfg.Preload.LoadsPerSecond)
	}
	if cfg.Memory.CleanupThreshold != "450MB" {
		t.Errorf("Expected CleanupThreshold to be 450MB, got %s", cfg.Memory.CleanupThreshold)
	}
	if cfg.Dictionary.UseSSL {
		t.Error("Expected UseSSL to be false")
	}
	if cfg.Dictionary.RetryAttempts != 5 {
		t.Errorf("Expected RetryAttempts to be 5, got %d", cfg.Dictionary.RetryAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected env config to validate, got %v", err)
	}
}

func TestLoadFromEnvInvalidValue(t *testing.T) {
	t.Setenv("SPELLCACHE_PRELOAD_LOAD_TIMEOUT", "soon")

	cfg := NewDefault()
	err := cfg.LoadFromEnv()
	if !errors.Is(err, errors.Sentinel(errors.ErrCodeConfigLoad)) {
		t.Fatalf("Expected CONFIG_LOAD, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid environment override") {
		t.Errorf("Unexpected error message %v", err)
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "nested", "config.yaml")

	original := NewDefault()
	original.Cache.MaxPartitions = 20
	original.Preload.LoadTimeout = 45 * time.Second
	original.Dictionary.Extension = ".txt.gz"

	if err := original.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if loaded.Cache.MaxPartitions != 20 {
		t.Errorf("Expected MaxPartitions 20, got %d", loaded.Cache.MaxPartitions)
	}
	if loaded.Preload.LoadTimeout != 45*time.Second {
		t.Errorf("Expected LoadTimeout 45s, got %v", loaded.Preload.LoadTimeout)
	}
	if loaded.Dictionary.Extension != ".txt.gz" {
		t.Errorf("Expected extension .txt.gz, got %s", loaded.Dictionary.Extension)
	}
}
