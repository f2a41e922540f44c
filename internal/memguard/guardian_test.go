package memguard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spellcache/spellcache/internal/cache"
	"github.com/spellcache/spellcache/pkg/errors"
	"github.com/spellcache/spellcache/pkg/types"
	"github.com/spellcache/spellcache/pkg/utils"
)

// fakeReporter returns the configured heap size; after a reclaim it reports afterReclaim
type fakeReporter struct {
	mu           sync.Mutex
	heapUsed     uint64
	afterReclaim uint64
	reads        int
}

func (r *fakeReporter) ReadMemory() types.MemoryUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	return types.MemoryUsage{HeapUsed: r.heapUsed, HeapTotal: 1024 * mb}
}

func (r *fakeReporter) set(heapUsed uint64) {
	r.mu.Lock()
	r.heapUsed = heapUsed
	r.mu.Unlock()
}

type fakeReclaimer struct {
	mu       sync.Mutex
	calls    int
	reporter *fakeReporter
}

func (r *fakeReclaimer) Reclaim() {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.reporter != nil && r.reporter.afterReclaim > 0 {
		r.reporter.set(r.reporter.afterReclaim)
	}
}

func (r *fakeReclaimer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type cleanupRecorder struct {
	types.NoopMetrics
	mu      sync.Mutex
	levels  []string
	samples int
}

func (m *cleanupRecorder) RecordCleanup(level string, freedBytes uint64) {
	m.mu.Lock()
	m.levels = append(m.levels, level)
	m.mu.Unlock()
}

func (m *cleanupRecorder) RecordMemorySample(types.MemoryUsage) {
	m.mu.Lock()
	m.samples++
	m.mu.Unlock()
}

type testRig struct {
	guardian  *Guardian
	cache     *cache.PartitionCache
	reporter  *fakeReporter
	reclaimer *fakeReclaimer
	metrics   *cleanupRecorder
	preserved int
}

func newTestRig(t *testing.T, cacheSize int) *testRig {
	t.Helper()
	rig := &testRig{
		cache:    cache.NewPartitionCache(&cache.CacheConfig{MaxSize: cacheSize, Logger: utils.NopLogger()}),
		reporter: &fakeReporter{},
		metrics:  &cleanupRecorder{},
	}
	rig.reclaimer = &fakeReclaimer{reporter: rig.reporter}

	config := DefaultConfig()
	config.Reporter = rig.reporter
	config.Reclaimer = rig.reclaimer
	config.Metrics = rig.metrics
	config.Logger = utils.NopLogger()
	config.PreserveErrors = func() { rig.preserved++ }

	g, err := NewGuardian(rig.cache, config)
	if err != nil {
		t.Fatalf("Failed to create guardian: %v", err)
	}
	rig.guardian = g
	return rig
}

func (rig *testRig) fill(keys ...types.PartitionKey) {
	for _, key := range keys {
		rig.cache.Set(key, types.NewWordSet(string(key)+"слово"))
	}
}

func TestNewGuardian(t *testing.T) {
	g, err := NewGuardian(cache.NewPartitionCache(nil), Config{Logger: utils.NopLogger()})
	if err != nil {
		t.Fatalf("Expected defaults to be valid, got %v", err)
	}

	status := g.GetStatus()
	if status.Interval != 2*time.Minute {
		t.Errorf("Expected default interval 2m, got %v", status.Interval)
	}
	if status.Thresholds.Warning != 300*mb || status.Thresholds.Critical != 500*mb {
		t.Errorf("Unexpected default thresholds: %+v", status.Thresholds)
	}
	if status.Monitoring {
		t.Error("Expected guardian to start idle")
	}

	_, err = NewGuardian(cache.NewPartitionCache(nil), Config{
		Thresholds: types.MemoryThresholds{Warning: 500 * mb, Cleanup: 400 * mb, Critical: 600 * mb},
		Logger:     utils.NopLogger(),
	})
	if !errors.Is(err, errors.Sentinel(errors.ErrCodeInvalidThresholds)) {
		t.Errorf("Expected INVALID_THRESHOLDS, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	thresholds := DefaultConfig().Thresholds
	tests := []struct {
		heap uint64
		want Level
	}{
		{heap: 0, want: LevelNormal},
		{heap: 299 * mb, want: LevelNormal},
		{heap: 300 * mb, want: LevelWarning},
		{heap: 350 * mb, want: LevelWarning},
		{heap: 450 * mb, want: LevelCleanup},
		{heap: 500 * mb, want: LevelCritical},
		{heap: 900 * mb, want: LevelCritical},
	}

	for _, tt := range tests {
		if got := classify(tt.heap, thresholds); got != tt.want {
			t.Errorf("classify(%s) = %s, want %s", utils.FormatBytes(tt.heap), got, tt.want)
		}
	}
}

func TestGuardian_NormalAndWarningLeaveCacheAlone(t *testing.T) {
	rig := newTestRig(t, 10)
	rig.fill("п", "с", "ф")

	for _, heap := range []uint64{100 * mb, 350 * mb} {
		rig.reporter.set(heap)
		rig.guardian.ForceCheck()
	}

	if got := rig.cache.GetStats().MaxSize; got != 10 {
		t.Errorf("Expected max size untouched, got %d", got)
	}
	if rig.preserved != 0 {
		t.Errorf("Expected preserve hook not to run, ran %d times", rig.preserved)
	}
	if rig.reclaimer.count() != 0 {
		t.Errorf("Expected no reclaim, got %d", rig.reclaimer.count())
	}
	stats := rig.guardian.GetMemoryStats()
	if stats.Warnings != 1 || stats.Cleanups != 0 || stats.Criticals != 0 {
		t.Errorf("Unexpected counters: %+v", stats)
	}
}

func TestGuardian_CleanupFiresOnceNotCritical(t *testing.T) {
	rig := newTestRig(t, 10)
	rig.fill("п", "с", "к", "н", "о", "в", "ф", "ж")
	rig.reporter.set(450 * mb)
	rig.reporter.afterReclaim = 420 * mb

	result := rig.guardian.ForceCheck()

	if result.Level != LevelCleanup {
		t.Fatalf("Expected cleanup level, got %s", result.Level)
	}
	if result.FreedBytes != 30*mb {
		t.Errorf("Expected 30MB freed, got %s", utils.FormatBytes(result.FreedBytes))
	}
	stats := rig.cache.GetStats()
	if stats.MaxSize != 7 {
		t.Errorf("Expected max size 7 after 25%% shrink, got %d", stats.MaxSize)
	}
	if stats.Size != 7 {
		t.Errorf("Expected 7 resident partitions, got %d", stats.Size)
	}
	if rig.cache.Has("ф") {
		t.Error("Expected low-tier partition to be evicted first")
	}
	if rig.reclaimer.count() != 1 {
		t.Errorf("Expected exactly one reclaim, got %d", rig.reclaimer.count())
	}
	if rig.preserved != 1 {
		t.Errorf("Expected preserve hook once, got %d", rig.preserved)
	}

	memStats := rig.guardian.GetMemoryStats()
	if memStats.Cleanups != 1 || memStats.Criticals != 0 || memStats.Warnings != 0 {
		t.Errorf("Unexpected counters: cleanups=%d criticals=%d warnings=%d",
			memStats.Cleanups, memStats.Criticals, memStats.Warnings)
	}
	if len(rig.metrics.levels) != 1 || rig.metrics.levels[0] != "cleanup" {
		t.Errorf("Expected a single cleanup metric, got %v", rig.metrics.levels)
	}
}

func TestGuardian_CleanupRespectsFloor(t *testing.T) {
	rig := newTestRig(t, 5)
	rig.reporter.set(450 * mb)

	rig.guardian.ForceCheck()
	if got := rig.cache.GetStats().MaxSize; got != 4 {
		t.Errorf("Expected floor of 4, got %d", got)
	}

	rig.guardian.ForceCheck()
	if got := rig.cache.GetStats().MaxSize; got != 4 {
		t.Errorf("Expected to stay at floor, got %d", got)
	}
}

func TestGuardian_CleanupNeverGrowsCache(t *testing.T) {
	rig := newTestRig(t, 2)
	rig.reporter.set(450 * mb)

	rig.guardian.ForceCheck()
	if got := rig.cache.GetStats().MaxSize; got != 2 {
		t.Errorf("Expected max size to stay 2, got %d", got)
	}
}

func TestGuardian_CriticalCleanup(t *testing.T) {
	rig := newTestRig(t, 10)
	rig.fill("п", "с", "ф", "ж", "я", "к")
	rig.reporter.set(600 * mb)

	result := rig.guardian.ForceCheck()

	if result.Level != LevelCritical {
		t.Fatalf("Expected critical level, got %s", result.Level)
	}
	stats := rig.cache.GetStats()
	if stats.MaxSize != 3 {
		t.Errorf("Expected max size 3, got %d", stats.MaxSize)
	}
	for _, key := range []types.PartitionKey{"ф", "ж", "я"} {
		if rig.cache.Has(key) {
			t.Errorf("Expected low-priority partition %s to be removed", key)
		}
	}
	if stats.Size > 3 {
		t.Errorf("Expected at most 3 partitions, got %d", stats.Size)
	}
	if rig.reclaimer.count() != 3 {
		t.Errorf("Expected 3 reclaim passes, got %d", rig.reclaimer.count())
	}
	if rig.preserved != 1 {
		t.Errorf("Expected preserve hook once, got %d", rig.preserved)
	}
	if got := rig.guardian.GetMemoryStats().Cleanups; got != 0 {
		t.Errorf("Expected cleanup counter untouched, got %d", got)
	}
}

func TestGuardian_PreserveHookPanicIsContained(t *testing.T) {
	rig := newTestRig(t, 10)
	rig.guardian.config.PreserveErrors = func() { panic("engine snapshot failed") }
	rig.reporter.set(450 * mb)

	result := rig.guardian.ForceCheck()
	if result.Level != LevelCleanup {
		t.Errorf("Expected cleanup to proceed, got %s", result.Level)
	}
	if rig.cache.GetStats().MaxSize != 7 {
		t.Errorf("Expected cache shrink despite hook panic, got %d", rig.cache.GetStats().MaxSize)
	}
}

func TestGuardian_UpdateThresholds(t *testing.T) {
	rig := newTestRig(t, 10)

	if err := rig.guardian.UpdateThresholds(types.MemoryThresholds{Warning: 350 * mb}); err != nil {
		t.Fatalf("Expected partial update to succeed, got %v", err)
	}
	got := rig.guardian.GetStatus().Thresholds
	want := types.MemoryThresholds{Warning: 350 * mb, Cleanup: 400 * mb, Critical: 500 * mb}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	err := rig.guardian.UpdateThresholds(types.MemoryThresholds{Cleanup: 300 * mb})
	if !errors.Is(err, errors.Sentinel(errors.ErrCodeInvalidThresholds)) {
		t.Fatalf("Expected INVALID_THRESHOLDS, got %v", err)
	}
	if rig.guardian.GetStatus().Thresholds != want {
		t.Error("Expected rejected update to keep previous thresholds")
	}

	// 450MB is now only a warning
	if err := rig.guardian.UpdateThresholds(types.MemoryThresholds{Cleanup: 460 * mb}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	rig.reporter.set(450 * mb)
	if level := rig.guardian.ForceCheck().Level; level != LevelWarning {
		t.Errorf("Expected warning after raising cleanup threshold, got %s", level)
	}
}

func TestGuardian_StartStopMonitoring(t *testing.T) {
	rig := newTestRig(t, 10)
	rig.guardian.config.Interval = 10 * time.Millisecond
	rig.reporter.set(100 * mb)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rig.guardian.StartMonitoring(ctx); err != nil {
		t.Fatalf("Failed to start monitoring: %v", err)
	}
	if err := rig.guardian.StartMonitoring(ctx); err != nil {
		t.Errorf("Expected second start to be a no-op, got %v", err)
	}
	if !rig.guardian.GetStatus().Monitoring {
		t.Error("Expected monitoring to be active")
	}

	time.Sleep(60 * time.Millisecond)
	rig.guardian.StopMonitoring()
	rig.guardian.StopMonitoring()

	if rig.guardian.GetStatus().Monitoring {
		t.Error("Expected monitoring to be stopped")
	}
	rig.metrics.mu.Lock()
	samples := rig.metrics.samples
	rig.metrics.mu.Unlock()
	if samples < 2 {
		t.Errorf("Expected at least 2 samples, got %d", samples)
	}
	if rig.guardian.GetStatus().LastCheck.IsZero() {
		t.Error("Expected a recorded check time")
	}

	// restartable after stop
	if err := rig.guardian.StartMonitoring(ctx); err != nil {
		t.Fatalf("Failed to restart monitoring: %v", err)
	}
	rig.guardian.StopMonitoring()
}

func TestGuardian_ConcurrentStartStop(t *testing.T) {
	rig := newTestRig(t, 10)
	rig.guardian.config.Interval = time.Millisecond
	rig.reporter.set(100 * mb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := rig.guardian.StartMonitoring(ctx); err != nil {
				t.Errorf("StartMonitoring() error = %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			rig.guardian.StopMonitoring()
		}()
	}
	wg.Wait()

	rig.guardian.StopMonitoring()
	if rig.guardian.IsMonitoring() {
		t.Error("Expected monitoring to be stopped")
	}
	if err := rig.guardian.StartMonitoring(ctx); err != nil {
		t.Fatalf("Failed to restart monitoring: %v", err)
	}
	if !rig.guardian.IsMonitoring() {
		t.Error("Expected monitoring to be active after restart")
	}
	rig.guardian.StopMonitoring()
}

func TestGuardian_ContextCancelStopsMonitoring(t *testing.T) {
	rig := newTestRig(t, 10)
	rig.guardian.config.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	if err := rig.guardian.StartMonitoring(ctx); err != nil {
		t.Fatalf("Failed to start monitoring: %v", err)
	}
	cancel()
	rig.guardian.wg.Wait()

	if rig.guardian.IsMonitoring() {
		t.Error("Expected monitoring to end with its context")
	}
}

func TestRuntimeReporter(t *testing.T) {
	usage := RuntimeReporter{}.ReadMemory()
	if usage.HeapUsed == 0 || usage.HeapTotal == 0 {
		t.Errorf("Expected non-zero heap figures, got %+v", usage)
	}
	if usage.HeapUsed > usage.HeapTotal {
		t.Errorf("Heap used %d exceeds heap total %d", usage.HeapUsed, usage.HeapTotal)
	}
	RuntimeReclaimer{}.Reclaim()
}
