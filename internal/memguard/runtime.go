package memguard

import (
	"runtime"
	"runtime/debug"

	"github.com/spellcache/spellcache/pkg/types"
)

// RuntimeReporter samples the Go runtime allocator
type RuntimeReporter struct{}

// ReadMemory implements types.MemoryReporter
func (RuntimeReporter) ReadMemory() types.MemoryUsage {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return types.MemoryUsage{
		HeapUsed:  memStats.HeapAlloc,
		HeapTotal: memStats.HeapSys,
		External:  memStats.Sys - memStats.HeapSys,
		RSS:       memStats.Sys - memStats.HeapReleased,
	}
}

// RuntimeReclaimer runs a collection and returns freed spans to the OS
type RuntimeReclaimer struct{}

// Reclaim implements types.Reclaimer
func (RuntimeReclaimer) Reclaim() {
	runtime.GC()
	debug.FreeOSMemory()
}

var (
	_ types.MemoryReporter = RuntimeReporter{}
	_ types.Reclaimer      = RuntimeReclaimer{}
)
