// Package diag logs periodic memory usage so slow leaks in a long-running
// controller show up in the journal.
package diag

import (
	"runtime"

	"go.uber.org/zap"
)

// Monitor compares memory statistics against the first snapshot it took.
type Monitor struct {
	every int
	ticks int
	base  *runtime.MemStats
	read  func(*runtime.MemStats)
	log   *zap.Logger
}

// NewMonitor returns a Monitor that reports every `every` ticks. A
// nonpositive value disables reporting.
func NewMonitor(every int, log *zap.Logger) *Monitor {
	return &Monitor{
		every: every,
		read:  runtime.ReadMemStats,
		log:   log,
	}
}

// Tick is called once per control tick. The first call records the
// baseline; every `every` calls after that a report is logged.
func (m *Monitor) Tick() {
	if m == nil || m.every <= 0 {
		return
	}
	if m.base == nil {
		m.base = &runtime.MemStats{}
		m.read(m.base)
		m.log.Info("memory baseline",
			zap.Uint64("heap_alloc", m.base.HeapAlloc),
			zap.Uint64("heap_objects", m.base.HeapObjects),
			zap.Int("goroutines", runtime.NumGoroutine()),
		)
		return
	}

	m.ticks++
	if m.ticks%m.every != 0 {
		return
	}

	var cur runtime.MemStats
	m.read(&cur)
	m.log.Info("memory usage",
		zap.Uint64("heap_alloc", cur.HeapAlloc),
		zap.Int64("heap_alloc_delta", int64(cur.HeapAlloc)-int64(m.base.HeapAlloc)),
		zap.Uint64("heap_objects", cur.HeapObjects),
		zap.Int64("heap_objects_delta", int64(cur.HeapObjects)-int64(m.base.HeapObjects)),
		zap.Uint64("sys", cur.Sys),
		zap.Uint32("num_gc", cur.NumGC),
		zap.Int("goroutines", runtime.NumGoroutine()),
	)
}
