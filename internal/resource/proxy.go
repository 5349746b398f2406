// Package resource implements the coarse resource monitor the scheduler and
// health monitor consult before admitting new work: a process heap-used
// proxy blended with the current in-flight attempt count. The heap-ratio
// reading reuses runtime.MemStats.HeapAlloc over HeapSys, the pair most
// Go services expose as "heap_alloc_bytes" / "heap_sys_bytes".
package resource

import (
	"runtime"
	"sync/atomic"
)

// Proxy tracks in-flight work and reports a blended [0,1] saturation figure.
// It satisfies both scheduler.ResourceProxy and health.ResourceProxy.
type Proxy struct {
	inFlight int64
	capacity int64
}

// NewProxy creates a Proxy. capacity is the nominal ceiling in-flight count
// is normalised against (typically max_concurrent_attempts).
func NewProxy(capacity int) *Proxy {
	if capacity < 1 {
		capacity = 1
	}
	return &Proxy{capacity: int64(capacity)}
}

// Acquire marks one unit of work in flight; call the returned func to release it.
func (p *Proxy) Acquire() func() {
	atomic.AddInt64(&p.inFlight, 1)
	return func() { atomic.AddInt64(&p.inFlight, -1) }
}

// Saturation blends heap-used ratio with in-flight occupancy, each weighted
// evenly.
func (p *Proxy) Saturation() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var heapRatio float64
	if m.HeapSys > 0 {
		heapRatio = float64(m.HeapAlloc) / float64(m.HeapSys)
	}
	if heapRatio > 1 {
		heapRatio = 1
	}

	inFlight:= atomic.LoadInt64(&p.inFlight)
	occupancy:= float64(inFlight) / float64(p.capacity)
	if occupancy > 1 {
		occupancy = 1
	}

	return 0.5*heapRatio + 0.5*occupancy
}
