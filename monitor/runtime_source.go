package monitor

import (
	"context"
	"runtime"

	"github.com/justapithecus/lumen/metric"
)

// RuntimeSource samples the Go runtime: heap usage, GC activity, and
// goroutine count. It is the process-introspection source enabled by the
// listener GC/runtime configuration options.
type RuntimeSource struct{}

// NewRuntimeSource returns a RuntimeSource.
func NewRuntimeSource() *RuntimeSource { return &RuntimeSource{} }

// Name identifies the source in poller diagnostics.
func (s *RuntimeSource) Name() string { return "runtime" }

// Poll reads runtime.MemStats and the goroutine count. It never fails.
func (s *RuntimeSource) Poll(_ context.Context) ([]Observation, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return []Observation{
		{
			Category:    "process.memory",
			Counter:     "heap_alloc_bytes",
			Kind:        metric.NumberOfItems,
			UnitCaption: "bytes",
			RawValue:    float64(ms.HeapAlloc),
		},
		{
			Category:    "process.memory",
			Counter:     "heap_objects",
			Kind:        metric.NumberOfItems,
			UnitCaption: "objects",
			RawValue:    float64(ms.HeapObjects),
		},
		{
			Category:    "process.gc",
			Counter:     "collections",
			Kind:        metric.TotalCount,
			UnitCaption: "collections",
			RawValue:    float64(ms.NumGC),
		},
		{
			Category:    "process.gc",
			Counter:     "pause_total_ns",
			Kind:        metric.TotalCount,
			UnitCaption: "nanoseconds",
			RawValue:    float64(ms.PauseTotalNs),
		},
		{
			Category:    "process.scheduler",
			Counter:     "goroutines",
			Kind:        metric.NumberOfItems,
			UnitCaption: "goroutines",
			RawValue:    float64(runtime.NumGoroutine()),
		},
	}, nil
}
