// Package metrics exposes the cache engine's effectiveness counters. It
// mirrors the teacher's MetricHandle/noopMetrics split so every call site
// (all of them in the FUSE adapter) takes a Handle and never cares whether
// anything is actually collecting it.
package metrics

import "time"

// Handle records cache effectiveness events. Implementations must be
// safe for concurrent use, since the FUSE adapter calls them from whichever
// goroutine is serving a given request. The adapter records FetchLatency
// and BytesUsed; nothing calls CacheHit, CacheMiss, CacheFill or Eviction.
type Handle interface {
	CacheHit()
	CacheMiss()
	CacheFill(bytes int64)
	Eviction()
	BytesUsed(n int64)
	FetchLatency(d time.Duration)
}

// NewNoopHandle returns a Handle that discards everything, for tests and
// for components that embed the engine without a metrics exporter.
func NewNoopHandle() Handle {
	return noopHandle{}
}

type noopHandle struct{}

func (noopHandle) CacheHit()                    {}
func (noopHandle) CacheMiss()                   {}
func (noopHandle) CacheFill(_ int64)             {}
func (noopHandle) Eviction()                    {}
func (noopHandle) BytesUsed(_ int64)             {}
func (noopHandle) FetchLatency(_ time.Duration) {}
