package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusHandle is a Handle backed by a set of Prometheus series
// registered under the backfs_ prefix.
type PrometheusHandle struct {
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	cacheFill    prometheus.Counter
	evictions    prometheus.Counter
	bytesUsed    prometheus.Gauge
	fetchLatency prometheus.Histogram
}

// NewPrometheusHandle registers BackFS's series on reg and returns a
// Handle backed by them. Panics if registration fails, since that only
// happens on a duplicate registration during initialization.
func NewPrometheusHandle(reg prometheus.Registerer) *PrometheusHandle {
	h := &PrometheusHandle{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backfs_cache_hits_total",
			Help: "Total blocks served from the cache without reading the backing file.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backfs_cache_misses_total",
			Help: "Total blocks read from the backing file because they weren't cached or were stale.",
		}),
		cacheFill: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backfs_cache_fill_bytes_total",
			Help: "Total bytes written into the cache from the backing file.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backfs_evictions_total",
			Help: "Total buckets freed to make room under the cache's byte budget.",
		}),
		bytesUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backfs_bytes_used",
			Help: "Bytes currently occupied by cached data.",
		}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backfs_fetch_duration_seconds",
			Help:    "Duration of Engine.Fetch calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		h.cacheHits,
		h.cacheMisses,
		h.cacheFill,
		h.evictions,
		h.bytesUsed,
		h.fetchLatency,
	)

	return h
}

func (h *PrometheusHandle) CacheHit()  { h.cacheHits.Inc() }
func (h *PrometheusHandle) CacheMiss() { h.cacheMisses.Inc() }
func (h *PrometheusHandle) CacheFill(bytes int64) {
	h.cacheFill.Add(float64(bytes))
}
func (h *PrometheusHandle) Eviction() { h.evictions.Inc() }
func (h *PrometheusHandle) BytesUsed(n int64) {
	h.bytesUsed.Set(float64(n))
}
func (h *PrometheusHandle) FetchLatency(d time.Duration) {
	h.fetchLatency.Observe(d.Seconds())
}
