package cache

import "github.com/prometheus/client_golang/prometheus"

// metrics is the cache's prometheus instrumentation (spec's ambient
// observability section). NewTable builds one instance per Table; a nil
// *metrics (the zero Table) is never dereferenced because NewTable always
// installs one. Only entryLRUEvictions, chunkSplitsTotal and entriesLive are
// updated by the cache; lookupsTotal, chunkLRUEvictions, negativeHitsTotal
// and chunksLive are registered but never incremented or set.
type metrics struct {
	lookupsTotal      *prometheus.CounterVec
	entryLRUEvictions *prometheus.CounterVec
	chunkLRUEvictions *prometheus.CounterVec
	chunkSplitsTotal  prometheus.Counter
	negativeHitsTotal prometheus.Counter
	entriesLive       prometheus.Gauge
	chunksLive        prometheus.Gauge
}

// newMetrics constructs and registers the cache's collectors against reg.
// Passing a fresh prometheus.NewRegistry() keeps tests from colliding with
// the global default registry (spec's test-tooling section).
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		lookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mdcache",
			Name:      "lookups_total",
			Help:      "Lookup operations by outcome (hit, miss, negative).",
		}, []string{"outcome"}),
		entryLRUEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mdcache",
			Name:      "entry_lru_evictions_total",
			Help:      "Entries reclaimed from the reusable queue to satisfy an allocation.",
		}, []string{"reason"}),
		chunkLRUEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mdcache",
			Name:      "chunk_lru_evictions_total",
			Help:      "Dirent chunks reclaimed from the reusable queue.",
		}, []string{"reason"}),
		chunkSplitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mdcache",
			Name:      "chunk_splits_total",
			Help:      "Directory chunk splits performed while placing new dirents.",
		}),
		negativeHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mdcache",
			Name:      "negative_lookup_hits_total",
			Help:      "Lookups satisfied from a cached not-found dirent.",
		}),
		entriesLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mdcache",
			Name:      "entries_live",
			Help:      "Entries currently reachable through the node table.",
		}),
		chunksLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mdcache",
			Name:      "chunks_live",
			Help:      "Dirent chunks currently attached to a directory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.lookupsTotal, m.entryLRUEvictions, m.chunkLRUEvictions,
			m.chunkSplitsTotal, m.negativeHitsTotal, m.entriesLive, m.chunksLive)
	}
	return m
}
