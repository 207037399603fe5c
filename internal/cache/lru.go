package cache

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// LRU is a bounded in-process cache of query results keyed by the strings
// from keys.go.
type LRU struct {
	cache   *lru.Cache[string, any]
	metrics *lruMetrics
}

type lruMetrics struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	invalidated prometheus.Counter
	size        prometheus.Gauge
}

var _ Invalidator = (*LRU)(nil)

// NewLRU creates a cache holding at most size entries. Metrics are
// registered on reg when it is non-nil.
func NewLRU(size int, reg prometheus.Registerer) (*LRU, error) {
	c, err := lru.New[string, any](size)
	if err != nil {
		return nil, err
	}

	m := &lruMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workflow_realtime",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workflow_realtime",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		}),
		invalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workflow_realtime",
			Subsystem: "cache",
			Name:      "invalidated_total",
			Help:      "Total number of entries removed by invalidation",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "workflow_realtime",
			Subsystem: "cache",
			Name:      "size",
			Help:      "Current number of cached entries",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.invalidated, m.size)
	}

	return &LRU{cache: c, metrics: m}, nil
}

// Get returns the cached value for key.
func (l *LRU) Get(key string) (any, bool) {
	v, ok := l.cache.Get(key)
	if ok {
		l.metrics.hits.Inc()
	} else {
		l.metrics.misses.Inc()
	}
	return v, ok
}

// Set stores value under key, evicting the least recently used entry when
// full.
func (l *LRU) Set(key string, value any) {
	l.cache.Add(key, value)
	l.metrics.size.Set(float64(l.cache.Len()))
}

// Invalidate removes every key and every entry scoped beneath it, so
// "artifacts:W" also clears "artifacts:W:agent".
func (l *LRU) Invalidate(keys []string) error {
	removed := 0
	for _, key := range keys {
		if l.cache.Remove(key) {
			removed++
		}
		prefix := key + ":"
		for _, k := range l.cache.Keys() {
			if strings.HasPrefix(k, prefix) && l.cache.Remove(k) {
				removed++
			}
		}
	}
	l.metrics.invalidated.Add(float64(removed))
	l.metrics.size.Set(float64(l.cache.Len()))
	return nil
}

// Len returns the number of cached entries.
func (l *LRU) Len() int {
	return l.cache.Len()
}
