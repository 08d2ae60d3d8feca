package profile

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups tracks hits and misses per cache layer.
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwire_profile_cache_lookups_total",
		Help: "Profile cache lookups by layer and outcome",
	}, []string{"layer", "outcome"})

	// OriginCalls counts round trips to the identity service, the expensive path.
	originCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedwire_profile_origin_calls_total",
		Help: "Total calls to the identity service",
	})

	lookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedwire_profile_lookup_duration_seconds",
		Help:    "Duration of profile cache lookups in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// MetricsSnapshot is a point-in-time view of the cache counters.
type MetricsSnapshot struct {
	LocalHits    int64   `json:"localHits"`
	LocalMisses  int64   `json:"localMisses"`
	SharedHits   int64   `json:"sharedHits"`
	SharedMisses int64   `json:"sharedMisses"`
	OriginCalls  int64   `json:"originCalls"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
}

// counters holds the in-process metric state. Counters are atomic; the
// latency window keeps only the most recent samples to bound memory.
type counters struct {
	localHits    atomic.Int64
	localMisses  atomic.Int64
	sharedHits   atomic.Int64
	sharedMisses atomic.Int64
	originCalls  atomic.Int64

	mu        sync.Mutex
	latencies []float64
	next      int
	filled    bool
	window    int
}

func newCounters(window int) *counters {
	if window < 1 {
		window = 1
	}
	return &counters{
		latencies: make([]float64, window),
		window:    window,
	}
}

func (c *counters) localHit() {
	c.localHits.Add(1)
	cacheLookups.WithLabelValues("local", "hit").Inc()
}

func (c *counters) localMiss() {
	c.localMisses.Add(1)
	cacheLookups.WithLabelValues("local", "miss").Inc()
}

func (c *counters) sharedHit() {
	c.sharedHits.Add(1)
	cacheLookups.WithLabelValues("shared", "hit").Inc()
}

func (c *counters) sharedMiss() {
	c.sharedMisses.Add(1)
	cacheLookups.WithLabelValues("shared", "miss").Inc()
}

func (c *counters) origin(n int64) {
	c.originCalls.Add(n)
	originCalls.Add(float64(n))
}

func (c *counters) recordLatency(ms float64) {
	lookupDuration.Observe(ms / 1000)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies[c.next] = ms
	c.next = (c.next + 1) % c.window
	if c.next == 0 {
		c.filled = true
	}
}

func (c *counters) snapshot() MetricsSnapshot {
	c.mu.Lock()
	n := c.next
	if c.filled {
		n = c.window
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += c.latencies[i]
	}
	c.mu.Unlock()

	var avg float64
	if n > 0 {
		avg = sum / float64(n)
	}

	return MetricsSnapshot{
		LocalHits:    c.localHits.Load(),
		LocalMisses:  c.localMisses.Load(),
		SharedHits:   c.sharedHits.Load(),
		SharedMisses: c.sharedMisses.Load(),
		OriginCalls:  c.originCalls.Load(),
		AvgLatencyMs: avg,
	}
}
