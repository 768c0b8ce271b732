// Package monitoring tracks per-provider call telemetry and raises alerts
// when providers degrade.
package monitoring

import (
	"sync"
	"time"

	"github.com/sells-group/brandscan/internal/model"
	"github.com/sells-group/brandscan/internal/resilience"
)

// providerMetrics accumulates call outcomes for one provider.
type providerMetrics struct {
	calls      int
	successes  int
	failures   map[string]int
	latencySum int64
	latencyMin int64
	latencyMax int64
}

// Collector accumulates provider call outcomes in memory. Safe for
// concurrent use by dispatch workers.
type Collector struct {
	mu        sync.Mutex
	providers map[string]*providerMetrics
	breakers  *resilience.ProviderBreakers
}

// NewCollector creates a collector. breakers may be nil; when set, snapshots
// include each provider's breaker state.
func NewCollector(breakers *resilience.ProviderBreakers) *Collector {
	return &Collector{
		providers: make(map[string]*providerMetrics),
		breakers:  breakers,
	}
}

// Observe records the outcome of one provider call.
func (c *Collector) Observe(providerID string, resp model.GenerationResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.providers[providerID]
	if m == nil {
		m = &providerMetrics{failures: make(map[string]int)}
		c.providers[providerID] = m
	}

	m.calls++
	if resp.Failed() {
		m.failures[string(resp.ErrorKind)]++
	} else {
		m.successes++
	}

	lat := resp.LatencyMs
	m.latencySum += lat
	if m.calls == 1 || lat < m.latencyMin {
		m.latencyMin = lat
	}
	if lat > m.latencyMax {
		m.latencyMax = lat
	}
}

// MetricsSnapshot is a point-in-time view of provider health.
type MetricsSnapshot struct {
	Providers   map[string]model.ProviderCallStats `json:"providers"`
	CollectedAt time.Time                          `json:"collected_at"`
}

// Snapshot copies the accumulated stats. The returned maps are owned by the
// caller.
func (c *Collector) Snapshot() *MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &MetricsSnapshot{
		Providers:   make(map[string]model.ProviderCallStats, len(c.providers)),
		CollectedAt: time.Now().UTC(),
	}

	for id, m := range c.providers {
		stats := model.ProviderCallStats{
			Calls:        m.calls,
			Successes:    m.successes,
			LatencyMinMs: m.latencyMin,
			LatencyMaxMs: m.latencyMax,
		}
		if m.calls > 0 {
			stats.LatencyAvgMs = m.latencySum / int64(m.calls)
		}
		if len(m.failures) > 0 {
			stats.Failures = make(map[string]int, len(m.failures))
			for kind, n := range m.failures {
				stats.Failures[kind] = n
			}
		}
		if c.breakers != nil {
			stats.BreakerState = c.breakers.Get(id).Health().StateName
		}
		snap.Providers[id] = stats
	}
	return snap
}

// Reset clears accumulated stats, typically between runs.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = make(map[string]*providerMetrics)
}
