package noncemgr

import (
	"sync/atomic"

	"github.com/solsniper/sniper/internal/telemetry"
)

type poolCounter struct{ v atomic.Uint64 }

func (c *poolCounter) add(n uint64) { c.v.Add(n) }
func (c *poolCounter) load() uint64 { return c.v.Load() }

// poolMetrics holds cumulative atomic event counters (leases, releases,
// taints, timeouts, ...). They are kept separate from the live
// account-state scan that Stats() performs, so they survive account
// eviction; Stats() does not read them.
type poolMetrics struct {
	leased             poolCounter
	released           poolCounter
	tainted            poolCounter
	total              poolCounter
	acquireTimeouts    poolCounter
	poolExhausted      poolCounter
	watchdogRecoveries poolCounter
}

func newPoolMetrics() *poolMetrics {
	return &poolMetrics{}
}

// poolGauges mirrors sniffer's telemetryVec pattern: a handful of named
// prometheus gauges updated periodically (not on every hot-path call),
// grounded on utils/metered_cache.go's sampled-gauge idiom.
type poolGauges struct {
	available *labeledGauge
	leased    *labeledGauge
	tainted   *labeledGauge
	acquireLatency *labeledGauge
}

type labeledGauge struct {
	set func(v float64, labels ...string)
}

func registerPoolTelemetry(reg *telemetry.Registry) *poolGauges {
	available := reg.Gauge("nonce_accounts", "nonce accounts by state", "state")
	latency := reg.Gauge("nonce_acquire_latency_ms", "last observed acquire latency in milliseconds")

	return &poolGauges{
		available: &labeledGauge{set: func(v float64, labels ...string) {
			available.WithLabelValues(labels...).Set(v)
		}},
		acquireLatency: &labeledGauge{set: func(v float64, labels ...string) {
			latency.WithLabelValues().Set(v)
		}},
	}
}

// publish snapshots Stats into the registered gauges. Called
// periodically, not per-acquisition, matching the ambient telemetry
// discipline used across the repo.
func (g *poolGauges) publish(s Stats) {
	if g == nil {
		return
	}
	g.available.set(float64(s.Available), "available")
	g.available.set(float64(s.Leased), "leased")
	g.available.set(float64(s.Refreshing), "refreshing")
	g.available.set(float64(s.Tainted), "tainted")
}

func (g *poolGauges) publishAcquireLatency(ms float64) {
	if g == nil {
		return
	}
	g.acquireLatency.set(ms)
}
