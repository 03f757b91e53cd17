package txbuilder

import (
	"sync/atomic"

	"github.com/solsniper/sniper/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

type buildCounter struct{ v atomic.Uint64 }

func (c *buildCounter) add(n uint64) { c.v.Add(n) }
func (c *buildCounter) load() uint64 { return c.v.Load() }

// builderMetrics holds the atomic counters behind the builder's
// telemetry surface, mirroring noncemgr's poolMetrics pattern.
type builderMetrics struct {
	builtWithNonce    buildCounter
	builtWithBlockhash buildCounter
	buildFailures     buildCounter
	fatalSimErrors    buildCounter
	advisorySimErrors buildCounter
	circuitRejections buildCounter
	cacheHits         buildCounter
	cacheMisses       buildCounter
}

func newBuilderMetrics() *builderMetrics {
	return &builderMetrics{}
}

// builderGauges is a handful of named prometheus gauges/histograms.
// Unlike noncemgr's timer-published poolGauges, they are updated inline:
// build latency on every build, the in-flight gauge on every batch
// worker start and finish.
type builderGauges struct {
	buildLatency *prometheus.HistogramVec
	queueDepth   *prometheus.GaugeVec
}

func registerBuilderTelemetry(reg *telemetry.Registry) *builderGauges {
	return &builderGauges{
		buildLatency: reg.Histogram("build_latency_ms", "transaction build latency in milliseconds",
			[]float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}, "route"),
		queueDepth: reg.Gauge("batch_build_inflight", "in-flight batch_build workers"),
	}
}

func (g *builderGauges) observeBuildLatency(route string, ms float64) {
	if g == nil {
		return
	}
	g.buildLatency.WithLabelValues(route).Observe(ms)
}

func (g *builderGauges) setInFlight(n float64) {
	if g == nil {
		return
	}
	g.queueDepth.WithLabelValues().Set(n)
}
