package sniffer

import (
	"sync/atomic"

	"github.com/solsniper/sniper/internal/telemetry"
)

// atomicCounter is a monotonic counter; Relaxed ordering is sufficient
// per spec.md §5 ("Metrics counters: atomic, Relaxed ordering is
// sufficient").
type atomicCounter struct {
	v atomic.Uint64
}

func (c *atomicCounter) add(n uint64) { c.v.Add(n) }
func (c *atomicCounter) load() uint64 { return c.v.Load() }

// SnifferMetrics is the point-in-time snapshot returned by
// Sniffer.MetricsSnapshot, filling in the "..." of spec.md's
// metrics_snapshot() contract with the per-stage counters that make
// the ">=90% rejection" and per-kind extractor-error requirements
// (§4.1 stages 2-3, SPEC_FULL.md supplement) independently observable.
type SnifferMetrics struct {
	FramesSeen        uint64
	RejectedTooShort   uint64
	RejectedVote       uint64
	RejectedNoMatch    uint64
	ExtractTooSmall    uint64
	ExtractOutOfBounds uint64
	ExtractInvalidMint uint64
	SecurityDrops      uint64
	CandidatesSent     uint64
	DroppedHigh        uint64
	DroppedLow         uint64
	ReconnectCount     uint64
}

type snifferCounters struct {
	framesSeen         atomicCounter
	rejectedTooShort   atomicCounter
	rejectedVote       atomicCounter
	rejectedNoMatch    atomicCounter
	extractTooSmall    atomicCounter
	extractOutOfBounds atomicCounter
	extractInvalidMint atomicCounter
	securityDrops      atomicCounter
	reconnectCount     atomicCounter
}

func (c *snifferCounters) snapshot(q *handoffQueue) SnifferMetrics {
	return SnifferMetrics{
		FramesSeen:         c.framesSeen.load(),
		RejectedTooShort:   c.rejectedTooShort.load(),
		RejectedVote:       c.rejectedVote.load(),
		RejectedNoMatch:    c.rejectedNoMatch.load(),
		ExtractTooSmall:    c.extractTooSmall.load(),
		ExtractOutOfBounds: c.extractOutOfBounds.load(),
		ExtractInvalidMint: c.extractInvalidMint.load(),
		SecurityDrops:      c.securityDrops.load(),
		CandidatesSent:     q.sent.load(),
		DroppedHigh:        q.droppedHigh.load(),
		DroppedLow:         q.droppedLow.load(),
		ReconnectCount:     c.reconnectCount.load(),
	}
}

// telemetryGauges mirrors SnifferMetrics as prometheus gauges, set from a
// Snapshot() on a timer by the periodic-telemetry background task
// (spec.md §4.1 "Concurrency": "one background task emits periodic
// telemetry").
type telemetryGauges struct {
	framesSeen  *telemetryVec
	rejected    *telemetryVec
	extractErrs *telemetryVec
	drops       *telemetryVec
	sent        *telemetryVec
	reconnects  *telemetryVec
}

type telemetryVec struct {
	set func(value float64, labels ...string)
}

func registerTelemetry(reg *telemetry.Registry) *telemetryGauges {
	framesSeen := reg.Gauge("sniffer_frames_seen", "raw frames observed by the sniffer")
	rejected := reg.Gauge("sniffer_prefilter_rejected", "frames rejected by the prefilter", "reason")
	extractErrs := reg.Gauge("sniffer_extract_errors", "extractor errors", "kind")
	drops := reg.Gauge("sniffer_candidates_dropped", "candidates dropped at the handoff queue", "priority")
	sent := reg.Gauge("sniffer_candidates_sent", "candidates successfully handed off")
	reconnects := reg.Gauge("sniffer_reconnects", "feed reconnect count")

	wrap := func(setFn func(float64, ...string)) *telemetryVec { return &telemetryVec{set: setFn} }
	return &telemetryGauges{
		framesSeen:  wrap(func(v float64, l ...string) { framesSeen.WithLabelValues(l...).Set(v) }),
		rejected:    wrap(func(v float64, l ...string) { rejected.WithLabelValues(l...).Set(v) }),
		extractErrs: wrap(func(v float64, l ...string) { extractErrs.WithLabelValues(l...).Set(v) }),
		drops:       wrap(func(v float64, l ...string) { drops.WithLabelValues(l...).Set(v) }),
		sent:        wrap(func(v float64, l ...string) { sent.WithLabelValues(l...).Set(v) }),
		reconnects:  wrap(func(v float64, l ...string) { reconnects.WithLabelValues(l...).Set(v) }),
	}
}

func (g *telemetryGauges) publish(m SnifferMetrics) {
	g.framesSeen.set(float64(m.FramesSeen))
	g.rejected.set(float64(m.RejectedTooShort), "too_short")
	g.rejected.set(float64(m.RejectedVote), "vote")
	g.rejected.set(float64(m.RejectedNoMatch), "no_match")
	g.extractErrs.set(float64(m.ExtractTooSmall), "too_small")
	g.extractErrs.set(float64(m.ExtractOutOfBounds), "out_of_bounds")
	g.extractErrs.set(float64(m.ExtractInvalidMint), "invalid_mint")
	g.drops.set(float64(m.DroppedHigh), "high")
	g.drops.set(float64(m.DroppedLow), "low")
	g.sent.set(float64(m.CandidatesSent))
	g.reconnects.set(float64(m.ReconnectCount))
}
