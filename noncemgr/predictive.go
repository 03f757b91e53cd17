package noncemgr

import "math"

// predictiveSample is one account's inputs to the failure model (§4.2.5).
type predictiveSample struct {
	currentSlot      uint64
	lastRefreshedSlot uint64
	validWindow      uint64
	refreshLatencyMs float64
	networkTPS       float64
}

// predictiveModel accumulates running statistics over observed refresh
// latencies and TPS so it can clip outliers at ±2.5σ and require a
// minimum sample count before producing an estimate, per §4.2.5.
type predictiveModel struct {
	latencyMean, latencyM2 float64
	tpsMean, tpsM2         float64
	count                  int64
}

func newPredictiveModel() *predictiveModel {
	return &predictiveModel{}
}

// observe folds one sample into the running mean/variance via Welford's
// method, used only to compute clip bounds — it never itself produces
// the failure estimate.
func (m *predictiveModel) observe(latencyMs, tps float64) {
	m.count++
	n := float64(m.count)
	dl := latencyMs - m.latencyMean
	m.latencyMean += dl / n
	m.latencyM2 += dl * (latencyMs - m.latencyMean)

	dt := tps - m.tpsMean
	m.tpsMean += dt / n
	m.tpsM2 += dt * (tps - m.tpsMean)
}

func (m *predictiveModel) stddev(m2 float64) float64 {
	if m.count < 2 {
		return 0
	}
	return math.Sqrt(m2 / float64(m.count-1))
}

func clip(v, mean, sigma, widths float64) float64 {
	if sigma <= 0 {
		return v
	}
	lo, hi := mean-widths*sigma, mean+widths*sigma
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// failureProbability implements §4.2.5: a combination of slot-age risk,
// latency risk, and network risk, clipped at ±2.5σ, gated by a minimum
// sample count, NaN-guarded, strictly in [0,1]. Returns (0, false) when
// the model cannot yet produce an estimate (degenerate/empty input),
// mirroring the spec's "deterministic None on degenerate input."
func (m *predictiveModel) failureProbability(s predictiveSample) (float64, bool) {
	if m.count < 10 {
		return 0, false
	}
	if s.validWindow == 0 {
		return 0, false
	}
	if math.IsNaN(s.refreshLatencyMs) || math.IsNaN(s.networkTPS) {
		return 0, false
	}

	latency := clip(s.refreshLatencyMs, m.latencyMean, m.stddev(m.latencyM2), 2.5)
	tps := clip(s.networkTPS, m.tpsMean, m.stddev(m.tpsM2), 2.5)

	var slotAgeRisk float64
	if s.currentSlot > s.lastRefreshedSlot {
		slotAgeRisk = float64(s.currentSlot-s.lastRefreshedSlot) / float64(s.validWindow)
	}
	slotAgeRisk = math.Min(1, math.Max(0, slotAgeRisk))

	latencyRisk := 0.0
	if m.latencyMean > 0 {
		latencyRisk = math.Min(1, math.Max(0, latency/(m.latencyMean*3)))
	}

	// Network risk rises as observed TPS exceeds the high-load threshold
	// (2000, §4.2.3); a quiet network contributes no risk on its own.
	networkRisk := math.Min(1, math.Max(0, (tps-2000)/3000))

	score := (slotAgeRisk + latencyRisk + networkRisk) / 3
	score = math.Min(1, math.Max(0, score))
	if math.IsNaN(score) {
		return 0, false
	}
	return score, true
}
