package txbuilder

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/collab"
	"github.com/solsniper/sniper/internal/config"
)

// feeOptimizer derives the adaptive priority fee from the RPC pool's
// recent priority-fee samples (§4.3.4): `fee = base * multiplier` where
// multiplier grows with P90 congestion. The resulting fee is not clamped
// to any band; it has no upper bound.
type feeOptimizer struct {
	rpc collab.RPCPool
	cfg config.Builder
}

func newFeeOptimizer(rpc collab.RPCPool, cfg config.Builder) *feeOptimizer {
	return &feeOptimizer{rpc: rpc, cfg: cfg}
}

func (f *feeOptimizer) adaptivePriorityFee(ctx context.Context, accounts []chain.PublicKey) uint64 {
	samples, err := f.rpc.RecentPriorityFees(ctx, accounts)
	if err != nil || len(samples) == 0 {
		return f.cfg.AdaptivePriorityFeeBase
	}

	values := make([]uint64, len(samples))
	for i, s := range samples {
		values[i] = s.MicroLamports
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	p90 := values[p90Index(len(values))]

	multiplier := f.cfg.AdaptivePriorityFeeMult
	if p90 > f.cfg.AdaptivePriorityFeeBase {
		congestion := float64(p90) / float64(max64(f.cfg.AdaptivePriorityFeeBase, 1))
		multiplier *= congestion
	}

	fee := uint64(float64(f.cfg.AdaptivePriorityFeeBase) * multiplier)
	return fee
}

func p90Index(n int) int {
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(0.9*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func max64(v, floor uint64) uint64 {
	if v < floor {
		return floor
	}
	return v
}

// slippageTracker is the optional dynamic-slippage model of §4.3.4: a
// cumulative running mean and sample standard deviation (Welford) over
// every observation, with equal weight and no exponential decay;
// multiplier = 1.0 + clip(std/100, 0, 0.5) applied to the configured
// base slippage_bps.
type slippageTracker struct {
	mu        sync.Mutex
	mean, m2  float64
	count     int64
	baseBps   uint32
}

func newSlippageTracker(baseBps uint32) *slippageTracker {
	return &slippageTracker{baseBps: baseBps}
}

// observe folds one realized slippage (in bps) into the running
// mean/variance via Welford's method.
func (s *slippageTracker) observe(slippageBps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	n := float64(s.count)
	d := slippageBps - s.mean
	s.mean += d / n
	s.m2 += d * (slippageBps - s.mean)
}

func (s *slippageTracker) multiplier() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count < 2 {
		return 1.0
	}
	std := math.Sqrt(s.m2 / float64(s.count-1))
	clipped := std / 100
	if clipped < 0 {
		clipped = 0
	}
	if clipped > 0.5 {
		clipped = 0.5
	}
	return 1.0 + clipped
}

func (s *slippageTracker) slippageBps() uint32 {
	return uint32(float64(s.baseBps) * s.multiplier())
}
