package txbuilder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/collab"
	"github.com/solsniper/sniper/internal/config"
)

// simCacheEntry is one memoized compute-unit estimate.
type simCacheEntry struct {
	cuLimit   uint32
	cachedAt  time.Time
}

// simulationCache memoizes CU-limit estimates keyed by a digest of
// (payer, instructions, cu, fee), per §4.3.4. Backed by
// hashicorp/golang-lru/v2 for eviction-by-insertion-order; a TTL check
// on read additionally expires entries the LRU hasn't evicted yet.
type simulationCache struct {
	lru *lru.Cache[[32]byte, simCacheEntry]
	ttl time.Duration
}

func newSimulationCache(cfg config.SimulationCache) *simulationCache {
	size := cfg.MaxSize
	if size <= 0 {
		size = 1
	}
	c, _ := lru.New[[32]byte, simCacheEntry](size)
	return &simulationCache{lru: c, ttl: cfg.TTL}
}

func digestBuildKey(payer chain.PublicKey, instructions []chain.Instruction, cu uint32, fee uint64) [32]byte {
	h := sha256.New()
	h.Write(payer[:])
	for _, ix := range instructions {
		h.Write(ix.ProgramID[:])
		for _, acc := range ix.Accounts {
			h.Write(acc.Pubkey[:])
		}
		h.Write(ix.Data)
	}
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], cu)
	binary.LittleEndian.PutUint64(buf[4:12], fee)
	h.Write(buf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (c *simulationCache) get(key [32]byte) (uint32, bool) {
	entry, ok := c.lru.Peek(key)
	if !ok {
		return 0, false
	}
	if time.Since(entry.cachedAt) > c.ttl {
		c.lru.Remove(key)
		return 0, false
	}
	return entry.cuLimit, true
}

func (c *simulationCache) put(key [32]byte, cuLimit uint32) {
	c.lru.Add(key, simCacheEntry{cuLimit: cuLimit, cachedAt: time.Now()})
}

// computeUnitOptimizer runs the simulate-excluding-advance-nonce,
// 20%-buffer, clamp-to-bounds flow of §4.3.4, memoized by
// simulationCache.
type computeUnitOptimizer struct {
	rpc     collab.RPCPool
	cache   *simulationCache
	limiter *rateLimiter
	cfg     config.Builder
}

func newComputeUnitOptimizer(rpc collab.RPCPool, cache *simulationCache, limiter *rateLimiter, cfg config.Builder) *computeUnitOptimizer {
	return &computeUnitOptimizer{rpc: rpc, cache: cache, limiter: limiter, cfg: cfg}
}

// estimate returns the clamped CU limit for the given (payer,
// instructions, fee), simulating only when the cache misses and
// simulation is enabled.
func (o *computeUnitOptimizer) estimate(ctx context.Context, payer chain.PublicKey, simInstructions []chain.Instruction, cuHint uint32, fee uint64) (uint32, error) {
	if !o.cfg.EnableSimulation {
		return clampCU(cuHint, o.cfg.MinCULimit, o.cfg.MaxCULimit), nil
	}

	key := digestBuildKey(payer, simInstructions, cuHint, fee)
	if cached, ok := o.cache.get(key); ok {
		return cached, nil
	}

	if err := o.limiter.waitSim(ctx); err != nil {
		return 0, err
	}

	msg := chain.Message{StaticAccountKeys: []chain.PublicKey{payer}, Instructions: simInstructions}
	result, err := o.rpc.Simulate(ctx, chain.Transaction{Message: msg})
	if err != nil {
		return 0, classifySimulationError(err.Error())
	}
	if result.Err != nil {
		return 0, classifySimulationError(result.Err.Error())
	}

	buffered := uint64(float64(result.UnitsConsumed) * 1.2)
	limit := clampCU(uint32(buffered), o.cfg.MinCULimit, o.cfg.MaxCULimit)
	o.cache.put(key, limit)
	return limit, nil
}

func clampCU(cu, lo, hi uint32) uint32 {
	if cu < lo {
		return lo
	}
	if cu > hi {
		return hi
	}
	return cu
}
