package txbuilder

import (
	"context"
	"sync"
	"time"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/collab"
	"github.com/solsniper/sniper/internal/config"
	"github.com/solsniper/sniper/internal/logging"
)

// blockhashCacheEntry is one cached (blockhash -> observed timestamp and
// slot) pair, per §4.3.3.
type blockhashCacheEntry struct {
	blockhash chain.BlockHash
	cachedAt  time.Time
}

// blockhashCache is a small bounded, writer-wins cache pruned on
// insertion, grounded on spec.md §4.3.3's two expiry rules (TTL and
// max-slot-diff) plus a double-threshold prune. Single entry is enough
// (one "current best" blockhash) but kept as a slice-backed ring so a
// handful of recent entries survive brief quorum flaps.
type blockhashCache struct {
	mu      sync.Mutex
	entries []blockhashCacheEntry
	ttl     time.Duration
	maxSlotDiff int
	maxEntries  int
}

func newBlockhashCache(ttl time.Duration, maxSlotDiff int) *blockhashCache {
	return &blockhashCache{ttl: ttl, maxSlotDiff: maxSlotDiff, maxEntries: 8}
}

// insert writer-wins: always appends, then prunes entries past double
// the TTL/slot-diff thresholds (§4.3.3: "prune on insertion when either
// threshold is doubled").
func (c *blockhashCache) insert(bh chain.BlockHash, currentSlot chain.SlotNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, blockhashCacheEntry{blockhash: bh, cachedAt: time.Now()})

	kept := c.entries[:0]
	for _, e := range c.entries {
		if time.Since(e.cachedAt) > 2*c.ttl {
			continue
		}
		if currentSlot > 0 && int64(currentSlot)-int64(e.blockhash.Slot) > int64(2*c.maxSlotDiff) {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) > c.maxEntries {
		kept = kept[len(kept)-c.maxEntries:]
	}
	c.entries = kept
}

// freshest returns the most recently inserted entry that still passes
// both freshness rules against currentSlot, per §4.3.3.
func (c *blockhashCache) freshest(currentSlot chain.SlotNumber) (chain.BlockHash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if time.Since(e.cachedAt) > c.ttl {
			continue
		}
		if currentSlot > 0 && int64(currentSlot)-int64(e.blockhash.Slot) > int64(c.maxSlotDiff) {
			continue
		}
		return e.blockhash, true
	}
	return chain.BlockHash{}, false
}

// blockhashQuorum fans a GetLatestBlockhash-equivalent call out to up to
// min(quorum.min_responses, |endpoints|) endpoints in parallel, tallies
// votes, and returns the blockhash with at least min_responses matching
// votes (§4.3.3). Grounded on the teacher's warp/aggregator.go weighted
// quorum fan-out, generalized from validator-signature weights to a
// simple equal-weight vote tally per endpoint.
type blockhashQuorum struct {
	rpc     collab.RPCPool
	cfg     config.Quorum
	cache   *blockhashCache
	limiter *rateLimiter
	breaker *breakerRegistry
	log     *logging.Logger
}

func newBlockhashQuorum(rpc collab.RPCPool, cfg config.Quorum, cacheTTL time.Duration, limiter *rateLimiter, breaker *breakerRegistry) *blockhashQuorum {
	return &blockhashQuorum{
		rpc:     rpc,
		cfg:     cfg,
		cache:   newBlockhashCache(cacheTTL, cfg.MaxSlotDiff),
		limiter: limiter,
		breaker: breaker,
		log:     logging.New("txbuilder.quorum"),
	}
}

func (q *blockhashQuorum) fetch(ctx context.Context) (chain.BlockHash, error) {
	endpoints := q.rpc.Endpoints()
	n := q.cfg.MinResponses
	if n > len(endpoints) {
		n = len(endpoints)
	}
	if n == 0 {
		if bh, ok := q.cache.freshest(0); ok {
			return bh, nil
		}
		return chain.BlockHash{}, ErrBlockhashFetch
	}

	type vote struct {
		bh  chain.BlockHash
		err error
	}
	results := make(chan vote, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		endpoint := endpoints[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if q.breaker.isOpen(endpoint) {
				results <- vote{err: ErrCircuitOpen}
				return
			}
			if err := q.limiter.waitRPC(ctx); err != nil {
				results <- vote{err: err}
				return
			}
			bh, err := q.rpc.CallEndpoint(ctx, endpoint)
			q.breaker.record(endpoint, err == nil)
			results <- vote{bh: bh, err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	tally := map[chain.BlockHash]int{}
	var best chain.BlockHash
	bestCount := 0
	for v := range results {
		if v.err != nil {
			continue
		}
		tally[v.bh]++
		if tally[v.bh] > bestCount {
			best = v.bh
			bestCount = tally[v.bh]
		}
	}

	if bestCount >= q.cfg.MinResponses {
		q.cache.insert(best, best.Slot)
		return best, nil
	}

	if bh, ok := q.cache.freshest(best.Slot); ok {
		q.log.Warn("blockhash quorum failed, falling back to cache", logging.Fields{Stage: "blockhash_quorum"})
		return bh, nil
	}
	return chain.BlockHash{}, ErrBlockhashFetch
}
