package sniffer

import (
	"time"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/internal/config"
)

// handoffQueue is §4.1 stage 6: a bounded MPSC channel whose sender only
// ever try-sends — never awaits on the hot path except in the brief-block
// branch (the "block" policy, or Adaptive when latency is low), which is
// itself bounded.
type handoffQueue struct {
	ch             chan chain.Candidate
	policy         config.DropPolicy
	sendMaxRetries int
	lowThreshold   time.Duration
	highThreshold  time.Duration

	latencyEMA atomicFloat64 // nanoseconds, for the Adaptive policy

	droppedHigh atomicCounter
	droppedLow  atomicCounter
	sent        atomicCounter
}

func newHandoffQueue(capacity int, policy config.DropPolicy, sendMaxRetries int, low, high time.Duration) *handoffQueue {
	return &handoffQueue{
		ch:             make(chan chain.Candidate, capacity),
		policy:         policy,
		sendMaxRetries: sendMaxRetries,
		lowThreshold:   low,
		highThreshold:  high,
	}
}

func (q *handoffQueue) receiver() <-chan chain.Candidate {
	return q.ch
}

// offer is the only entry point the hot path calls. It never blocks
// indefinitely: the "Block" branch below is itself a bounded, brief
// await, not an unconditional one, reached under the configured "block"
// policy or, under Adaptive, when recent latency is already low.
func (q *handoffQueue) offer(c chain.Candidate) {
	start := time.Now()
	ok := q.trySendOnce(c)
	q.latencyEMA.store(ema(q.latencyEMA.load(), float64(time.Since(start).Nanoseconds()), 0.2))
	if ok {
		q.sent.add(1)
		return
	}

	switch q.effectivePolicy() {
	case config.DropOldest:
		q.dropOldestAndInsert(c)
	case config.DropOnBlock:
		q.blockingOffer(c)
	default:
		q.retryOrDrop(c)
	}
}

func (q *handoffQueue) effectivePolicy() config.DropPolicy {
	if q.policy != config.DropAdapt {
		return q.policy
	}
	latency := time.Duration(q.latencyEMA.load())
	switch {
	case latency < q.lowThreshold:
		return config.DropOnBlock
	case latency > q.highThreshold:
		return config.DropNewest
	default:
		return config.DropNewest
	}
}

func (q *handoffQueue) trySendOnce(c chain.Candidate) bool {
	select {
	case q.ch <- c:
		return true
	default:
		return false
	}
}

func (q *handoffQueue) dropOldestAndInsert(c chain.Candidate) {
	select {
	case <-q.ch:
	default:
	}
	if q.trySendOnce(c) {
		q.sent.add(1)
		return
	}
	q.countDrop(c.Priority)
}

// blockingOffer is reached under the "block" policy, or under Adaptive
// when recent latency is low; the await is bounded by a 2ms timeout,
// after which the candidate is dropped and counted.
func (q *handoffQueue) blockingOffer(c chain.Candidate) {
	t := time.NewTimer(2 * time.Millisecond)
	defer t.Stop()
	select {
	case q.ch <- c:
		q.sent.add(1)
	case <-t.C:
		q.countDrop(c.Priority)
	}
}

// retryOrDrop implements the High-priority retry budget: up to
// sendMaxRetries spin-yields before the candidate is finally dropped.
// Low-priority candidates never retry.
func (q *handoffQueue) retryOrDrop(c chain.Candidate) {
	if c.Priority != chain.PriorityHigh {
		q.countDrop(c.Priority)
		return
	}
	for i := 0; i < q.sendMaxRetries; i++ {
		spinYield()
		if q.trySendOnce(c) {
			q.sent.add(1)
			return
		}
	}
	q.countDrop(c.Priority)
}

func (q *handoffQueue) countDrop(p chain.Priority) {
	if p == chain.PriorityHigh {
		q.droppedHigh.add(1)
	} else {
		q.droppedLow.add(1)
	}
}

// spinYield is a ~100µs-scale backoff between retries, per spec.md §4.1
// stage 6 ("~100 µs spin-yields").
func spinYield() {
	time.Sleep(100 * time.Microsecond)
}
