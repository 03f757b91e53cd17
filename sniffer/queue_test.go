package sniffer

import (
	"testing"
	"time"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/internal/config"
	"github.com/stretchr/testify/require"
)

func TestQueueDropNewestOnFull(t *testing.T) {
	q := newHandoffQueue(1, config.DropNewest, 3, 10*time.Microsecond, 1*time.Millisecond)
	q.offer(chain.Candidate{TraceID: 1})
	q.offer(chain.Candidate{TraceID: 2}) // queue full, dropped

	require.EqualValues(t, 1, q.sent.load())
	require.EqualValues(t, 1, q.droppedLow.load())
}

func TestQueueDropOldestOnFull(t *testing.T) {
	q := newHandoffQueue(1, config.DropOldest, 3, 10*time.Microsecond, 1*time.Millisecond)
	q.offer(chain.Candidate{TraceID: 1})
	q.offer(chain.Candidate{TraceID: 2})

	got := <-q.receiver()
	require.EqualValues(t, 2, got.TraceID) // oldest (1) was evicted
}

func TestQueueHighPriorityRetriesThenDrops(t *testing.T) {
	q := newHandoffQueue(1, config.DropNewest, 2, 10*time.Microsecond, 1*time.Millisecond)
	q.offer(chain.Candidate{TraceID: 1})
	start := time.Now()
	q.offer(chain.Candidate{TraceID: 2, Priority: chain.PriorityHigh})
	elapsed := time.Since(start)

	require.EqualValues(t, 1, q.droppedHigh.load())
	// Two 100us spin-yields should have elapsed.
	require.GreaterOrEqual(t, elapsed, 150*time.Microsecond)
}

func TestQueueLowPriorityNeverRetries(t *testing.T) {
	q := newHandoffQueue(1, config.DropNewest, 5, 10*time.Microsecond, 1*time.Millisecond)
	q.offer(chain.Candidate{TraceID: 1})
	start := time.Now()
	q.offer(chain.Candidate{TraceID: 2, Priority: chain.PriorityLow})
	require.Less(t, time.Since(start), 50*time.Microsecond)
	require.EqualValues(t, 1, q.droppedLow.load())
}

func TestQueueNeverBlocksIndefinitely(t *testing.T) {
	q := newHandoffQueue(1, config.DropAdapt, 3, time.Hour, 0) // force "low latency -> block" branch
	q.offer(chain.Candidate{TraceID: 1})
	done := make(chan struct{})
	go func() {
		q.offer(chain.Candidate{TraceID: 2})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("offer blocked indefinitely")
	}
}

func TestQueueSentPlusDroppedEqualsProduced(t *testing.T) {
	q := newHandoffQueue(16, config.DropNewest, 3, 10*time.Microsecond, 1*time.Millisecond)
	const produced = 1000
	for i := 0; i < produced; i++ {
		p := chain.PriorityLow
		if i%10 == 0 {
			p = chain.PriorityHigh
		}
		q.offer(chain.Candidate{TraceID: uint64(i), Priority: p})
		// Drain occasionally so not everything piles up against capacity.
		if i%3 == 0 {
			select {
			case <-q.receiver():
			default:
			}
		}
	}
	total := q.sent.load() + q.droppedHigh.load() + q.droppedLow.load()
	require.EqualValues(t, produced, total)
}
