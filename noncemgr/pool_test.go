package noncemgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/collab"
	"github.com/solsniper/sniper/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRPCPool is a minimal collab.RPCPool stand-in for tests.
type fakeRPCPool struct {
	mu        sync.Mutex
	slot      chain.SlotNumber
	blockhash chain.BlockHash
	failNext  bool
}

func (f *fakeRPCPool) GetLatestBlockhash(ctx context.Context) (chain.BlockHash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return chain.BlockHash{}, errTestRPC
	}
	return f.blockhash, nil
}
func (f *fakeRPCPool) GetSlot(ctx context.Context) (chain.SlotNumber, error) { return f.slot, nil }
func (f *fakeRPCPool) GetAccount(ctx context.Context, pubkey chain.PublicKey) ([]byte, error) {
	return nil, nil
}
func (f *fakeRPCPool) Simulate(ctx context.Context, tx chain.Transaction) (collab.SimulationResult, error) {
	return collab.SimulationResult{}, nil
}
func (f *fakeRPCPool) SendTransaction(ctx context.Context, tx chain.Transaction) ([]byte, error) {
	return nil, nil
}
func (f *fakeRPCPool) RecentPriorityFees(ctx context.Context, accounts []chain.PublicKey) ([]collab.PriorityFeeSample, error) {
	return nil, nil
}
func (f *fakeRPCPool) Endpoints() []string { return []string{"fake"} }
func (f *fakeRPCPool) CallEndpoint(ctx context.Context, endpoint string) (chain.BlockHash, error) {
	return f.blockhash, nil
}

var errTestRPC = errTestSentinel{}

type errTestSentinel struct{}

func (errTestSentinel) Error() string { return "fake rpc failure" }

func testPubkey(b byte) chain.PublicKey {
	var k chain.PublicKey
	k[0] = b
	return k
}

func newTestPool(poolSize int) (*Pool, *fakeRPCPool) {
	rpc := &fakeRPCPool{blockhash: chain.BlockHash{Hash: [32]byte{1}, Slot: 100}}
	cfg := config.Nonce{
		PoolSize:                         poolSize,
		AcquireTimeout:                   200 * time.Millisecond,
		LeaseTTL:                         50 * time.Millisecond,
		RefreshIntervalBase:              50 * time.Millisecond,
		RefreshIntervalHigh:              20 * time.Millisecond,
		RefreshIntervalLow:               100 * time.Millisecond,
		UnusedEvictionThresholdSecs:      300,
		ExpandOnAvailabilityBelow:        0.2,
		ConsecutiveFailureTaintThreshold: 3,
		WatchdogScanInterval:             20 * time.Millisecond,
		WatchdogGrace:                    20 * time.Millisecond,
	}
	p := NewPool(cfg, rpc, nil)
	return p, rpc
}

func seedAccounts(p *Pool, n int) {
	accs := make([]chain.NonceAccount, n)
	for i := 0; i < n; i++ {
		accs[i] = chain.NonceAccount{
			Pubkey:        testPubkey(byte(i + 1)),
			Authority:     testPubkey(0xAA),
			CurrentNonceBlockhash: chain.BlockHash{Hash: [32]byte{byte(i + 1)}, Slot: 100},
			LastValidSlot: 1000,
		}
	}
	p.SeedAccounts(accs)
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p, _ := newTestPool(2)
	seedAccounts(p, 2)

	lease, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, lease)

	stats := p.Stats()
	require.Equal(t, 1, stats.Leased)
	require.Equal(t, 1, stats.Available)

	lease.Release()

	stats = p.Stats()
	require.Equal(t, 0, stats.Leased)
	require.Equal(t, 2, stats.Available)
}

func TestAcquireNeverDoubleLends(t *testing.T) {
	p, _ := newTestPool(1)
	seedAccounts(p, 1)

	const workers = 16
	var wg sync.WaitGroup
	var successCount int32
	var mu sync.Mutex
	leased := map[chain.PublicKey]int{}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := p.Acquire(context.Background(), time.Second)
			if err != nil {
				return
			}
			mu.Lock()
			leased[lease.Pubkey]++
			successCount++
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			lease.Release()
		}()
	}
	wg.Wait()

	// Pool size 1: acquisitions serialize through the single permit, but
	// no two should ever observe the account concurrently leased more
	// than once at a time; released leases allow subsequent re-lends of
	// the same pubkey, so total successes can exceed 1.
	require.GreaterOrEqual(t, successCount, int32(1))
	for _, count := range leased {
		require.True(t, count >= 1)
	}
	stats := p.Stats()
	require.Equal(t, 1, stats.Available)
	require.Equal(t, 0, stats.Leased)
}

func TestPoolExhaustionReturnsTimeout(t *testing.T) {
	p, _ := newTestPool(1)
	seedAccounts(p, 1)

	lease, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(context.Background(), time.Second)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrAcquireTimeout)
	require.GreaterOrEqual(t, elapsed, 150*time.Millisecond)

	lease.Release()
}

func TestPoolSizeZeroExhaustsImmediately(t *testing.T) {
	p, _ := newTestPool(0)

	_, err := p.Acquire(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrPoolExhausted)
}

func TestAvailablePermitsRestoredAfterAllLeasesDropped(t *testing.T) {
	p, _ := newTestPool(3)
	seedAccounts(p, 3)

	var leases []*NonceLease
	for i := 0; i < 3; i++ {
		l, err := p.Acquire(context.Background(), time.Second)
		require.NoError(t, err)
		leases = append(leases, l)
	}

	_, ok := p.TryAcquire(time.Second)
	require.False(t, ok)

	for _, l := range leases {
		l.Release()
	}

	stats := p.Stats()
	require.Equal(t, 3, stats.Available)
	require.Equal(t, 0, stats.Total-stats.Available-stats.Leased-stats.Refreshing-stats.Tainted)
}

func TestTaintedAccountExcludedFromAcquisition(t *testing.T) {
	p, _ := newTestPool(1)
	seedAccounts(p, 1)

	p.Taint(testPubkey(1), "manual test taint")

	_, err := p.Acquire(context.Background(), 100*time.Millisecond)
	require.Error(t, err)

	stats := p.Stats()
	require.Equal(t, 1, stats.Tainted)
}

func TestEvictUnusedAndTainted(t *testing.T) {
	p, _ := newTestPool(2)
	seedAccounts(p, 2)
	p.Taint(testPubkey(1), "test")

	evicted := p.EvictUnusedAndTainted(time.Hour)
	require.Equal(t, 1, evicted)
	require.Equal(t, 1, p.Stats().Total)
}

func TestWatchdogRecoversLeakedLease(t *testing.T) {
	p, _ := newTestPool(1)
	seedAccounts(p, 1)

	lease, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	_ = lease // deliberately never released, simulating a leak

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Stats().Tainted == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshCollapsesConcurrentRequests(t *testing.T) {
	p, rpc := newTestPool(1)
	seedAccounts(p, 1)
	_ = rpc

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	accs := p.snapshotAccounts()
	require.Len(t, accs, 1)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.refreshOne(ctx, accs[0])
		}()
	}
	wg.Wait()

	require.Equal(t, StateAvailable, accs[0].getState())
}
