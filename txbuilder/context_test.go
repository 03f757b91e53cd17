package txbuilder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/internal/config"
	"github.com/solsniper/sniper/internal/logging"
	"github.com/solsniper/sniper/noncemgr"
)

func testQuorum(rpc *fakeRPCPool) *blockhashQuorum {
	limiter := newRateLimiter(config.RateLimit{RPCRPS: 1000, SimRPS: 1000, HTTPRPS: 1000})
	breaker := newBreakerRegistry(config.CircuitBreaker{FailureThreshold: 5, SuccessThreshold: 1, Timeout: time.Second})
	return newBlockhashQuorum(rpc, config.Quorum{MinResponses: 1, MaxSlotDiff: 1000}, time.Second, limiter, breaker)
}

func TestPrepareContextUtilityPriorityUsesBlockhash(t *testing.T) {
	rpc := newFakeRPCPool()
	rpc.blockhash = chain.BlockHash{Hash: [32]byte{1}, Slot: 10}
	q := testQuorum(rpc)

	bctx, err := prepareContext(context.Background(), chain.OperationUtility, false, nil, q, ExecutionPolicy{}, logging.New("test"))
	require.NoError(t, err)
	require.False(t, bctx.usesNonce)
	require.Equal(t, rpc.blockhash, bctx.blockhash)
}

func TestPrepareContextEnforceNoncePromotesToCritical(t *testing.T) {
	pool := noncemgr.NewPool(config.Nonce{PoolSize: 1, AcquireTimeout: time.Second, LeaseTTL: time.Second}, newFakeRPCPool(), nil)
	pool.SeedAccounts([]chain.NonceAccount{{Pubkey: testPubkey(1), Authority: testPubkey(2), CurrentNonceBlockhash: chain.BlockHash{Slot: 5}}})

	rpc := newFakeRPCPool()
	q := testQuorum(rpc)

	bctx, err := prepareContext(context.Background(), chain.OperationUtility, true, pool, q, ExecutionPolicy{NonceLeaseTTL: time.Second}, logging.New("test"))
	require.NoError(t, err)
	require.True(t, bctx.usesNonce)
	require.Equal(t, testPubkey(1), bctx.noncePubkey)
	bctx.lease.Release()
}

func TestPrepareContextFallsBackToBlockhashWhenPoolExhausted(t *testing.T) {
	rpc := newFakeRPCPool()
	rpc.blockhash = chain.BlockHash{Hash: [32]byte{3}, Slot: 20}
	q := testQuorum(rpc)
	pool := noncemgr.NewPool(config.Nonce{PoolSize: 0, AcquireTimeout: time.Second, LeaseTTL: time.Second}, rpc, nil)

	bctx, err := prepareContext(context.Background(), chain.OperationCritical, false, pool, q, ExecutionPolicy{AllowNonceFallback: true}, logging.New("test"))
	require.NoError(t, err)
	require.False(t, bctx.usesNonce)
	require.Equal(t, rpc.blockhash, bctx.blockhash)
}

func TestPrepareContextFailsWhenFallbackDisallowed(t *testing.T) {
	rpc := newFakeRPCPool()
	q := testQuorum(rpc)
	pool := noncemgr.NewPool(config.Nonce{PoolSize: 0, AcquireTimeout: time.Second, LeaseTTL: time.Second}, rpc, nil)

	_, err := prepareContext(context.Background(), chain.OperationCritical, false, pool, q, ExecutionPolicy{AllowNonceFallback: false}, logging.New("test"))
	require.ErrorIs(t, err, ErrNonceAcquisition)
}
