package txbuilder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solsniper/sniper/internal/config"
)

func testBreakerConfig() config.CircuitBreaker {
	return config.CircuitBreaker{FailureThreshold: 3, SuccessThreshold: 2, Timeout: 20 * time.Millisecond}
}

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	for i := 0; i < 2; i++ {
		require.True(t, b.allow())
		b.record(false, nil, "ep")
	}
	require.True(t, b.allow())
	b.record(false, nil, "ep")
	require.False(t, b.allow())
}

func TestBreakerHalfOpenAllowsSingleTrial(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	for i := 0; i < 3; i++ {
		b.allow()
		b.record(false, nil, "ep")
	}
	require.False(t, b.allow())

	time.Sleep(25 * time.Millisecond)
	require.True(t, b.allow())
	require.False(t, b.allow(), "a second concurrent half-open trial must be refused")
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	for i := 0; i < 3; i++ {
		b.allow()
		b.record(false, nil, "ep")
	}
	time.Sleep(25 * time.Millisecond)

	require.True(t, b.allow())
	b.record(true, nil, "ep")
	require.True(t, b.allow())
	b.record(true, nil, "ep")

	require.True(t, b.allow())
	require.True(t, b.allow(), "breaker should be fully closed and allow concurrent requests")
}

func TestBreakerRegistryIsolatesPerEndpoint(t *testing.T) {
	r := newBreakerRegistry(testBreakerConfig())
	for i := 0; i < 3; i++ {
		r.get("x").allow()
		r.record("x", false)
	}
	require.True(t, r.isOpen("x"))
	require.False(t, r.isOpen("y"))
}
