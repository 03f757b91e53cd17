package txbuilder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solsniper/sniper/internal/config"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	l := newRateLimiter(config.RateLimit{RPCRPS: 100, SimRPS: 100, HTTPRPS: 100})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.waitRPC(ctx))
	require.NoError(t, l.waitSim(ctx))
	require.NoError(t, l.waitHTTP(ctx))
}

func TestRateLimiterWaitRespectsCancelledContext(t *testing.T) {
	l := newRateLimiter(config.RateLimit{RPCRPS: 1, SimRPS: 1, HTTPRPS: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.waitRPC(ctx)
	require.ErrorIs(t, err, ErrRateLimited)
}
