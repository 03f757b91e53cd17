package txbuilder

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/solsniper/sniper/internal/config"
)

// rateLimiter holds the three independent token buckets of §4.3.7: RPC
// calls, simulations, and HTTP calls to external quote APIs.
type rateLimiter struct {
	rpc  *rate.Limiter
	sim  *rate.Limiter
	http *rate.Limiter
}

func newRateLimiter(cfg config.RateLimit) *rateLimiter {
	burst := func(rps float64) int {
		b := int(rps)
		if b < 1 {
			b = 1
		}
		return b
	}
	return &rateLimiter{
		rpc:  rate.NewLimiter(rate.Limit(cfg.RPCRPS), burst(cfg.RPCRPS)),
		sim:  rate.NewLimiter(rate.Limit(cfg.SimRPS), burst(cfg.SimRPS)),
		http: rate.NewLimiter(rate.Limit(cfg.HTTPRPS), burst(cfg.HTTPRPS)),
	}
}

func (l *rateLimiter) waitRPC(ctx context.Context) error {
	if err := l.rpc.Wait(ctx); err != nil {
		return ErrRateLimited
	}
	return nil
}

func (l *rateLimiter) waitSim(ctx context.Context) error {
	if err := l.sim.Wait(ctx); err != nil {
		return ErrRateLimited
	}
	return nil
}

func (l *rateLimiter) waitHTTP(ctx context.Context) error {
	if err := l.http.Wait(ctx); err != nil {
		return ErrRateLimited
	}
	return nil
}
