package sniffer

import (
	"testing"
	"time"

	"github.com/solsniper/sniper/chain"
	"github.com/stretchr/testify/require"
)

func TestPredictiveAnalyticsDefaultsLowOnEmptyState(t *testing.T) {
	p := newPredictiveAnalytics(0.2, 0.05)
	require.Equal(t, chain.PriorityLow, p.classify())
}

func TestPredictiveAnalyticsRecordAndSwap(t *testing.T) {
	p := newPredictiveAnalytics(0.2, 0.05)
	for i := 0; i < 100; i++ {
		p.recordArrival()
	}
	p.swapWindow(100 * time.Millisecond)
	require.Greater(t, p.emaShort.load(), 0.0)
	require.Greater(t, p.emaLong.load(), 0.0)
	// After a single window both EMAs bootstrap to the same sample.
	require.InDelta(t, p.emaShort.load(), p.emaLong.load(), 1e-9)
}

func TestPredictiveAnalyticsHighOnBurst(t *testing.T) {
	p := newPredictiveAnalytics(0.5, 0.05)
	// Establish a low baseline over several quiet windows.
	for i := 0; i < 20; i++ {
		for j := 0; j < 5; j++ {
			p.recordArrival()
		}
		p.swapWindow(100 * time.Millisecond)
	}
	p.recomputeThreshold()
	baselineLow := p.classify()
	require.Equal(t, chain.PriorityLow, baselineLow)

	// A sudden burst should push ema_short/ema_long above threshold.
	for j := 0; j < 500; j++ {
		p.recordArrival()
	}
	p.swapWindow(100 * time.Millisecond)
	require.Equal(t, chain.PriorityHigh, p.classify())
}

func TestEMAHelperBootstraps(t *testing.T) {
	require.Equal(t, 5.0, ema(0, 5.0, 0.2))
	require.InDelta(t, 0.2*10+0.8*5, ema(5, 10, 0.2), 1e-9)
}
