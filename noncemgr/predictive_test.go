package noncemgr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPredictiveModelRequiresMinimumSamples(t *testing.T) {
	m := newPredictiveModel()
	for i := 0; i < 9; i++ {
		m.observe(10, 100)
	}
	_, ok := m.failureProbability(predictiveSample{currentSlot: 100, lastRefreshedSlot: 50, validWindow: 150})
	require.False(t, ok)

	m.observe(10, 100)
	_, ok = m.failureProbability(predictiveSample{currentSlot: 100, lastRefreshedSlot: 50, validWindow: 150})
	require.True(t, ok)
}

func TestPredictiveModelDegenerateInputsReturnNone(t *testing.T) {
	m := newPredictiveModel()
	for i := 0; i < 10; i++ {
		m.observe(10, 100)
	}
	_, ok := m.failureProbability(predictiveSample{validWindow: 0})
	require.False(t, ok)

	_, ok = m.failureProbability(predictiveSample{validWindow: 150, refreshLatencyMs: math.NaN()})
	require.False(t, ok)
}

func TestPredictiveModelOutputBoundedZeroOne(t *testing.T) {
	m := newPredictiveModel()
	for i := 0; i < 20; i++ {
		m.observe(float64(i)*100, float64(i)*500)
	}
	prob, ok := m.failureProbability(predictiveSample{
		currentSlot:       100000,
		lastRefreshedSlot: 0,
		validWindow:       150,
		refreshLatencyMs:  99999,
		networkTPS:        99999,
	})
	require.True(t, ok)
	require.GreaterOrEqual(t, prob, 0.0)
	require.LessOrEqual(t, prob, 1.0)
}

func TestStalenessCurve(t *testing.T) {
	require.Equal(t, 1.0, stalenessCurve(0))
	require.Equal(t, 0.95, stalenessCurve(4))
	require.Equal(t, 0.85, stalenessCurve(9))
	require.Equal(t, 0.70, stalenessCurve(19))
	require.Equal(t, 0.50, stalenessCurve(20))
	require.Equal(t, 0.50, stalenessCurve(1000))
}
