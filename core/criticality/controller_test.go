package criticality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRho(t *testing.T) {
	tests := []struct {
		rho  float64
		want SafetyState
	}{
		{rho: 0.1, want: StateDying},
		{rho: 0.49, want: StateDying},
		{rho: 0.5, want: StateSubcritical},
		{rho: 0.79, want: StateSubcritical},
		{rho: 0.8, want: StateCritical},
		{rho: 1.0, want: StateCritical},
		{rho: 1.19, want: StateCritical},
		{rho: 1.2, want: StateSupercritical},
		{rho: 3.0, want: StateSupercritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyRho(tt.rho), "rho=%g", tt.rho)
	}
}

func TestObserveBranchingProxy(t *testing.T) {
	c, err := NewController(DefaultConfig(), nil)
	require.NoError(t, err)

	// First observation has no predecessor: degraded fallback.
	rho, source, degraded := c.Observe(10)
	assert.Equal(t, "rolling", source)
	assert.True(t, degraded)
	assert.InDelta(t, 1.0, rho, 1e-9, "fallback defaults to target")

	rho, source, degraded = c.Observe(12)
	assert.Equal(t, "branching", source)
	assert.False(t, degraded)
	assert.InDelta(t, 1.2, rho, 1e-9)

	rho, source, degraded = c.Observe(6)
	assert.Equal(t, "branching", source)
	assert.False(t, degraded)
	assert.InDelta(t, 0.5, rho, 1e-9)
}

func TestObserveSmallPopulationDegrades(t *testing.T) {
	c, err := NewController(DefaultConfig(), nil)
	require.NoError(t, err)

	c.Observe(2) // below MinActiveForProxy
	_, source, degraded := c.Observe(3)
	assert.Equal(t, "rolling", source)
	assert.True(t, degraded)
}

func TestAdjustDirection(t *testing.T) {
	tests := []struct {
		name      string
		rho       float64
		wantDelta string // "up" or "down"
	}{
		{name: "supercritical raises decay", rho: 1.5, wantDelta: "up"},
		{name: "subcritical lowers decay", rho: 0.6, wantDelta: "down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewController(DefaultConfig(), nil)
			require.NoError(t, err)

			m := c.Adjust(tt.rho, 0.1, 0.03, "branching", false)
			if tt.wantDelta == "up" {
				assert.Greater(t, m.DeltaAfter, m.DeltaBefore)
				assert.Less(t, m.AlphaAfter, m.AlphaBefore)
			} else {
				assert.Less(t, m.DeltaAfter, m.DeltaBefore)
				assert.Greater(t, m.AlphaAfter, m.AlphaBefore)
			}
		})
	}
}

func TestAdjustAtTargetIsNeutral(t *testing.T) {
	c, err := NewController(DefaultConfig(), nil)
	require.NoError(t, err)

	m := c.Adjust(1.0, 0.1, 0.03, "branching", false)
	assert.InDelta(t, 0.0, m.Output, 1e-9)
	assert.InDelta(t, m.DeltaBefore, m.DeltaAfter, 1e-9)
	assert.InDelta(t, m.AlphaBefore, m.AlphaAfter, 1e-9)
}

func TestIntegralBounded(t *testing.T) {
	cfg := DefaultConfig()
	c, err := NewController(cfg, nil)
	require.NoError(t, err)

	// Sustained large error must not wind the output past the limit.
	var last Metrics
	for i := 0; i < 1000; i++ {
		last = c.Adjust(3.0, 0.1, 0.03, "branching", false)
	}
	maxOutput := cfg.Kp*2.0 + cfg.Ki*cfg.IntegralLimit
	assert.LessOrEqual(t, last.Output, maxOutput+1e-9)
}

func TestRecoveryFromSupercritical(t *testing.T) {
	c, err := NewController(DefaultConfig(), nil)
	require.NoError(t, err)

	// Simulated plant: rho relaxes toward target as delta rises.
	alpha, delta := 0.1, 0.03
	rho := 2.0
	for i := 0; i < 300; i++ {
		m := c.Adjust(rho, alpha, delta, "branching", false)
		alpha, delta = m.AlphaAfter, m.DeltaAfter
		rho = 2.0 * (0.03 / delta) // more decay pulls activity down
		if rho < 1.05 {
			break
		}
	}
	assert.Less(t, rho, 1.05, "controller should pull rho back toward target")
}

func TestReset(t *testing.T) {
	c, err := NewController(DefaultConfig(), nil)
	require.NoError(t, err)

	c.Observe(10)
	c.Adjust(2.0, 0.1, 0.03, "branching", false)
	c.Reset()

	_, source, degraded := c.Observe(10)
	assert.Equal(t, "rolling", source)
	assert.True(t, degraded)
}
