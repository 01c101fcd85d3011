package criticality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/cascade/core/graph"
)

func activeNode(t *testing.T, s *graph.Store, id string) {
	t.Helper()
	n := graph.NewNode(id, graph.ClassTask)
	n.Energy = 2.0 // above the default threshold
	require.NoError(t, s.AddNode(n))
}

func TestEstimateSpectralRadiusEmpty(t *testing.T) {
	s := graph.NewStore()
	_, ok := EstimateSpectralRadius(s, 0.1, 0.03, 512, 30)
	assert.False(t, ok)
}

func TestEstimateSpectralRadiusNoInternalLinks(t *testing.T) {
	s := graph.NewStore()
	activeNode(t, s, "a")
	activeNode(t, s, "b")

	_, ok := EstimateSpectralRadius(s, 0.1, 0.03, 512, 30)
	assert.False(t, ok)
}

func TestEstimateSpectralRadiusSymmetricPair(t *testing.T) {
	s := graph.NewStore()
	activeNode(t, s, "a")
	activeNode(t, s, "b")
	require.NoError(t, s.AddLink(&graph.Link{
		Source: "a", Target: "b", Type: graph.LinkAssociative, Weight: 1.0,
	}))
	require.NoError(t, s.AddLink(&graph.Link{
		Source: "b", Target: "a", Type: graph.LinkAssociative, Weight: 1.0,
	}))

	alpha, delta := 0.1, 0.03
	rho, ok := EstimateSpectralRadius(s, alpha, delta, 512, 50)
	require.True(t, ok)

	// For a symmetric pair with row-stochastic P, the dominant eigenvalue
	// of (1-delta)[(1-alpha)I + alpha*P^T] is exactly 1-delta.
	assert.InDelta(t, 1-delta, rho, 1e-6)
}

func TestEstimateSpectralRadiusRespectsMaxNodes(t *testing.T) {
	s := graph.NewStore()
	for _, id := range []string{"a", "b", "c"} {
		activeNode(t, s, id)
	}
	require.NoError(t, s.AddLink(&graph.Link{
		Source: "a", Target: "b", Type: graph.LinkAssociative, Weight: 1.0,
	}))

	_, ok := EstimateSpectralRadius(s, 0.1, 0.03, 2, 30)
	assert.False(t, ok, "active set larger than maxNodes must bail out")
}

func TestEstimateSpectralRadiusDecayDamps(t *testing.T) {
	build := func() *graph.Store {
		s := graph.NewStore()
		activeNode(t, s, "a")
		activeNode(t, s, "b")
		require.NoError(t, s.AddLink(&graph.Link{
			Source: "a", Target: "b", Type: graph.LinkAssociative, Weight: 0.7,
		}))
		require.NoError(t, s.AddLink(&graph.Link{
			Source: "b", Target: "a", Type: graph.LinkAssociative, Weight: 0.7,
		}))
		return s
	}

	low, ok := EstimateSpectralRadius(build(), 0.1, 0.01, 512, 50)
	require.True(t, ok)
	high, ok := EstimateSpectralRadius(build(), 0.1, 0.2, 512, 50)
	require.True(t, ok)

	assert.Greater(t, low, high, "more decay means smaller spectral radius")
}
