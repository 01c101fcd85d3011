package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queryFixture(t *testing.T) (*Store, *QueryView) {
	t.Helper()
	s := NewStore()
	for _, spec := range []struct {
		id     string
		energy float64
	}{
		{"n1", 5.0}, {"n2", 1.0}, {"n3", 0.1},
	} {
		n := NewNode(spec.id, ClassTask)
		n.Energy = spec.energy
		require.NoError(t, s.AddNode(n))
	}
	require.NoError(t, s.AddEntity(&Entity{
		ID: "e", Name: "fixture", Kind: KindTopic, State: StateProvisional,
		EnergyRuntime: 3.0, ThresholdRuntime: 1.0,
	}))
	require.NoError(t, s.SetMembership("n1", "e", 0.5))
	require.NoError(t, s.SetMembership("n2", "e", 0.9))
	require.NoError(t, s.SetMembership("n3", "e", 0.9))

	v, err := NewQueryView(s, DefaultQueryViewConfig())
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return s, v
}

func TestEntitySummary(t *testing.T) {
	_, v := queryFixture(t)

	summary, ok := v.EntitySummary("e", 2)
	require.True(t, ok)
	assert.Equal(t, "e", summary.ID)
	assert.Equal(t, 3, summary.MemberCount)
	require.Len(t, summary.TopMembers, 2)

	// n1: 0.5*log1p(5)=0.896 beats n2: 0.9*log1p(1)=0.624.
	assert.Equal(t, "n1", summary.TopMembers[0].NodeID)
	assert.Equal(t, "n2", summary.TopMembers[1].NodeID)
}

func TestEntitySummaryUnknown(t *testing.T) {
	_, v := queryFixture(t)
	_, ok := v.EntitySummary("missing", 2)
	assert.False(t, ok)
}

func TestEntitySummaryVersioning(t *testing.T) {
	s, v := queryFixture(t)

	first, ok := v.EntitySummary("e", 1)
	require.True(t, ok)

	// Mutate state, then bump the version: the summary must refresh even
	// if the prior entry was cached.
	e, _ := s.Entity("e")
	e.EnergyRuntime = 42
	v.AdvanceTick(1)

	second, ok := v.EntitySummary("e", 1)
	require.True(t, ok)
	assert.NotEqual(t, first.Energy, second.Energy)
	assert.Equal(t, 42.0, second.Energy)
}
