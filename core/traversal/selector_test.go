package traversal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/cascade/core/diffusion"
	"github.com/adalundhe/cascade/core/graph"
)

// buildTraversalFixture wires two active entities with embedded members and
// a cross-boundary link, plus internal links inside the source entity.
func buildTraversalFixture(t *testing.T) (*graph.Store, *Selector) {
	t.Helper()
	s := graph.NewStore()

	nodes := map[string]struct {
		energy    float64
		embedding []float32
	}{
		"a1": {energy: 3.0, embedding: []float32{1, 0, 0}},
		"a2": {energy: 0.2, embedding: []float32{0.9, 0.1, 0}},
		"b1": {energy: 0.1, embedding: []float32{0, 1, 0}},
		"b2": {energy: 0.05, embedding: []float32{0, 0.9, 0.1}},
	}
	for id, spec := range nodes {
		n := graph.NewNode(id, graph.ClassTask)
		n.Energy = spec.energy
		n.Embedding = spec.embedding
		require.NoError(t, s.AddNode(n))
	}
	require.NoError(t, s.AddLink(&graph.Link{
		Source: "a1", Target: "a2", Type: graph.LinkAssociative, Weight: 0.6,
	}))
	require.NoError(t, s.AddLink(&graph.Link{
		Source: "a1", Target: "b1", Type: graph.LinkAssociative, Weight: 0.4,
	}))

	entities := map[string][]float32{
		"ea": {1, 0, 0},
		"eb": {0, 1, 0},
	}
	for id, centroid := range entities {
		require.NoError(t, s.AddEntity(&graph.Entity{
			ID: id, Kind: graph.KindTopic, State: graph.StateProvisional,
			Centroid: centroid, EnergyRuntime: 2.0, ThresholdRuntime: 1.0,
		}))
	}
	require.NoError(t, s.SetMembership("a1", "ea", 0.8))
	require.NoError(t, s.SetMembership("a2", "ea", 0.6))
	require.NoError(t, s.SetMembership("b1", "eb", 0.7))
	require.NoError(t, s.SetMembership("b2", "eb", 0.5))

	diff, err := diffusion.NewEngine(s, diffusion.DefaultConfig(), nil)
	require.NoError(t, err)
	sel, err := NewSelector(s, diff, DefaultConfig(), nil)
	require.NoError(t, err)
	return s, sel
}

func TestTickRespectsBudget(t *testing.T) {
	_, sel := buildTraversalFixture(t)

	for tick := uint64(1); tick <= 20; tick++ {
		result := sel.Tick(tick, 0.25)
		assert.LessOrEqual(t, result.Delivered, sel.cfg.TotalBudget+1e-9,
			"tick %d overspent the stride budget", tick)
		assert.LessOrEqual(t, len(result.Strides), sel.cfg.MaxStridesPerTick)
	}
}

func TestTickAppliedMatchesStrides(t *testing.T) {
	_, sel := buildTraversalFixture(t)

	result := sel.Tick(1, 0.25)
	require.NotEmpty(t, result.Strides)

	// Net applied delta must be zero: strides move energy, never mint it.
	net := 0.0
	for _, d := range result.Applied {
		net += d
	}
	assert.InDelta(t, 0.0, net, 1e-9)
}

func TestTickEmptyActiveSet(t *testing.T) {
	s := graph.NewStore()
	diff, err := diffusion.NewEngine(s, diffusion.DefaultConfig(), nil)
	require.NoError(t, err)
	sel, err := NewSelector(s, diff, DefaultConfig(), nil)
	require.NoError(t, err)

	result := sel.Tick(1, 0.25)
	assert.Empty(t, result.Strides)
	assert.Empty(t, result.Applied)
}

func TestTickDeterministicForSeed(t *testing.T) {
	_, sel1 := buildTraversalFixture(t)
	_, sel2 := buildTraversalFixture(t)

	for tick := uint64(1); tick <= 5; tick++ {
		r1 := sel1.Tick(tick, 0.25)
		r2 := sel2.Tick(tick, 0.25)
		require.Equal(t, len(r1.Strides), len(r2.Strides), "tick %d diverged", tick)
		for i := range r1.Strides {
			assert.Equal(t, r1.Strides[i].SourceNode, r2.Strides[i].SourceNode)
			assert.Equal(t, r1.Strides[i].TargetNode, r2.Strides[i].TargetNode)
			assert.InDelta(t, r1.Strides[i].Delivered, r2.Strides[i].Delivered, 1e-12)
		}
	}
}

func TestColdEntityReachableThroughRelation(t *testing.T) {
	s, sel := buildTraversalFixture(t)

	// A target far outside the semantic ceiling of the active pair, held
	// reachable only by a learned relation.
	far := graph.NewNode("c1", graph.ClassTask)
	far.Embedding = []float32{-1, 0, 0}
	require.NoError(t, s.AddNode(far))
	require.NoError(t, s.AddEntity(&graph.Entity{
		ID: "ec", Kind: graph.KindTopic, State: graph.StateProvisional,
		Centroid: []float32{-1, 0, 0}, ThresholdRuntime: 5.0,
	}))
	require.NoError(t, s.SetMembership("c1", "ec", 0.9))
	s.PutRelation(&graph.EntityRelation{
		ID: "r1", Source: "ea", Target: "ec", EaseLogWeight: 3.0, Dominance: 0.5,
	})

	candidates := sel.gatherCandidates(mustEntity(t, s, "ea"),
		s.ActiveEntities(), 0.5)

	found := false
	for _, c := range candidates {
		if c.entity.ID == "ec" {
			found = true
		}
	}
	assert.True(t, found, "relation-backed destination must bypass the distance ceiling")
}

func TestSourceRepresentativePrefersHotCentralMembers(t *testing.T) {
	s, sel := buildTraversalFixture(t)

	rep := sel.sourceRepresentative("ea")
	require.NotNil(t, rep)
	assert.Equal(t, "a1", rep.ID, "highest weighted saturated energy wins")

	tgt := sel.targetRepresentative("eb", rep)
	require.NotNil(t, tgt)
	// b1 has both the larger membership weight and a large gap.
	assert.Equal(t, "b1", tgt.ID)
	_ = s
}

func TestGapClosure(t *testing.T) {
	tests := []struct {
		name      string
		gap       float64
		delivered float64
		want      float64
	}{
		{name: "no gap", gap: 0, delivered: 1, want: 0},
		{name: "half closed", gap: 1.0, delivered: 0.5, want: 0.5},
		{name: "overshoot clamps", gap: 0.5, delivered: 2.0, want: 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, gapClosure(tt.gap, tt.delivered), 1e-9)
		})
	}
}

func mustEntity(t *testing.T, s *graph.Store, id string) *graph.Entity {
	t.Helper()
	e, ok := s.Entity(id)
	require.True(t, ok)
	return e
}

// buildBridgeFixture wires two entities whose only cross-boundary links are
// the ones given as source->target pairs.
func buildBridgeFixture(t *testing.T, bridges [][2]string) (*graph.Store, *Selector) {
	t.Helper()
	s := graph.NewStore()

	nodes := map[string]struct {
		energy    float64
		embedding []float32
	}{
		"a1": {energy: 3.0, embedding: []float32{1, 0, 0}},
		"a2": {energy: 0.2, embedding: []float32{0.9, 0.1, 0}},
		"b1": {energy: 0.1, embedding: []float32{0, 1, 0}},
		"b2": {energy: 0.05, embedding: []float32{0, 0.9, 0.1}},
	}
	for id, spec := range nodes {
		n := graph.NewNode(id, graph.ClassTask)
		n.Energy = spec.energy
		n.Threshold = 2.0
		n.Embedding = spec.embedding
		require.NoError(t, s.AddNode(n))
	}
	for _, bridge := range bridges {
		require.NoError(t, s.AddLink(&graph.Link{
			Source: bridge[0], Target: bridge[1], Type: graph.LinkAssociative, Weight: 0.5,
		}))
	}

	for id, centroid := range map[string][]float32{"ea": {1, 0, 0}, "eb": {0, 1, 0}} {
		require.NoError(t, s.AddEntity(&graph.Entity{
			ID: id, Kind: graph.KindTopic, State: graph.StateProvisional,
			Centroid: centroid, EnergyRuntime: 2.0, ThresholdRuntime: 1.0,
		}))
	}
	require.NoError(t, s.SetMembership("a1", "ea", 0.8))
	require.NoError(t, s.SetMembership("a2", "ea", 0.6))
	require.NoError(t, s.SetMembership("b1", "eb", 0.7))
	require.NoError(t, s.SetMembership("b2", "eb", 0.5))

	diff, err := diffusion.NewEngine(s, diffusion.DefaultConfig(), nil)
	require.NoError(t, err)
	sel, err := NewSelector(s, diff, DefaultConfig(), nil)
	require.NoError(t, err)
	return s, sel
}

func TestBetweenStrideRequiresLink(t *testing.T) {
	s, sel := buildBridgeFixture(t, nil)

	applied := make(map[string]float64)
	_, ok := sel.betweenStride(mustEntity(t, s, "ea"),
		[]*graph.Entity{mustEntity(t, s, "ea"), mustEntity(t, s, "eb")},
		2.0, 0.5, 1, 0.25, applied)

	// No link joins the two member sets: no energy may cross.
	assert.False(t, ok)
	assert.Empty(t, applied)
	b1, _ := s.Node("b1")
	b2, _ := s.Node("b2")
	assert.InDelta(t, 0.1, b1.Energy, 1e-9)
	assert.InDelta(t, 0.05, b2.Energy, 1e-9)
}

func TestBetweenStrideReroutesToLinkedMember(t *testing.T) {
	// b1 is the preferred representative, but the only bridge lands on b2:
	// the stride must follow the link, not teleport to b1.
	s, sel := buildBridgeFixture(t, [][2]string{{"a1", "b2"}})

	applied := make(map[string]float64)
	rec, ok := sel.betweenStride(mustEntity(t, s, "ea"),
		[]*graph.Entity{mustEntity(t, s, "ea"), mustEntity(t, s, "eb")},
		2.0, 0.5, 1, 0.25, applied)

	require.True(t, ok)
	assert.Equal(t, "a1", rec.SourceNode)
	assert.Equal(t, "b2", rec.TargetNode)
	assert.Greater(t, rec.Delivered, 0.0)
	b2, _ := s.Node("b2")
	assert.Greater(t, b2.Energy, 0.05)
}

func TestRepresentativeSelectionPreservesMemberOrder(t *testing.T) {
	s, sel := buildTraversalFixture(t)

	// Insert memberships in reverse-sorted order on a fresh entity.
	z := graph.NewNode("z9", graph.ClassTask)
	z.Energy = 1.0
	require.NoError(t, s.AddNode(z))
	require.NoError(t, s.AddEntity(&graph.Entity{
		ID: "ez", Kind: graph.KindTopic, State: graph.StateProvisional,
	}))
	require.NoError(t, s.SetMembership("z9", "ez", 0.5))
	require.NoError(t, s.SetMembership("a1", "ez", 0.3))

	require.NotNil(t, sel.sourceRepresentative("ez"))

	// The store's own membership index keeps insertion order.
	members := s.MembersOf("ez")
	require.Len(t, members, 2)
	assert.Equal(t, "z9", members[0].NodeID)
	assert.Equal(t, "a1", members[1].NodeID)
}

func TestCandidateTruncationKeepsNearest(t *testing.T) {
	s := graph.NewStore()
	require.NoError(t, s.AddEntity(&graph.Entity{
		ID: "src", Kind: graph.KindTopic, State: graph.StateProvisional,
		Centroid: []float32{1, 0}, EnergyRuntime: 2.0, ThresholdRuntime: 1.0,
	}))
	// The nearest destination carries the highest id, so an id-ordered
	// prefix cut would discard it.
	for id, centroid := range map[string][]float32{
		"dst-a": {-1, 0},
		"dst-b": {0, 1},
		"dst-z": {1, 0},
	} {
		require.NoError(t, s.AddEntity(&graph.Entity{
			ID: id, Kind: graph.KindTopic, State: graph.StateProvisional,
			Centroid: centroid, EnergyRuntime: 2.0, ThresholdRuntime: 1.0,
		}))
	}

	diff, err := diffusion.NewEngine(s, diffusion.DefaultConfig(), nil)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.MaxCandidates = 2
	sel, err := NewSelector(s, diff, cfg, nil)
	require.NoError(t, err)

	var active []*graph.Entity
	for _, id := range []string{"src", "dst-a", "dst-b", "dst-z"} {
		active = append(active, mustEntity(t, s, id))
	}
	candidates := sel.gatherCandidates(mustEntity(t, s, "src"), active, 2.0)

	require.Len(t, candidates, 2)
	ids := []string{candidates[0].entity.ID, candidates[1].entity.ID}
	assert.Contains(t, ids, "dst-z", "nearest destination survives truncation")
	assert.NotContains(t, ids, "dst-a", "farthest destination is cut first")
}
