package boundary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/cascade/core/events"
	"github.com/adalundhe/cascade/core/graph"
	"github.com/adalundhe/cascade/core/traversal"
)

func boundaryFixture(t *testing.T) (*graph.Store, *Learner) {
	t.Helper()
	s := graph.NewStore()
	require.NoError(t, s.AddNode(graph.NewNode("n1", graph.ClassTask)))
	require.NoError(t, s.AddNode(graph.NewNode("n2", graph.ClassTask)))
	require.NoError(t, s.AddEntity(&graph.Entity{
		ID: "ea", Kind: graph.KindTopic, Centroid: []float32{1, 0},
	}))
	require.NoError(t, s.AddEntity(&graph.Entity{
		ID: "eb", Kind: graph.KindTopic, Centroid: []float32{0, 1},
	}))
	require.NoError(t, s.SetMembership("n1", "ea", 0.8))
	require.NoError(t, s.SetMembership("n2", "eb", 0.9))

	l, err := NewLearner(s, DefaultConfig(), nil)
	require.NoError(t, err)
	return s, l
}

func stride(tick uint64, delivered float64) traversal.BoundaryStride {
	return traversal.BoundaryStride{
		SourceEntity:    "ea",
		TargetEntity:    "eb",
		SourceNode:      "n1",
		TargetNode:      "n2",
		Requested:       delivered,
		Delivered:       delivered,
		TargetGapBefore: 1.0,
		DominantHunger:  traversal.HungerGoal,
		Tick:            tick,
	}
}

func TestFirstEvidenceMaterializes(t *testing.T) {
	// With no relations on record there is no cohort to calibrate
	// against, so the very first stride is sufficient evidence.
	s, l := boundaryFixture(t)
	now := time.Unix(0, 0)

	l.Tick(1, now, []traversal.BoundaryStride{stride(1, 0.5)}, nil)
	rel, ok := s.Relation("ea", "eb")
	require.True(t, ok)
	assert.Equal(t, "ea", rel.Source)
	assert.Equal(t, "eb", rel.Target)
	assert.Greater(t, rel.FlowEMA, 0.0)
	assert.InDelta(t, 2.0, rel.SemanticDistance, 1.0)
}

func TestMaterializationNeedsEvidence(t *testing.T) {
	// Once a cohort exists, new pairs must accumulate
	// MinStridesToMaterialize strides before earning a record.
	s, l := boundaryFixture(t)
	require.NoError(t, s.AddEntity(&graph.Entity{
		ID: "ec", Kind: graph.KindTopic, Centroid: []float32{1, 1},
	}))
	now := time.Unix(0, 0)
	l.Tick(1, now, []traversal.BoundaryStride{stride(1, 0.5)}, nil)
	_, ok := s.Relation("ea", "eb")
	require.True(t, ok)

	toEC := func(tick uint64) traversal.BoundaryStride {
		st := stride(tick, 0.5)
		st.TargetEntity = "ec"
		return st
	}
	l.Tick(2, now.Add(time.Second), []traversal.BoundaryStride{toEC(2)}, nil)
	_, ok = s.Relation("ea", "ec")
	assert.False(t, ok)

	l.Tick(3, now.Add(2*time.Second), []traversal.BoundaryStride{toEC(3)}, nil)
	l.Tick(4, now.Add(3*time.Second), []traversal.BoundaryStride{toEC(4)}, nil)
	rel, ok := s.Relation("ea", "ec")
	require.True(t, ok)
	assert.Equal(t, "ec", rel.Target)
}

func materialized(t *testing.T, l *Learner, s *graph.Store) *graph.EntityRelation {
	t.Helper()
	now := time.Unix(0, 0)
	for tick := uint64(1); tick <= 3; tick++ {
		l.Tick(tick, now.Add(time.Duration(tick)*time.Second),
			[]traversal.BoundaryStride{stride(tick, 0.5)}, nil)
	}
	rel, ok := s.Relation("ea", "eb")
	require.True(t, ok)
	return rel
}

func TestFlowAndDominance(t *testing.T) {
	s, l := boundaryFixture(t)
	rel := materialized(t, l, s)

	now := time.Unix(100, 0)
	for tick := uint64(4); tick <= 20; tick++ {
		l.Tick(tick, now.Add(time.Duration(tick)*time.Second),
			[]traversal.BoundaryStride{stride(tick, 1.0)}, nil)
	}

	assert.Greater(t, rel.FlowEMA, 0.0)
	// All traffic is forward: dominance well above symmetric.
	assert.Greater(t, rel.Dominance, 0.9)
	assert.Equal(t, "goal", rel.DominantHunger)
	assert.GreaterOrEqual(t, rel.StrideCount, uint64(17))
}

func TestPrecedenceCreditOnFlip(t *testing.T) {
	s, l := boundaryFixture(t)
	rel := materialized(t, l, s)
	require.InDelta(t, 0.0, rel.PrecedenceEMA, 1e-9)

	flips := []events.Flip{{EntityID: "eb", Direction: "up"}}
	l.Tick(10, time.Unix(200, 0), []traversal.BoundaryStride{stride(10, 2.0)}, flips)

	// Credit is gap closure weighted by the target node's membership.
	assert.Greater(t, rel.PrecedenceEMA, 0.0)
}

func TestPrecedenceCreditCapsAtGapClosure(t *testing.T) {
	// A stride that barely closes the gap and one that floods far past it
	// earn the same credit: closure is capped at 1 before weighting.
	sA, lA := boundaryFixture(t)
	sB, lB := boundaryFixture(t)
	relA := materialized(t, lA, sA)
	relB := materialized(t, lB, sB)

	flips := []events.Flip{{EntityID: "eb", Direction: "up"}}
	exact := stride(10, 2.0)
	exact.TargetGapBefore = 1.0
	flood := stride(10, 50.0)
	flood.TargetGapBefore = 1.0

	lA.Tick(10, time.Unix(200, 0), []traversal.BoundaryStride{exact}, flips)
	lB.Tick(10, time.Unix(200, 0), []traversal.BoundaryStride{flood}, flips)

	assert.Greater(t, relA.PrecedenceEMA, 0.0)
	assert.InDelta(t, relA.PrecedenceEMA, relB.PrecedenceEMA, 1e-9)
}

func TestNoCreditOnDownFlip(t *testing.T) {
	s, l := boundaryFixture(t)
	rel := materialized(t, l, s)

	flips := []events.Flip{{EntityID: "eb", Direction: "down"}}
	l.Tick(10, time.Unix(200, 0), []traversal.BoundaryStride{stride(10, 2.0)}, flips)
	assert.InDelta(t, 0.0, rel.PrecedenceEMA, 1e-9)
}

func TestTrafficSummariesOrdered(t *testing.T) {
	s, l := boundaryFixture(t)
	require.NoError(t, s.AddEntity(&graph.Entity{
		ID: "ec", Kind: graph.KindTopic, Centroid: []float32{1, 1},
	}))

	// Pre-materialize both pairs so summaries emit.
	now := time.Unix(0, 0)
	for tick := uint64(1); tick <= 3; tick++ {
		second := stride(tick, 0.5)
		second.TargetEntity = "ec"
		l.Tick(tick, now.Add(time.Duration(tick)*time.Second),
			[]traversal.BoundaryStride{stride(tick, 0.5), second}, nil)
	}

	out := l.Tick(4, now.Add(4*time.Second), []traversal.BoundaryStride{
		stride(4, 0.5),
		func() traversal.BoundaryStride {
			st := stride(4, 0.5)
			st.TargetEntity = "ec"
			return st
		}(),
	}, nil)

	require.Len(t, out, 2)
	assert.Equal(t, "eb", out[0].TargetEntity)
	assert.Equal(t, "ec", out[1].TargetEntity)
}

func TestEaseTracksEffectiveness(t *testing.T) {
	s, l := boundaryFixture(t)
	rel := materialized(t, l, s)
	before := rel.EaseLogWeight

	// Fully effective strides (gap exactly closed) push ease up.
	st := stride(10, 1.0)
	l.Tick(10, time.Unix(300, 0), []traversal.BoundaryStride{st}, nil)
	assert.Greater(t, rel.EaseLogWeight, before)

	// Ineffective strides pull it down.
	mid := rel.EaseLogWeight
	weak := stride(11, 0.01)
	weak.TargetGapBefore = 10.0
	l.Tick(11, time.Unix(301, 0), []traversal.BoundaryStride{weak}, nil)
	assert.Less(t, rel.EaseLogWeight, mid)
}
