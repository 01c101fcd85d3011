package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/cascade/core/events"
	"github.com/adalundhe/cascade/core/graph"
	"github.com/adalundhe/cascade/core/store"
)

type collector struct {
	events []events.Event
}

func (c *collector) Emit(e events.Event) { c.events = append(c.events, e) }

func (c *collector) byKind(kind events.Kind) []events.Event {
	var out []events.Event
	for _, e := range c.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func seededStore(t *testing.T) *graph.Store {
	t.Helper()
	s := graph.NewStore()

	for _, id := range []string{"n1", "n2", "n3"} {
		n := graph.NewNode(id, graph.ClassTask)
		n.Embedding = []float32{1, 0}
		require.NoError(t, s.AddNode(n))
	}
	require.NoError(t, s.AddLink(&graph.Link{
		Source: "n1", Target: "n2", Type: graph.LinkAssociative, Weight: 0.5,
	}))
	require.NoError(t, s.AddLink(&graph.Link{
		Source: "n2", Target: "n3", Type: graph.LinkAssociative, Weight: 0.5,
	}))
	require.NoError(t, s.AddEntity(&graph.Entity{
		ID: "e1", Kind: graph.KindTopic, State: graph.StateProvisional,
		Centroid: []float32{1, 0}, ThresholdRuntime: 1.0,
	}))
	require.NoError(t, s.SetMembership("n1", "e1", 0.6))
	require.NoError(t, s.SetMembership("n2", "e1", 0.4))
	return s
}

func newTestEngine(t *testing.T, sink events.Sink) *Engine {
	t.Helper()
	eng, err := New(seededStore(t), DefaultConfig(), sink, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestStepAdvancesTickAndEmitsSnapshot(t *testing.T) {
	sink := &collector{}
	eng := newTestEngine(t, sink)

	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		now = now.Add(250 * time.Millisecond)
		require.NoError(t, eng.Step(now))
	}

	assert.Equal(t, uint64(10), eng.Tick())
	snaps := sink.byKind(events.KindTickSnapshot)
	require.Len(t, snaps, 10)

	last, ok := snaps[9].Payload.(events.TickSnapshot)
	require.True(t, ok)
	assert.Equal(t, uint64(10), last.Tick)
	assert.GreaterOrEqual(t, last.TotalEnergy, 0.0)
}

func TestInjectStimulusLandsNextTick(t *testing.T) {
	eng := newTestEngine(t, nil)

	require.NoError(t, eng.InjectStimulus("n1", 5.0))
	require.NoError(t, eng.Step(time.Unix(1, 0)))

	n, ok := eng.Graph().Node("n1")
	require.True(t, ok)
	assert.Greater(t, n.Energy, 0.0)
}

func TestInjectStimulusValidation(t *testing.T) {
	eng := newTestEngine(t, nil)

	assert.Error(t, eng.InjectStimulus("n1", 0))
	assert.Error(t, eng.InjectStimulus("n1", -1))
	assert.ErrorIs(t, eng.InjectStimulus("ghost", 1.0), graph.ErrNodeNotFound)
}

func TestStepHaltsOnInvariantViolation(t *testing.T) {
	sink := &collector{}
	eng := newTestEngine(t, sink)

	n, ok := eng.Graph().Node("n1")
	require.True(t, ok)
	n.Energy = -5.0

	err := eng.Step(time.Unix(1, 0))
	require.Error(t, err)
	var fault *graph.FaultError
	assert.ErrorAs(t, err, &fault)
	assert.NotEmpty(t, sink.byKind(events.KindFault))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	eng := newTestEngine(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, eng.Run(ctx))
}

func TestReinforceKeepsMaximum(t *testing.T) {
	eng := newTestEngine(t, nil)

	eng.Reinforce("e1", 0.3)
	eng.Reinforce("e1", 0.9)
	eng.Reinforce("e1", 0.5)

	eng.mu.Lock()
	got := eng.reinforcement["e1"]
	eng.mu.Unlock()
	assert.InDelta(t, 0.9, got, 1e-9)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MembershipLearnRate = 2.0
	_, err := New(graph.NewStore(), cfg, nil, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.LogWeightLearnRate = -0.1
	_, err = New(graph.NewStore(), cfg, nil, nil)
	assert.Error(t, err)
}

func TestReinforceNodeSaturates(t *testing.T) {
	eng := newTestEngine(t, nil)

	n, ok := eng.Graph().Node("n1")
	require.True(t, ok)
	before := n.BaseWeight
	require.NoError(t, eng.ReinforceNode("n1", 0.5))
	assert.Greater(t, n.BaseWeight, before)

	// Repeated maximal reinforcement stays bounded.
	for i := 0; i < 50; i++ {
		require.NoError(t, eng.ReinforceNode("n1", 1.0))
	}
	assert.Less(t, n.BaseWeight, 1.0)

	assert.ErrorIs(t, eng.ReinforceNode("ghost", 0.5), graph.ErrNodeNotFound)
	assert.Error(t, eng.ReinforceNode("n1", 0))
	assert.Error(t, eng.ReinforceNode("n1", 1.5))
}

func TestReinforceLinkStrengthens(t *testing.T) {
	eng := newTestEngine(t, nil)

	link, ok := eng.Graph().Link("n1", "n2")
	require.True(t, ok)
	before := link.Weight
	require.NoError(t, eng.ReinforceLink("n1", "n2", 0.5))
	assert.Greater(t, link.Weight, before)
	assert.LessOrEqual(t, link.Weight, 1.0)

	assert.ErrorIs(t, eng.ReinforceLink("n1", "ghost", 0.5), graph.ErrLinkNotFound)
	assert.Error(t, eng.ReinforceLink("n1", "n2", -0.5))
}

func TestEntitySummaryServedAfterStep(t *testing.T) {
	eng := newTestEngine(t, nil)

	require.NoError(t, eng.InjectStimulus("n1", 5.0))
	require.NoError(t, eng.Step(time.Unix(1, 0)))

	summary, ok := eng.EntitySummary("e1", 2)
	require.True(t, ok)
	assert.Equal(t, "e1", summary.ID)
	assert.Greater(t, summary.Energy, 0.0)
	assert.Equal(t, 2, summary.MemberCount)

	_, ok = eng.EntitySummary("ghost", 2)
	assert.False(t, ok)
}

func TestSnapshotsPersistedOffTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotEvery = 1
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "snapshots.db")

	eng, err := New(seededStore(t), cfg, nil, nil)
	require.NoError(t, err)

	now := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		now = now.Add(250 * time.Millisecond)
		require.NoError(t, eng.Step(now))
	}
	// Close drains the snapshot worker before releasing the database.
	require.NoError(t, eng.Close())

	db, err := store.Open(cfg.SnapshotPath)
	require.NoError(t, err)
	defer db.Close()
	infos, err := db.List()
	require.NoError(t, err)
	assert.NotEmpty(t, infos)
}

func TestLogWeightLearnsFromUsage(t *testing.T) {
	s := seededStore(t)
	require.NoError(t, s.AddEntity(&graph.Entity{
		ID: "e2", Kind: graph.KindTopic, State: graph.StateProvisional,
		Centroid: []float32{1, 0}, ThresholdRuntime: 1.0,
	}))
	require.NoError(t, s.SetMembership("n3", "e2", 0.5))

	eng, err := New(s, DefaultConfig(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	// e1 is stimulated and reinforced every tick; e2 only idles.
	now := time.Unix(0, 0)
	for i := 0; i < 20; i++ {
		require.NoError(t, eng.InjectStimulus("n1", 5.0))
		eng.Reinforce("e1", 1.0)
		now = now.Add(250 * time.Millisecond)
		require.NoError(t, eng.Step(now))
	}

	e1, ok := s.Entity("e1")
	require.True(t, ok)
	e2, ok := s.Entity("e2")
	require.True(t, ok)
	assert.Greater(t, e1.LogWeight, 0.0, "used entity gains importance")
	assert.Greater(t, e1.LogWeight, e2.LogWeight)
}
