package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/cascade/core/graph"
)

func openTestDB(t *testing.T) *SnapshotDB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func fullGraph(t *testing.T) *graph.Store {
	t.Helper()
	g := graph.NewStore()

	n1 := graph.NewNode("n1", graph.ClassMemory)
	n1.Energy = 2.5
	n1.BaseWeight = 1.2
	n1.Embedding = []float32{0.5, -0.25, 1.0}
	n1.LastModified = 7
	require.NoError(t, g.AddNode(n1))

	n2 := graph.NewNode("n2", graph.ClassPercept)
	n2.Energy = 0.4
	require.NoError(t, g.AddNode(n2))

	require.NoError(t, g.AddLink(&graph.Link{
		Source: "n1", Target: "n2", Type: graph.LinkCausal,
		Weight: 0.65, LastStrengthened: 5,
	}))

	require.NoError(t, g.AddEntity(&graph.Entity{
		ID: "e1", Name: "topic", Kind: graph.KindTopic, State: graph.StateMature,
		Centroid: []float32{1, 0, 0}, EnergyRuntime: 3.0, ThresholdRuntime: 1.5,
		LogWeight: 2.0, Coherence: 0.8,
	}))
	require.NoError(t, g.AddEntity(&graph.Entity{
		ID: "e2", Kind: graph.KindRole, State: graph.StateProvisional,
	}))
	require.NoError(t, g.SetMembership("n1", "e1", 0.7))
	require.NoError(t, g.SetMembership("n2", "e2", 0.4))

	g.PutRelation(&graph.EntityRelation{
		ID: "r1", Source: "e1", Target: "e2",
		FlowEMA: 1.25, PrecedenceEMA: 0.5, Dominance: 0.7,
		EaseLogWeight: 0.3, SemanticDistance: 0.9,
		DominantHunger: "goal", StrideCount: 12,
	})
	return g
}

func TestSaveLoadRoundtrip(t *testing.T) {
	db := openTestDB(t)
	g := fullGraph(t)

	id, err := db.Save(42, g)
	require.NoError(t, err)

	loaded, err := db.Load(id)
	require.NoError(t, err)

	n1, ok := loaded.Node("n1")
	require.True(t, ok)
	assert.Equal(t, graph.ClassMemory, n1.Class)
	assert.InDelta(t, 2.5, n1.Energy, 1e-12)
	assert.InDelta(t, 1.2, n1.BaseWeight, 1e-12)
	assert.Equal(t, []float32{0.5, -0.25, 1.0}, n1.Embedding)
	assert.Equal(t, uint64(7), n1.LastModified)

	l, ok := loaded.Link("n1", "n2")
	require.True(t, ok)
	assert.Equal(t, graph.LinkCausal, l.Type)
	assert.InDelta(t, 0.65, l.Weight, 1e-12)
	assert.Equal(t, uint64(5), l.LastStrengthened)

	e1, ok := loaded.Entity("e1")
	require.True(t, ok)
	assert.Equal(t, graph.StateMature, e1.State)
	assert.InDelta(t, 3.0, e1.EnergyRuntime, 1e-12)
	assert.InDelta(t, 0.8, e1.Coherence, 1e-12)

	members := loaded.MembersOf("e1")
	require.Len(t, members, 1)
	assert.Equal(t, "n1", members[0].NodeID)
	assert.InDelta(t, 0.7, members[0].Weight, 1e-12)

	rel, ok := loaded.Relation("e1", "e2")
	require.True(t, ok)
	assert.InDelta(t, 1.25, rel.FlowEMA, 1e-12)
	assert.Equal(t, "goal", rel.DominantHunger)
	assert.Equal(t, uint64(12), rel.StrideCount)
}

func TestLatestAndList(t *testing.T) {
	db := openTestDB(t)
	g := fullGraph(t)

	_, ok, err := db.Latest()
	require.NoError(t, err)
	assert.False(t, ok)

	for tick := uint64(1); tick <= 3; tick++ {
		_, err := db.Save(tick*10, g)
		require.NoError(t, err)
	}

	latest, ok, err := db.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(30), latest.Tick)

	infos, err := db.List()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, uint64(30), infos[0].Tick)
	assert.Equal(t, uint64(10), infos[2].Tick)
}

func TestPruneKeepsNewest(t *testing.T) {
	cfg := DefaultDBConfig(filepath.Join(t.TempDir(), "snapshots.db"))
	cfg.KeepSnapshots = 2
	db, err := OpenWithConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	g := fullGraph(t)
	for tick := uint64(1); tick <= 5; tick++ {
		_, err := db.Save(tick, g)
		require.NoError(t, err)
	}
	require.NoError(t, db.Prune())

	infos, err := db.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, uint64(5), infos[0].Tick)
	assert.Equal(t, uint64(4), infos[1].Tick)
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())
}

func TestDBConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DBConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*DBConfig) {}},
		{name: "empty path", mutate: func(c *DBConfig) { c.Path = "" }, wantErr: true},
		{name: "zero open conns", mutate: func(c *DBConfig) { c.MaxOpenConns = 0 }, wantErr: true},
		{name: "idle exceeds open", mutate: func(c *DBConfig) { c.MaxIdleConns = 99 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultDBConfig("x.db")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEmbeddingCodec(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	data, err := encodeEmbedding(in)
	require.NoError(t, err)
	assert.Equal(t, in, decodeEmbedding(data))

	empty, err := encodeEmbedding(nil)
	require.NoError(t, err)
	assert.Nil(t, decodeEmbedding(empty))
}
