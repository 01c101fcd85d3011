package graph

import (
	"sort"
	"time"

	"github.com/dgraph-io/ristretto"
)

// EntitySummary is the scalar-only diagnostic view of an entity exposed on
// the read-only query surface. No embedded vectors, to keep transport light.
type EntitySummary struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	Energy      float64         `json:"energy"`
	Threshold   float64         `json:"threshold"`
	Level       ActivationLevel `json:"level"`
	State       string          `json:"state"`
	Quality     float64         `json:"quality"`
	Coherence   float64         `json:"coherence"`
	MemberCount int             `json:"member_count"`
	TopMembers  []MemberSummary `json:"top_members,omitempty"`
}

// MemberSummary is a scalar view of one member node.
type MemberSummary struct {
	NodeID string  `json:"node_id"`
	Weight float64 `json:"weight"`
	Energy float64 `json:"energy"`
}

// QueryView is the read-only diagnostic surface over the store. Summaries
// are cached in ristretto with a short TTL; the cache is invalidated
// wholesale at each tick boundary by version bump, so callers inside one
// tick see consistent reads without recomputing top-member rankings.
type QueryView struct {
	store   *Store
	cache   *ristretto.Cache
	ttl     time.Duration
	version uint64
}

// QueryViewConfig configures the query surface cache.
type QueryViewConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	TTL         time.Duration
}

// DefaultQueryViewConfig returns a configuration sized for diagnostic use.
func DefaultQueryViewConfig() QueryViewConfig {
	return QueryViewConfig{
		NumCounters: 1e5,
		MaxCost:     1e7,
		BufferItems: 64,
		TTL:         5 * time.Second,
	}
}

// NewQueryView creates a query surface over the given store.
func NewQueryView(store *Store, cfg QueryViewConfig) (*QueryView, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &QueryView{store: store, cache: cache, ttl: cfg.TTL}, nil
}

// AdvanceTick invalidates cached summaries from prior ticks.
func (v *QueryView) AdvanceTick(tick uint64) {
	v.version = tick
}

// EntitySummary returns the cached scalar summary for one entity.
func (v *QueryView) EntitySummary(entityID string, topN int) (EntitySummary, bool) {
	key := summaryKey(entityID, v.version, topN)
	if cached, ok := v.cache.Get(key); ok {
		if summary, ok := cached.(EntitySummary); ok {
			return summary, true
		}
	}

	entity, ok := v.store.Entity(entityID)
	if !ok {
		return EntitySummary{}, false
	}

	summary := EntitySummary{
		ID:          entity.ID,
		Name:        entity.Name,
		Kind:        entity.Kind.String(),
		Energy:      entity.EnergyRuntime,
		Threshold:   entity.ThresholdRuntime,
		Level:       entity.Level,
		State:       entity.State.String(),
		Quality:     entity.Quality,
		Coherence:   entity.Coherence,
		MemberCount: entity.MemberCount,
		TopMembers:  v.topMembers(entityID, topN),
	}

	v.cache.SetWithTTL(key, summary, int64(1+len(summary.TopMembers)), v.ttl)
	return summary, true
}

// topMembers ranks an entity's members by weighted saturated energy.
func (v *QueryView) topMembers(entityID string, topN int) []MemberSummary {
	if topN <= 0 {
		return nil
	}
	memberships := v.store.MembersOf(entityID)
	out := make([]MemberSummary, 0, len(memberships))
	for _, m := range memberships {
		node, ok := v.store.Node(m.NodeID)
		if !ok {
			continue
		}
		out = append(out, MemberSummary{
			NodeID: m.NodeID,
			Weight: m.Weight,
			Energy: node.Energy,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		si := out[i].Weight * SaturateEnergy(out[i].Energy)
		sj := out[j].Weight * SaturateEnergy(out[j].Energy)
		if si != sj {
			return si > sj
		}
		return out[i].NodeID < out[j].NodeID
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// Close releases the cache resources.
func (v *QueryView) Close() {
	v.cache.Close()
}

func summaryKey(entityID string, version uint64, topN int) string {
	// Version and fan-out are folded into the key so stale tick data can
	// never be served.
	return entityID + "|" + itoa(version) + "|" + itoa(uint64(topN))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
