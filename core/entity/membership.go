package entity

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/adalundhe/cascade/core/adaptive"
	"github.com/adalundhe/cascade/core/graph"
)

// minLearnedWeight is the floor a learned membership weight can decay to.
// SetMembership removes zero-weight memberships, so learning toward zero
// must stop short of it: a silent member stays recoverable instead of
// being structurally erased.
const minLearnedWeight = 1e-3

// MembershipLearner slowly adjusts node-to-entity membership weights from
// co-activation evidence: a node that is active whenever its entity is
// active earns weight, one that never co-activates loses it. Proposed
// increases are scaled down so the per-node simplex (sum <= 1) always
// holds after learning.
type MembershipLearner struct {
	mu    sync.Mutex
	store *graph.Store
	log   *slog.Logger

	// coactivation tracks the co-activation EMA per (node, entity).
	coactivation map[graph.RelationKey]*adaptive.EMA
	halfLives    *adaptive.HalfLifeSource
}

// NewMembershipLearner creates a learner over the given store.
func NewMembershipLearner(store *graph.Store, logger *slog.Logger) *MembershipLearner {
	if logger == nil {
		logger = slog.Default()
	}
	return &MembershipLearner{
		store:        store,
		log:          logger,
		coactivation: make(map[graph.RelationKey]*adaptive.EMA),
		halfLives:    adaptive.NewHalfLifeSource(300),
	}
}

// Observe folds one tick of activation observations. For every membership
// of every active entity it updates the member's co-activation EMA with
// whether the node itself was active.
func (m *MembershipLearner) Observe(now time.Time, dt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store.ForEachEntity(func(e *graph.Entity) {
		if !e.IsActive() {
			return
		}
		for _, membership := range m.store.MembersOf(e.ID) {
			node, ok := m.store.Node(membership.NodeID)
			if !ok {
				continue
			}
			key := graph.RelationKey{Source: membership.NodeID, Target: e.ID}
			ema, ok := m.coactivation[key]
			if !ok {
				ema = &adaptive.EMA{}
				m.coactivation[key] = ema
			}
			seriesKey := membership.NodeID + "|" + e.ID
			m.halfLives.Touch(seriesKey, now)
			observed := 0.0
			if node.IsActive() {
				observed = 1.0
			}
			ema.Update(observed, dt, m.halfLives.HalfLife(seriesKey))
		}
	})
}

// Apply nudges membership weights toward their co-activation EMAs, scaling
// increases so the node's weight sum never exceeds 1. rate is the fraction
// of the gap closed per call.
func (m *MembershipLearner) Apply(rate float64) error {
	if rate <= 0 {
		return nil
	}
	if rate > 1 {
		rate = 1
	}

	m.mu.Lock()
	// Group proposals per node so the simplex can be enforced jointly.
	type proposal struct {
		entityID string
		current  float64
		target   float64
	}
	byNode := make(map[string][]proposal)
	for key, ema := range m.coactivation {
		if !ema.Initialized() {
			continue
		}
		for _, membership := range m.store.MembershipsOf(key.Source) {
			if membership.EntityID != key.Target {
				continue
			}
			byNode[key.Source] = append(byNode[key.Source], proposal{
				entityID: key.Target,
				current:  membership.Weight,
				target:   ema.Value(),
			})
		}
	}
	m.mu.Unlock()

	nodeIDs := make([]string, 0, len(byNode))
	for id := range byNode {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	for _, nodeID := range nodeIDs {
		proposals := byNode[nodeID]
		sort.Slice(proposals, func(i, j int) bool {
			return proposals[i].entityID < proposals[j].entityID
		})

		// Current total across ALL memberships of the node, including
		// entities without proposals this round.
		total := 0.0
		for _, membership := range m.store.MembershipsOf(nodeID) {
			total += membership.Weight
		}

		for _, p := range proposals {
			next := p.current + rate*(p.target-p.current)
			if next < minLearnedWeight {
				next = minLearnedWeight
			}
			grow := next - p.current
			if grow > 0 {
				headroom := 1.0 - total
				if headroom <= 0 {
					continue
				}
				if grow > headroom {
					grow = headroom
					next = p.current + grow
				}
			}
			if err := m.store.SetMembership(nodeID, p.entityID, next); err != nil {
				return err
			}
			total += next - p.current
		}
	}
	return nil
}
