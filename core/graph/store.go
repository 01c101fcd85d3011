package graph

import (
	"fmt"
	"sync"
)

// SimplexEpsilon is the tolerance allowed on the per-node membership weight
// sum before the simplex invariant is considered violated.
const SimplexEpsilon = 1e-6

// Store owns all node, link, entity, membership, and relation records plus
// the runtime indices the per-tick machinery needs. All access is guarded by
// a single RWMutex; tick phases take coarse read or write locks and do their
// fine-grained coordination above this layer.
type Store struct {
	mu sync.RWMutex

	nodes     map[string]*Node
	links     map[LinkKey]*Link
	outgoing  map[string][]*Link
	incoming  map[string][]*Link
	entities  map[string]*Entity
	relations map[RelationKey]*EntityRelation

	// nodeMemberships indexes node id -> memberships; entityMembers
	// indexes entity id -> memberships. Both reference the same records.
	nodeMemberships map[string][]*Membership
	entityMembers   map[string][]*Membership
}

// NewStore creates an empty graph store.
func NewStore() *Store {
	return &Store{
		nodes:           make(map[string]*Node),
		links:           make(map[LinkKey]*Link),
		outgoing:        make(map[string][]*Link),
		incoming:        make(map[string][]*Link),
		entities:        make(map[string]*Entity),
		relations:       make(map[RelationKey]*EntityRelation),
		nodeMemberships: make(map[string][]*Membership),
		entityMembers:   make(map[string][]*Membership),
	}
}

// =============================================================================
// Nodes
// =============================================================================

// AddNode inserts a node. Returns ErrDuplicateID if the id exists.
func (s *Store) AddNode(n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[n.ID]; ok {
		return fmt.Errorf("%w: node %s", ErrDuplicateID, n.ID)
	}
	s.nodes[n.ID] = n
	return nil
}

// Node returns the node with the given id.
func (s *Store) Node(id string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// ForEachNode calls fn for every node. The callback must not mutate the
// store through other Store methods or it will deadlock.
func (s *Store) ForEachNode(fn func(*Node)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		fn(n)
	}
}

// ActiveNodeIDs returns the ids of nodes at or above their threshold.
func (s *Store) ActiveNodeIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, n := range s.nodes {
		if n.IsActive() {
			ids = append(ids, id)
		}
	}
	return ids
}

// =============================================================================
// Links
// =============================================================================

// AddLink inserts a link and updates the adjacency indices. Both endpoints
// must already exist.
func (s *Store) AddLink(l *Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[l.Source]; !ok {
		return fmt.Errorf("%w: link source %s", ErrNodeNotFound, l.Source)
	}
	if _, ok := s.nodes[l.Target]; !ok {
		return fmt.Errorf("%w: link target %s", ErrNodeNotFound, l.Target)
	}
	key := l.Key()
	if _, ok := s.links[key]; ok {
		return fmt.Errorf("%w: link %s->%s", ErrDuplicateID, l.Source, l.Target)
	}
	s.links[key] = l
	s.outgoing[l.Source] = append(s.outgoing[l.Source], l)
	s.incoming[l.Target] = append(s.incoming[l.Target], l)
	return nil
}

// Link returns the link between the given node ids.
func (s *Store) Link(source, target string) (*Link, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[LinkKey{Source: source, Target: target}]
	return l, ok
}

// Outgoing returns the outgoing links of a node. The returned slice is the
// store's own index; callers must not append to it.
func (s *Store) Outgoing(nodeID string) []*Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outgoing[nodeID]
}

// Incoming returns the incoming links of a node.
func (s *Store) Incoming(nodeID string) []*Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.incoming[nodeID]
}

// LinkCount returns the number of links.
func (s *Store) LinkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}

// ForEachLink calls fn for every link.
func (s *Store) ForEachLink(fn func(*Link)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.links {
		fn(l)
	}
}

// =============================================================================
// Entities
// =============================================================================

// AddEntity inserts an entity. Returns ErrDuplicateID if the id exists.
func (s *Store) AddEntity(e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[e.ID]; ok {
		return fmt.Errorf("%w: entity %s", ErrDuplicateID, e.ID)
	}
	s.entities[e.ID] = e
	return nil
}

// Entity returns the entity with the given id.
func (s *Store) Entity(id string) (*Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return e, ok
}

// EntityCount returns the number of entities, dissolved included.
func (s *Store) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// ForEachEntity calls fn for every entity.
func (s *Store) ForEachEntity(fn func(*Entity)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entities {
		fn(e)
	}
}

// ActiveEntities returns entities whose cached energy meets their threshold,
// excluding dissolved ones.
func (s *Store) ActiveEntities() []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Entity
	for _, e := range s.entities {
		if e.IsActive() {
			active = append(active, e)
		}
	}
	return active
}

// =============================================================================
// Memberships
// =============================================================================

// SetMembership creates or updates the weighted membership of a node in an
// entity, enforcing the per-node simplex invariant: the node's membership
// weights across all entities must sum to at most 1 + SimplexEpsilon.
func (s *Store) SetMembership(nodeID, entityID string, weight float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[nodeID]; !ok {
		return fmt.Errorf("%w: membership node %s", ErrNodeNotFound, nodeID)
	}
	entity, ok := s.entities[entityID]
	if !ok {
		return fmt.Errorf("%w: membership entity %s", ErrEntityNotFound, entityID)
	}
	if weight < 0 {
		return &FaultError{
			Invariant: "membership_nonnegative",
			Subject:   nodeID,
			Detail:    fmt.Sprintf("weight %.6f for entity %s", weight, entityID),
		}
	}

	sum := weight
	var existing *Membership
	for _, m := range s.nodeMemberships[nodeID] {
		if m.EntityID == entityID {
			existing = m
			continue
		}
		sum += m.Weight
	}
	if sum > 1.0+SimplexEpsilon {
		return &FaultError{
			Invariant: "membership_simplex",
			Subject:   nodeID,
			Detail:    fmt.Sprintf("weights would sum to %.6f", sum),
		}
	}

	if existing != nil {
		if weight == 0 {
			s.nodeMemberships[nodeID] = removeMembership(s.nodeMemberships[nodeID], entityID, byEntity)
			s.entityMembers[entityID] = removeMembership(s.entityMembers[entityID], nodeID, byNode)
			entity.MemberCount = len(s.entityMembers[entityID])
			return nil
		}
		existing.Weight = weight
		return nil
	}
	if weight == 0 {
		return nil
	}

	m := &Membership{NodeID: nodeID, EntityID: entityID, Weight: weight}
	s.nodeMemberships[nodeID] = append(s.nodeMemberships[nodeID], m)
	s.entityMembers[entityID] = append(s.entityMembers[entityID], m)
	entity.MemberCount = len(s.entityMembers[entityID])
	return nil
}

const (
	byEntity = iota
	byNode
)

// removeMembership drops the membership matching id from the slice. mode
// selects which side of the record is compared.
func removeMembership(memberships []*Membership, id string, mode int) []*Membership {
	for i, m := range memberships {
		match := m.EntityID == id
		if mode == byNode {
			match = m.NodeID == id
		}
		if match {
			return append(memberships[:i], memberships[i+1:]...)
		}
	}
	return memberships
}

// MembershipsOf returns the memberships of a node. O(1) index lookup; the
// slice is the store's own and must not be mutated.
func (s *Store) MembershipsOf(nodeID string) []*Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodeMemberships[nodeID]
}

// MembersOf returns the memberships of an entity.
func (s *Store) MembersOf(entityID string) []*Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entityMembers[entityID]
}

// SharedMemberFraction returns the Jaccard overlap of two entities' member
// sets, used by merge detection.
func (s *Store) SharedMemberFraction(a, b string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	membersA := s.entityMembers[a]
	membersB := s.entityMembers[b]
	if len(membersA) == 0 || len(membersB) == 0 {
		return 0
	}

	inA := make(map[string]struct{}, len(membersA))
	for _, m := range membersA {
		inA[m.NodeID] = struct{}{}
	}
	shared := 0
	for _, m := range membersB {
		if _, ok := inA[m.NodeID]; ok {
			shared++
		}
	}
	union := len(membersA) + len(membersB) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// =============================================================================
// Entity Relations
// =============================================================================

// PutRelation inserts or replaces a directed entity relation.
func (s *Store) PutRelation(r *EntityRelation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relations[r.Key()] = r
}

// Relation returns the relation for the given directed pair.
func (s *Store) Relation(source, target string) (*EntityRelation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.relations[RelationKey{Source: source, Target: target}]
	return r, ok
}

// RelationsFrom returns all relations whose source is the given entity.
func (s *Store) RelationsFrom(entityID string) []*EntityRelation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*EntityRelation
	for key, r := range s.relations {
		if key.Source == entityID {
			out = append(out, r)
		}
	}
	return out
}

// RelationCount returns the number of materialized relations.
func (s *Store) RelationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.relations)
}

// ForEachRelation calls fn for every relation.
func (s *Store) ForEachRelation(fn func(*EntityRelation)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.relations {
		fn(r)
	}
}

// =============================================================================
// Invariant Checking
// =============================================================================

// CheckInvariants scans the store for internal-consistency faults: negative
// energy, link weight outside [0, 1], or a broken membership simplex. The
// first fault found is returned; nil means the store is consistent.
func (s *Store) CheckInvariants(tick uint64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, n := range s.nodes {
		if n.Energy < 0 || isNaN(n.Energy) {
			return &FaultError{
				Invariant: "energy_nonnegative",
				Subject:   id,
				Detail:    fmt.Sprintf("energy %.6f", n.Energy),
				Tick:      tick,
			}
		}
		if n.BaseWeight < 0 || isNaN(n.BaseWeight) {
			return &FaultError{
				Invariant: "base_weight_nonnegative",
				Subject:   id,
				Detail:    fmt.Sprintf("base_weight %.6f", n.BaseWeight),
				Tick:      tick,
			}
		}
	}

	for key, l := range s.links {
		if l.Weight < 0 || l.Weight > 1 || isNaN(l.Weight) {
			return &FaultError{
				Invariant: "link_weight_range",
				Subject:   key.Source + "->" + key.Target,
				Detail:    fmt.Sprintf("weight %.6f", l.Weight),
				Tick:      tick,
			}
		}
	}

	for nodeID, memberships := range s.nodeMemberships {
		sum := 0.0
		for _, m := range memberships {
			sum += m.Weight
		}
		if sum > 1.0+SimplexEpsilon {
			return &FaultError{
				Invariant: "membership_simplex",
				Subject:   nodeID,
				Detail:    fmt.Sprintf("weights sum to %.6f", sum),
				Tick:      tick,
			}
		}
	}

	return nil
}

func isNaN(f float64) bool {
	return f != f
}
