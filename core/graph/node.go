package graph

import "time"

// Node is the atomic unit of state in the activation graph. Energy is the
// fast-moving activation scalar; BaseWeight is the slow-moving persistent
// importance. Both only ever reach downstream consumers through saturating
// transforms, so neither carries a hard cap.
type Node struct {
	// ID is the unique identifier for this node.
	ID string `json:"id"`

	// Class selects the decay-rate multipliers applied to this node.
	Class NodeClass `json:"class"`

	// Energy is the current activation energy. Always >= 0.
	Energy float64 `json:"energy"`

	// BaseWeight is the persistent importance accumulator. Always >= 0.
	BaseWeight float64 `json:"base_weight"`

	// Threshold is the node's activation threshold.
	Threshold float64 `json:"threshold"`

	// Embedding is the semantic embedding vector for this node.
	Embedding []float32 `json:"-"`

	// LastModified is the tick index of the last mutation.
	LastModified uint64 `json:"last_modified"`

	// CreatedAt is when this node was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewNode creates a node with zero energy and the given class.
func NewNode(id string, class NodeClass) *Node {
	return &Node{
		ID:        id,
		Class:     class,
		Threshold: 1.0,
		CreatedAt: time.Now(),
	}
}

// IsActive reports whether the node's energy meets its threshold.
func (n *Node) IsActive() bool {
	return n.Energy >= n.Threshold
}

// Gap returns the energy still needed to reach the threshold, never negative.
func (n *Node) Gap() float64 {
	gap := n.Threshold - n.Energy
	if gap < 0 {
		return 0
	}
	return gap
}

// SaturatedEnergy returns the node energy through the compressive transform.
func (n *Node) SaturatedEnergy() float64 {
	return SaturateEnergy(n.Energy)
}

// AddEnergy adds delta to the node's energy, clipping at zero. It returns
// the delta actually applied, which is what conservation accounting records.
func (n *Node) AddEnergy(delta float64, tick uint64) float64 {
	applied := delta
	if n.Energy+delta < 0 {
		applied = -n.Energy
	}
	n.Energy += applied
	n.LastModified = tick
	return applied
}
