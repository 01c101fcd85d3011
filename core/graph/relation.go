package graph

import "time"

// EntityRelation is a directed entity-to-entity relation, materialized
// lazily once cross-boundary traffic evidence accumulates. All learned
// fields are exponential moving averages maintained by the boundary
// precedence learner.
type EntityRelation struct {
	// ID is the unique identifier for this relation.
	ID string `json:"id"`

	// Source and Target are entity ids; direction matters.
	Source string `json:"source"`
	Target string `json:"target"`

	// EaseLogWeight is the learned cost-of-traversal modifier. Higher
	// means energy crosses this boundary more cheaply.
	EaseLogWeight float64 `json:"ease_log_weight"`

	// Dominance in (0, 1) indicates directional flow asymmetry;
	// 0.5 is symmetric.
	Dominance float64 `json:"dominance"`

	// FlowEMA and ReverseFlowEMA track delivered energy in each direction.
	FlowEMA        float64 `json:"flow_ema"`
	ReverseFlowEMA float64 `json:"reverse_flow_ema"`

	// PrecedenceEMA accumulates causal-attribution credit.
	PrecedenceEMA float64 `json:"precedence_ema"`

	// SemanticDistance is the EMA of centroid cosine distance.
	SemanticDistance float64 `json:"semantic_distance"`

	// DominantHunger names the signal that most often drove strides
	// across this boundary.
	DominantHunger string `json:"dominant_hunger"`

	// HungerEntropy is the normalized entropy of the driving-hunger
	// distribution, in [0, 1].
	HungerEntropy float64 `json:"hunger_entropy"`

	// StrideCount is the total number of strides recorded on this pair.
	StrideCount uint64 `json:"stride_count"`

	// LastUpdated is the wall-clock time of the last learner update,
	// used to derive per-relation EMA half-lives.
	LastUpdated time.Time `json:"last_updated"`
}

// RelationKey uniquely identifies a directed entity pair.
type RelationKey struct {
	Source string
	Target string
}

// Key returns the map key for this relation.
func (r *EntityRelation) Key() RelationKey {
	return RelationKey{Source: r.Source, Target: r.Target}
}

// Reverse returns the key of the opposite direction.
func (k RelationKey) Reverse() RelationKey {
	return RelationKey{Source: k.Target, Target: k.Source}
}
