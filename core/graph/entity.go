package graph

import "time"

// Entity is a soft cluster over nodes representing a coherent topic or
// functional role. EnergyRuntime and ThresholdRuntime are per-tick caches
// maintained by the aggregator, not persisted ground truth.
type Entity struct {
	// ID is the unique identifier for this entity.
	ID string `json:"id"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// Kind distinguishes role-based from topic-based entities.
	Kind EntityKind `json:"kind"`

	// Centroid is the embedding centroid of the entity's members.
	Centroid []float32 `json:"-"`

	// EnergyRuntime is the incrementally maintained aggregate energy.
	EnergyRuntime float64 `json:"energy_runtime"`

	// ThresholdRuntime is the cohort-relative dynamic threshold,
	// recomputed every tick.
	ThresholdRuntime float64 `json:"threshold_runtime"`

	// Level is the ordinal activation classification for the current tick.
	Level ActivationLevel `json:"activation_level"`

	// LogWeight is the learned importance of this entity.
	LogWeight float64 `json:"log_weight"`

	// Coherence scores how tight the member cluster is, in [0, 1].
	Coherence float64 `json:"coherence"`

	// MemberCount is the number of member nodes.
	MemberCount int `json:"member_count"`

	// State is the lifecycle stage.
	State LifecycleState `json:"state"`

	// Quality is the geometric-mean quality score, in [0, 1].
	Quality float64 `json:"quality"`

	// HighQualityStreak counts consecutive ticks at or above the
	// promotion floor.
	HighQualityStreak int `json:"-"`

	// LowQualityStreak counts consecutive ticks at or below the
	// dissolution floor.
	LowQualityStreak int `json:"-"`

	// TicksSinceCreation ages the entity for lifecycle guards.
	TicksSinceCreation uint64 `json:"-"`

	// CreatedAt is when this entity was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewEntity creates an entity in the candidate lifecycle state.
func NewEntity(id, name string, kind EntityKind) *Entity {
	return &Entity{
		ID:        id,
		Name:      name,
		Kind:      kind,
		State:     StateCandidate,
		CreatedAt: time.Now(),
	}
}

// IsActive reports whether the entity's cached energy meets its threshold.
func (e *Entity) IsActive() bool {
	return e.EnergyRuntime >= e.ThresholdRuntime && e.State != StateDissolved
}

// Membership is a weighted node-to-entity assignment. For any node the
// weights across all entities sum to at most 1, leaving room for
// unassigned mass.
type Membership struct {
	NodeID   string  `json:"node_id"`
	EntityID string  `json:"entity_id"`
	Weight   float64 `json:"weight"`
}
