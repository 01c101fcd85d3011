package graph

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Node Classes
// =============================================================================

// NodeClass determines the decay-rate class of a node. Memory-like state
// decays far slower than task-like state; the diffusion engine looks up
// per-class multipliers when applying decay.
type NodeClass int

const (
	// ClassMemory is long-lived semantic state.
	ClassMemory NodeClass = 0

	// ClassTask is short-lived goal or task state.
	ClassTask NodeClass = 1

	// ClassPercept is transient stimulus-derived state.
	ClassPercept NodeClass = 2

	// ClassAffect is emotional coloring state with intermediate persistence.
	ClassAffect NodeClass = 3
)

// String returns the string representation of the NodeClass.
func (nc NodeClass) String() string {
	switch nc {
	case ClassMemory:
		return "memory"
	case ClassTask:
		return "task"
	case ClassPercept:
		return "percept"
	case ClassAffect:
		return "affect"
	default:
		return fmt.Sprintf("node_class(%d)", nc)
	}
}

// ParseNodeClass parses a string into a NodeClass.
func ParseNodeClass(s string) (NodeClass, error) {
	switch s {
	case "memory":
		return ClassMemory, nil
	case "task":
		return ClassTask, nil
	case "percept":
		return ClassPercept, nil
	case "affect":
		return ClassAffect, nil
	default:
		return NodeClass(0), fmt.Errorf("unknown node class: %s", s)
	}
}

// IsValid returns true if the node class is a recognized value.
func (nc NodeClass) IsValid() bool {
	return nc >= ClassMemory && nc <= ClassAffect
}

// MarshalJSON implements json.Marshaler for NodeClass.
func (nc NodeClass) MarshalJSON() ([]byte, error) {
	return json.Marshal(nc.String())
}

// UnmarshalJSON implements json.Unmarshaler for NodeClass.
func (nc *NodeClass) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, err := ParseNodeClass(asString)
		if err != nil {
			return err
		}
		*nc = parsed
		return nil
	}

	var asInt int
	if err := json.Unmarshal(data, &asInt); err == nil {
		*nc = NodeClass(asInt)
		return nil
	}

	return fmt.Errorf("invalid node class")
}

// =============================================================================
// Link Types
// =============================================================================

// LinkType classifies a directed link between two nodes.
type LinkType int

const (
	// LinkAssociative is a learned co-activation link.
	LinkAssociative LinkType = 0

	// LinkCausal is a directional cause-effect link.
	LinkCausal LinkType = 1

	// LinkStructural is an authored containment or reference link.
	LinkStructural LinkType = 2
)

// String returns the string representation of the LinkType.
func (lt LinkType) String() string {
	switch lt {
	case LinkAssociative:
		return "associative"
	case LinkCausal:
		return "causal"
	case LinkStructural:
		return "structural"
	default:
		return fmt.Sprintf("link_type(%d)", lt)
	}
}

// ParseLinkType parses a string into a LinkType.
func ParseLinkType(s string) (LinkType, error) {
	switch s {
	case "associative":
		return LinkAssociative, nil
	case "causal":
		return LinkCausal, nil
	case "structural":
		return LinkStructural, nil
	default:
		return LinkType(0), fmt.Errorf("unknown link type: %s", s)
	}
}

// IsValid returns true if the link type is a recognized value.
func (lt LinkType) IsValid() bool {
	return lt >= LinkAssociative && lt <= LinkStructural
}

// =============================================================================
// Entity Kinds
// =============================================================================

// EntityKind distinguishes role-based entities (functional clusters) from
// topic-based entities (semantic clusters).
type EntityKind int

const (
	// KindRole is a functional-role cluster.
	KindRole EntityKind = 0

	// KindTopic is a semantic-topic cluster.
	KindTopic EntityKind = 1
)

// String returns the string representation of the EntityKind.
func (ek EntityKind) String() string {
	switch ek {
	case KindRole:
		return "role"
	case KindTopic:
		return "topic"
	default:
		return fmt.Sprintf("entity_kind(%d)", ek)
	}
}

// ParseEntityKind parses a string into an EntityKind.
func ParseEntityKind(s string) (EntityKind, error) {
	switch s {
	case "role":
		return KindRole, nil
	case "topic":
		return KindTopic, nil
	default:
		return EntityKind(0), fmt.Errorf("unknown entity kind: %s", s)
	}
}

// =============================================================================
// Activation Levels
// =============================================================================

// ActivationLevel is the ordinal activation classification of an entity,
// derived from its energy/threshold ratio.
type ActivationLevel int

const (
	// LevelAbsent means energy is at or below half the threshold.
	LevelAbsent ActivationLevel = 0

	// LevelWeak means energy is above half the threshold but below it.
	LevelWeak ActivationLevel = 1

	// LevelModerate means energy exceeds the threshold.
	LevelModerate ActivationLevel = 2

	// LevelStrong means energy exceeds twice the threshold.
	LevelStrong ActivationLevel = 3

	// LevelDominant means energy exceeds three times the threshold.
	LevelDominant ActivationLevel = 4
)

// String returns the string representation of the ActivationLevel.
func (al ActivationLevel) String() string {
	switch al {
	case LevelAbsent:
		return "absent"
	case LevelWeak:
		return "weak"
	case LevelModerate:
		return "moderate"
	case LevelStrong:
		return "strong"
	case LevelDominant:
		return "dominant"
	default:
		return fmt.Sprintf("activation_level(%d)", al)
	}
}

// LevelForRatio derives the ordinal activation level from an
// energy/threshold ratio. A non-positive threshold always yields absent.
func LevelForRatio(energy, threshold float64) ActivationLevel {
	if threshold < 1e-9 {
		return LevelAbsent
	}
	ratio := energy / threshold
	switch {
	case ratio > 3.0:
		return LevelDominant
	case ratio > 2.0:
		return LevelStrong
	case ratio > 1.0:
		return LevelModerate
	case ratio > 0.5:
		return LevelWeak
	default:
		return LevelAbsent
	}
}

// =============================================================================
// Lifecycle States
// =============================================================================

// LifecycleState is the maturity stage of an entity. Entities are promoted
// on sustained quality and dissolved on sustained low quality; the engine
// never grows the entity population without bound.
type LifecycleState int

const (
	// StateCandidate is a freshly formed entity under evaluation.
	StateCandidate LifecycleState = 0

	// StateProvisional is an entity with sustained acceptable quality.
	StateProvisional LifecycleState = 1

	// StateMature is a long-lived, consistently high-quality entity.
	StateMature LifecycleState = 2

	// StateDissolved is a retired entity excluded from all selection.
	StateDissolved LifecycleState = 3
)

// String returns the string representation of the LifecycleState.
func (ls LifecycleState) String() string {
	switch ls {
	case StateCandidate:
		return "candidate"
	case StateProvisional:
		return "provisional"
	case StateMature:
		return "mature"
	case StateDissolved:
		return "dissolved"
	default:
		return fmt.Sprintf("lifecycle_state(%d)", ls)
	}
}
