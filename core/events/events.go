// Package events defines the per-tick event stream the engine exposes to
// collaborators. All payloads are scalar-only; embeddings never cross this
// boundary, keeping transport light.
package events

import "time"

// Kind enumerates event types.
type Kind string

const (
	// KindFlip is an entity threshold crossing in either direction.
	KindFlip Kind = "entity.flip"

	// KindStride is one executed energy-transfer stride.
	KindStride Kind = "stride.exec"

	// KindBoundaryTraffic is the per-pair cross-entity traffic summary.
	KindBoundaryTraffic Kind = "boundary.traffic"

	// KindTickSnapshot is the end-of-tick state delta summary.
	KindTickSnapshot Kind = "tick.snapshot"

	// KindLifecycle is an entity lifecycle transition.
	KindLifecycle Kind = "entity.lifecycle"

	// KindWorkingMemory is the working-memory selection output.
	KindWorkingMemory Kind = "wm.selection"

	// KindFault is a fatal internal-consistency fault.
	KindFault Kind = "engine.fault"
)

// Event is the envelope shared by all emissions.
type Event struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Tick    uint64    `json:"tick"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Flip reports an entity crossing its dynamic threshold.
type Flip struct {
	EntityID  string  `json:"entity_id"`
	Direction string  `json:"direction"` // "up" or "down"
	Energy    float64 `json:"energy"`
	Threshold float64 `json:"threshold"`
	Level     string  `json:"level"`

	// TopContributors lists the member nodes that contributed the most
	// weighted saturated energy, highest first.
	TopContributors []Contributor `json:"top_contributors,omitempty"`
}

// Contributor is one member node's share of an entity flip.
type Contributor struct {
	NodeID string  `json:"node_id"`
	Share  float64 `json:"share"`
}

// Stride reports one executed energy transfer.
type Stride struct {
	SourceEntity    string  `json:"source_entity,omitempty"`
	TargetEntity    string  `json:"target_entity,omitempty"`
	SourceNode      string  `json:"source_node"`
	TargetNode      string  `json:"target_node"`
	Delivered       float64 `json:"delivered"`
	Effectiveness   float64 `json:"effectiveness"`
	DominantHunger  string  `json:"dominant_hunger"`
	CrossBoundary   bool    `json:"cross_boundary"`
	Strengthened    bool    `json:"strengthened"`
	RequestedBudget float64 `json:"requested_budget"`
}

// BoundaryTraffic summarizes cross-entity stride traffic for one directed
// pair over one tick.
type BoundaryTraffic struct {
	SourceEntity       string  `json:"source_entity"`
	TargetEntity       string  `json:"target_entity"`
	StrideCount        int     `json:"stride_count"`
	DeliveredEnergy    float64 `json:"delivered_energy"`
	PeakEffectiveness  float64 `json:"peak_effectiveness"`
	NormalizedFlow     float64 `json:"normalized_flow"`
	Dominance          float64 `json:"dominance"`
	DominantHunger     string  `json:"dominant_hunger"`
}

// Lifecycle reports an entity lifecycle transition.
type Lifecycle struct {
	EntityID string  `json:"entity_id"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Quality  float64 `json:"quality"`
	Reason   string  `json:"reason"`
}

// TickSnapshot is the end-of-tick summary.
type TickSnapshot struct {
	Tick              uint64  `json:"tick"`
	DT                float64 `json:"dt"`
	TotalEnergy       float64 `json:"total_energy"`
	ActiveNodes       int     `json:"active_nodes"`
	ActiveEntities    int     `json:"active_entities"`
	Rho               float64 `json:"rho"`
	RhoSource         string  `json:"rho_source"`
	SafetyState       string  `json:"safety_state"`
	Degraded          bool    `json:"degraded"`
	StridesExecuted   int     `json:"strides_executed"`
	BoundaryStrides   int     `json:"boundary_strides"`
	FlipsEmitted      int     `json:"flips_emitted"`
	EnergyTransferred float64 `json:"energy_transferred"`
	EnergyDecayed     float64 `json:"energy_decayed"`
}

// Sink receives emitted events. Implementations must not block; the engine
// calls Emit inside the tick loop and drops nothing on its side.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard is a Sink that drops all events.
var Discard Sink = SinkFunc(func(Event) {})
