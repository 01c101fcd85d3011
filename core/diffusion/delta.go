// Package diffusion implements per-tick energy transfer along links, dual
// time-scale exponential decay, and gated Hebbian link strengthening over
// the graph store. Transfers are staged into a delta buffer during the tick
// and applied atomically at the end, so mid-tick reads always see the
// pre-tick state.
package diffusion

import (
	"sync"

	"github.com/adalundhe/cascade/core/graph"
)

// DeltaBuffer accumulates staged energy deltas for one tick. Stage is safe
// for concurrent use; Apply is called once from the tick loop after all
// staging completes.
type DeltaBuffer struct {
	mu     sync.Mutex
	deltas map[string]float64
}

// NewDeltaBuffer creates an empty buffer.
func NewDeltaBuffer() *DeltaBuffer {
	return &DeltaBuffer{deltas: make(map[string]float64)}
}

// Stage accumulates a signed energy delta for a node.
func (b *DeltaBuffer) Stage(nodeID string, delta float64) {
	b.mu.Lock()
	b.deltas[nodeID] += delta
	b.mu.Unlock()
}

// StageTransfer stages a source debit and target credit as one operation.
func (b *DeltaBuffer) StageTransfer(source, target string, amount float64) {
	b.mu.Lock()
	b.deltas[source] -= amount
	b.deltas[target] += amount
	b.mu.Unlock()
}

// ConservationError returns the sum of all staged deltas. Pure transfers
// net to zero; a nonzero value measures clipping at zero-energy sources.
func (b *DeltaBuffer) ConservationError() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	sum := 0.0
	for _, d := range b.deltas {
		sum += d
	}
	return sum
}

// Apply writes all staged deltas to the store, clipping each node at zero
// energy, and clears the buffer. It returns the ids of nodes whose energy
// changed together with the per-node applied delta, which downstream
// aggregation consumes for incremental updates.
func (b *DeltaBuffer) Apply(store *graph.Store, tick uint64) map[string]float64 {
	b.mu.Lock()
	staged := b.deltas
	b.deltas = make(map[string]float64)
	b.mu.Unlock()

	applied := make(map[string]float64, len(staged))
	for nodeID, delta := range staged {
		if delta == 0 {
			continue
		}
		node, ok := store.Node(nodeID)
		if !ok {
			continue
		}
		got := node.AddEnergy(delta, tick)
		if got != 0 {
			applied[nodeID] = got
		}
	}
	return applied
}

// Len returns the number of staged node deltas.
func (b *DeltaBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deltas)
}
