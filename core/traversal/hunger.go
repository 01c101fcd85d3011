// Package traversal implements the two-scale stride selector: a per-tick
// energy budget split between within-entity and between-entity exploration,
// multi-signal "hunger" valence scoring with surprise gating, rank-based
// candidate normalization, and stochastic destination sampling.
package traversal

import (
	"sync"

	"github.com/adalundhe/cascade/core/adaptive"
	"github.com/adalundhe/cascade/core/graph"
)

// Hunger names the scoring signals that bias traversal. Each candidate is
// scored on every hunger; surprise gates decide how much each hunger
// matters right now.
type Hunger string

const (
	// HungerHomeostasis prefers less-activated destinations.
	HungerHomeostasis Hunger = "homeostasis"

	// HungerGoal prefers destinations aligned with the goal embedding.
	HungerGoal Hunger = "goal"

	// HungerEase prefers boundaries that have proven cheap to cross.
	HungerEase Hunger = "ease"

	// HungerComplementarity prefers destinations dissimilar to what is
	// already active.
	HungerComplementarity Hunger = "complementarity"

	// HungerIntegration prefers destinations already receiving
	// cross-entity inflow, reinforcing convergence.
	HungerIntegration Hunger = "integration"
)

// Hungers lists all signals in stable order.
var Hungers = []Hunger{
	HungerHomeostasis,
	HungerGoal,
	HungerEase,
	HungerComplementarity,
	HungerIntegration,
}

// baseline tracks the running mean and deviation of one hunger's raw
// scores for one entity, so gates respond to surprise rather than scale.
type baseline struct {
	mean adaptive.EMA
	dev  adaptive.EMA
}

// Baselines holds per-entity per-hunger baselines. Gates computed here are
// the "explicit, versioned store + fixed update procedures" rendering of
// the source's self-modifying weights.
type Baselines struct {
	mu       sync.Mutex
	byEntity map[string]map[Hunger]*baseline
	halfLife float64
}

// NewBaselines creates baseline storage with the given smoothing half-life
// in seconds.
func NewBaselines(halfLifeSeconds float64) *Baselines {
	if halfLifeSeconds <= 0 {
		halfLifeSeconds = 120
	}
	return &Baselines{
		byEntity: make(map[string]map[Hunger]*baseline),
		halfLife: halfLifeSeconds,
	}
}

// Gates converts raw hunger scores into normalized surprise gates and
// updates the baselines with the observation. A hunger scoring far above
// its own recent history earns a large gate; a hunger at baseline earns
// almost none. Gates sum to 1.
func (b *Baselines) Gates(entityID string, scores map[Hunger]float64, dt float64) map[Hunger]float64 {
	const epsilon = 1e-9

	b.mu.Lock()
	defer b.mu.Unlock()

	entityBase, ok := b.byEntity[entityID]
	if !ok {
		entityBase = make(map[Hunger]*baseline, len(Hungers))
		b.byEntity[entityID] = entityBase
	}

	surprises := make(map[Hunger]float64, len(scores))
	total := 0.0
	for _, h := range Hungers {
		score := scores[h]
		base, ok := entityBase[h]
		if !ok {
			base = &baseline{}
			entityBase[h] = base
		}

		mu := base.mean.Value()
		sigma := base.dev.Value()
		z := 0.0
		if base.mean.Initialized() {
			z = (score - mu) / (sigma + epsilon)
		}
		if z < 0 {
			z = 0
		}
		surprises[h] = z
		total += z

		base.mean.Update(score, dt, b.halfLife)
		diff := score - mu
		if diff < 0 {
			diff = -diff
		}
		base.dev.Update(diff, dt, b.halfLife)
	}

	gates := make(map[Hunger]float64, len(surprises))
	if total <= epsilon {
		// No surprise anywhere: uniform gates.
		uniform := 1.0 / float64(len(Hungers))
		for _, h := range Hungers {
			gates[h] = uniform
		}
		return gates
	}
	for h, s := range surprises {
		gates[h] = s / total
	}
	return gates
}

// MeanGate returns the average gate value a hunger earned across the given
// entities on their most recent scoring, approximated from baselines. Used
// by the budget split.
func (b *Baselines) MeanGate(entityIDs []string, h Hunger) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(entityIDs) == 0 {
		return 0
	}
	sum := 0.0
	for _, id := range entityIDs {
		if base, ok := b.byEntity[id]; ok {
			if bl, ok := base[h]; ok {
				sum += bl.mean.Value()
			}
		}
	}
	return sum / float64(len(entityIDs))
}

// dominantHunger returns the hunger with the largest gated contribution.
func dominantHunger(scores, gates map[Hunger]float64) Hunger {
	best := Hungers[0]
	bestVal := -1.0
	for _, h := range Hungers {
		v := gates[h] * scores[h]
		if v > bestVal {
			bestVal = v
			best = h
		}
	}
	return best
}

// activeCentroid averages the centroids of currently-active entities,
// used by the complementarity hunger.
func activeCentroid(entities []*graph.Entity) []float32 {
	var acc []float32
	count := 0
	for _, e := range entities {
		if len(e.Centroid) == 0 {
			continue
		}
		if acc == nil {
			acc = make([]float32, len(e.Centroid))
		}
		if len(e.Centroid) != len(acc) {
			continue
		}
		for i, v := range e.Centroid {
			acc[i] += v
		}
		count++
	}
	if count == 0 {
		return nil
	}
	inv := 1.0 / float32(count)
	for i := range acc {
		acc[i] *= inv
	}
	return acc
}
