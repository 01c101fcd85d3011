package entity

import (
	"sort"
	"sync"

	"github.com/adalundhe/cascade/core/adaptive"
	"github.com/adalundhe/cascade/core/graph"
)

// WeightLearner slowly learns per-entity importance (LogWeight) from usage
// evidence: external reinforcement, working-memory presence, activation,
// and up flips. Each tick's scores are rank-normalized across the observed
// cohort so importance stays relative; entities above the median rank gain
// weight and entities below it lose weight.
type WeightLearner struct {
	mu      sync.Mutex
	store   *graph.Store
	rate    float64
	maxLog  float64
	signals map[string]float64
}

// NewWeightLearner creates a learner over the given store. rate is the
// per-tick step size; maxLogWeight caps the learned importance.
func NewWeightLearner(store *graph.Store, rate, maxLogWeight float64) *WeightLearner {
	if maxLogWeight <= 0 {
		maxLogWeight = 4
	}
	return &WeightLearner{
		store:   store,
		rate:    rate,
		maxLog:  maxLogWeight,
		signals: make(map[string]float64),
	}
}

// Observe folds one entity's usage evidence for the current tick.
// Reinforcement dominates the score; presence signals fill in the rest.
func (w *WeightLearner) Observe(entityID string, active, wmPresent, flippedUp bool, reinforcement float64) {
	if reinforcement < 0 {
		reinforcement = 0
	} else if reinforcement > 1 {
		reinforcement = 1
	}
	score := 0.45 * reinforcement
	if wmPresent {
		score += 0.25
	}
	if active {
		score += 0.2
	}
	if flippedUp {
		score += 0.1
	}
	w.mu.Lock()
	w.signals[entityID] += score
	w.mu.Unlock()
}

// Tick applies one learning step over the tick's observations and resets
// them. Cohorts of fewer than two entities carry no relative information
// and are skipped.
func (w *WeightLearner) Tick() {
	w.mu.Lock()
	signals := w.signals
	w.signals = make(map[string]float64)
	w.mu.Unlock()

	if w.rate <= 0 || len(signals) < 2 {
		return
	}

	ids := make([]string, 0, len(signals))
	for id := range signals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	scores := make([]float64, len(ids))
	for i, id := range ids {
		scores[i] = signals[id]
	}
	ranks := adaptive.RankNormalize(scores)

	for i, id := range ids {
		e, ok := w.store.Entity(id)
		if !ok || e.State == graph.StateDissolved {
			continue
		}
		e.LogWeight += w.rate * (2*ranks[i] - 1)
		if e.LogWeight < 0 {
			e.LogWeight = 0
		} else if e.LogWeight > w.maxLog {
			e.LogWeight = w.maxLog
		}
	}
}
