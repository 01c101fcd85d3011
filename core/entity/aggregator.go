// Package entity maintains the aggregation layer over the atomic graph:
// incremental entity energy, cohort-relative dynamic thresholds, flip
// detection, lifecycle scoring, and slow membership-weight learning.
package entity

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/adalundhe/cascade/core/adaptive"
	"github.com/adalundhe/cascade/core/events"
	"github.com/adalundhe/cascade/core/graph"
)

// MinTouchedCohort is the smallest touched-entity cohort the dynamic
// threshold will be computed from; smaller cohorts fall back to the rolling
// global window and flag the tick degraded.
const MinTouchedCohort = 3

// Config configures the aggregator.
type Config struct {
	// ZScore positions the threshold above the cohort mean.
	ZScore float64 `yaml:"z_score"`

	// StdFloor prevents threshold collapse in near-constant cohorts.
	StdFloor float64 `yaml:"std_floor"`

	// HealthReduction is how much a perfect-quality entity lowers its
	// threshold (quality 1.0 -> threshold x (1 - HealthReduction)).
	HealthReduction float64 `yaml:"health_reduction"`

	// DampingCoeff raises thresholds as the active-entity fraction
	// grows, discouraging runaway simultaneous activation.
	DampingCoeff float64 `yaml:"damping_coeff"`

	// HysteresisBand keeps the previous threshold when energy sits
	// within this fraction of it, preventing flip thrash.
	HysteresisBand float64 `yaml:"hysteresis_band"`

	// TopContributors is how many member nodes a flip event attaches.
	TopContributors int `yaml:"top_contributors"`

	// CohortWindow is the rolling global cohort capacity.
	CohortWindow int `yaml:"cohort_window"`
}

// DefaultConfig returns aggregator defaults.
func DefaultConfig() Config {
	return Config{
		ZScore:          1.0,
		StdFloor:        0.05,
		HealthReduction: 0.2,
		DampingCoeff:    0.5,
		HysteresisBand:  0.05,
		TopContributors: 3,
		CohortWindow:    256,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.StdFloor < 0 {
		return fmt.Errorf("entity config: StdFloor must be >= 0, got %g", c.StdFloor)
	}
	if c.HealthReduction < 0 || c.HealthReduction >= 1 {
		return fmt.Errorf("entity config: HealthReduction must be in [0, 1), got %g", c.HealthReduction)
	}
	if c.HysteresisBand < 0 || c.HysteresisBand >= 1 {
		return fmt.Errorf("entity config: HysteresisBand must be in [0, 1), got %g", c.HysteresisBand)
	}
	return nil
}

// TickResult reports what one aggregation pass did.
type TickResult struct {
	TouchedEntities int
	CohortDegraded  bool
	Flips           []events.Flip
}

// Aggregator incrementally maintains entity energy and computes dynamic
// thresholds. Node-energy deltas arrive through ApplyNodeDeltas, which is
// an O(membership-degree) update per changed node. The full recompute
// exists only for verification.
type Aggregator struct {
	mu     sync.Mutex
	cfg    Config
	store  *graph.Store
	logger *slog.Logger

	globalCohort *adaptive.RollingStats
	touched      map[string]struct{}
	wasActive    map[string]bool
	flippedAt    map[string]uint64
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(store *graph.Store, cfg Config, logger *slog.Logger) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CohortWindow <= 0 {
		cfg.CohortWindow = 256
	}
	return &Aggregator{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		globalCohort: adaptive.NewRollingStats(cfg.CohortWindow, MinTouchedCohort),
		touched:      make(map[string]struct{}),
		wasActive:    make(map[string]bool),
		flippedAt:    make(map[string]uint64),
	}, nil
}

// ApplyNodeDeltas folds applied node-energy deltas into the cached energy
// of every entity each node belongs to. delta is the post-clipping applied
// change; the entity update uses the saturated-energy difference so the
// cache stays equal to a from-scratch recompute.
func (a *Aggregator) ApplyNodeDeltas(applied map[string]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for nodeID, delta := range applied {
		if delta == 0 {
			continue
		}
		node, ok := a.store.Node(nodeID)
		if !ok {
			continue
		}
		after := graph.SaturateEnergy(node.Energy)
		before := graph.SaturateEnergy(node.Energy - delta)
		satDelta := after - before
		if satDelta == 0 {
			continue
		}
		for _, m := range a.store.MembershipsOf(nodeID) {
			entity, ok := a.store.Entity(m.EntityID)
			if !ok {
				continue
			}
			entity.EnergyRuntime += m.Weight * satDelta
			if entity.EnergyRuntime < 0 {
				// Floating-point residue only; the incremental sum of
				// nonnegative terms cannot legitimately go negative.
				entity.EnergyRuntime = 0
			}
			a.touched[m.EntityID] = struct{}{}
		}
	}
}

// RecomputeEnergy computes an entity's energy from scratch. Used by tests
// and the invariant checker to validate the incremental cache.
func (a *Aggregator) RecomputeEnergy(entityID string) float64 {
	total := 0.0
	for _, m := range a.store.MembersOf(entityID) {
		node, ok := a.store.Node(m.NodeID)
		if !ok {
			continue
		}
		total += m.Weight * node.SaturatedEnergy()
	}
	return total
}

// Tick recomputes thresholds for the touched cohort, derives activation
// levels, and emits at most one flip per entity. Must run after the
// diffusion deltas for the tick have been applied, so flips reflect the
// post-diffusion state.
func (a *Aggregator) Tick(tick uint64) TickResult {
	a.mu.Lock()
	touched := a.touched
	a.touched = make(map[string]struct{})
	a.mu.Unlock()

	var result TickResult
	result.TouchedEntities = len(touched)

	// Cohort energies: touched entities, falling back to the rolling
	// global window when too few changed this tick.
	cohort := make([]float64, 0, len(touched))
	for id := range touched {
		if e, ok := a.store.Entity(id); ok && e.State != graph.StateDissolved {
			cohort = append(cohort, e.EnergyRuntime)
		}
	}

	var mean, std float64
	if len(cohort) >= MinTouchedCohort {
		mean, std = adaptive.CohortStats(cohort, a.cfg.StdFloor)
		a.globalCohort.ObserveAll(cohort)
	} else {
		result.CohortDegraded = true
		mean = a.globalCohort.Mean(1.0)
		std = a.globalCohort.StdDev(0.5, a.cfg.StdFloor)
		a.globalCohort.ObserveAll(cohort)
	}

	activeCount := 0
	totalCount := 0
	a.store.ForEachEntity(func(e *graph.Entity) {
		if e.State == graph.StateDissolved {
			return
		}
		totalCount++
		// Entities that have never been assigned a threshold are not
		// active yet; counting them would start damping at its maximum
		// on a cold graph.
		if e.ThresholdRuntime > 0 && e.IsActive() {
			activeCount++
		}
	})
	damping := 1.0
	if totalCount > 0 {
		damping = 1.0 + a.cfg.DampingCoeff*float64(activeCount)/float64(totalCount)
	}

	a.store.ForEachEntity(func(e *graph.Entity) {
		if e.State == graph.StateDissolved {
			return
		}

		if _, wasTouched := touched[e.ID]; wasTouched {
			if c, ok := a.memberCoherence(e); ok {
				e.Coherence = c
			}
		}

		health := 1.0 - a.cfg.HealthReduction*e.Quality
		threshold := (mean + a.cfg.ZScore*std) * health * damping

		// Hysteresis: hold the previous threshold while energy sits
		// inside the band around it.
		if e.ThresholdRuntime > 0 {
			band := a.cfg.HysteresisBand * e.ThresholdRuntime
			if math.Abs(e.EnergyRuntime-e.ThresholdRuntime) < band {
				threshold = e.ThresholdRuntime
			}
		}
		e.ThresholdRuntime = threshold
		e.Level = graph.LevelForRatio(e.EnergyRuntime, threshold)

		a.mu.Lock()
		was := a.wasActive[e.ID]
		now := e.EnergyRuntime >= threshold
		alreadyFlipped := a.flippedAt[e.ID] == tick && tick != 0
		if was != now && !alreadyFlipped {
			direction := "up"
			if !now {
				direction = "down"
			}
			result.Flips = append(result.Flips, events.Flip{
				EntityID:        e.ID,
				Direction:       direction,
				Energy:          e.EnergyRuntime,
				Threshold:       threshold,
				Level:           e.Level.String(),
				TopContributors: a.topContributors(e.ID),
			})
			a.flippedAt[e.ID] = tick
		}
		a.wasActive[e.ID] = now
		a.mu.Unlock()
	})

	// Stable ordering for deterministic emission.
	sort.Slice(result.Flips, func(i, j int) bool {
		return result.Flips[i].EntityID < result.Flips[j].EntityID
	})
	return result
}

// memberCoherence measures how tightly an entity's members cluster around
// its centroid: the membership-weighted mean cosine similarity, mapped to
// [0, 1]. Returns false when the entity has no centroid or no member
// carries an embedding.
func (a *Aggregator) memberCoherence(e *graph.Entity) (float64, bool) {
	if len(e.Centroid) == 0 {
		return 0, false
	}
	sum := 0.0
	weight := 0.0
	for _, m := range a.store.MembersOf(e.ID) {
		node, ok := a.store.Node(m.NodeID)
		if !ok || len(node.Embedding) == 0 {
			continue
		}
		sum += m.Weight * (graph.CosineSimilarity(node.Embedding, e.Centroid) + 1) / 2
		weight += m.Weight
	}
	if weight <= 0 {
		return 0, false
	}
	return sum / weight, true
}

// topContributors ranks an entity's members by weighted saturated energy
// share. Caller holds no locks that conflict with store reads.
func (a *Aggregator) topContributors(entityID string) []events.Contributor {
	n := a.cfg.TopContributors
	if n <= 0 {
		return nil
	}
	memberships := a.store.MembersOf(entityID)
	type scored struct {
		id    string
		score float64
	}
	var contributors []scored
	total := 0.0
	for _, m := range memberships {
		node, ok := a.store.Node(m.NodeID)
		if !ok {
			continue
		}
		s := m.Weight * node.SaturatedEnergy()
		if s > 0 {
			contributors = append(contributors, scored{id: m.NodeID, score: s})
			total += s
		}
	}
	if total <= 0 {
		return nil
	}
	sort.Slice(contributors, func(i, j int) bool {
		if contributors[i].score != contributors[j].score {
			return contributors[i].score > contributors[j].score
		}
		return contributors[i].id < contributors[j].id
	})
	if len(contributors) > n {
		contributors = contributors[:n]
	}
	out := make([]events.Contributor, len(contributors))
	for i, c := range contributors {
		out[i] = events.Contributor{NodeID: c.id, Share: c.score / total}
	}
	return out
}

// MarkTouched flags an entity for inclusion in the next tick's cohort,
// used when stride execution changes entity energy outside diffusion.
func (a *Aggregator) MarkTouched(entityID string) {
	a.mu.Lock()
	a.touched[entityID] = struct{}{}
	a.mu.Unlock()
}
