package entity

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/adalundhe/cascade/core/adaptive"
	"github.com/adalundhe/cascade/core/events"
	"github.com/adalundhe/cascade/core/graph"
)

// LifecycleConfig governs promotion, dissolution, merge, and split checks.
type LifecycleConfig struct {
	// PromotionStreak is the ticks of sustained high quality needed for
	// candidate -> provisional; provisional -> mature needs double plus
	// the MatureAge guard.
	PromotionStreak int `yaml:"promotion_streak"`

	// DissolutionStreak is the ticks of sustained low quality before
	// dissolution.
	DissolutionStreak int `yaml:"dissolution_streak"`

	// MinAgeForDissolution keeps freshly created entities alive while
	// their quality EMAs warm up.
	MinAgeForDissolution uint64 `yaml:"min_age_for_dissolution"`

	// MatureAge is the minimum age for the mature promotion.
	MatureAge uint64 `yaml:"mature_age"`

	// MergeCentroidSim and MergeOverlap gate merge candidates: centroids
	// at least this similar and member Jaccard at least this large.
	MergeCentroidSim float64 `yaml:"merge_centroid_sim"`
	MergeOverlap     float64 `yaml:"merge_overlap"`

	// SplitCoherenceFloor and SplitMinMembers gate split flags.
	SplitCoherenceFloor float64 `yaml:"split_coherence_floor"`
	SplitMinMembers     int     `yaml:"split_min_members"`

	// QualityQuantiles position the promotion and dissolution floors
	// inside the cohort quality distribution.
	PromotionQuantile   float64 `yaml:"promotion_quantile"`
	DissolutionQuantile float64 `yaml:"dissolution_quantile"`
}

// DefaultLifecycleConfig returns lifecycle defaults.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		PromotionStreak:      10,
		DissolutionStreak:    20,
		MinAgeForDissolution: 100,
		MatureAge:            100,
		MergeCentroidSim:     0.95,
		MergeOverlap:         0.5,
		SplitCoherenceFloor:  0.2,
		SplitMinMembers:      12,
		PromotionQuantile:    0.6,
		DissolutionQuantile:  0.1,
	}
}

// Validate checks the configuration values.
func (c LifecycleConfig) Validate() error {
	if c.PromotionStreak <= 0 || c.DissolutionStreak <= 0 {
		return fmt.Errorf("lifecycle config: streaks must be > 0")
	}
	if c.PromotionQuantile <= c.DissolutionQuantile {
		return fmt.Errorf("lifecycle config: PromotionQuantile must exceed DissolutionQuantile")
	}
	return nil
}

// QualitySignals are the per-entity EMAs the quality score is built from.
// All live in [0, 1].
type QualitySignals struct {
	Active    adaptive.EMA // fraction of ticks active
	WMPresent adaptive.EMA // fraction of ticks selected into working memory
	Reinforce adaptive.EMA // external usefulness signals
}

// Lifecycle scores entity quality and drives state transitions. The
// promotion and dissolution floors are cohort-relative quantiles of the
// current quality distribution, not fixed constants.
type Lifecycle struct {
	mu      sync.Mutex
	cfg     LifecycleConfig
	store   *graph.Store
	signals map[string]*QualitySignals
}

// NewLifecycle creates a lifecycle manager.
func NewLifecycle(store *graph.Store, cfg LifecycleConfig) (*Lifecycle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Lifecycle{
		cfg:     cfg,
		store:   store,
		signals: make(map[string]*QualitySignals),
	}, nil
}

// Observe folds one tick of per-entity observations into the quality
// signals. dt is the tick duration in seconds; halfLife smooths on roughly
// the promotion horizon.
func (l *Lifecycle) Observe(entityID string, active, wmPresent bool, reinforcement float64, dt float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sig, ok := l.signals[entityID]
	if !ok {
		sig = &QualitySignals{}
		l.signals[entityID] = sig
	}
	halfLife := dt * float64(l.cfg.PromotionStreak)
	sig.Active.Update(boolTo01(active), dt, halfLife)
	sig.WMPresent.Update(boolTo01(wmPresent), dt, halfLife)
	sig.Reinforce.Update(clamp01(reinforcement), dt, halfLife)
}

// Quality computes the geometric mean of an entity's quality signals plus
// its coherence. The geometric mean prevents one strong signal from
// compensating for a collapsed one.
func (l *Lifecycle) Quality(e *graph.Entity) float64 {
	l.mu.Lock()
	sig, ok := l.signals[e.ID]
	l.mu.Unlock()
	if !ok {
		return 0.01
	}

	parts := []float64{
		floorAt(sig.Active.Value(), 0.01),
		floorAt(sig.WMPresent.Value(), 0.01),
		floorAt(sig.Reinforce.Value(), 0.01),
		floorAt(e.Coherence, 0.01),
	}
	prod := 1.0
	for _, p := range parts {
		prod *= p
	}
	return clamp01(math.Pow(prod, 1.0/float64(len(parts))))
}

// Tick updates quality for every live entity and applies lifecycle
// transitions. Returned events are ordered by entity id.
func (l *Lifecycle) Tick(tick uint64) []events.Lifecycle {
	// Quality floors are quantiles of this tick's quality distribution.
	var qualities []float64
	type scored struct {
		e *graph.Entity
		q float64
	}
	var live []scored
	l.store.ForEachEntity(func(e *graph.Entity) {
		if e.State == graph.StateDissolved {
			return
		}
		q := l.Quality(e)
		qualities = append(qualities, q)
		live = append(live, scored{e: e, q: q})
	})
	if len(live) == 0 {
		return nil
	}

	promoteFloor := adaptive.Percentile(qualities, l.cfg.PromotionQuantile)
	dissolveFloor := adaptive.Percentile(qualities, l.cfg.DissolutionQuantile)

	var out []events.Lifecycle
	for _, s := range live {
		e := s.e
		e.Quality = s.q
		e.TicksSinceCreation++

		switch {
		case s.q >= promoteFloor:
			e.HighQualityStreak++
			e.LowQualityStreak = 0
		case s.q <= dissolveFloor:
			e.LowQualityStreak++
			e.HighQualityStreak = 0
		default:
			e.HighQualityStreak = 0
			e.LowQualityStreak = 0
		}

		if e.LowQualityStreak >= l.cfg.DissolutionStreak &&
			e.TicksSinceCreation >= l.cfg.MinAgeForDissolution {
			out = append(out, l.transition(e, graph.StateDissolved,
				fmt.Sprintf("quality below cohort floor for %d ticks", e.LowQualityStreak)))
			continue
		}

		switch e.State {
		case graph.StateCandidate:
			if e.HighQualityStreak >= l.cfg.PromotionStreak {
				out = append(out, l.transition(e, graph.StateProvisional, "sustained quality"))
			}
		case graph.StateProvisional:
			if e.HighQualityStreak >= 2*l.cfg.PromotionStreak &&
				e.TicksSinceCreation >= l.cfg.MatureAge {
				out = append(out, l.transition(e, graph.StateMature, "sustained quality with age"))
			}
		}
	}

	out = append(out, l.structureChecks()...)
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// structureChecks flags merge and split candidates. The engine emits these
// for the hosting system to act on; structural rewrites stay external.
func (l *Lifecycle) structureChecks() []events.Lifecycle {
	var live []*graph.Entity
	l.store.ForEachEntity(func(e *graph.Entity) {
		if e.State != graph.StateDissolved {
			live = append(live, e)
		}
	})
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })

	var out []events.Lifecycle
	for i, a := range live {
		if a.Coherence > 0 && a.Coherence < l.cfg.SplitCoherenceFloor &&
			a.MemberCount >= l.cfg.SplitMinMembers {
			out = append(out, events.Lifecycle{
				EntityID: a.ID,
				From:     a.State.String(),
				To:       a.State.String(),
				Quality:  a.Quality,
				Reason:   "split_candidate: low coherence with large membership",
			})
		}
		for _, b := range live[i+1:] {
			sim := graph.CosineSimilarity(a.Centroid, b.Centroid)
			if sim < l.cfg.MergeCentroidSim {
				continue
			}
			if l.store.SharedMemberFraction(a.ID, b.ID) < l.cfg.MergeOverlap {
				continue
			}
			out = append(out, events.Lifecycle{
				EntityID: a.ID,
				From:     a.State.String(),
				To:       a.State.String(),
				Quality:  a.Quality,
				Reason:   fmt.Sprintf("merge_candidate: near-identical to %s", b.ID),
			})
		}
	}
	return out
}

func (l *Lifecycle) transition(e *graph.Entity, to graph.LifecycleState, reason string) events.Lifecycle {
	from := e.State
	e.State = to
	e.HighQualityStreak = 0
	e.LowQualityStreak = 0
	return events.Lifecycle{
		EntityID: e.ID,
		From:     from.String(),
		To:       to.String(),
		Quality:  e.Quality,
		Reason:   reason,
	}
}

func boolTo01(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func floorAt(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	return v
}
