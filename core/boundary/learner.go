// Package boundary learns directed entity-to-entity relations from
// cross-boundary stride traffic: flow and precedence moving averages,
// traversal-ease weights, directional dominance, and lazy relation
// materialization once evidence clears a cohort-relative floor.
package boundary

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/cascade/core/adaptive"
	"github.com/adalundhe/cascade/core/events"
	"github.com/adalundhe/cascade/core/graph"
	"github.com/adalundhe/cascade/core/traversal"
)

// Config configures the boundary learner.
type Config struct {
	// MinStridesToMaterialize is the evidence floor for a brand-new pair
	// when no relation cohort exists yet to calibrate against.
	MinStridesToMaterialize int `yaml:"min_strides_to_materialize"`

	// EvidenceQuantile positions the materialization floor inside the
	// existing relations' flow distribution. Pairs must out-deliver this
	// quantile of established relations to earn a record.
	EvidenceQuantile float64 `yaml:"evidence_quantile"`

	// EaseLearnRate scales ease-weight updates from stride effectiveness.
	EaseLearnRate float64 `yaml:"ease_learn_rate"`

	// ColdHalfLife seeds EMA half-lives before a pair has enough observed
	// update intervals of its own, in seconds.
	ColdHalfLife float64 `yaml:"cold_half_life"`
}

// DefaultConfig returns boundary learner defaults.
func DefaultConfig() Config {
	return Config{
		MinStridesToMaterialize: 3,
		EvidenceQuantile:        0.25,
		EaseLearnRate:           0.1,
		ColdHalfLife:            600,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.MinStridesToMaterialize <= 0 {
		return fmt.Errorf("boundary config: MinStridesToMaterialize must be > 0, got %d", c.MinStridesToMaterialize)
	}
	if c.EvidenceQuantile < 0 || c.EvidenceQuantile > 1 {
		return fmt.Errorf("boundary config: EvidenceQuantile must be in [0, 1], got %g", c.EvidenceQuantile)
	}
	return nil
}

// pending accumulates traffic on a pair that has no relation yet.
type pending struct {
	strides   int
	delivered float64
	hungers   map[string]int
}

// Learner folds per-tick boundary stride records into entity relations.
type Learner struct {
	mu    sync.Mutex
	cfg   Config
	store *graph.Store
	log   *slog.Logger

	halfLives *adaptive.HalfLifeSource
	pending   map[graph.RelationKey]*pending
	hungerTab map[graph.RelationKey]map[string]int
}

// NewLearner creates a boundary learner over the given store.
func NewLearner(store *graph.Store, cfg Config, logger *slog.Logger) (*Learner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{
		cfg:       cfg,
		store:     store,
		log:       logger,
		halfLives: adaptive.NewHalfLifeSource(cfg.ColdHalfLife),
		pending:   make(map[graph.RelationKey]*pending),
		hungerTab: make(map[graph.RelationKey]map[string]int),
	}, nil
}

// pairTraffic is one tick's aggregated traffic on a directed pair.
type pairTraffic struct {
	key       graph.RelationKey
	strides   int
	delivered float64
	peakEff   float64
	credit    float64
	hungers   map[string]int
}

// Tick folds the tick's boundary strides and flips into relation state and
// returns per-pair traffic summaries ordered by pair key.
func (l *Learner) Tick(tick uint64, now time.Time, strides []traversal.BoundaryStride, flips []events.Flip) []events.BoundaryTraffic {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(strides) == 0 {
		return nil
	}

	flippedUp := make(map[string]struct{})
	for _, f := range flips {
		if f.Direction == "up" {
			flippedUp[f.EntityID] = struct{}{}
		}
	}

	traffic := make(map[graph.RelationKey]*pairTraffic)
	for _, st := range strides {
		key := graph.RelationKey{Source: st.SourceEntity, Target: st.TargetEntity}
		t, ok := traffic[key]
		if !ok {
			t = &pairTraffic{key: key, hungers: make(map[string]int)}
			traffic[key] = t
		}
		t.strides++
		t.delivered += st.Delivered
		eff := gapClosure(st.TargetGapBefore, st.Delivered)
		if eff > t.peakEff {
			t.peakEff = eff
		}
		t.hungers[string(st.DominantHunger)]++

		// Precedence credit: gap closure into an entity that flipped up
		// this tick, weighted by the target node's membership share so
		// credit follows central members. Closure, not raw delivered
		// energy, so oversized strides earn no extra precedence.
		if _, up := flippedUp[st.TargetEntity]; up {
			t.credit += eff * l.membershipWeight(st.TargetNode, st.TargetEntity)
		}
	}

	keys := make([]graph.RelationKey, 0, len(traffic))
	for k := range traffic {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].Target < keys[j].Target
	})

	floor := l.evidenceFloor()

	var out []events.BoundaryTraffic
	for _, key := range keys {
		t := traffic[key]
		rel, ok := l.store.Relation(key.Source, key.Target)
		if !ok {
			rel = l.maybeMaterialize(key, t, floor, now)
			if rel == nil {
				continue
			}
		}
		l.update(rel, t, now)
		out = append(out, events.BoundaryTraffic{
			SourceEntity:      key.Source,
			TargetEntity:      key.Target,
			StrideCount:       t.strides,
			DeliveredEnergy:   t.delivered,
			PeakEffectiveness: t.peakEff,
			NormalizedFlow:    rel.FlowEMA,
			Dominance:         rel.Dominance,
			DominantHunger:    rel.DominantHunger,
		})
	}
	return out
}

// evidenceFloor returns the delivered-energy floor a new pair must clear,
// taken from the flow distribution of already-materialized relations.
func (l *Learner) evidenceFloor() float64 {
	var flows []float64
	l.store.ForEachRelation(func(r *graph.EntityRelation) {
		flows = append(flows, r.FlowEMA)
	})
	if len(flows) == 0 {
		return 0
	}
	return adaptive.Percentile(flows, l.cfg.EvidenceQuantile)
}

// maybeMaterialize accumulates pending evidence for an unrecorded pair and
// creates the relation once both the stride-count and cohort floors pass.
func (l *Learner) maybeMaterialize(key graph.RelationKey, t *pairTraffic, floor float64, now time.Time) *graph.EntityRelation {
	p, ok := l.pending[key]
	if !ok {
		p = &pending{hungers: make(map[string]int)}
		l.pending[key] = p
	}
	p.strides += t.strides
	p.delivered += t.delivered
	for h, n := range t.hungers {
		p.hungers[h] += n
	}

	// With no relations on record the cohort floor is vacuously zero, so
	// the first observed stride is the strongest evidence available and
	// materializes immediately. The count gate applies once a cohort
	// exists to calibrate against.
	minStrides := l.cfg.MinStridesToMaterialize
	if l.store.RelationCount() == 0 {
		minStrides = 1
	}
	if p.strides < minStrides || p.delivered < floor {
		return nil
	}

	src, okS := l.store.Entity(key.Source)
	dst, okT := l.store.Entity(key.Target)
	if !okS || !okT {
		delete(l.pending, key)
		return nil
	}

	rel := &graph.EntityRelation{
		ID:               uuid.NewString(),
		Source:           key.Source,
		Target:           key.Target,
		Dominance:        0.5,
		SemanticDistance: graph.CosineDistance(src.Centroid, dst.Centroid),
		LastUpdated:      now,
	}
	l.store.PutRelation(rel)
	l.hungerTab[key] = p.hungers
	delete(l.pending, key)

	l.log.Debug("relation materialized",
		slog.String("source", key.Source),
		slog.String("target", key.Target),
		slog.Int("evidence_strides", p.strides),
	)
	return rel
}

// update folds one tick of traffic into a materialized relation.
func (l *Learner) update(rel *graph.EntityRelation, t *pairTraffic, now time.Time) {
	key := rel.Key()
	seriesKey := key.Source + "->" + key.Target

	dt := l.cfg.ColdHalfLife / 10
	if !rel.LastUpdated.IsZero() {
		dt = now.Sub(rel.LastUpdated).Seconds()
		if dt <= 0 {
			dt = 1e-3
		}
	}
	l.halfLives.Touch(seriesKey, now)
	halfLife := l.halfLives.HalfLife(seriesKey)
	alpha := emaAlpha(dt, halfLife)

	rel.FlowEMA += alpha * (t.delivered - rel.FlowEMA)
	rel.PrecedenceEMA += alpha * (t.credit - rel.PrecedenceEMA)

	// Mirror into the reverse direction's view so dominance stays
	// consistent from both sides.
	if rev, ok := l.store.Relation(key.Target, key.Source); ok {
		rev.ReverseFlowEMA += alpha * (t.delivered - rev.ReverseFlowEMA)
		rev.Dominance = dominance(rev.FlowEMA, rev.ReverseFlowEMA)
	}
	reverseFlow := 0.0
	if rev, ok := l.store.Relation(key.Target, key.Source); ok {
		reverseFlow = rev.FlowEMA
	}
	rel.ReverseFlowEMA = reverseFlow
	rel.Dominance = dominance(rel.FlowEMA, rel.ReverseFlowEMA)

	// Ease moves with effectiveness: boundaries that close gaps get
	// cheaper, ineffective ones get more expensive.
	rel.EaseLogWeight += l.cfg.EaseLearnRate * (t.peakEff - 0.5)

	if src, okS := l.store.Entity(key.Source); okS {
		if dst, okT := l.store.Entity(key.Target); okT {
			d := graph.CosineDistance(src.Centroid, dst.Centroid)
			rel.SemanticDistance += alpha * (d - rel.SemanticDistance)
		}
	}

	tab, ok := l.hungerTab[key]
	if !ok {
		tab = make(map[string]int)
		l.hungerTab[key] = tab
	}
	for h, n := range t.hungers {
		tab[h] += n
	}
	rel.DominantHunger, rel.HungerEntropy = hungerSummary(tab)

	rel.StrideCount += uint64(t.strides)
	rel.LastUpdated = now
}

func (l *Learner) membershipWeight(nodeID, entityID string) float64 {
	for _, m := range l.store.MembershipsOf(nodeID) {
		if m.EntityID == entityID {
			return m.Weight
		}
	}
	return 0
}

// hungerSummary returns the modal hunger and the normalized entropy of the
// driving-hunger distribution.
func hungerSummary(tab map[string]int) (string, float64) {
	if len(tab) == 0 {
		return "", 0
	}
	names := make([]string, 0, len(tab))
	for h := range tab {
		names = append(names, h)
	}
	sort.Strings(names)

	total := 0
	best := names[0]
	bestN := -1
	dist := make([]float64, 0, len(names))
	for _, h := range names {
		n := tab[h]
		total += n
		if n > bestN {
			bestN = n
			best = h
		}
	}
	for _, h := range names {
		dist = append(dist, float64(tab[h])/float64(total))
	}
	return best, adaptive.Entropy(dist)
}

// dominance maps the forward/reverse flow ratio into (0, 1); 0.5 means
// symmetric traffic.
func dominance(forward, reverse float64) float64 {
	const epsilon = 1e-9
	return graph.Logistic(math.Log((forward + epsilon) / (reverse + epsilon)))
}

func emaAlpha(dt, halfLife float64) float64 {
	if halfLife <= 0 {
		return 1
	}
	return 1 - math.Exp2(-dt/halfLife)
}

func gapClosure(gapBefore, delivered float64) float64 {
	const epsilon = 1e-9
	if gapBefore <= epsilon {
		return 0
	}
	if delivered > gapBefore {
		delivered = gapBefore
	}
	return delivered / gapBefore
}
