package traversal

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/cascade/core/adaptive"
	"github.com/adalundhe/cascade/core/diffusion"
	"github.com/adalundhe/cascade/core/events"
	"github.com/adalundhe/cascade/core/graph"
)

// Config configures the stride selector.
type Config struct {
	// TotalBudget is the total energy all strides may move per tick.
	TotalBudget float64 `yaml:"total_budget"`

	// MaxStridesPerTick bounds stride count regardless of budget.
	MaxStridesPerTick int `yaml:"max_strides_per_tick"`

	// SplitTemperature softens the between/within budget split.
	SplitTemperature float64 `yaml:"split_temperature"`

	// SampleTemperature softens destination sampling. Lower values make
	// selection greedier.
	SampleTemperature float64 `yaml:"sample_temperature"`

	// DistanceCeilingQuantile positions the semantic reach ceiling inside
	// the observed pairwise centroid-distance distribution.
	DistanceCeilingQuantile float64 `yaml:"distance_ceiling_quantile"`

	// MaxCandidates caps destination candidates per source entity.
	MaxCandidates int `yaml:"max_candidates"`

	// WithinStridesPerEntity is how many internal strides an active
	// entity may run per tick.
	WithinStridesPerEntity int `yaml:"within_strides_per_entity"`

	// DiversityBonus rewards target representatives dissimilar from the
	// stride source, spreading activation across an entity.
	DiversityBonus float64 `yaml:"diversity_bonus"`

	// BaselineHalfLife smooths hunger baselines, in seconds.
	BaselineHalfLife float64 `yaml:"baseline_half_life"`

	// DistanceCacheSize bounds the pairwise centroid-distance cache.
	DistanceCacheSize int `yaml:"distance_cache_size"`

	// Seed fixes the sampling stream for reproducible runs.
	Seed int64 `yaml:"seed"`
}

// DefaultConfig returns selector defaults.
func DefaultConfig() Config {
	return Config{
		TotalBudget:             5.0,
		MaxStridesPerTick:       64,
		SplitTemperature:        0.5,
		SampleTemperature:       0.7,
		DistanceCeilingQuantile: 0.6,
		MaxCandidates:           8,
		WithinStridesPerEntity:  2,
		DiversityBonus:          0.25,
		BaselineHalfLife:        120,
		DistanceCacheSize:       4096,
		Seed:                    1,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.TotalBudget <= 0 {
		return fmt.Errorf("traversal config: TotalBudget must be > 0, got %g", c.TotalBudget)
	}
	if c.MaxStridesPerTick <= 0 {
		return fmt.Errorf("traversal config: MaxStridesPerTick must be > 0, got %d", c.MaxStridesPerTick)
	}
	if c.DistanceCeilingQuantile <= 0 || c.DistanceCeilingQuantile > 1 {
		return fmt.Errorf("traversal config: DistanceCeilingQuantile must be in (0, 1], got %g", c.DistanceCeilingQuantile)
	}
	return nil
}

// BoundaryStride is the cross-entity stride record handed to the boundary
// learner; it carries the pre-stride target gap the learner needs for
// gap-closure credit.
type BoundaryStride struct {
	SourceEntity    string
	TargetEntity    string
	SourceNode      string
	TargetNode      string
	Requested       float64
	Delivered       float64
	TargetGapBefore float64
	DominantHunger  Hunger
	Tick            uint64

	strengthened bool
}

// Result reports one selection pass.
type Result struct {
	Strides  []events.Stride
	Boundary []BoundaryStride

	// Applied holds net node-energy deltas for the aggregator.
	Applied map[string]float64

	BetweenBudget float64
	WithinBudget  float64
	Delivered     float64
}

// Selector runs the two-scale traversal each tick: it splits the energy
// budget between boundary crossing and internal spreading, picks
// destinations stochastically from gated hunger scores, and executes
// strides through representative nodes.
type Selector struct {
	mu    sync.Mutex
	cfg   Config
	store *graph.Store
	diff  *diffusion.Engine
	log   *slog.Logger

	baselines *Baselines
	distCache *lru.Cache[string, float64]
	rng       *rand.Rand

	goal []float32

	// lastMeanCentroid is the mean centroid of the active set, refreshed
	// each tick for the complementarity hunger.
	lastMeanCentroid []float32
}

// NewSelector creates a selector over the given store and diffusion engine.
func NewSelector(store *graph.Store, diff *diffusion.Engine, cfg Config, logger *slog.Logger) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.DistanceCacheSize
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, float64](size)
	if err != nil {
		return nil, fmt.Errorf("traversal: distance cache: %w", err)
	}
	return &Selector{
		cfg:       cfg,
		store:     store,
		diff:      diff,
		log:       logger,
		baselines: NewBaselines(cfg.BaselineHalfLife),
		distCache: cache,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// SetGoal installs the goal embedding the goal hunger scores against. A nil
// goal neutralizes that hunger.
func (s *Selector) SetGoal(embedding []float32) {
	s.mu.Lock()
	s.goal = embedding
	s.mu.Unlock()
}

// Tick runs one selection pass over the currently-active entities.
func (s *Selector) Tick(tick uint64, dt float64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := Result{Applied: make(map[string]float64)}

	active := s.store.ActiveEntities()
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	if len(active) == 0 {
		return result
	}

	activeIDs := make([]string, len(active))
	for i, e := range active {
		activeIDs[i] = e.ID
	}

	// Budget split from the mean learned magnitudes of the convergence
	// hunger (between) and the ease hunger (within).
	betweenMass := s.baselines.MeanGate(activeIDs, HungerIntegration)
	withinMass := s.baselines.MeanGate(activeIDs, HungerEase)
	split := adaptive.Softmax([]float64{betweenMass, withinMass}, s.cfg.SplitTemperature)
	result.BetweenBudget = s.cfg.TotalBudget * split[0]
	result.WithinBudget = s.cfg.TotalBudget * split[1]

	ceiling := s.distanceCeiling(active)
	s.lastMeanCentroid = activeCentroid(active)

	// Shares of each budget are proportional to entity energy so hot
	// entities explore more.
	totalEnergy := 0.0
	for _, e := range active {
		totalEnergy += e.EnergyRuntime
	}
	if totalEnergy <= 0 {
		return result
	}

	strideCount := 0
	for _, src := range active {
		if strideCount >= s.cfg.MaxStridesPerTick {
			break
		}
		share := src.EnergyRuntime / totalEnergy

		if rec, ok := s.betweenStride(src, active, ceiling,
			result.BetweenBudget*share, tick, dt, result.Applied); ok {
			result.Boundary = append(result.Boundary, rec)
			result.Strides = append(result.Strides, events.Stride{
				SourceEntity:    rec.SourceEntity,
				TargetEntity:    rec.TargetEntity,
				SourceNode:      rec.SourceNode,
				TargetNode:      rec.TargetNode,
				Delivered:       rec.Delivered,
				Effectiveness:   gapClosure(rec.TargetGapBefore, rec.Delivered),
				DominantHunger:  string(rec.DominantHunger),
				CrossBoundary:   true,
				Strengthened:    rec.strengthened,
				RequestedBudget: rec.Requested,
			})
			result.Delivered += rec.Delivered
			strideCount++
		}

		internal := s.withinStrides(src, result.WithinBudget*share, tick, dt,
			s.cfg.MaxStridesPerTick-strideCount, result.Applied)
		for _, st := range internal {
			result.Strides = append(result.Strides, st)
			result.Delivered += st.Delivered
		}
		strideCount += len(internal)
	}
	return result
}

// distanceCeiling computes the adaptive semantic reach limit: the configured
// quantile of pairwise centroid distances among active entities. Pair
// distances are cached since centroids drift slowly.
func (s *Selector) distanceCeiling(active []*graph.Entity) float64 {
	var dists []float64
	for i, a := range active {
		for _, b := range active[i+1:] {
			dists = append(dists, s.pairDistance(a, b))
		}
	}
	if len(dists) == 0 {
		return 2.0
	}
	return adaptive.Percentile(dists, s.cfg.DistanceCeilingQuantile)
}

func (s *Selector) pairDistance(a, b *graph.Entity) float64 {
	key := a.ID + "|" + b.ID
	if a.ID > b.ID {
		key = b.ID + "|" + a.ID
	}
	if d, ok := s.distCache.Get(key); ok {
		return d
	}
	d := graph.CosineDistance(a.Centroid, b.Centroid)
	s.distCache.Add(key, d)
	return d
}

// InvalidateDistance drops the cached centroid distance for a pair, called
// when an entity centroid is rewritten.
func (s *Selector) InvalidateDistance(aID, bID string) {
	key := aID + "|" + bID
	if aID > bID {
		key = bID + "|" + aID
	}
	s.distCache.Remove(key)
}

func gapClosure(gapBefore, delivered float64) float64 {
	const epsilon = 1e-9
	if gapBefore <= epsilon {
		return 0
	}
	closed := delivered
	if closed > gapBefore {
		closed = gapBefore
	}
	return closed / gapBefore
}
