// Package workmem assembles the working-memory selection: a token-budgeted,
// diversity-aware greedy pick over active entities, with per-entity token
// costs learned from observed rendering actuals.
package workmem

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/adalundhe/cascade/core/adaptive"
	"github.com/adalundhe/cascade/core/graph"
)

// Config configures working-memory selection.
type Config struct {
	// TokenBudget is the hard ceiling on the summed estimated cost of the
	// selected set.
	TokenBudget int `yaml:"token_budget"`

	// MaxItems bounds the selection size regardless of budget.
	MaxItems int `yaml:"max_items"`

	// DiversityWeight scales the redundancy penalty against already
	// selected entities.
	DiversityWeight float64 `yaml:"diversity_weight"`

	// RepresentativeMembers is how many member nodes each item carries.
	RepresentativeMembers int `yaml:"representative_members"`

	// RelatedEntities is how many outgoing relations each item carries.
	RelatedEntities int `yaml:"related_entities"`

	// ColdCost is the token-cost estimate before any actuals arrive.
	ColdCost float64 `yaml:"cold_cost"`

	// CostWindow bounds the per-entity and global cost histories.
	CostWindow int `yaml:"cost_window"`
}

// DefaultConfig returns working-memory defaults.
func DefaultConfig() Config {
	return Config{
		TokenBudget:           2000,
		MaxItems:              7,
		DiversityWeight:       0.5,
		RepresentativeMembers: 3,
		RelatedEntities:       3,
		ColdCost:              150,
		CostWindow:            64,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.TokenBudget <= 0 {
		return fmt.Errorf("workmem config: TokenBudget must be > 0, got %d", c.TokenBudget)
	}
	if c.MaxItems <= 0 {
		return fmt.Errorf("workmem config: MaxItems must be > 0, got %d", c.MaxItems)
	}
	if c.DiversityWeight < 0 || c.DiversityWeight > 1 {
		return fmt.Errorf("workmem config: DiversityWeight must be in [0, 1], got %g", c.DiversityWeight)
	}
	return nil
}

// Member is one representative member node of a selected entity.
type Member struct {
	NodeID string  `json:"node_id"`
	Weight float64 `json:"weight"`
	Energy float64 `json:"energy"`
}

// Related is one outgoing relation of a selected entity.
type Related struct {
	TargetEntity string  `json:"target_entity"`
	Flow         float64 `json:"flow"`
	Dominance    float64 `json:"dominance"`
}

// Item is one selected working-memory entry.
type Item struct {
	EntityID      string    `json:"entity_id"`
	Name          string    `json:"name"`
	Level         string    `json:"level"`
	Energy        float64   `json:"energy"`
	Score         float64   `json:"score"`
	EstimatedCost float64   `json:"estimated_cost"`
	Members       []Member  `json:"members,omitempty"`
	Relations     []Related `json:"relations,omitempty"`
}

// Selection is one tick's working-memory output.
type Selection struct {
	Tick       uint64  `json:"tick"`
	Items      []Item  `json:"items"`
	BudgetUsed float64 `json:"budget_used"`
	Budget     int     `json:"budget"`
}

// CostModel learns per-entity token costs from observed actuals, falling
// back to the global distribution and then to a cold default.
type CostModel struct {
	mu       sync.Mutex
	perKey   map[string]*adaptive.RollingStats
	global   *adaptive.RollingStats
	window   int
	coldCost float64
}

// NewCostModel creates a cost model.
func NewCostModel(window int, coldCost float64) *CostModel {
	if window <= 0 {
		window = 64
	}
	return &CostModel{
		perKey:   make(map[string]*adaptive.RollingStats),
		global:   adaptive.NewRollingStats(window*4, 4),
		window:   window,
		coldCost: coldCost,
	}
}

// ObserveActual records the real token cost an entity's rendering incurred.
func (c *CostModel) ObserveActual(entityID string, tokens float64) {
	if tokens <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	stats, ok := c.perKey[entityID]
	if !ok {
		stats = adaptive.NewRollingStats(c.window, 4)
		c.perKey[entityID] = stats
	}
	stats.Observe(tokens)
	c.global.Observe(tokens)
}

// Estimate returns the expected token cost for an entity: its own median
// when warm, the global median next, the cold default last.
func (c *CostModel) Estimate(entityID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stats, ok := c.perKey[entityID]; ok && stats.Ready() {
		return stats.Quantile(0.5, c.coldCost)
	}
	return c.global.Quantile(0.5, c.coldCost)
}

// Selector performs the budgeted greedy selection.
type Selector struct {
	cfg   Config
	store *graph.Store
	costs *CostModel
	log   *slog.Logger
}

// NewSelector creates a working-memory selector.
func NewSelector(store *graph.Store, cfg Config, logger *slog.Logger) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		cfg:   cfg,
		store: store,
		costs: NewCostModel(cfg.CostWindow, cfg.ColdCost),
		log:   logger,
	}, nil
}

// Costs exposes the cost model so the host can feed rendering actuals back.
func (s *Selector) Costs() *CostModel { return s.costs }

// Select greedily fills the token budget with the highest-value active
// entities. Value is energy per token scaled by rank-normalized importance;
// each pick discounts candidates similar to what is already selected, so
// the result covers distinct regions of the active set. Deterministic for
// a fixed store state.
func (s *Selector) Select(tick uint64) Selection {
	sel := Selection{Tick: tick, Budget: s.cfg.TokenBudget}

	active := s.store.ActiveEntities()
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	if len(active) == 0 {
		return sel
	}

	// Importance from rank-normalized accumulated log weight.
	logWeights := make([]float64, len(active))
	for i, e := range active {
		logWeights[i] = e.LogWeight
	}
	importance := adaptive.RankNormalize(logWeights)

	type cand struct {
		entity *graph.Entity
		score  float64
		cost   float64
	}
	candidates := make([]cand, len(active))
	for i, e := range active {
		cost := s.costs.Estimate(e.ID)
		if cost <= 0 {
			cost = s.cfg.ColdCost
		}
		candidates[i] = cand{
			entity: e,
			score:  (e.EnergyRuntime / cost) * importance[i],
			cost:   cost,
		}
	}

	remaining := float64(s.cfg.TokenBudget)
	picked := make(map[string]struct{})
	var chosen []*graph.Entity

	for len(sel.Items) < s.cfg.MaxItems {
		bestIdx := -1
		bestGain := 0.0
		for i, c := range candidates {
			if _, done := picked[c.entity.ID]; done || c.cost > remaining {
				continue
			}
			gain := c.score * (1 - s.cfg.DiversityWeight*maxSimilarity(c.entity, chosen))
			if gain > bestGain ||
				(gain == bestGain && bestIdx >= 0 && c.entity.ID < candidates[bestIdx].entity.ID) {
				bestGain = gain
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		c := candidates[bestIdx]
		picked[c.entity.ID] = struct{}{}
		chosen = append(chosen, c.entity)
		remaining -= c.cost
		sel.BudgetUsed += c.cost
		sel.Items = append(sel.Items, Item{
			EntityID:      c.entity.ID,
			Name:          c.entity.Name,
			Level:         c.entity.Level.String(),
			Energy:        c.entity.EnergyRuntime,
			Score:         c.score,
			EstimatedCost: c.cost,
			Members:       s.representatives(c.entity.ID),
			Relations:     s.related(c.entity.ID),
		})
	}
	return sel
}

// maxSimilarity is the redundancy of a candidate against the already
// selected set.
func maxSimilarity(e *graph.Entity, chosen []*graph.Entity) float64 {
	best := 0.0
	for _, c := range chosen {
		sim := graph.CosineSimilarity(e.Centroid, c.Centroid)
		if sim > best {
			best = sim
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

// representatives lists the top member nodes by weighted saturated energy.
func (s *Selector) representatives(entityID string) []Member {
	n := s.cfg.RepresentativeMembers
	if n <= 0 {
		return nil
	}
	members := s.store.MembersOf(entityID)
	type scored struct {
		m     Member
		score float64
	}
	var all []scored
	for _, m := range members {
		node, ok := s.store.Node(m.NodeID)
		if !ok {
			continue
		}
		all = append(all, scored{
			m:     Member{NodeID: m.NodeID, Weight: m.Weight, Energy: node.Energy},
			score: m.Weight * node.SaturatedEnergy(),
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].m.NodeID < all[j].m.NodeID
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]Member, len(all))
	for i, a := range all {
		out[i] = a.m
	}
	return out
}

// related lists the strongest outgoing relations by flow.
func (s *Selector) related(entityID string) []Related {
	n := s.cfg.RelatedEntities
	if n <= 0 {
		return nil
	}
	rels := s.store.RelationsFrom(entityID)
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].FlowEMA != rels[j].FlowEMA {
			return rels[i].FlowEMA > rels[j].FlowEMA
		}
		return rels[i].Target < rels[j].Target
	})
	if len(rels) > n {
		rels = rels[:n]
	}
	out := make([]Related, len(rels))
	for i, r := range rels {
		out[i] = Related{TargetEntity: r.Target, Flow: r.FlowEMA, Dominance: r.Dominance}
	}
	return out
}
