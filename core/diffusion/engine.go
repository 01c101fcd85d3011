package diffusion

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/adalundhe/cascade/core/graph"
)

// Rate bounds enforced regardless of controller pressure.
const (
	// MinDiffusionRate is the lower bound on the global diffusion rate.
	MinDiffusionRate = 0.005

	// MaxDiffusionRate is the upper bound on the global diffusion rate.
	MaxDiffusionRate = 0.5

	// MinDecayRate is the lower bound on the global energy decay rate.
	MinDecayRate = 0.001

	// MaxDecayRate is the upper bound on the global energy decay rate.
	MaxDecayRate = 0.3
)

// Config configures the diffusion and decay engine.
type Config struct {
	// DiffusionRate is the initial global transfer rate (alpha).
	DiffusionRate float64 `yaml:"diffusion_rate"`

	// DecayRate is the initial global energy decay rate (delta), per second.
	DecayRate float64 `yaml:"decay_rate"`

	// WeightDecayRate is the slow link/base-weight decay rate, per second.
	// Structure forgets on a far longer horizon than activation.
	WeightDecayRate float64 `yaml:"weight_decay_rate"`

	// WeightDecayEvery applies weight decay once every N ticks.
	WeightDecayEvery uint64 `yaml:"weight_decay_every"`

	// StrengthenRate scales Hebbian increments per unit of moved energy.
	StrengthenRate float64 `yaml:"strengthen_rate"`

	// ClassMultipliers scales decay per node class. Missing classes
	// default to 1.
	ClassMultipliers map[string]float64 `yaml:"class_multipliers"`
}

// DefaultConfig returns the engine defaults. The class multipliers encode
// the dual-clock principle: memory-like state far outlives task-like state.
func DefaultConfig() Config {
	return Config{
		DiffusionRate:    0.1,
		DecayRate:        0.03,
		WeightDecayRate:  0.0005,
		WeightDecayEvery: 50,
		StrengthenRate:   0.05,
		ClassMultipliers: map[string]float64{
			graph.ClassMemory.String():  0.1,
			graph.ClassTask.String():    1.0,
			graph.ClassPercept.String(): 2.0,
			graph.ClassAffect.String():  0.5,
		},
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.DiffusionRate < MinDiffusionRate || c.DiffusionRate > MaxDiffusionRate {
		return fmt.Errorf("diffusion config: DiffusionRate must be in [%g, %g], got %g",
			MinDiffusionRate, MaxDiffusionRate, c.DiffusionRate)
	}
	if c.DecayRate < MinDecayRate || c.DecayRate > MaxDecayRate {
		return fmt.Errorf("diffusion config: DecayRate must be in [%g, %g], got %g",
			MinDecayRate, MaxDecayRate, c.DecayRate)
	}
	if c.WeightDecayRate < 0 {
		return fmt.Errorf("diffusion config: WeightDecayRate must be >= 0, got %g", c.WeightDecayRate)
	}
	if c.StrengthenRate < 0 || c.StrengthenRate > 1 {
		return fmt.Errorf("diffusion config: StrengthenRate must be in [0, 1], got %g", c.StrengthenRate)
	}
	return nil
}

// TickMetrics reports what one diffusion tick did.
type TickMetrics struct {
	NodesDiffused     int
	TransfersStaged   int
	EnergyTransferred float64
	EnergyDecayed     float64
	LinksStrengthened int
	WeightDecayTick   bool
	ConservationError float64
}

// Engine runs diffusion, decay, and gated strengthening each tick. The
// global alpha/delta rates are adjusted externally by the criticality
// controller through SetRates, always inside the hard bounds.
type Engine struct {
	mu     sync.RWMutex
	cfg    Config
	store  *graph.Store
	logger *slog.Logger

	alpha float64
	delta float64
}

// NewEngine creates a diffusion engine over the given store.
func NewEngine(store *graph.Store, cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		store:  store,
		logger: logger,
		alpha:  cfg.DiffusionRate,
		delta:  cfg.DecayRate,
	}, nil
}

// Rates returns the current (alpha, delta) pair.
func (e *Engine) Rates() (alpha, delta float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.alpha, e.delta
}

// SetRates clamps and installs controller-adjusted rates.
func (e *Engine) SetRates(alpha, delta float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alpha = clamp(alpha, MinDiffusionRate, MaxDiffusionRate)
	e.delta = clamp(delta, MinDecayRate, MaxDecayRate)
}

// Tick performs one diffusion-and-decay pass: stage transfers along all
// outgoing links of energetic nodes, apply them atomically, strengthen
// links whose endpoints were both inactive, then decay. dt is the elapsed
// seconds since the previous tick; decay uses the closed form
// exp(-rate*dt), which stays stable under arbitrarily large gaps.
func (e *Engine) Tick(buffer *DeltaBuffer, tick uint64, dt float64) (TickMetrics, map[string]float64) {
	e.mu.RLock()
	alpha := e.alpha
	delta := e.delta
	e.mu.RUnlock()

	var metrics TickMetrics
	if dt <= 0 {
		dt = 1e-3
	}

	type gatedTransfer struct {
		link   *graph.Link
		amount float64
	}
	var gated []gatedTransfer

	e.store.ForEachNode(func(n *graph.Node) {
		if n.Energy <= 0 {
			return
		}
		links := e.store.Outgoing(n.ID)
		if len(links) == 0 {
			return
		}

		// First pass: requested transfers. Scaled down proportionally
		// if the sum would drive the source negative.
		requested := 0.0
		amounts := make([]float64, len(links))
		for i, l := range links {
			amt := n.Energy * l.Weight * alpha * dt
			amounts[i] = amt
			requested += amt
		}
		if requested <= 0 {
			return
		}
		scale := 1.0
		if requested > n.Energy {
			scale = n.Energy / requested
		}

		srcInactive := !n.IsActive()
		for i, l := range links {
			amt := amounts[i] * scale
			if amt <= 1e-12 {
				continue
			}
			buffer.StageTransfer(l.Source, l.Target, amt)
			metrics.TransfersStaged++
			metrics.EnergyTransferred += amt

			// Hebbian gate: consolidation happens only between
			// presently-inactive endpoints, judged on pre-apply state.
			if srcInactive {
				if tgt, ok := e.store.Node(l.Target); ok && !tgt.IsActive() {
					gated = append(gated, gatedTransfer{link: l, amount: amt})
				}
			}
		}
		metrics.NodesDiffused++
	})

	metrics.ConservationError = buffer.ConservationError()
	appliedDeltas := buffer.Apply(e.store, tick)

	for _, g := range gated {
		rate := e.cfg.StrengthenRate * g.amount
		if rate > e.cfg.StrengthenRate {
			rate = e.cfg.StrengthenRate
		}
		if g.link.Strengthen(rate, tick) > 0 {
			metrics.LinksStrengthened++
		}
	}

	metrics.EnergyDecayed = e.decay(tick, dt, delta)
	metrics.WeightDecayTick = e.cfg.WeightDecayEvery > 0 && tick%e.cfg.WeightDecayEvery == 0
	if metrics.WeightDecayTick {
		e.decayWeights(dt * float64(e.cfg.WeightDecayEvery))
	}

	return metrics, appliedDeltas
}

// StrengthenIfInactive applies the Hebbian gate for an externally executed
// stride: the link strengthens only when both endpoints are currently below
// threshold. Returns true when strengthening occurred.
func (e *Engine) StrengthenIfInactive(link *graph.Link, energyMoved float64, tick uint64) bool {
	src, ok := e.store.Node(link.Source)
	if !ok {
		return false
	}
	tgt, ok := e.store.Node(link.Target)
	if !ok {
		return false
	}
	if src.IsActive() || tgt.IsActive() {
		return false
	}
	rate := e.cfg.StrengthenRate * energyMoved
	if rate > e.cfg.StrengthenRate {
		rate = e.cfg.StrengthenRate
	}
	return link.Strengthen(rate, tick) > 0
}

// decay applies per-class exponential energy decay and returns the total
// energy removed.
func (e *Engine) decay(tick uint64, dt, delta float64) float64 {
	removed := 0.0
	e.store.ForEachNode(func(n *graph.Node) {
		if n.Energy <= 0 {
			return
		}
		mult := e.classMultiplier(n.Class)
		factor := math.Exp(-delta * mult * dt)
		lost := n.Energy * (1 - factor)
		n.Energy -= lost
		n.LastModified = tick
		removed += lost
	})
	return removed
}

// decayWeights applies the slow clock to link weights and node base
// weights. horizon is the wall-clock span the periodic pass covers.
func (e *Engine) decayWeights(horizon float64) {
	factor := math.Exp(-e.cfg.WeightDecayRate * horizon)
	e.store.ForEachLink(func(l *graph.Link) {
		l.Decay(factor)
	})
	e.store.ForEachNode(func(n *graph.Node) {
		mult := e.classMultiplier(n.Class)
		n.BaseWeight *= math.Exp(-e.cfg.WeightDecayRate * mult * horizon)
	})
}

func (e *Engine) classMultiplier(class graph.NodeClass) float64 {
	if m, ok := e.cfg.ClassMultipliers[class.String()]; ok && m > 0 {
		return m
	}
	return 1.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
