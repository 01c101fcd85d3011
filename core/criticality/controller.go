// Package criticality holds the activity of the graph near its critical
// operating point. A cheap branching-ratio proxy is computed every tick and
// an authoritative spectral-radius estimate is sampled when the active set
// is large enough; a proportional-integral controller with anti-windup
// feeds the estimate back into the diffusion engine's decay and diffusion
// rates within hard bounds.
package criticality

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/adalundhe/cascade/core/adaptive"
)

// SafetyState classifies the current spectral-radius estimate.
type SafetyState int

const (
	// StateDying means the network is collapsing (rho < 0.5).
	StateDying SafetyState = 0

	// StateSubcritical means activity is below target (0.5 <= rho < 0.8).
	StateSubcritical SafetyState = 1

	// StateCritical is the healthy operating band (0.8 <= rho < 1.2).
	StateCritical SafetyState = 2

	// StateSupercritical means runaway activity (rho >= 1.2).
	StateSupercritical SafetyState = 3
)

// String returns the string representation of the SafetyState.
func (s SafetyState) String() string {
	switch s {
	case StateDying:
		return "dying"
	case StateSubcritical:
		return "subcritical"
	case StateCritical:
		return "critical"
	case StateSupercritical:
		return "supercritical"
	default:
		return fmt.Sprintf("safety_state(%d)", s)
	}
}

// ClassifyRho maps a spectral-radius estimate onto a SafetyState.
func ClassifyRho(rho float64) SafetyState {
	switch {
	case rho < 0.5:
		return StateDying
	case rho < 0.8:
		return StateSubcritical
	case rho < 1.2:
		return StateCritical
	default:
		return StateSupercritical
	}
}

// Config configures the controller.
type Config struct {
	// TargetRho is the operating point, near 1.0 ("edge of chaos").
	TargetRho float64 `yaml:"target_rho"`

	// Kp and Ki are the proportional and integral gains.
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`

	// IntegralLimit bounds the integral accumulator (anti-windup).
	IntegralLimit float64 `yaml:"integral_limit"`

	// MinActiveForProxy is the minimum active-node count for the
	// branching proxy to be considered feasible; below it the rolling
	// global estimate is used and the tick is flagged degraded.
	MinActiveForProxy int `yaml:"min_active_for_proxy"`

	// PowerIterationEvery samples the authoritative estimate once every
	// N ticks; zero disables it.
	PowerIterationEvery uint64 `yaml:"power_iteration_every"`

	// PowerIterationMaxNodes caps the dense subgraph the estimate is
	// allowed to build.
	PowerIterationMaxNodes int `yaml:"power_iteration_max_nodes"`
}

// DefaultConfig returns controller defaults.
func DefaultConfig() Config {
	return Config{
		TargetRho:              1.0,
		Kp:                     0.05,
		Ki:                     0.01,
		IntegralLimit:          2.0,
		MinActiveForProxy:      4,
		PowerIterationEvery:    20,
		PowerIterationMaxNodes: 512,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.TargetRho <= 0 {
		return fmt.Errorf("criticality config: TargetRho must be > 0, got %g", c.TargetRho)
	}
	if c.Kp < 0 || c.Ki < 0 {
		return fmt.Errorf("criticality config: gains must be >= 0")
	}
	if c.IntegralLimit <= 0 {
		return fmt.Errorf("criticality config: IntegralLimit must be > 0, got %g", c.IntegralLimit)
	}
	return nil
}

// Metrics is the controller output for one tick.
type Metrics struct {
	Rho         float64
	RhoSource   string // "branching", "power_iteration", or "rolling"
	Degraded    bool
	State       SafetyState
	DeltaBefore float64
	DeltaAfter  float64
	AlphaBefore float64
	AlphaAfter  float64
	Output      float64
}

// Controller implements the PI feedback loop.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	logger  *slog.Logger
	rolling *adaptive.RollingStats

	integral     float64
	prevActive   int
	prevActiveOK bool
}

// NewController creates a controller.
func NewController(cfg Config, logger *slog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:     cfg,
		logger:  logger,
		rolling: adaptive.NewRollingStats(256, 8),
	}, nil
}

// Observe computes the branching-ratio proxy from successive active-set
// sizes, falling back to the rolling estimate when the population is too
// small. activeNow is the post-diffusion active node count for this tick.
func (c *Controller) Observe(activeNow int) (rho float64, source string, degraded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		c.prevActive = activeNow
		c.prevActiveOK = true
	}()

	if !c.prevActiveOK || c.prevActive < c.cfg.MinActiveForProxy {
		// Too few active elements for a meaningful ratio: degraded mode,
		// serve the rolling estimate instead of halting.
		return c.rolling.Mean(c.cfg.TargetRho), "rolling", true
	}

	rho = float64(activeNow) / float64(c.prevActive)
	c.rolling.Observe(rho)
	return rho, "branching", false
}

// ObserveSpectral records an authoritative spectral-radius sample, which
// also feeds the rolling fallback.
func (c *Controller) ObserveSpectral(rho float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolling.Observe(rho)
}

// Adjust runs the PI step against the current (alpha, delta) rates and
// returns the adjusted pair plus metrics. A rho above target increases
// decay and damps diffusion; below target does the opposite. The integral
// term only accumulates while the output is unsaturated (anti-windup).
func (c *Controller) Adjust(rho, alpha, delta float64, source string, degraded bool) Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := rho - c.cfg.TargetRho
	proposed := c.integral + err
	if proposed > c.cfg.IntegralLimit {
		proposed = c.cfg.IntegralLimit
	} else if proposed < -c.cfg.IntegralLimit {
		proposed = -c.cfg.IntegralLimit
	}

	output := c.cfg.Kp*err + c.cfg.Ki*proposed

	newDelta := delta * (1 + output)
	newAlpha := alpha * (1 - 0.5*output)

	// Anti-windup: freeze the integral when the delta lever is pinned.
	saturated := (newDelta <= 0 || newDelta != clampRate(newDelta)) && sameSign(err, c.integral)
	if !saturated {
		c.integral = proposed
	}

	m := Metrics{
		Rho:         rho,
		RhoSource:   source,
		Degraded:    degraded,
		State:       ClassifyRho(rho),
		DeltaBefore: delta,
		DeltaAfter:  newDelta,
		AlphaBefore: alpha,
		AlphaAfter:  newAlpha,
		Output:      output,
	}

	if m.State == StateSupercritical || m.State == StateDying {
		c.logger.Warn("criticality outside healthy band",
			"rho", rho, "state", m.State.String(), "source", source)
	}

	return m
}

// Reset clears controller state.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.integral = 0
	c.prevActiveOK = false
}

func clampRate(v float64) float64 {
	if v < 1e-6 {
		return 1e-6
	}
	if v > 10 {
		return 10
	}
	return v
}

func sameSign(a, b float64) bool {
	return (a >= 0) == (b >= 0)
}
