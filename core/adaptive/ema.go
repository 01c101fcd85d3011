package adaptive

import (
	"math"
	"sync"
	"time"
)

// EMA is an exponential moving average whose smoothing is expressed as a
// half-life in seconds rather than a raw alpha, so it stays stable under
// irregular update intervals.
type EMA struct {
	value       float64
	initialized bool
}

// Update folds a new observation into the average. dt is the elapsed time
// since the previous update and halfLife the current smoothing horizon;
// the effective alpha is 1 - 2^(-dt/halfLife).
func (e *EMA) Update(observation, dt, halfLife float64) float64 {
	if !e.initialized {
		e.value = observation
		e.initialized = true
		return e.value
	}
	if halfLife <= 0 {
		e.value = observation
		return e.value
	}
	if dt < 0 {
		dt = 0
	}
	alpha := 1.0 - math.Exp2(-dt/halfLife)
	e.value += alpha * (observation - e.value)
	return e.value
}

// Value returns the current average.
func (e *EMA) Value() float64 { return e.value }

// Initialized reports whether any observation has been folded in.
func (e *EMA) Initialized() bool { return e.initialized }

// =============================================================================
// Interval-Derived Half-Lives
// =============================================================================

// HalfLifeSource derives EMA half-lives from the observed intervals between
// updates to a keyed series. The fallback chain is: median interval of the
// specific key, then the global median over all keys, then the cold-start
// default. Smoothing horizons are learned from the data's own update
// cadence rather than fixed.
type HalfLifeSource struct {
	mu          sync.RWMutex
	perKey      map[string]*RollingStats
	global      *RollingStats
	lastSeen    map[string]time.Time
	coldDefault float64
	maxPerKey   int
}

// NewHalfLifeSource creates a source with the given cold-start default
// half-life in seconds.
func NewHalfLifeSource(coldDefaultSeconds float64) *HalfLifeSource {
	if coldDefaultSeconds <= 0 {
		coldDefaultSeconds = 60
	}
	return &HalfLifeSource{
		perKey:      make(map[string]*RollingStats),
		global:      NewRollingStats(1024, 4),
		lastSeen:    make(map[string]time.Time),
		coldDefault: coldDefaultSeconds,
		maxPerKey:   64,
	}
}

// Touch records an update to the keyed series at time now and returns the
// interval since the previous touch (zero on the first).
func (h *HalfLifeSource) Touch(key string, now time.Time) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, seen := h.lastSeen[key]
	h.lastSeen[key] = now
	if !seen {
		return 0
	}
	interval := now.Sub(prev).Seconds()
	if interval <= 0 {
		return 0
	}

	stats, ok := h.perKey[key]
	if !ok {
		stats = NewRollingStats(h.maxPerKey, 3)
		h.perKey[key] = stats
	}
	stats.Observe(interval)
	h.global.Observe(interval)
	return interval
}

// HalfLife returns the derived half-life for the keyed series. A half-life
// equal to the median update interval makes each update carry roughly half
// the average's mass, which is the learning-rate interpretation the
// boundary learner wants.
func (h *HalfLifeSource) HalfLife(key string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if stats, ok := h.perKey[key]; ok && stats.Ready() {
		return stats.Quantile(0.5, h.coldDefault)
	}
	if h.global.Ready() {
		return h.global.Quantile(0.5, h.coldDefault)
	}
	return h.coldDefault
}
