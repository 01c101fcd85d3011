// Package adaptive provides the rolling-statistics primitives that every
// engine component derives its thresholds and learning rates from. The
// design rule is that no component hard-codes a tunable constant: thresholds
// come from cohort means and quantiles, learning rates from observed update
// intervals, with documented minimal fallbacks only for true cold start.
package adaptive

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// RollingStats maintains a bounded window of observations and serves
// mean/stddev/quantile queries over it.
type RollingStats struct {
	mu         sync.RWMutex
	window     []float64
	capacity   int
	next       int
	minSamples int
}

// NewRollingStats creates a window with the given capacity. minSamples is
// the number of observations required before Ready reports true; below it
// callers are expected to use their documented fallback.
func NewRollingStats(capacity, minSamples int) *RollingStats {
	if capacity <= 0 {
		capacity = 256
	}
	if minSamples <= 0 {
		minSamples = 8
	}
	return &RollingStats{
		window:     make([]float64, 0, capacity),
		capacity:   capacity,
		minSamples: minSamples,
	}
}

// Observe adds one observation, evicting the oldest once at capacity.
func (r *RollingStats) Observe(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.window) < r.capacity {
		r.window = append(r.window, v)
		return
	}
	r.window[r.next] = v
	r.next = (r.next + 1) % r.capacity
}

// ObserveAll adds a batch of observations.
func (r *RollingStats) ObserveAll(vs []float64) {
	for _, v := range vs {
		r.Observe(v)
	}
}

// Ready reports whether enough samples exist for derived statistics.
func (r *RollingStats) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.window) >= r.minSamples
}

// Len returns the number of held observations.
func (r *RollingStats) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.window)
}

// Mean returns the window mean, or the fallback when not Ready.
func (r *RollingStats) Mean(fallback float64) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.window) < r.minSamples {
		return fallback
	}
	return stat.Mean(r.window, nil)
}

// StdDev returns the window standard deviation, floored at floor to prevent
// threshold collapse in near-constant cohorts.
func (r *RollingStats) StdDev(fallback, floor float64) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.window) < r.minSamples {
		return fallback
	}
	sd := stat.StdDev(r.window, nil)
	if sd < floor {
		return floor
	}
	return sd
}

// Quantile returns the p-quantile (0 < p < 1) of the window, or the
// fallback when not Ready.
func (r *RollingStats) Quantile(p, fallback float64) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.window) < r.minSamples {
		return fallback
	}
	sorted := make([]float64, len(r.window))
	copy(sorted, r.window)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// Snapshot returns a copy of the current window.
func (r *RollingStats) Snapshot() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]float64, len(r.window))
	copy(out, r.window)
	return out
}

// CohortStats computes mean and stddev of an ad hoc cohort slice, with a
// stddev floor. Used for per-tick touched cohorts that never persist.
func CohortStats(cohort []float64, stdFloor float64) (mean, std float64) {
	if len(cohort) == 0 {
		return 0, stdFloor
	}
	mean = stat.Mean(cohort, nil)
	if len(cohort) < 2 {
		return mean, stdFloor
	}
	std = stat.StdDev(cohort, nil)
	if std < stdFloor {
		std = stdFloor
	}
	return mean, std
}

// Percentile computes the p-quantile of an ad hoc slice without mutating it.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// Median is the 0.5-quantile of an ad hoc slice.
func Median(values []float64) float64 {
	return Percentile(values, 0.5)
}
