package engine

import (
	"sync"
	"time"

	"github.com/adalundhe/cascade/core/adaptive"
)

// Scheduler adapts the tick interval to recent activity: busy networks
// tick faster, idle ones slow down toward MaxInterval. Activity is the
// smoothed count of active nodes plus executed strides per tick.
type Scheduler struct {
	mu       sync.Mutex
	cfg      SchedulerConfig
	activity adaptive.EMA
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	return &Scheduler{cfg: cfg}
}

// Observe folds one tick's activity signal.
func (s *Scheduler) Observe(activeNodes, strides int, dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity.Update(float64(activeNodes+strides), dt, s.cfg.ActivityHalfLife)
}

// Interval returns the next tick interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	level := s.activity.Value()
	// Saturating activity ratio in [0, 1).
	ratio := level / (level + s.cfg.Gain)

	span := float64(s.cfg.MaxInterval - s.cfg.MinInterval)
	interval := time.Duration(float64(s.cfg.MaxInterval) - ratio*span)

	if !s.activity.Initialized() {
		interval = s.cfg.BaseInterval
	}
	if interval < s.cfg.MinInterval {
		interval = s.cfg.MinInterval
	}
	if interval > s.cfg.MaxInterval {
		interval = s.cfg.MaxInterval
	}
	return interval
}
