package adaptive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEMAFirstObservationInitializes(t *testing.T) {
	var e EMA
	assert.False(t, e.Initialized())
	e.Update(5.0, 1.0, 60)
	assert.True(t, e.Initialized())
	assert.Equal(t, 5.0, e.Value())
}

func TestEMAHalfLifeSemantics(t *testing.T) {
	var e EMA
	e.Update(0, 0, 10)
	// One update a full half-life later closes exactly half the gap.
	e.Update(1.0, 10, 10)
	assert.InDelta(t, 0.5, e.Value(), 1e-9)
}

func TestEMAConvergence(t *testing.T) {
	var e EMA
	e.Update(0, 0, 5)
	for i := 0; i < 100; i++ {
		e.Update(1.0, 1.0, 5)
	}
	assert.InDelta(t, 1.0, e.Value(), 1e-4)
}

func TestHalfLifeSourceFallbackChain(t *testing.T) {
	h := NewHalfLifeSource(300)

	// Cold: nothing observed anywhere.
	assert.Equal(t, 300.0, h.HalfLife("unseen"))

	// Warm the global window through another key.
	now := time.Unix(0, 0)
	for i := 0; i < 6; i++ {
		h.Touch("other", now.Add(time.Duration(i)*10*time.Second))
	}
	got := h.HalfLife("unseen")
	assert.InDelta(t, 10.0, got, 1e-9, "global median serves unseen keys")

	// Per-key history wins once it is ready.
	for i := 0; i < 5; i++ {
		h.Touch("mine", now.Add(time.Duration(i)*2*time.Second))
	}
	assert.InDelta(t, 2.0, h.HalfLife("mine"), 1e-9)
	assert.InDelta(t, 10.0, h.HalfLife("unseen"), 1.0, "other keys still use global")
}

func TestHalfLifeSourceTouchIntervals(t *testing.T) {
	h := NewHalfLifeSource(60)
	now := time.Unix(100, 0)

	assert.Equal(t, 0.0, h.Touch("k", now), "first touch has no interval")
	assert.InDelta(t, 5.0, h.Touch("k", now.Add(5*time.Second)), 1e-9)
	assert.Equal(t, 0.0, h.Touch("k", now.Add(5*time.Second)), "same timestamp yields nothing")
}
