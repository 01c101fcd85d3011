package graph

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// SaturateEnergy maps raw energy onto a compressive scale. Using log1p keeps
// the transform monotonic, exactly zero at zero, and finite for any input,
// which is what makes numerical overflow structurally impossible downstream.
func SaturateEnergy(e float64) float64 {
	if e <= 0 {
		return 0
	}
	return math.Log1p(e)
}

// SaturateWeight maps an unbounded accumulated weight into [0, 1).
func SaturateWeight(w float64) float64 {
	if w <= 0 {
		return 0
	}
	return math.Tanh(w)
}

// CosineSimilarity computes the cosine similarity of two embedding vectors.
// Returns 0 when either vector is empty, zero-length, or dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	dot := float64(vek32.Dot(a, b))
	na := math.Sqrt(float64(vek32.Dot(a, a)))
	nb := math.Sqrt(float64(vek32.Dot(b, b)))
	if na < 1e-12 || nb < 1e-12 {
		return 0
	}
	return dot / (na * nb)
}

// CosineDistance is 1 - CosineSimilarity, clipped to [0, 2].
func CosineDistance(a, b []float32) float64 {
	d := 1.0 - CosineSimilarity(a, b)
	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}
	return d
}

// Logistic is the standard sigmoid.
func Logistic(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
