package adaptive

import (
	"math"
	"math/rand"
	"sort"
)

// RankNormalize maps raw scores onto [0, 1] by rank, which is how candidate
// valences are compared: rank scoring is insensitive to the raw scale of
// any one signal, so no signal can dominate by magnitude alone. Ties share
// the mean rank of their run. A single element maps to 1.
func RankNormalize(scores []float64) []float64 {
	n := len(scores)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []float64{1}
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return scores[idx[a]] < scores[idx[b]]
	})

	out := make([]float64, n)
	i := 0
	for i < n {
		j := i
		for j+1 < n && scores[idx[j+1]] == scores[idx[i]] {
			j++
		}
		// Mean rank of the tie run, scaled to (0, 1].
		meanRank := float64(i+j)/2.0 + 1.0
		norm := meanRank / float64(n)
		for k := i; k <= j; k++ {
			out[idx[k]] = norm
		}
		i = j + 1
	}
	return out
}

// Softmax converts scores into a probability distribution with the given
// temperature. Lower temperature sharpens the distribution.
func Softmax(scores []float64, temperature float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	if temperature <= 0 {
		temperature = 1
	}

	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}

	out := make([]float64, len(scores))
	sum := 0.0
	for i, s := range scores {
		out[i] = math.Exp((s - maxScore) / temperature)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// SampleIndex draws one index from a weight distribution. Weights need not
// be normalized; non-positive weights are treated as zero. Falls back to
// the maximum-weight index when the total mass is zero.
func SampleIndex(rng *rand.Rand, weights []float64) int {
	if len(weights) == 0 {
		return -1
	}

	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		best := 0
		for i, w := range weights[1:] {
			if w > weights[best] {
				best = i + 1
			}
		}
		return best
	}

	r := rng.Float64() * total
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		r -= w
		if r <= 0 {
			return i
		}
	}
	return len(weights) - 1
}

// Entropy returns the normalized Shannon entropy of a distribution, in
// [0, 1]. Used as the hunger-diversity indicator on boundary relations.
func Entropy(dist []float64) float64 {
	if len(dist) <= 1 {
		return 0
	}
	total := 0.0
	for _, p := range dist {
		if p > 0 {
			total += p
		}
	}
	if total <= 0 {
		return 0
	}
	h := 0.0
	for _, p := range dist {
		if p <= 0 {
			continue
		}
		q := p / total
		h -= q * math.Log(q)
	}
	return h / math.Log(float64(len(dist)))
}
