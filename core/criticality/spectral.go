package criticality

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/adalundhe/cascade/core/graph"
)

// EstimateSpectralRadius builds the effective propagation operator
// T = (1-delta)[(1-alpha)I + alpha*P^T] over the currently-active subgraph
// and estimates its spectral radius by power iteration. P is the row-
// normalized weight matrix restricted to active nodes.
//
// Returns (0, false) when the active subgraph is empty, has no internal
// links, or exceeds maxNodes; callers fall back to the branching proxy.
func EstimateSpectralRadius(store *graph.Store, alpha, delta float64, maxNodes, iterations int) (float64, bool) {
	activeIDs := store.ActiveNodeIDs()
	n := len(activeIDs)
	if n < 2 || (maxNodes > 0 && n > maxNodes) {
		return 0, false
	}
	if iterations <= 0 {
		iterations = 30
	}

	index := make(map[string]int, n)
	for i, id := range activeIDs {
		index[id] = i
	}

	// Row-normalized propagation matrix restricted to the active set.
	p := mat.NewDense(n, n, nil)
	hasLinks := false
	for i, id := range activeIDs {
		rowSum := 0.0
		for _, l := range store.Outgoing(id) {
			if _, ok := index[l.Target]; ok {
				rowSum += l.Weight
			}
		}
		if rowSum <= 0 {
			continue
		}
		for _, l := range store.Outgoing(id) {
			if j, ok := index[l.Target]; ok && l.Weight > 0 {
				p.Set(i, j, l.Weight/rowSum)
				hasLinks = true
			}
		}
	}
	if !hasLinks {
		return 0, false
	}

	// T = (1-delta)[(1-alpha)I + alpha*P^T]
	t := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := alpha * p.At(j, i)
			if i == j {
				v += 1 - alpha
			}
			t.Set(i, j, (1-delta)*v)
		}
	}

	// Power iteration.
	v := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetVec(i, 1/math.Sqrt(float64(n)))
	}
	next := mat.NewVecDense(n, nil)
	rho := 0.0
	for iter := 0; iter < iterations; iter++ {
		next.MulVec(t, v)
		norm := mat.Norm(next, 2)
		if norm < 1e-12 {
			return 0, false
		}
		next.ScaleVec(1/norm, next)
		v, next = next, v
		rho = norm
	}
	return rho, true
}
