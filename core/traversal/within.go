package traversal

import (
	"github.com/adalundhe/cascade/core/adaptive"
	"github.com/adalundhe/cascade/core/events"
	"github.com/adalundhe/cascade/core/graph"
)

// internalCandidate is one scored within-entity hop.
type internalCandidate struct {
	link *graph.Link
	node *graph.Node
	raw  map[Hunger]float64
}

// withinStrides spreads an entity's share of the internal budget from its
// representative node across member-to-member links. Destinations are
// sampled without replacement from gated hunger scores; each executed
// stride gets an equal slice of the budget.
func (s *Selector) withinStrides(
	src *graph.Entity,
	budget float64,
	tick uint64,
	dt float64,
	maxCount int,
	applied map[string]float64,
) []events.Stride {
	if budget <= 0 || maxCount <= 0 {
		return nil
	}

	rep := s.sourceRepresentative(src.ID)
	if rep == nil {
		return nil
	}

	// Member set for boundary filtering.
	members := make(map[string]struct{})
	for _, m := range s.store.MembersOf(src.ID) {
		members[m.NodeID] = struct{}{}
	}

	var candidates []internalCandidate
	for _, link := range s.store.Outgoing(rep.ID) {
		if _, in := members[link.Target]; !in {
			continue
		}
		node, ok := s.store.Node(link.Target)
		if !ok {
			continue
		}
		candidates = append(candidates, internalCandidate{
			link: link,
			node: node,
			raw:  s.scoreInternal(node, link),
		})
	}
	if len(candidates) == 0 {
		return nil
	}

	perHunger := make(map[Hunger][]float64, len(Hungers))
	meanScores := make(map[Hunger]float64, len(Hungers))
	for _, h := range Hungers {
		col := make([]float64, len(candidates))
		for i, c := range candidates {
			col[i] = c.raw[h]
			meanScores[h] += c.raw[h]
		}
		meanScores[h] /= float64(len(candidates))
		perHunger[h] = adaptive.RankNormalize(col)
	}
	gates := s.baselines.Gates(src.ID+"#internal", meanScores, dt)

	valences := make([]float64, len(candidates))
	for i := range candidates {
		for _, h := range Hungers {
			valences[i] += gates[h] * perHunger[h][i]
		}
	}

	count := s.cfg.WithinStridesPerEntity
	if count > len(candidates) {
		count = len(candidates)
	}
	if count > maxCount {
		count = maxCount
	}
	if count <= 0 {
		return nil
	}
	slice := budget / float64(count)

	var out []events.Stride
	remaining := append([]float64(nil), valences...)
	for n := 0; n < count; n++ {
		weights := adaptive.Softmax(remaining, s.cfg.SampleTemperature)
		idx := adaptive.SampleIndex(s.rng, weights)
		c := candidates[idx]
		// Exclude from the next draw.
		remaining[idx] = -1e9

		if c.node.ID == rep.ID {
			continue
		}
		gapBefore := c.node.Gap()
		delivered := transfer(rep, c.node, slice, tick, applied)
		if delivered <= 0 {
			continue
		}
		out = append(out, events.Stride{
			SourceEntity:    src.ID,
			TargetEntity:    src.ID,
			SourceNode:      rep.ID,
			TargetNode:      c.node.ID,
			Delivered:       delivered,
			Effectiveness:   gapClosure(gapBefore, delivered),
			DominantHunger:  string(dominantHunger(c.raw, gates)),
			CrossBoundary:   false,
			Strengthened:    s.diff.StrengthenIfInactive(c.link, delivered, tick),
			RequestedBudget: slice,
		})
	}
	return out
}

// scoreInternal computes raw hunger scores for one within-entity hop. The
// complementarity and integration hungers are boundary-scale concerns and
// stay neutral here.
func (s *Selector) scoreInternal(node *graph.Node, link *graph.Link) map[Hunger]float64 {
	scores := make(map[Hunger]float64, len(Hungers))

	if node.Threshold > 0 {
		fill := node.Energy / node.Threshold
		if fill > 1 {
			fill = 1
		}
		scores[HungerHomeostasis] = 1 - fill
	} else {
		scores[HungerHomeostasis] = 0.5
	}

	if len(s.goal) > 0 {
		scores[HungerGoal] = (graph.CosineSimilarity(s.goal, node.Embedding) + 1) / 2
	} else {
		scores[HungerGoal] = 0.5
	}

	scores[HungerEase] = link.Weight
	scores[HungerComplementarity] = 0.5
	scores[HungerIntegration] = 0.5

	return scores
}
