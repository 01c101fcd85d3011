package traversal

import (
	"sort"

	"github.com/adalundhe/cascade/core/adaptive"
	"github.com/adalundhe/cascade/core/graph"
)

// candidate is one scored destination entity.
type candidate struct {
	entity  *graph.Entity
	raw     map[Hunger]float64
	valence float64
}

// betweenStride picks one cross-boundary destination for src and executes
// the stride through representative nodes. Returns false when no candidate
// exists or no energy moved.
func (s *Selector) betweenStride(
	src *graph.Entity,
	active []*graph.Entity,
	ceiling float64,
	budget float64,
	tick uint64,
	dt float64,
	applied map[string]float64,
) (BoundaryStride, bool) {
	if budget <= 0 {
		return BoundaryStride{}, false
	}

	candidates := s.gatherCandidates(src, active, ceiling)
	if len(candidates) == 0 {
		return BoundaryStride{}, false
	}

	// Score every candidate on every hunger, then rank-normalize each
	// hunger across candidates so no signal dominates by scale alone.
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

	gates := s.baselines.Gates(src.ID, meanScores, dt)

	valences := make([]float64, len(candidates))
	for i := range candidates {
		v := 0.0
		for _, h := range Hungers {
			v += gates[h] * perHunger[h][i]
		}
		candidates[i].valence = v
		valences[i] = v
	}

	weights := adaptive.Softmax(valences, s.cfg.SampleTemperature)
	chosen := candidates[adaptive.SampleIndex(s.rng, weights)]

	srcNode := s.sourceRepresentative(src.ID)
	tgtNode := s.targetRepresentative(chosen.entity.ID, srcNode)
	if srcNode == nil || tgtNode == nil || srcNode.ID == tgtNode.ID {
		return BoundaryStride{}, false
	}

	// Energy only travels along existing structure: prefer a direct link
	// between the representatives, otherwise reroute through the strongest
	// cross-boundary link between the two member sets. No link, no stride.
	link, srcNode, tgtNode, ok := s.strideLink(src.ID, chosen.entity.ID, srcNode, tgtNode)
	if !ok {
		return BoundaryStride{}, false
	}

	gapBefore := tgtNode.Gap()
	delivered := transfer(srcNode, tgtNode, budget, tick, applied)
	if delivered <= 0 {
		return BoundaryStride{}, false
	}

	rec := BoundaryStride{
		SourceEntity:    src.ID,
		TargetEntity:    chosen.entity.ID,
		SourceNode:      srcNode.ID,
		TargetNode:      tgtNode.ID,
		Requested:       budget,
		Delivered:       delivered,
		TargetGapBefore: gapBefore,
		DominantHunger:  dominantHunger(chosen.raw, gates),
		Tick:            tick,
	}

	// Hebbian credit on the crossed link when both ends were below
	// threshold when the stride ran.
	rec.strengthened = s.diff.StrengthenIfInactive(link, delivered, tick)
	return rec, true
}

// strideLink resolves the link a cross-boundary stride travels. The
// representatives win when a direct link joins them; otherwise the
// heaviest existing link from any source member to any target member is
// used and the stride endpoints move to that link's nodes. Returns false
// when the two entities share no link at all.
func (s *Selector) strideLink(
	srcEntityID, dstEntityID string,
	srcRep, dstRep *graph.Node,
) (*graph.Link, *graph.Node, *graph.Node, bool) {
	if link, ok := s.store.Link(srcRep.ID, dstRep.ID); ok {
		return link, srcRep, dstRep, true
	}

	targets := make(map[string]struct{})
	for _, m := range s.store.MembersOf(dstEntityID) {
		targets[m.NodeID] = struct{}{}
	}

	var (
		best    *graph.Link
		bestSrc *graph.Node
	)
	for _, m := range sortedMembers(s.store, srcEntityID) {
		node, ok := s.store.Node(m.NodeID)
		if !ok {
			continue
		}
		links := append([]*graph.Link(nil), s.store.Outgoing(node.ID)...)
		sort.Slice(links, func(i, j int) bool { return links[i].Target < links[j].Target })
		for _, link := range links {
			if _, member := targets[link.Target]; !member {
				continue
			}
			if best == nil || link.Weight > best.Weight {
				best = link
				bestSrc = node
			}
		}
	}
	if best == nil {
		return nil, nil, nil, false
	}
	dst, ok := s.store.Node(best.Target)
	if !ok {
		return nil, nil, nil, false
	}
	return best, bestSrc, dst, true
}

// gatherCandidates collects destination entities from learned relations
// plus active entities within the semantic reach ceiling. Relation-backed
// destinations are exempt from the ceiling: a learned boundary stays
// reachable even when centroids have drifted apart.
func (s *Selector) gatherCandidates(src *graph.Entity, active []*graph.Entity, ceiling float64) []candidate {
	seen := map[string]struct{}{src.ID: {}}
	var out []candidate

	add := func(e *graph.Entity) {
		if _, dup := seen[e.ID]; dup || e.State == graph.StateDissolved {
			return
		}
		seen[e.ID] = struct{}{}
		out = append(out, candidate{entity: e, raw: s.scoreCandidate(src, e)})
	}

	for _, rel := range s.store.RelationsFrom(src.ID) {
		if e, ok := s.store.Entity(rel.Target); ok && e.State != graph.StateDissolved {
			add(e)
		}
	}
	for _, e := range active {
		if e.ID == src.ID {
			continue
		}
		if s.pairDistance(src, e) <= ceiling {
			add(e)
		}
	}

	// Over-full candidate sets keep the semantically nearest destinations
	// rather than an id-ordered prefix.
	if len(out) > s.cfg.MaxCandidates {
		sort.Slice(out, func(i, j int) bool {
			di, dj := s.pairDistance(src, out[i].entity), s.pairDistance(src, out[j].entity)
			if di != dj {
				return di < dj
			}
			return out[i].entity.ID < out[j].entity.ID
		})
		out = out[:s.cfg.MaxCandidates]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].entity.ID < out[j].entity.ID })
	return out
}

// scoreCandidate computes the raw hunger scores of one destination. All
// scores land in [0, 1].
func (s *Selector) scoreCandidate(src, dst *graph.Entity) map[Hunger]float64 {
	scores := make(map[Hunger]float64, len(Hungers))

	// Homeostasis: room left below the destination's threshold.
	if dst.ThresholdRuntime > 0 {
		fill := dst.EnergyRuntime / dst.ThresholdRuntime
		if fill > 1 {
			fill = 1
		}
		scores[HungerHomeostasis] = 1 - fill
	} else {
		scores[HungerHomeostasis] = 0.5
	}

	// Goal: alignment with the installed goal embedding.
	if len(s.goal) > 0 {
		scores[HungerGoal] = (graph.CosineSimilarity(s.goal, dst.Centroid) + 1) / 2
	} else {
		scores[HungerGoal] = 0.5
	}

	// Ease: learned boundary cost, discounted by semantic distance for
	// unlearned pairs.
	dist := s.pairDistance(src, dst)
	if rel, ok := s.store.Relation(src.ID, dst.ID); ok {
		scores[HungerEase] = graph.Logistic(rel.EaseLogWeight)
	} else {
		scores[HungerEase] = 0.3 * (1 - dist/2)
	}

	// Complementarity: distance from what is already collectively active.
	scores[HungerComplementarity] = graph.CosineDistance(dst.Centroid, s.lastMeanCentroid) / 2

	// Integration: destinations already receiving cross-boundary flow.
	inflow := 0.0
	s.store.ForEachRelation(func(r *graph.EntityRelation) {
		if r.Target == dst.ID {
			inflow += r.FlowEMA
		}
	})
	scores[HungerIntegration] = inflow / (1 + inflow)

	return scores
}

// sourceRepresentative picks the member contributing the most weighted
// saturated energy, id tie-broken.
func (s *Selector) sourceRepresentative(entityID string) *graph.Node {
	var best *graph.Node
	bestScore := -1.0
	for _, m := range sortedMembers(s.store, entityID) {
		node, ok := s.store.Node(m.NodeID)
		if !ok {
			continue
		}
		score := m.Weight * node.SaturatedEnergy()
		if score > bestScore {
			bestScore = score
			best = node
		}
	}
	return best
}

// targetRepresentative picks the member with the largest activation gap,
// with a diversity bonus for embeddings unlike the stride source.
func (s *Selector) targetRepresentative(entityID string, from *graph.Node) *graph.Node {
	var best *graph.Node
	bestScore := -1.0
	for _, m := range sortedMembers(s.store, entityID) {
		node, ok := s.store.Node(m.NodeID)
		if !ok {
			continue
		}
		score := m.Weight * node.Gap()
		if from != nil {
			score += s.cfg.DiversityBonus * graph.CosineDistance(node.Embedding, from.Embedding) / 2
		}
		if score > bestScore {
			bestScore = score
			best = node
		}
	}
	return best
}

func sortedMembers(store *graph.Store, entityID string) []*graph.Membership {
	// Copy before sorting: MembersOf hands out the store's own index.
	members := append([]*graph.Membership(nil), store.MembersOf(entityID)...)
	sort.Slice(members, func(i, j int) bool { return members[i].NodeID < members[j].NodeID })
	return members
}

// transfer moves up to budget energy from src to dst, clipped at the
// source's available energy, and records both deltas.
func transfer(src, dst *graph.Node, budget float64, tick uint64, applied map[string]float64) float64 {
	if budget <= 0 {
		return 0
	}
	debit := src.AddEnergy(-budget, tick)
	delivered := -debit
	if delivered <= 0 {
		return 0
	}
	dst.AddEnergy(delivered, tick)
	applied[src.ID] += debit
	applied[dst.ID] += delivered
	return delivered
}
