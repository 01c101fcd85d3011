package graph

// Link is a directed edge between two nodes. Weight lives in [0, 1] and is
// only ever moved by saturating increments, so it cannot escape its range.
type Link struct {
	// Source is the id of the origin node.
	Source string `json:"source"`

	// Target is the id of the destination node.
	Target string `json:"target"`

	// Type classifies the link.
	Type LinkType `json:"type"`

	// Weight is the transfer strength in [0, 1].
	Weight float64 `json:"weight"`

	// LastStrengthened is the tick index of the last Hebbian increment.
	LastStrengthened uint64 `json:"last_strengthened"`
}

// LinkKey uniquely identifies a directed link.
type LinkKey struct {
	Source string
	Target string
}

// Key returns the map key for this link.
func (l *Link) Key() LinkKey {
	return LinkKey{Source: l.Source, Target: l.Target}
}

// Strengthen applies a saturating weight increment proportional to the
// remaining headroom, so repeated strengthening asymptotes at 1 instead of
// overflowing. Returns the applied delta.
func (l *Link) Strengthen(rate float64, tick uint64) float64 {
	if rate <= 0 {
		return 0
	}
	delta := rate * (1.0 - l.Weight)
	l.Weight += delta
	l.LastStrengthened = tick
	return delta
}

// Decay applies multiplicative decay toward zero.
func (l *Link) Decay(factor float64) {
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}
	l.Weight *= factor
}
