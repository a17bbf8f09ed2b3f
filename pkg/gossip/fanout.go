package gossip

import "sort"

// SelectFanout picks up to fanout candidates from active, applying the
// adaptive priority multiplier when adaptive is true, then sorting by
// descending score (spec §4.6 "Fanout selection").
func SelectFanout(active []*Node, baseFanout int, priority Priority, adaptive bool) []*Node {
	n := baseFanout
	if adaptive {
		switch priority {
		case PriorityCritical:
			n = int(float64(baseFanout) * 2)
		case PriorityHigh:
			n = int(float64(baseFanout) * 1.5)
		case PriorityLow:
			n = int(float64(baseFanout) * 0.5)
		}
	}
	if n <= 0 {
		n = 1
	}

	candidates := make([]*Node, len(active))
	copy(candidates, active)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score() > candidates[j].score() })

	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

// PriorityClassifier assigns a Priority to an outbound message, replacing
// the ad-hoc "emergency"/"critical"/"important"/"routine" string-key
// matching flagged in spec §7 ("implementers should expose a configurable
// priority classifier instead"). DefaultPriorityClassifier provides the
// literal equivalent for deployments that still want it; callers are
// expected to supply their own for anything more structured.
type PriorityClassifier func(messageType MessageType, namespace string, metadata map[string]string) Priority

// DefaultPriorityClassifier reproduces the source's ad-hoc key matching
// against metadata["urgency"], for deployments that have not yet migrated
// to a structured classifier.
func DefaultPriorityClassifier(_ MessageType, _ string, metadata map[string]string) Priority {
	switch metadata["urgency"] {
	case "emergency", "critical":
		return PriorityCritical
	case "important":
		return PriorityHigh
	case "routine":
		return PriorityLow
	default:
		return PriorityMedium
	}
}
