package gossip

import (
	"math"
	"sync"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
)

// QuorumTracker computes gossip-layer quorum (distinct from CRDT
// operations, which never require quorum — spec §4.2 "Quorum").
type QuorumTracker struct {
	mu        sync.RWMutex
	threshold float64 // (0,1]
	table     *Table
}

// NewQuorumTracker creates a tracker with the given minQuorumThreshold
// (spec §6 "gossip.minQuorumThreshold").
func NewQuorumTracker(table *Table, minQuorumThreshold float64) *QuorumTracker {
	if minQuorumThreshold <= 0 || minQuorumThreshold > 1 {
		minQuorumThreshold = 0.5
	}
	return &QuorumTracker{threshold: minQuorumThreshold, table: table}
}

// HasQuorum reports whether activeNodes >= ceil(totalNodes * threshold)
// (spec §4.6).
func (q *QuorumTracker) HasQuorum() bool {
	q.mu.RLock()
	threshold := q.threshold
	q.mu.RUnlock()

	all := q.table.All()
	if len(all) == 0 {
		return false
	}
	active := 0
	for _, n := range all {
		if n.Active {
			active++
		}
	}
	required := int(math.Ceil(float64(len(all)) * threshold))
	return active >= required
}

// UpdateThreshold changes the quorum fraction, rejecting values outside
// (0,1] (spec §4.6 "updateQuorumThreshold(x) rejects x ∉ (0,1]").
func (q *QuorumTracker) UpdateThreshold(x float64) error {
	if x <= 0 || x > 1 {
		return a2aerr.New(a2aerr.InvalidConfig, "quorum threshold must be in (0,1]")
	}
	q.mu.Lock()
	q.threshold = x
	q.mu.Unlock()
	return nil
}
