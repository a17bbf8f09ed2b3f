// Package gossip implements the epidemic dissemination protocol (spec
// §4.6, C6): adaptive fanout propagation, deduplication, anti-entropy,
// failure detection, quorum, TTL-bounded forwarding, and farewell rumors.
//
// Grounded on pkg/p2p/node.go's Node interface and lifecycle shape, and on
// the nested ollama-distributed module's failureDetectorRoutine/
// heartbeatRoutine periodic-task pattern (consulted as reference only,
// never copied — see DESIGN.md).
package gossip

import (
	"sync"
	"time"
)

// Node is a peer known to the local gossip layer (spec §4.6 "Gossip
// Node").
type Node struct {
	AgentID      string
	Address      string
	LastSeen     time.Time
	Active       bool
	FailureCount int
	RTT          time.Duration
	Reliability  float64 // [0,1]
	Capacity     Capacity
}

// Capacity advertises a peer's resource headroom, used only for future
// capacity-aware fanout scoring; not currently weighted into Score.
type Capacity struct {
	Bandwidth int64
	Memory    int64
	CPU       float64
}

// score ranks a node for fanout candidate selection (spec §4.6: "Candidates
// sorted by score reliability − rtt/1000, descending").
func (n *Node) score() float64 {
	return n.Reliability - float64(n.RTT.Milliseconds())/1000
}

// Table tracks every known peer, guarded by a single coarse mutex (spec
// §6: "Gossip node table... guarded by a single coarse mutex").
type Table struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewTable creates an empty node table.
func NewTable() *Table {
	return &Table{nodes: make(map[string]*Node)}
}

// Upsert adds or updates a peer's record, marking it active and refreshing
// LastSeen.
func (t *Table) Upsert(agentID, address string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[agentID]
	if !ok {
		n = &Node{AgentID: agentID, Address: address, Reliability: 1.0}
		t.nodes[agentID] = n
	}
	n.Active = true
	n.LastSeen = time.Now()
	return n
}

// Get returns a peer's record.
func (t *Table) Get(agentID string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[agentID]
	return n, ok
}

// Remove drops a peer entirely (used when a farewell rumor is received).
func (t *Table) Remove(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, agentID)
}

// Active returns every currently-active peer.
func (t *Table) Active() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		if n.Active {
			out = append(out, n)
		}
	}
	return out
}

// All returns every known peer, active or not.
func (t *Table) All() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	return out
}

// DetectFailures marks peers inactive whose LastSeen exceeds
// 3*gossipInterval, incrementing FailureCount, and decaying reliability by
// 0.1 once FailureCount reaches failureThreshold (spec §4.6 "Failure
// detection").
func (t *Table) DetectFailures(now time.Time, gossipInterval time.Duration, failureThreshold int) (newlyFailed []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	threshold := 3 * gossipInterval
	for _, n := range t.nodes {
		if !n.Active {
			continue
		}
		if now.Sub(n.LastSeen) > threshold {
			n.FailureCount++
			if n.FailureCount >= failureThreshold {
				n.Active = false
				n.Reliability -= 0.1
				if n.Reliability < 0 {
					n.Reliability = 0
				}
				newlyFailed = append(newlyFailed, n.AgentID)
			}
		}
	}
	return newlyFailed
}

// Recover marks a peer active again and resets its failure count (called
// when a message is received from a previously-failed peer).
func (t *Table) Recover(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[agentID]; ok {
		n.Active = true
		n.FailureCount = 0
		n.LastSeen = time.Now()
	}
}
