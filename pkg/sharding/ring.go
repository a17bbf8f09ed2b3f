// Package sharding implements consistent-hash sharding (spec §4.5, C5): a
// virtual-node ring, shard split/merge, and rebalancing migrations.
//
// Grounded on pkg/distributed/partitioning.go's PartitionStrategy interface
// (Partition/Validate/EstimateLatency/EstimateMemoryUsage), generalized
// here from model-layer partitioning to key-range sharding, and on
// pkg/distributed/load_balancer.go's imbalance-scoring idiom for Rebalance.
package sharding

import (
	"sort"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Ring is a consistent-hash ring with virtualNodes virtual positions per
// physical node (spec §4.5 "Consistent hashing").
type Ring struct {
	mu           sync.RWMutex
	virtualNodes int
	positions    []uint64          // sorted virtual-node hash positions
	owners       map[uint64]string // position -> physical node id
	nodes        map[string]bool   // physical nodes currently in the ring
}

// NewRing creates a ring with virtualNodes virtual positions per physical
// node.
func NewRing(virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = 128
	}
	return &Ring{
		virtualNodes: virtualNodes,
		owners:       make(map[uint64]string),
		nodes:        make(map[string]bool),
	}
}

// AddNode inserts a physical node's virtual positions into the ring.
func (r *Ring) AddNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodes[nodeID] {
		return
	}
	r.nodes[nodeID] = true
	for i := 0; i < r.virtualNodes; i++ {
		pos := ringHash(nodeID, i)
		r.owners[pos] = nodeID
		r.positions = append(r.positions, pos)
	}
	sort.Slice(r.positions, func(i, j int) bool { return r.positions[i] < r.positions[j] })
}

// RemoveNode evicts a physical node and all its virtual positions.
func (r *Ring) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.nodes[nodeID] {
		return
	}
	delete(r.nodes, nodeID)
	kept := r.positions[:0]
	for _, pos := range r.positions {
		if r.owners[pos] == nodeID {
			delete(r.owners, pos)
			continue
		}
		kept = append(kept, pos)
	}
	r.positions = kept
}

// Nodes returns the physical nodes currently in the ring.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodes))
	for n := range r.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Primary returns the physical node owning key: the first ring position
// at-or-after hash(key), wrapping around to the first position if needed
// (spec §4.5: "Key k maps to the first ring position ≥ hash(k)").
func (r *Ring) Primary(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.positions) == 0 {
		return "", false
	}
	h := keyHash(key)
	idx := sort.Search(len(r.positions), func(i int) bool { return r.positions[i] >= h })
	if idx == len(r.positions) {
		idx = 0
	}
	return r.owners[r.positions[idx]], true
}

// Replicas returns the primary plus the next replicationFactor-1 distinct
// physical nodes walking clockwise (spec §4.5).
func (r *Ring) Replicas(key string, replicationFactor int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.positions) == 0 || replicationFactor <= 0 {
		return nil
	}
	h := keyHash(key)
	start := sort.Search(len(r.positions), func(i int) bool { return r.positions[i] >= h })

	out := make([]string, 0, replicationFactor)
	seen := make(map[string]bool)
	for i := 0; i < len(r.positions) && len(out) < replicationFactor; i++ {
		idx := (start + i) % len(r.positions)
		node := r.owners[r.positions[idx]]
		if seen[node] {
			continue
		}
		seen[node] = true
		out = append(out, node)
	}
	return out
}

func ringHash(nodeID string, vnode int) uint64 {
	return keyHash(nodeID + "#" + itoa(vnode))
}

func keyHash(s string) uint64 {
	sum := blake2b.Sum256([]byte(s))
	var h uint64
	for i := 0; i < 8; i++ {
		h = h<<8 | uint64(sum[i])
	}
	return h
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
