package sharding

import (
	"time"
)

// Status is a shard's lifecycle state (spec §4.5).
type Status string

const (
	StatusActive    Status = "active"
	StatusMigrating Status = "migrating"
	StatusSplitting Status = "splitting"
	StatusMerging   Status = "merging"
	StatusFailed    Status = "failed"
)

// Shard is a contiguous slice of the key hash space (spec §4.5).
type Shard struct {
	ShardID       string
	StartKey      uint64
	EndKey        uint64
	PrimaryNode   string
	Replicas      []string
	Size          int64
	KeyCount      int64
	LastUpdated   time.Time
	Status        Status
	Version       uint64
}

// Contains reports whether hash h falls within [StartKey, EndKey) — the
// final shard in the ring is inclusive of EndKey to cover the ring's
// maximum value (spec §4.5 invariant: "key ranges over all active shards
// partition the hash space").
func (s *Shard) Contains(h uint64, isLast bool) bool {
	if isLast {
		return h >= s.StartKey && h <= s.EndKey
	}
	return h >= s.StartKey && h < s.EndKey
}

// Strategy selects which shard(s) own a key (spec §4.5 "Strategies").
type Strategy string

const (
	StrategyConsistentHash Strategy = "consistent_hash"
	StrategyRange          Strategy = "range"
	StrategyHash           Strategy = "hash"
	StrategyHybrid         Strategy = "hybrid" // consistent-hash at node level, range within node
)
