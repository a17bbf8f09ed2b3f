package sharding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingPrimaryDeterministic(t *testing.T) {
	r := NewRing(64)
	r.AddNode("n1")
	r.AddNode("n2")
	r.AddNode("n3")

	p1, ok := r.Primary("some-key")
	require.True(t, ok)
	p2, ok := r.Primary("some-key")
	require.True(t, ok)
	assert.Equal(t, p1, p2)
}

func TestRingReplicasDistinct(t *testing.T) {
	r := NewRing(64)
	r.AddNode("n1")
	r.AddNode("n2")
	r.AddNode("n3")

	reps := r.Replicas("k1", 3)
	require.Len(t, reps, 3)
	seen := make(map[string]bool)
	for _, n := range reps {
		assert.False(t, seen[n])
		seen[n] = true
	}
}

// TestShardPartitionInvariant is the universal property from spec §8: the
// union of active shard ranges equals the full key space; no two active
// shards overlap.
func TestShardPartitionInvariant(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.AddNode("a1")
	m.CreateShard(0, 0x40, "a1", nil)
	m.CreateShard(0x40, 0x80, "a1", nil)
	m.CreateShard(0x80, math.MaxUint64, "a1", nil)

	shards := m.Shards()
	require.Len(t, shards, 3)
	for i := 1; i < len(shards); i++ {
		assert.Equal(t, shards[i-1].EndKey, shards[i].StartKey)
	}
	assert.Equal(t, uint64(0), shards[0].StartKey)
	assert.Equal(t, uint64(math.MaxUint64), shards[len(shards)-1].EndKey)
}

func TestSplitShardEvenDistribution(t *testing.T) {
	m := NewManager(DefaultConfig())
	s := m.CreateShard(0, 0xFF, "a1", nil)
	s.KeyCount = 1000

	left, right, err := m.SplitShard(context.Background(), s.ShardID, 0x80, func(ctx context.Context, start, end uint64, onProgress func(int64, int64)) error {
		onProgress(500, 500)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), left.StartKey)
	assert.Equal(t, uint64(0x80), left.EndKey)
	assert.Equal(t, uint64(0x80), right.StartKey)
	assert.Equal(t, uint64(0xFF), right.EndKey)
	assert.Equal(t, StatusActive, left.Status)
	assert.Equal(t, StatusActive, right.Status)

	migs := m.Tracker().All()
	require.Len(t, migs, 1)
	assert.Equal(t, MigrationCompleted, migs[0].State)
	assert.Equal(t, int64(500), migs[0].KeysTransferred)
}

func TestSplitShardFailureLeavesSourceIntact(t *testing.T) {
	m := NewManager(DefaultConfig())
	s := m.CreateShard(0, 0xFF, "a1", nil)
	originalID := s.ShardID

	_, _, err := m.SplitShard(context.Background(), s.ShardID, 0x80, func(ctx context.Context, start, end uint64, onProgress func(int64, int64)) error {
		return assert.AnError
	})
	require.Error(t, err)

	shards := m.Shards()
	require.Len(t, shards, 1)
	assert.Equal(t, originalID, shards[0].ShardID)
	assert.Equal(t, StatusActive, shards[0].Status)
}

func TestMergeAdjacentShards(t *testing.T) {
	m := NewManager(DefaultConfig())
	left := m.CreateShard(0, 0x80, "a1", nil)
	right := m.CreateShard(0x80, 0xFF, "a1", nil)
	left.KeyCount = 400
	right.KeyCount = 600

	merged, err := m.MergeShards(left.ShardID, right.ShardID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), merged.StartKey)
	assert.Equal(t, uint64(0xFF), merged.EndKey)
	assert.Equal(t, int64(1000), merged.KeyCount)
	assert.Equal(t, StatusActive, merged.Status)

	assert.Len(t, m.Shards(), 1)
}

func TestRebalanceAboveThresholdProducesPlan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RebalanceThreshold = 0.1
	cfg.MigrationBatchSize = 10
	m := NewManager(cfg)

	s1 := m.CreateShard(0, 0x80, "heavy", nil)
	s1.Size = 1000
	s2 := m.CreateShard(0x80, 0xFF, "light", nil)
	s2.Size = 10

	ratio, plan := m.Rebalance(false)
	assert.Greater(t, ratio, cfg.RebalanceThreshold)
	require.NotEmpty(t, plan)
	assert.Equal(t, "heavy", plan[0].FromNode)
	assert.Equal(t, "light", plan[0].ToNode)
}

func TestRebalanceBelowThresholdNoPlan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RebalanceThreshold = 0.5
	m := NewManager(cfg)
	s1 := m.CreateShard(0, 0x80, "n1", nil)
	s1.Size = 100
	s2 := m.CreateShard(0x80, 0xFF, "n2", nil)
	s2.Size = 110

	_, plan := m.Rebalance(false)
	assert.Empty(t, plan)
}

func TestLocateShardMissingWhenEmpty(t *testing.T) {
	m := NewManager(DefaultConfig())
	_, err := m.Locate("anything")
	require.Error(t, err)
}
