package sharding

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
)

// Config configures a Manager (spec §6 config keys
// sharding.strategy/virtualNodes/rebalanceThreshold plus the related
// migration knobs named in §4.5).
type Config struct {
	Strategy                 Strategy
	VirtualNodes             int
	ReplicationFactor        int
	RebalanceThreshold       float64
	MigrationBatchSize       int
	MaxConcurrentMigrations  int
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:                StrategyConsistentHash,
		VirtualNodes:            128,
		ReplicationFactor:       3,
		RebalanceThreshold:      0.25,
		MigrationBatchSize:      500,
		MaxConcurrentMigrations: 2,
	}
}

// MovePlan is one step of a rebalance: move a shard's data from one node
// to another.
type MovePlan struct {
	ShardID    string
	FromNode   string
	ToNode     string
	Reason     string
}

// Manager owns the ring, the set of shards, and migration execution (spec
// §4.5, C5).
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	ring     *Ring
	shards   map[string]*Shard
	order    []string // shard ids sorted by StartKey, for contiguity checks
	tracker  *MigrationTracker
}

// NewManager creates a Manager with cfg and an empty ring.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:     cfg,
		ring:    NewRing(cfg.VirtualNodes),
		shards:  make(map[string]*Shard),
		tracker: NewMigrationTracker(cfg.MaxConcurrentMigrations),
	}
}

// AddNode registers a physical node with the ring.
func (m *Manager) AddNode(nodeID string) {
	m.ring.AddNode(nodeID)
}

// RemoveNode evicts a physical node; callers must follow with a rebalance.
func (m *Manager) RemoveNode(nodeID string) {
	m.ring.RemoveNode(nodeID)
}

// CreateShard creates a single active shard spanning [start, end], owned
// by primary with the given replicas.
func (m *Manager) CreateShard(start, end uint64, primary string, replicas []string) *Shard {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Shard{
		ShardID:     uuid.NewString(),
		StartKey:    start,
		EndKey:      end,
		PrimaryNode: primary,
		Replicas:    replicas,
		Status:      StatusActive,
		LastUpdated: time.Now(),
	}
	m.shards[s.ShardID] = s
	m.resortLocked()
	return s
}

func (m *Manager) resortLocked() {
	ids := make([]string, 0, len(m.shards))
	for id := range m.shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.shards[ids[i]].StartKey < m.shards[ids[j]].StartKey })
	m.order = ids
}

// Locate returns the active shard whose range covers key's hash. The lookup
// is the same for every cfg.Strategy: the ring is not consulted and no
// per-node (hybrid) lookup is made.
func (m *Manager) Locate(key string) (*Shard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return nil, a2aerr.New(a2aerr.ShardMissing, "no shards configured")
	}
	h := keyHash(key)
	for i, id := range m.order {
		s := m.shards[id]
		isLast := i == len(m.order)-1
		if s.Status == StatusActive && s.Contains(h, isLast) {
			return s, nil
		}
	}
	return nil, a2aerr.New(a2aerr.ShardMissing, "no active shard covers this key")
}

// ReplicaNodes returns the primary plus replicationFactor-1 nodes for key,
// via the consistent-hash ring (used regardless of Strategy to decide
// where *copies* live).
func (m *Manager) ReplicaNodes(key string) []string {
	return m.ring.Replicas(key, m.cfg.ReplicationFactor)
}

// Shards returns every tracked shard.
func (m *Manager) Shards() []*Shard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Shard, 0, len(m.shards))
	for _, id := range m.order {
		out = append(out, m.shards[id])
	}
	return out
}

// DataMover copies keys in [start,end) from one shard to a new shard,
// supplied by the caller since Manager has no knowledge of the actual
// key/value store.
type DataMover func(ctx context.Context, start, end uint64, onProgress func(bytes, keys int64)) error

// SplitShard splits shard id at splitKey into two active shards (spec
// §4.5 "Split"): [start,splitKey) and [splitKey,end). The original shard
// is marked splitting until the migration of the right half completes.
func (m *Manager) SplitShard(ctx context.Context, id string, splitKey uint64, move DataMover) (left, right *Shard, err error) {
	m.mu.Lock()
	s, ok := m.shards[id]
	if !ok {
		m.mu.Unlock()
		return nil, nil, a2aerr.New(a2aerr.ShardMissing, "shard not found: "+id)
	}
	if splitKey <= s.StartKey || splitKey >= s.EndKey {
		m.mu.Unlock()
		return nil, nil, a2aerr.New(a2aerr.InvalidConfig, "split key out of shard range")
	}
	s.Status = StatusSplitting
	left = &Shard{
		ShardID: uuid.NewString(), StartKey: s.StartKey, EndKey: splitKey,
		PrimaryNode: s.PrimaryNode, Replicas: s.Replicas, Status: StatusActive, LastUpdated: time.Now(),
	}
	right = &Shard{
		ShardID: uuid.NewString(), StartKey: splitKey, EndKey: s.EndKey,
		PrimaryNode: s.PrimaryNode, Replicas: s.Replicas, Status: StatusMigrating, LastUpdated: time.Now(),
	}
	m.shards[left.ShardID] = left
	m.shards[right.ShardID] = right
	delete(m.shards, id)
	m.resortLocked()
	m.mu.Unlock()

	_, migErr := m.tracker.Start(ctx, id, right.ShardID, func(ctx context.Context, mig *Migration, onProgress func(int64, int64)) error {
		return move(ctx, splitKey, s.EndKey, onProgress)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if migErr != nil {
		// Failed tasks leave the source shard intact (spec invariant): restore it.
		right.Status = StatusFailed
		delete(m.shards, left.ShardID)
		delete(m.shards, right.ShardID)
		s.Status = StatusActive
		m.shards[id] = s
		m.resortLocked()
		return nil, nil, migErr
	}
	right.Status = StatusActive
	return left, right, nil
}

// MergeShards merges two adjacent shards on the same primary (spec §4.5
// "Merge"): absorbing takes over the range, absorbed is destroyed.
func (m *Manager) MergeShards(absorbingID, absorbedID string) (*Shard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.shards[absorbingID]
	if !ok {
		return nil, a2aerr.New(a2aerr.ShardMissing, "absorbing shard not found")
	}
	b, ok := m.shards[absorbedID]
	if !ok {
		return nil, a2aerr.New(a2aerr.ShardMissing, "absorbed shard not found")
	}
	if a.PrimaryNode != b.PrimaryNode {
		return nil, a2aerr.New(a2aerr.InvalidConfig, "can only merge shards sharing a primary node")
	}
	if a.EndKey != b.StartKey && b.EndKey != a.StartKey {
		return nil, a2aerr.New(a2aerr.InvalidConfig, "shards are not adjacent")
	}

	a.Status = StatusMerging
	b.Status = StatusMerging

	if a.EndKey == b.StartKey {
		a.EndKey = b.EndKey
	} else {
		a.StartKey = b.StartKey
	}
	a.KeyCount += b.KeyCount
	a.Size += b.Size
	a.Version++
	a.LastUpdated = time.Now()
	a.Status = StatusActive
	delete(m.shards, absorbedID)
	m.resortLocked()
	return a, nil
}

// Rebalance computes the imbalance ratio across shard load (size or key
// count) and, if it exceeds cfg.RebalanceThreshold, produces a move plan
// transferring load from over- to under-loaded nodes in
// cfg.MigrationBatchSize chunks (spec §4.5 "Rebalance").
func (m *Manager) Rebalance(byKeyCount bool) (imbalanceRatio float64, plan []MovePlan) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	load := make(map[string]int64) // node -> total load
	for _, s := range m.shards {
		if s.Status != StatusActive {
			continue
		}
		v := s.Size
		if byKeyCount {
			v = s.KeyCount
		}
		load[s.PrimaryNode] += v
	}
	if len(load) == 0 {
		return 0, nil
	}

	var minLoad, maxLoad int64 = math.MaxInt64, math.MinInt64
	var sum int64
	for _, v := range load {
		if v < minLoad {
			minLoad = v
		}
		if v > maxLoad {
			maxLoad = v
		}
		sum += v
	}
	mean := float64(sum) / float64(len(load))
	if mean == 0 {
		return 0, nil
	}
	imbalanceRatio = float64(maxLoad-minLoad) / mean
	if imbalanceRatio <= m.cfg.RebalanceThreshold {
		return imbalanceRatio, nil
	}

	overloaded, underloaded := splitByLoad(load, mean)
	plan = buildMovePlan(m.shardsByNodeLocked(), overloaded, underloaded, m.cfg.MigrationBatchSize)
	return imbalanceRatio, plan
}

func (m *Manager) shardsByNodeLocked() map[string][]*Shard {
	out := make(map[string][]*Shard)
	for _, s := range m.shards {
		if s.Status == StatusActive {
			out[s.PrimaryNode] = append(out[s.PrimaryNode], s)
		}
	}
	return out
}

func splitByLoad(load map[string]int64, mean float64) (overloaded, underloaded []string) {
	for node, v := range load {
		if float64(v) > mean {
			overloaded = append(overloaded, node)
		} else if float64(v) < mean {
			underloaded = append(underloaded, node)
		}
	}
	sort.Slice(overloaded, func(i, j int) bool { return load[overloaded[i]] > load[overloaded[j]] })
	sort.Slice(underloaded, func(i, j int) bool { return load[underloaded[i]] < load[underloaded[j]] })
	return
}

func buildMovePlan(byNode map[string][]*Shard, overloaded, underloaded []string, batchSize int) []MovePlan {
	var plan []MovePlan
	u := 0
	for _, from := range overloaded {
		if u >= len(underloaded) {
			break
		}
		shards := byNode[from]
		moved := 0
		for _, s := range shards {
			if moved >= batchSize {
				break
			}
			plan = append(plan, MovePlan{ShardID: s.ShardID, FromNode: from, ToNode: underloaded[u], Reason: "rebalance"})
			moved++
		}
		u++
	}
	return plan
}

// Tracker exposes the migration tracker for status queries.
func (m *Manager) Tracker() *MigrationTracker { return m.tracker }
