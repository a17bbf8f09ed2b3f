package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/auth"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/compression"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/conflict"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/crdt"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/gossip"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/sharding"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/types"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/vclock"
)

// Permission names an operation an agent role may or may not be allowed to
// perform on a namespace (spec §4.7 "Namespace policy / RBAC").
type Permission string

const (
	PermRead   Permission = "read"
	PermWrite  Permission = "write"
	PermDelete Permission = "delete"
	PermMerge  Permission = "merge"
)

// NamespacePolicy governs access and retention for one namespace.
type NamespacePolicy struct {
	AllowedRoles       map[Permission][]string
	Priority           int  // 0..10; emergency cleanup clears priority<=1 namespaces first
	SubscriberCount    int  // namespaces with zero subscribers are cleanup-eligible
	ConflictStrategy   conflict.Strategy
	FieldPolicy        *conflict.FieldPolicy
}

func (p *NamespacePolicy) allows(role string, perm Permission) bool {
	if p == nil {
		return true // no policy registered: default-allow
	}
	roles, ok := p.AllowedRoles[perm]
	if !ok {
		return true // permission has no configured restriction
	}
	for _, r := range roles {
		if r == role || r == "*" {
			return true
		}
	}
	return false
}

// LatencyStats tracks min/max/avg over observed sync latencies.
type LatencyStats struct {
	Min time.Duration
	Max time.Duration
	Avg time.Duration

	count int
	total time.Duration
}

func (l *LatencyStats) observe(d time.Duration) {
	if l.count == 0 || d < l.Min {
		l.Min = d
	}
	if d > l.Max {
		l.Max = d
	}
	l.count++
	l.total += d
	l.Avg = l.total / time.Duration(l.count)
}

// Throughput counts operations since the manager started or was last reset.
type Throughput struct {
	Reads int64
	Writes int64
	Syncs  int64
}

// Metrics is the manager's observability snapshot (spec §4.7 "Metrics").
type Metrics struct {
	TotalMemoryUsage      int64
	ReplicatedMemoryUsage int64
	CompressionSavings    float64
	SyncLatency           LatencyStats
	TopologyEfficiency    float64
	PartitionBalance      float64
	ConflictRate          float64
	Throughput            Throughput
}

// Config bundles the dependencies and tunables a Manager needs (spec §6).
type Config struct {
	AgentID           string
	Topology          TopologyInputs
	ShardConfig       sharding.Config
	GossipConfig      gossip.Config
	ConflictRateConst float64
	EmergencyPressure float64 // memoryPressure above which cleanup auto-triggers
}

// Manager is the top-level distributed memory coordinator (spec §4.7, C7).
// It composes the local store, the agent's vector clock, the CRDT
// operation log, compression, conflict resolution, sharding, and gossip
// into one coherent API, grounded on pkg/models/sync_engine.go's SyncEngine
// composition (config + mutex-guarded state + metrics + context lifecycle).
type Manager struct {
	cfg       Config
	agentID   vclock.AgentID
	log       *slog.Logger

	store      *Store
	topology   *Topology
	clock      *vclock.Clock
	oplog      *crdt.OpLog
	compressor *compression.Compressor
	resolver   *conflict.Resolver
	shards     *sharding.Manager
	proto      *gossip.Protocol

	polMu    sync.RWMutex
	policies map[string]*NamespacePolicy

	metMu   sync.Mutex
	metrics Metrics

	metSinkMu sync.RWMutex
	metSink   gossip.MetricSink

	opSinkMu sync.RWMutex
	opSink   OperationSink

	agentsMu sync.RWMutex
	agents   *auth.Registry

	cancel context.CancelFunc
}

// SetMetricSink installs a callback for metric events this manager emits
// outside the gossip protocol's own sent/received/dup/failed counters:
// conflict resolutions, shard migrations, and memory-pressure readings.
// nil (the default) is a valid no-op sink.
func (m *Manager) SetMetricSink(sink gossip.MetricSink) {
	m.metSinkMu.Lock()
	defer m.metSinkMu.Unlock()
	m.metSink = sink
}

func (m *Manager) emitMetric(name string, value float64, tags map[string]string) {
	m.metSinkMu.RLock()
	sink := m.metSink
	m.metSinkMu.RUnlock()
	if sink != nil {
		sink(gossip.MetricEvent{Name: name, Value: value, Tags: tags})
	}
}

// OperationSink receives every operation this node applies, whether
// locally originated (Put/Delete) or absorbed from a remote peer (gossip
// delivery, conflict resolution), so a durable store (pkg/persistence) can
// mirror the operation log for crash recovery and audit.
type OperationSink func(ctx context.Context, agentID, key string, opType crdt.OpType, value types.MetaValue, clock map[vclock.AgentID]uint64)

// SetOperationSink installs sink as the operation-log mirror. nil (the
// default) disables persistence entirely.
func (m *Manager) SetOperationSink(sink OperationSink) {
	m.opSinkMu.Lock()
	defer m.opSinkMu.Unlock()
	m.opSink = sink
}

func (m *Manager) emitOperation(ctx context.Context, agentID, key string, opType crdt.OpType, value types.MetaValue, clock map[vclock.AgentID]uint64) {
	m.opSinkMu.RLock()
	sink := m.opSink
	m.opSinkMu.RUnlock()
	if sink != nil {
		sink(ctx, agentID, key, opType, value, clock)
	}
}

// SetAgentRegistry installs the agent registry context propagation consults
// for capability/trust data (spec §4.7 "Context propagation"). nil (the
// default) falls back to capability-less, default-trust profiles built from
// the gossip table alone.
func (m *Manager) SetAgentRegistry(reg *auth.Registry) {
	m.agentsMu.Lock()
	defer m.agentsMu.Unlock()
	m.agents = reg
}

// NewManager wires every subsystem together. sender and compressor's dedup
// cache are supplied by the caller (pkg/transport and a redis client
// respectively) so this package stays free of I/O concerns.
func NewManager(cfg Config, sender gossip.Sender, cache *compression.DedupCache, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	clock := vclock.New(vclock.AgentID(cfg.AgentID))
	topoType := SelectTopology(cfg.Topology)

	m := &Manager{
		cfg:        cfg,
		agentID:    vclock.AgentID(cfg.AgentID),
		log:        log,
		store:      NewStore(),
		topology:   NewTopology(topoType, cfg.ShardConfig.ReplicationFactor, cfg.Topology.Consistency),
		clock:      clock,
		oplog:      crdt.NewOpLog(),
		compressor: compression.NewCompressor(cache),
		resolver:   conflict.NewResolver(),
		shards:     sharding.NewManager(cfg.ShardConfig),
		policies:   make(map[string]*NamespacePolicy),
	}
	if cfg.ConflictRateConst > 0 {
		m.resolver.RateConstant = cfg.ConflictRateConst
	}

	m.proto = gossip.New(cfg.AgentID, cfg.GossipConfig, sender, m.encodeOp)
	m.proto.OnDeliver(m.onGossipDeliver)
	m.proto.OnSyncRequest(m.onSyncRequest)
	return m
}

// SetPolicy registers (or replaces) the access policy for namespace ns.
func (m *Manager) SetPolicy(ns string, p *NamespacePolicy) {
	m.polMu.Lock()
	defer m.polMu.Unlock()
	m.policies[ns] = p
}

func (m *Manager) policyFor(ns string) *NamespacePolicy {
	m.polMu.RLock()
	defer m.polMu.RUnlock()
	return m.policies[ns]
}

// Run starts the gossip worker pool. Call Stop to shut it down.
func (m *Manager) Run(ctx context.Context, workers int) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.proto.RunWorkers(ctx, workers)
}

// Stop shuts down the gossip layer.
func (m *Manager) Stop(ctx context.Context) {
	m.proto.Stop(ctx)
	if m.cancel != nil {
		m.cancel()
	}
}

// authorize enforces namespace RBAC; a denial must never reach gossip
// (spec §7 "operations a role lacks permission for must fail closed
// without emitting any network traffic").
func (m *Manager) authorize(role, key string, perm Permission) error {
	ns := Namespace(key)
	if !m.policyFor(ns).allows(role, perm) {
		return a2aerr.New(a2aerr.Forbidden, "role "+role+" lacks "+string(perm)+" on namespace "+ns)
	}
	return nil
}

// Put writes value under key, bumps the local clock, appends to the
// operation log, and propagates the update via gossip (spec §4.7 "write
// path").
func (m *Manager) Put(ctx context.Context, role, key string, value types.MetaValue, meta EntryMetadata) (*Entry, error) {
	if err := m.authorize(role, key, PermWrite); err != nil {
		return nil, err
	}
	meta.SourceAgent = string(m.agentID)
	entry := m.store.Put(key, value, m.clock, meta)

	op := crdt.Operation{
		Type:  crdt.OpSet,
		Key:   key,
		Value: value,
		Clock: entry.Clock,
		Agent: m.agentID,
	}
	m.oplog.Append(op)
	m.emitOperation(ctx, string(m.agentID), key, op.Type, value, entry.Clock.Snapshot())
	m.proto.UpdateSyncVector(string(m.agentID), entry.Clock.Get(m.agentID))

	m.metMu.Lock()
	m.metrics.Throughput.Writes++
	m.metMu.Unlock()

	return entry, m.broadcast(op, entry.Metadata.Namespace)
}

// Get reads key, enforcing read RBAC.
func (m *Manager) Get(role, key string) (*Entry, error) {
	if err := m.authorize(role, key, PermRead); err != nil {
		return nil, err
	}
	m.metMu.Lock()
	m.metrics.Throughput.Reads++
	m.metMu.Unlock()
	return m.store.Get(key)
}

// Delete removes key, recording a tombstone operation and propagating it.
func (m *Manager) Delete(ctx context.Context, role, key string) error {
	if err := m.authorize(role, key, PermDelete); err != nil {
		return err
	}
	m.clock.Increment()
	m.store.Delete(key)

	op := crdt.Operation{
		Type:  crdt.OpDelete,
		Key:   key,
		Clock: m.clock,
		Agent: m.agentID,
	}
	m.oplog.Append(op)
	m.emitOperation(ctx, string(m.agentID), key, op.Type, types.NullValue(), m.clock.Snapshot())
	m.proto.UpdateSyncVector(string(m.agentID), m.clock.Get(m.agentID))
	return m.broadcast(op, Namespace(key))
}

// Merge applies an externally supplied update as though it had arrived via
// gossip: the third leg of the put/delete/merge operation triad (spec §4.7),
// for federating with a source that submits deltas directly (e.g. a REST
// caller reconciling an out-of-band import) rather than joining the swarm.
// It runs through the same conflict-resolution path as a gossip delivery.
func (m *Manager) Merge(ctx context.Context, role, key string, value types.MetaValue, clock map[string]uint64, agent string) error {
	if err := m.authorize(role, key, PermMerge); err != nil {
		return err
	}
	agentClock := make(map[vclock.AgentID]uint64, len(clock))
	for a, c := range clock {
		agentClock[vclock.AgentID(a)] = c
	}
	payload, err := json.Marshal(wireOp{
		Type:  crdt.OpMerge,
		Key:   key,
		Value: value,
		Clock: agentClock,
		Agent: agent,
	})
	if err != nil {
		return a2aerr.Wrap(a2aerr.Internal, "marshal merge operation", err)
	}
	m.Receive(ctx, agent, gossip.Message{Type: gossip.MessageUpdate, Payload: payload})
	return nil
}

func (m *Manager) broadcast(op crdt.Operation, namespace string) error {
	payload, err := json.Marshal(wireOp{
		Type:  op.Type,
		Key:   op.Key,
		Value: opValue(op),
		Clock: op.Clock.Snapshot(),
		Agent: string(op.Agent),
	})
	if err != nil {
		return a2aerr.Wrap(a2aerr.Internal, "marshal operation", err)
	}
	msg := gossip.Message{
		Type:    gossip.MessageUpdate,
		Payload: payload,
	}
	return m.proto.PropagateUpdate(msg, namespace, nil)
}

// wireOp is the JSON envelope for a crdt.Operation travelling over gossip.
// encoding/json is used here rather than a binary codec because no
// schema/wire-serialization library is wired into this module's dependency
// set (protobuf appears only as an indirect transitive dependency of
// libp2p, with no .proto sources in the pack to generate from); see
// DESIGN.md.
type wireOp struct {
	Type  crdt.OpType               `json:"type"`
	Key   string                    `json:"key"`
	Value types.MetaValue           `json:"value"`
	Clock map[vclock.AgentID]uint64 `json:"clock"`
	Agent string                    `json:"agent"`
}

// opValue extracts op.Value as a types.MetaValue, defaulting to null for
// operations (e.g. deletes) that carry none.
func opValue(op crdt.Operation) types.MetaValue {
	if v, ok := op.Value.(types.MetaValue); ok {
		return v
	}
	return types.NullValue()
}

// encodeOp serializes an entire gossip.Message (already carrying a wireOp
// payload from broadcast, or a control message with no payload) to bytes
// for the transport layer.
func (m *Manager) encodeOp(msg gossip.Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage is the inverse of encodeOp, used by the transport adapter
// before calling Receive.
func DecodeMessage(b []byte) (gossip.Message, error) {
	var msg gossip.Message
	err := json.Unmarshal(b, &msg)
	return msg, err
}

// Receive hands an inbound frame from the transport layer to the gossip
// protocol.
func (m *Manager) Receive(ctx context.Context, from string, msg gossip.Message) {
	m.proto.Receive(ctx, from, msg)
}

// onGossipDeliver is the callback gossip invokes for every message that
// reaches this node for local application: single-operation update rumors,
// and Delta Packages returned by an anti-entropy sync reply or pushed
// directly by context propagation (spec §7 "manager subscribes via
// callback").
func (m *Manager) onGossipDeliver(msg gossip.Message) {
	switch msg.Type {
	case gossip.MessageUpdate:
		m.applyUpdateRumor(msg.Payload)
	case gossip.MessageSyncReply:
		m.applySyncReply(msg.Payload)
	}
}

func (m *Manager) applyUpdateRumor(payload []byte) {
	if len(payload) == 0 {
		return
	}
	var w wireOp
	if err := json.Unmarshal(payload, &w); err != nil {
		m.log.Warn("discarding malformed gossip update", "error", err)
		return
	}
	start := time.Now()
	m.applyRemoteOp(w)
	m.observeSyncLatency(start)
}

// applySyncReply decodes a Delta Package (spec §4.7 "Apply delta") returned
// by a peer's sync_request handler, verifies it, applies every operation
// through the shared conflict-resolution path, and records the round so
// Stats.TotalSyncs (and SnapshotMetrics' ConflictRate) advance.
func (m *Manager) applySyncReply(payload []byte) {
	if len(payload) == 0 {
		return
	}
	d, err := decodeDelta(payload)
	if err != nil {
		m.log.Warn("discarding malformed sync reply", "error", err)
		return
	}
	if err := VerifyDelta(d, m.compressor, m.encodeCrdtOp); err != nil {
		m.log.Warn("discarding sync reply that failed verification", "error", err)
		return
	}

	start := time.Now()
	outcomes, err := ApplyDelta(m.store, d, m.decideDeltaConflict)
	if err != nil {
		m.log.Warn("applying sync reply delta failed", "error", err)
		return
	}
	m.observeSyncLatency(start)

	for i, op := range d.Operations {
		if outcomes[i] != OutcomeApplied {
			continue
		}
		value, ok := op.Value.(types.MetaValue)
		if !ok {
			value = types.NullValue()
		}
		m.emitOperation(context.Background(), string(op.Agent), op.Key, op.Type, value, op.Clock.Snapshot())
		m.proto.UpdateSyncVector(string(op.Agent), op.Clock.Get(op.Agent))
	}
	m.resolver.RecordSync(len(d.Operations))
}

// applyRemoteOp applies a single remote operation arriving as an update
// rumor (as opposed to a batched Delta Package), following the same
// causal-order / conflict rules as applySyncReply's per-operation path.
func (m *Manager) applyRemoteOp(w wireOp) {
	remoteClock := vclock.New(vclock.AgentID(w.Agent))
	for agent, counter := range w.Clock {
		remoteClock.Update(agent, counter)
	}
	remoteValue := w.Value

	local, err := m.store.Get(w.Key)
	if err != nil {
		m.store.ApplyRemote(w.Key, remoteValue, remoteClock, EntryMetadata{SourceAgent: w.Agent, Namespace: Namespace(w.Key)})
		m.emitOperation(context.Background(), w.Agent, w.Key, w.Type, remoteValue, remoteClock.Snapshot())
		m.proto.UpdateSyncVector(w.Agent, remoteClock.Get(vclock.AgentID(w.Agent)))
		return
	}

	switch remoteClock.Compare(local.Clock) {
	case vclock.After:
		m.store.ApplyRemote(w.Key, remoteValue, remoteClock, local.Metadata)
		m.emitOperation(context.Background(), w.Agent, w.Key, w.Type, remoteValue, remoteClock.Snapshot())
		m.proto.UpdateSyncVector(w.Agent, remoteClock.Get(vclock.AgentID(w.Agent)))
	case vclock.Before, vclock.Equal:
		// already known locally; nothing to do
	case vclock.Concurrent:
		m.resolveConflict(w.Key, local, remoteValue, remoteClock, w.Agent)
		m.proto.UpdateSyncVector(w.Agent, remoteClock.Get(vclock.AgentID(w.Agent)))
	}
}

func snapshotStrings(c *vclock.Clock) map[string]uint64 {
	snap := c.Snapshot()
	out := make(map[string]uint64, len(snap))
	for k, v := range snap {
		out[string(k)] = v
	}
	return out
}

func (m *Manager) resolveConflict(key string, local *Entry, remoteValue types.MetaValue, remoteClock *vclock.Clock, remoteAgent string) {
	pol := m.policyFor(Namespace(key))
	preferred := conflict.StrategyLWW
	var fieldPolicy *conflict.FieldPolicy
	if pol != nil {
		if pol.ConflictStrategy != "" {
			preferred = pol.ConflictStrategy
		}
		fieldPolicy = pol.FieldPolicy
	}

	c := &conflict.Conflict{
		Key:          key,
		LocalValue:   local.Value,
		RemoteValue:  remoteValue,
		LocalAgent:   local.Metadata.SourceAgent,
		RemoteAgent:  remoteAgent,
		LocalClock:   snapshotStrings(local.Clock),
		RemoteClock:  snapshotStrings(remoteClock),
		LocalAt:      local.Metadata.CreatedAt,
		RemoteAt:     time.Now(),
		SchemaPolicy: fieldPolicy,
	}

	res, err := m.resolver.Resolve(context.Background(), c, preferred)
	if err != nil {
		m.log.Warn("conflict resolution failed, keeping local value", "key", key, "error", err)
		return
	}
	if res.RequiresManualReview {
		m.emitMetric("a2a.conflict.manual", 1, nil)
		return
	}
	resolved, ok := res.ResolvedValue.(types.MetaValue)
	if !ok {
		resolved = local.Value
	}
	local.Clock.Merge(remoteClock)
	m.store.ApplyRemote(key, resolved, local.Clock, local.Metadata)
	m.emitMetric("a2a.conflict.resolved", 1, map[string]string{"strategy": string(res.Strategy)})
	m.emitOperation(context.Background(), remoteAgent, key, crdt.OpConflictResolve, resolved, local.Clock.Snapshot())
}

// decideDeltaConflict is the ConflictDecider ApplyDelta consults for
// operations arriving with a concurrent clock inside a Delta Package; it
// routes through the same conflict.Resolver every gossip-delivered update
// uses, so a Delta-applied conflict is resolved identically to one applied
// one operation at a time.
func (m *Manager) decideDeltaConflict(local, remote *Entry) (winner any, clock map[string]uint64, needsReview bool, err error) {
	pol := m.policyFor(Namespace(local.Key))
	preferred := conflict.StrategyLWW
	var fieldPolicy *conflict.FieldPolicy
	if pol != nil {
		if pol.ConflictStrategy != "" {
			preferred = pol.ConflictStrategy
		}
		fieldPolicy = pol.FieldPolicy
	}

	c := &conflict.Conflict{
		Key:          local.Key,
		LocalValue:   local.Value,
		RemoteValue:  remote.Value,
		LocalAgent:   local.Metadata.SourceAgent,
		RemoteAgent:  remote.Metadata.SourceAgent,
		LocalClock:   snapshotStrings(local.Clock),
		RemoteClock:  snapshotStrings(remote.Clock),
		LocalAt:      local.Metadata.CreatedAt,
		RemoteAt:     time.Now(),
		SchemaPolicy: fieldPolicy,
	}

	res, resolveErr := m.resolver.Resolve(context.Background(), c, preferred)
	if resolveErr != nil {
		return nil, nil, false, resolveErr
	}
	if res.RequiresManualReview {
		m.emitMetric("a2a.conflict.manual", 1, nil)
		return nil, nil, true, nil
	}
	m.emitMetric("a2a.conflict.resolved", 1, map[string]string{"strategy": string(res.Strategy)})
	return res.ResolvedValue, snapshotStrings(remote.Clock), false, nil
}

// encodeCrdtOp is the operationCodec passed to CreateDeltaSync/VerifyDelta:
// the same wireOp JSON envelope single-operation gossip updates use, so a
// Delta's Merkle root hashes the same bytes a peer would see for any one of
// its operations sent individually.
func (m *Manager) encodeCrdtOp(op crdt.Operation) ([]byte, error) {
	return json.Marshal(wireOp{
		Type:  op.Type,
		Key:   op.Key,
		Value: opValue(op),
		Clock: op.Clock.Snapshot(),
		Agent: string(op.Agent),
	})
}

// wireDelta is the JSON envelope for a Delta travelling over gossip.
// crdt.Operation.Clock is a *vclock.Clock with unexported fields, so
// Operations travel as wireOps (the same envelope single-operation update
// rumors use) and are rehydrated into real Clocks on decode.
type wireDelta struct {
	DeltaID        string                `json:"delta_id"`
	SourceAgent    string                `json:"source_agent"`
	TargetAgents   []string              `json:"target_agents"`
	Version        uint64                `json:"version"`
	Operations     []wireOp              `json:"operations"`
	MerkleRoot     string                `json:"merkle_root"`
	CompressedBlob []byte                `json:"compressed_blob"`
	Algorithm      compression.Algorithm `json:"algorithm"`
	Checksum       string                `json:"checksum"`
	Timestamp      time.Time             `json:"timestamp"`
	Dependencies   []string              `json:"dependencies,omitempty"`
}

func encodeDelta(d *Delta) ([]byte, error) {
	wd := wireDelta{
		DeltaID:        d.DeltaID,
		SourceAgent:    d.SourceAgent,
		TargetAgents:   d.TargetAgents,
		Version:        d.Version,
		Operations:     make([]wireOp, len(d.Operations)),
		MerkleRoot:     d.MerkleRoot,
		CompressedBlob: d.CompressedBlob,
		Algorithm:      d.Algorithm,
		Checksum:       d.Checksum,
		Timestamp:      d.Timestamp,
		Dependencies:   d.Dependencies,
	}
	for i, op := range d.Operations {
		wd.Operations[i] = wireOp{
			Type:  op.Type,
			Key:   op.Key,
			Value: opValue(op),
			Clock: op.Clock.Snapshot(),
			Agent: string(op.Agent),
		}
	}
	return json.Marshal(wd)
}

func decodeDelta(b []byte) (*Delta, error) {
	var wd wireDelta
	if err := json.Unmarshal(b, &wd); err != nil {
		return nil, err
	}
	d := &Delta{
		DeltaID:        wd.DeltaID,
		SourceAgent:    wd.SourceAgent,
		TargetAgents:   wd.TargetAgents,
		Version:        wd.Version,
		Operations:     make([]crdt.Operation, len(wd.Operations)),
		MerkleRoot:     wd.MerkleRoot,
		CompressedBlob: wd.CompressedBlob,
		Algorithm:      wd.Algorithm,
		Checksum:       wd.Checksum,
		Timestamp:      wd.Timestamp,
		Dependencies:   wd.Dependencies,
	}
	for i, w := range wd.Operations {
		clock := vclock.New(vclock.AgentID(w.Agent))
		for agent, counter := range w.Clock {
			clock.Update(agent, counter)
		}
		d.Operations[i] = crdt.Operation{
			Type:  w.Type,
			Key:   w.Key,
			Value: w.Value,
			Clock: clock,
			Agent: vclock.AgentID(w.Agent),
		}
	}
	return d, nil
}

func (m *Manager) observeSyncLatency(start time.Time) {
	m.metMu.Lock()
	defer m.metMu.Unlock()
	m.metrics.SyncLatency.observe(time.Since(start))
	m.metrics.Throughput.Syncs++
}

// onSyncRequest answers an anti-entropy sync_request with a Delta Package
// (spec §4.7 "Delta sync") covering every local operation not reflected in
// the requester's sync vector: Merkle root and compression travel with the
// reply so the requester can verify it before applying, instead of trusting
// a bare operation list.
func (m *Manager) onSyncRequest(ctx context.Context, from string, syncVector map[string]uint64) ([]byte, error) {
	requester := vclock.New(vclock.AgentID(from))
	for agent, counter := range syncVector {
		requester.Update(vclock.AgentID(agent), counter)
	}
	ops := m.oplog.GetOperationsSince(requester)

	delta, err := CreateDeltaSync(string(m.agentID), from, ops, m.clock.Version(), m.compressor, m.encodeCrdtOp)
	if err != nil {
		return nil, err
	}
	payload, err := encodeDelta(delta)
	if err != nil {
		return nil, err
	}
	reply := gossip.Message{
		ID:        uuid.NewString(),
		Type:      gossip.MessageSyncReply,
		Origin:    string(m.agentID),
		TTL:       1,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	return json.Marshal(reply)
}

// SnapshotMetrics returns a point-in-time copy of the manager's metrics,
// filling in the live topology/partition figures.
func (m *Manager) SnapshotMetrics() Metrics {
	m.metMu.Lock()
	snap := m.metrics
	m.metMu.Unlock()

	snap.TopologyEfficiency = m.topology.Efficiency()
	snap.ConflictRate = m.resolver.Stats().ConflictRate(m.cfg.ConflictRateConst)

	var used int64
	for _, e := range m.store.Snapshot() {
		used += int64(len(e.Value.GoString()))
	}
	snap.TotalMemoryUsage = used
	return snap
}

// EmergencyCleanup implements spec §4.7 "Emergency cleanup": clear
// namespaces at priority<=1 with no subscribers, then run compressRemaining
// over what remains to record CompressionSavings (stored values are not
// replaced) and reset the Throughput counters. Running it twice in a row
// with no new data clears nothing the second time.
func (m *Manager) EmergencyCleanup() (clearedNamespaces []string, clearedKeys int) {
	m.polMu.RLock()
	candidates := make([]string, 0)
	for ns, pol := range m.policies {
		if pol != nil && pol.Priority <= 1 && pol.SubscriberCount == 0 {
			candidates = append(candidates, ns)
		}
	}
	m.polMu.RUnlock()

	for _, ns := range candidates {
		n := m.store.DeleteNamespace(ns)
		if n > 0 {
			clearedNamespaces = append(clearedNamespaces, ns)
			clearedKeys += n
		}
	}

	savings := m.compressRemaining()

	m.metMu.Lock()
	m.metrics.Throughput = Throughput{}
	m.metrics.CompressionSavings = savings
	m.metMu.Unlock()

	return clearedNamespaces, clearedKeys
}

// compressRemaining runs every remaining entry through the compressor and
// returns the fraction of bytes saved, the "compress all remaining memory"
// step of emergency cleanup (spec §4.7). It does not mutate the store: a
// MetaValue is already the canonical in-memory representation, so this
// measures achievable savings for the CompressionSavings metric rather
// than replacing live values with compressed blobs.
func (m *Manager) compressRemaining() float64 {
	entries := m.store.Snapshot()
	var rawTotal, compressedTotal int
	for _, e := range entries {
		raw := []byte(e.Value.GoString())
		if len(raw) == 0 {
			continue
		}
		blob, err := m.compressor.Compress(raw)
		if err != nil {
			continue
		}
		rawTotal += len(raw)
		compressedTotal += len(blob.Data)
	}
	if rawTotal == 0 {
		return 0
	}
	return 1 - float64(compressedTotal)/float64(rawTotal)
}

// MaybeEmergencyCleanup triggers EmergencyCleanup when memoryPressure
// exceeds cfg.EmergencyPressure (spec §4.7 "auto-trigger").
func (m *Manager) MaybeEmergencyCleanup(memoryPressure float64) ([]string, int) {
	m.emitMetric("a2a.memory.pressure", memoryPressure, nil)
	if m.cfg.EmergencyPressure <= 0 || memoryPressure <= m.cfg.EmergencyPressure {
		return nil, 0
	}
	return m.EmergencyCleanup()
}

// Shards exposes the sharding manager for placement/migration calls.
func (m *Manager) Shards() *sharding.Manager { return m.shards }

// InstrumentedMover wraps a sharding.DataMover so every progress callback
// also reports the bytes moved to the installed metric sink, for callers
// driving SplitShard/MergeShards.
func (m *Manager) InstrumentedMover(move sharding.DataMover) sharding.DataMover {
	return func(ctx context.Context, start, end uint64, onProgress func(bytes, keys int64)) error {
		wrapped := func(bytes, keys int64) {
			m.emitMetric("a2a.shard.migrated_bytes", float64(bytes), nil)
			if onProgress != nil {
				onProgress(bytes, keys)
			}
		}
		return move(ctx, start, end, wrapped)
	}
}

// Topology exposes the live topology.
func (m *Manager) TopologyState() *Topology { return m.topology }

// Protocol exposes the gossip protocol, mainly for test seeding of peers.
func (m *Manager) Protocol() *gossip.Protocol { return m.proto }
