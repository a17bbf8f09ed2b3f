package memory

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/gossip"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/sharding"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/types"
)

// recordingSender captures every frame sent, standing in for pkg/transport
// in tests.
type recordingSender struct {
	mu   sync.Mutex
	sent map[string][][]byte
}

func (s *recordingSender) Send(ctx context.Context, target string, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[string][][]byte)
	}
	s.sent[target] = append(s.sent[target], frame)
	return nil
}

func (s *recordingSender) count(target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent[target])
}

func testConfig(agent string) Config {
	return Config{
		AgentID:           agent,
		Topology:          TopologyInputs{AgentCount: 2, Consistency: ConsistencyEventual},
		ShardConfig:       sharding.DefaultConfig(),
		GossipConfig:      gossip.DefaultConfig(),
		ConflictRateConst: 10,
		EmergencyPressure: 0.95,
	}
}

func TestManagerPutGetRoundTrip(t *testing.T) {
	m := NewManager(testConfig("a1"), &recordingSender{}, nil, slog.Default())
	_, err := m.Put(context.Background(), "writer", "default:k1", types.StringValue("v1"), EntryMetadata{})
	require.NoError(t, err)

	entry, err := m.Get("reader", "default:k1")
	require.NoError(t, err)
	v, _ := entry.Value.String()
	assert.Equal(t, "v1", v)
}

// TestRBACDeniesAndSuppressesGossip is spec §7's "operations a role lacks
// permission for must fail closed without emitting any network traffic".
func TestRBACDeniesAndSuppressesGossip(t *testing.T) {
	sender := &recordingSender{}
	m := NewManager(testConfig("a1"), sender, nil, slog.Default())
	m.Protocol().Table().Upsert("a2", "addr")
	m.SetPolicy("secret", &NamespacePolicy{AllowedRoles: map[Permission][]string{
		PermWrite: {"admin"},
	}})

	_, err := m.Put(context.Background(), "guest", "secret:k1", types.StringValue("v1"), EntryMetadata{})
	require.Error(t, err)
	assert.True(t, a2aerr.Is(err, a2aerr.Forbidden))

	_, getErr := m.store.Get("secret:k1")
	assert.Error(t, getErr) // never written locally either

	ctx, cancel := context.WithCancel(context.Background())
	m.Run(ctx, 1)
	defer cancel()
	assert.Equal(t, 0, sender.count("a2"))
}

func TestManagerAppliesRemoteUpdateOnDeliver(t *testing.T) {
	m := NewManager(testConfig("a1"), &recordingSender{}, nil, slog.Default())

	remoteValue := types.StringValue("from-a2")
	raw, err := remoteValue.MarshalJSON()
	require.NoError(t, err)

	payload := []byte(`{"type":0,"key":"default:remote","value":` + string(raw) + `,"clock":{"a2":1},"agent":"a2"}`)
	m.onGossipDeliver(gossip.Message{Type: gossip.MessageUpdate, Payload: payload})

	entry, err := m.store.Get("default:remote")
	require.NoError(t, err)
	v, _ := entry.Value.String()
	assert.Equal(t, "from-a2", v)
}

func TestEmergencyCleanupClearsLowPriorityUnsubscribedNamespaces(t *testing.T) {
	m := NewManager(testConfig("a1"), &recordingSender{}, nil, slog.Default())
	m.SetPolicy("scratch", &NamespacePolicy{Priority: 0, SubscriberCount: 0})
	m.SetPolicy("important", &NamespacePolicy{Priority: 5, SubscriberCount: 2})

	_, err := m.Put(context.Background(), "writer", "scratch:tmp1", types.StringValue("x"), EntryMetadata{})
	require.NoError(t, err)
	_, err = m.Put(context.Background(), "writer", "important:k1", types.StringValue("y"), EntryMetadata{})
	require.NoError(t, err)

	cleared, n := m.EmergencyCleanup()
	assert.Equal(t, []string{"scratch"}, cleared)
	assert.Equal(t, 1, n)

	_, err = m.store.Get("scratch:tmp1")
	assert.Error(t, err)
	_, err = m.store.Get("important:k1")
	assert.NoError(t, err)

	// Idempotent: running again with nothing left to clear changes nothing.
	cleared2, n2 := m.EmergencyCleanup()
	assert.Empty(t, cleared2)
	assert.Equal(t, 0, n2)
}

func TestMaybeEmergencyCleanupOnlyTriggersAboveThreshold(t *testing.T) {
	m := NewManager(testConfig("a1"), &recordingSender{}, nil, slog.Default())
	m.SetPolicy("scratch", &NamespacePolicy{Priority: 0, SubscriberCount: 0})
	_, err := m.Put(context.Background(), "writer", "scratch:tmp1", types.StringValue("x"), EntryMetadata{})
	require.NoError(t, err)

	cleared, _ := m.MaybeEmergencyCleanup(0.5)
	assert.Nil(t, cleared)
	_, err = m.store.Get("scratch:tmp1")
	assert.NoError(t, err)

	cleared, _ = m.MaybeEmergencyCleanup(0.99)
	assert.Equal(t, []string{"scratch"}, cleared)
}

func TestMetricSinkReceivesPressureAndMigrationEvents(t *testing.T) {
	m := NewManager(testConfig("a1"), &recordingSender{}, nil, slog.Default())

	var mu sync.Mutex
	var names []string
	m.SetMetricSink(func(e gossip.MetricEvent) {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, e.Name)
	})

	m.MaybeEmergencyCleanup(0.1)

	mover := m.InstrumentedMover(func(ctx context.Context, start, end uint64, onProgress func(int64, int64)) error {
		onProgress(128, 4)
		return nil
	})
	require.NoError(t, mover(context.Background(), 0, 10, nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, names, "a2a.memory.pressure")
	assert.Contains(t, names, "a2a.shard.migrated_bytes")
}
