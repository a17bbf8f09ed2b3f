package gossip

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu  sync.Mutex
	out map[string][]Message
	dec func([]byte) Message
}

func (f *fakeSender) Send(ctx context.Context, target string, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil {
		f.out = make(map[string][]Message)
	}
	f.out[target] = append(f.out[target], f.dec(frame))
	return nil
}

func noopEncode(m Message) ([]byte, error) { return []byte(m.ID), nil }

func TestFanoutSelectionAdaptivePriority(t *testing.T) {
	active := []*Node{
		{AgentID: "n1", Reliability: 0.9},
		{AgentID: "n2", Reliability: 0.8},
		{AgentID: "n3", Reliability: 0.7},
		{AgentID: "n4", Reliability: 0.6},
	}
	low := SelectFanout(active, 2, PriorityLow, true)
	high := SelectFanout(active, 2, PriorityHigh, true)
	assert.Less(t, len(low), len(high))
}

func TestFanoutSortedByScore(t *testing.T) {
	active := []*Node{
		{AgentID: "slow", Reliability: 0.9, RTT: 500 * time.Millisecond},
		{AgentID: "fast", Reliability: 0.9, RTT: 10 * time.Millisecond},
	}
	picked := SelectFanout(active, 2, PriorityMedium, false)
	require.Len(t, picked, 2)
	assert.Equal(t, "fast", picked[0].AgentID)
}

func TestHistoryDedup(t *testing.T) {
	h := NewHistory(5 * time.Minute)
	now := time.Now()
	assert.False(t, h.SeenBefore("m1", now))
	assert.True(t, h.SeenBefore("m1", now.Add(time.Second)))
}

func TestHistoryAgesOut(t *testing.T) {
	h := NewHistory(5 * time.Minute)
	now := time.Now()
	h.SeenBefore("m1", now)
	assert.False(t, h.SeenBefore("m1", now.Add(6*time.Minute)))
}

// TestGossipNoEcho is the universal property from spec §8: a message
// whose path includes agent X is never forwarded by X.
func TestGossipNoEcho(t *testing.T) {
	msg := Message{ID: "m1", Path: []string{"a1", "a2"}, TTL: 3}
	assert.True(t, msg.HasVisited("a2"))
	assert.False(t, msg.HasVisited("a3"))
}

func TestFailureDetectionMarksInactiveAndDecaysReliability(t *testing.T) {
	table := NewTable()
	n := table.Upsert("a2", "addr")
	n.LastSeen = time.Now().Add(-time.Second) // stale relative to a short interval
	n.Reliability = 1.0

	gossipInterval := 50 * time.Millisecond
	for i := 0; i < 3; i++ {
		table.DetectFailures(time.Now(), gossipInterval, 3)
	}

	got, _ := table.Get("a2")
	assert.False(t, got.Active)
	assert.InDelta(t, 0.9, got.Reliability, 1e-9)
}

func TestQuorumThresholdValidation(t *testing.T) {
	table := NewTable()
	q := NewQuorumTracker(table, 0.5)
	assert.Error(t, q.UpdateThreshold(0))
	assert.Error(t, q.UpdateThreshold(1.5))
	assert.NoError(t, q.UpdateThreshold(0.6))
}

func TestQuorumComputation(t *testing.T) {
	table := NewTable()
	q := NewQuorumTracker(table, 0.5)
	table.Upsert("a1", "")
	table.Upsert("a2", "")
	table.Upsert("a3", "")
	assert.True(t, q.HasQuorum()) // 3 active / 3 total >= ceil(3*0.5)=2

	table.Get("a2")
	n2, _ := table.Get("a2")
	n2.Active = false
	n3, _ := table.Get("a3")
	n3.Active = false
	assert.False(t, q.HasQuorum()) // 1 active < 2 required
}

func TestPendingQueueBackpressureAndPreemption(t *testing.T) {
	q := NewPendingQueue(2)
	require.NoError(t, q.Enqueue(Message{ID: "low1", Priority: PriorityLow}))
	require.NoError(t, q.Enqueue(Message{ID: "low2", Priority: PriorityLow}))

	err := q.Enqueue(Message{ID: "low3", Priority: PriorityLow})
	require.Error(t, err)

	require.NoError(t, q.Enqueue(Message{ID: "crit1", Priority: PriorityCritical}))
	assert.Equal(t, 2, q.Len())

	msg, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "crit1", msg.ID) // critical drains before low
}

func TestPropagateUpdateEnqueuesAndDisseminates(t *testing.T) {
	sender := &fakeSender{dec: func(b []byte) Message { return Message{ID: string(b)} }}
	p := New("a1", DefaultConfig(), sender, noopEncode)
	p.Table().Upsert("a2", "addr")

	require.NoError(t, p.PropagateUpdate(Message{Type: MessageUpdate}, "default", nil))

	ctx, cancel := context.WithCancel(context.Background())
	p.RunWorkers(ctx, 1)
	time.Sleep(50 * time.Millisecond)
	cancel()
	p.queue.Close()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.NotEmpty(t, sender.out["a2"])
}
