package crdt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/vclock"
)

func TestGCounterConverges(t *testing.T) {
	a := NewGCounter()
	b := NewGCounter()
	a.Increment("a1", 3)
	b.Increment("a2", 4)

	ab := a.Clone()
	ab.Merge(b)
	ba := b.Clone()
	ba.Merge(a)

	assert.Equal(t, uint64(7), ab.Value())
	assert.Equal(t, ab.Cells(), ba.Cells())
}

func TestPNCounterValue(t *testing.T) {
	c := NewPNCounter()
	c.Increment("a1", 10)
	c.Decrement("a1", 3)
	assert.Equal(t, int64(7), c.Value())
}

func TestORSetConcurrentAddRemove(t *testing.T) {
	// Scenario 2 from spec §8: a1.add(x); a2.add(x); a1.remove(x) concurrent
	// with a3.add(x). Convergence: s = {"x"} because a3's tag was never
	// observed by a1's remove.
	a1 := NewORSet()
	a2 := NewORSet()
	a3 := NewORSet()

	a1.Add("x")
	a2.Add("x")
	a3.Add("x")

	// a1 observes a2's add, then removes (tombstones everything it has seen).
	a1.Merge(a2)
	a1.Remove("x")

	// a3's add propagates independently, never observed before the remove.
	a1.Merge(a3)

	assert.True(t, a1.Contains("x"))
	assert.Equal(t, []string{"x"}, a1.Elements())
}

func TestORSetMergeCommutative(t *testing.T) {
	a := NewORSet()
	b := NewORSet()
	a.Add("x")
	b.Add("y")

	ab := a.Clone()
	ab.Merge(b)
	ba := b.Clone()
	ba.Merge(a)

	assert.ElementsMatch(t, ab.Elements(), ba.Elements())
}

func TestLWWRegisterTieBreakByAgent(t *testing.T) {
	r1 := NewLWWRegister()
	r2 := NewLWWRegister()
	ts := time.Now()
	r1.SetAt("from-a1", "a1", ts)
	r2.SetAt("from-a2", "a2", ts)

	r1.Merge(r2)
	v, agent, ok := r1.Get()
	assert.True(t, ok)
	assert.Equal(t, "a1", agent) // a1 < a2 lexicographically
	assert.Equal(t, "from-a1", v)
}

func TestLWWRegisterNewerWins(t *testing.T) {
	r1 := NewLWWRegister()
	r2 := NewLWWRegister()
	now := time.Now()
	r1.SetAt("old", "a1", now)
	r2.SetAt("new", "a2", now.Add(time.Second))

	r1.Merge(r2)
	v, _, _ := r1.Get()
	assert.Equal(t, "new", v)
}

func TestConcurrentSetLWWScenario(t *testing.T) {
	// Scenario 1 from spec §8: a1 writes ts=100, a2 writes ts=101 concurrently.
	// After convergence both replicas hold a2's value.
	replicaA := NewLWWRegister()
	replicaB := NewLWWRegister()

	base := time.Unix(0, 0)
	replicaA.SetAt(map[string]int{"age": 30}, "a1", base.Add(100))
	replicaB.SetAt(map[string]int{"age": 31}, "a2", base.Add(101))

	replicaA.Merge(replicaB)
	replicaB.Merge(replicaA)

	va, agentA, _ := replicaA.Get()
	vb, agentB, _ := replicaB.Get()
	assert.Equal(t, agentA, agentB)
	assert.Equal(t, "a2", agentA)
	assert.Equal(t, va, vb)
}

func TestMVRegisterKeepsConcurrentSiblings(t *testing.T) {
	r1 := NewMultiValueRegister()
	r2 := NewMultiValueRegister()

	r1.Set("v1", map[string]uint64{"a1": 1})
	r2.Set("v2", map[string]uint64{"a2": 1})

	r1.Merge(r2)
	vals := r1.Get()
	assert.Len(t, vals, 2)
	assert.ElementsMatch(t, []any{"v1", "v2"}, vals)
}

func TestMVRegisterDropsDominated(t *testing.T) {
	r1 := NewMultiValueRegister()
	r2 := NewMultiValueRegister()

	r1.Set("old", map[string]uint64{"a1": 1})
	r2.Set("new", map[string]uint64{"a1": 2}) // dominates old

	r1.Merge(r2)
	vals := r1.Get()
	assert.Equal(t, []any{"new"}, vals)
}

func TestCRDTMapRecursiveMerge(t *testing.T) {
	m1 := NewCRDTMap()
	m2 := NewCRDTMap()

	g1 := NewEntity("counter", KindGCounter, "a1")
	g1.GCounter().Increment("a1", 5)
	m1.Put("counter", g1)

	g2 := NewEntity("counter", KindGCounter, "a2")
	g2.GCounter().Increment("a2", 3)
	m2.Put("counter", g2)

	onlyInM2 := NewEntity("other", KindLWWRegister, "a2")
	m2.Put("other", onlyInM2)

	require := assert.New(t)
	err := m1.Merge(m2)
	require.NoError(err)

	merged, ok := m1.Get("counter")
	require.True(ok)
	require.Equal(uint64(8), merged.GCounter().Value())

	_, ok = m1.Get("other")
	require.True(ok)
}

func TestOpLogGetOperationsSince(t *testing.T) {
	log := NewOpLog()
	c1 := vclock.New("a1")
	c1.Increment()
	log.Append(Operation{Type: OpSet, Key: "k1", Clock: c1, Agent: "a1"})

	empty := vclock.New("a1")
	since := log.GetOperationsSince(empty)
	assert.Len(t, since, 1)

	since2 := log.GetOperationsSince(c1)
	assert.Len(t, since2, 0)
}

func TestOpLogGarbageCollect(t *testing.T) {
	log := NewOpLog()
	past := time.Now().Add(-time.Hour)
	log.Append(Operation{Type: OpSet, Key: "k1", Clock: vclock.New("a1"), Timestamp: past})
	log.MarkConverged(time.Now())

	dropped := log.GarbageCollect(time.Now())
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, log.Len())
}

func TestHasQuorumAlwaysTrue(t *testing.T) {
	assert.True(t, HasQuorum())
}
