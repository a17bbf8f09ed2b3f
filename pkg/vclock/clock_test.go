package vclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementMonotonic(t *testing.T) {
	c := New("a1")
	assert.Equal(t, uint64(1), c.Increment())
	assert.Equal(t, uint64(2), c.Increment())
	assert.Equal(t, uint64(2), c.Get("a1"))
}

func TestCompareOrdering(t *testing.T) {
	a := New("a1")
	b := New("a2")

	assert.Equal(t, Equal, a.Compare(b))

	a.Increment()
	assert.Equal(t, After, a.Compare(b))
	assert.Equal(t, Before, b.Compare(a))

	b.Increment()
	b.Increment()
	assert.Equal(t, Concurrent, a.Compare(b))
}

func TestMergeIsPointwiseMax(t *testing.T) {
	a := New("a1")
	b := New("a2")
	a.Increment()
	a.Increment()
	b.Increment()

	a.Merge(b)
	assert.Equal(t, uint64(2), a.Get("a1"))
	assert.Equal(t, uint64(1), a.Get("a2"))
	assert.Equal(t, Equal, a.Compare(a.Clone()))
}

func TestMergeCommutativeAssociativeIdempotent(t *testing.T) {
	a := New("a1")
	a.Increment()
	b := New("a2")
	b.Increment()
	b.Increment()
	c := New("a3")
	c.Increment()

	ab := a.Clone()
	ab.Merge(b)
	ba := b.Clone()
	ba.Merge(a)
	assert.Equal(t, ab.Snapshot(), ba.Snapshot())

	abc1 := ab.Clone()
	abc1.Merge(c)
	bc := b.Clone()
	bc.Merge(c)
	abc2 := a.Clone()
	abc2.Merge(bc)
	assert.Equal(t, abc1.Snapshot(), abc2.Snapshot())

	idem := abc1.Clone()
	idem.Merge(abc1)
	assert.Equal(t, abc1.Snapshot(), idem.Snapshot())
}

func TestDeltaAndApplyDeltasRoundTrip(t *testing.T) {
	a := New("a1")
	a.Increment()
	a.Increment()
	a.Update("a2", 5)

	b := New("a2")
	b.Update("a2", 3)

	d := a.Delta(b)
	b.ApplyDeltas(d)
	assert.Equal(t, a.Snapshot(), b.Snapshot())
}

func TestTextCodecRoundTrip(t *testing.T) {
	a := New("a1")
	a.Increment()
	a.Update("a2", 7)

	text := a.EncodeText()
	decoded, err := DecodeText("a1", text)
	require.NoError(t, err)
	assert.Equal(t, a.Snapshot(), decoded.Snapshot())
	assert.Equal(t, a.Owner(), decoded.Owner())
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	a := New("a1")
	a.Increment()
	a.Increment()
	a.Update("a2", 9)

	data := a.EncodeBinary()
	decoded, err := DecodeBinary(data)
	require.NoError(t, err)
	assert.Equal(t, a.Owner(), decoded.Owner())
	assert.Equal(t, a.Snapshot(), decoded.Snapshot())
	assert.Equal(t, a.Version(), decoded.Version())
}

func TestBinaryCodecRejectsMalformed(t *testing.T) {
	_, err := DecodeBinary([]byte("not a clock"))
	require.Error(t, err)

	a := New("a1")
	a.Increment()
	data := a.EncodeBinary()
	truncated := data[:len(data)-1]
	_, err = DecodeBinary(truncated)
	require.Error(t, err)
}

func TestPruneKeepsOwnerAndRecent(t *testing.T) {
	c := New("owner")
	c.Update("stale", 1)
	time.Sleep(2 * time.Millisecond)
	c.Update("recent", 1)

	cfg := PruneConfig{MaxAge: time.Millisecond, KeepRecentAgents: 1, MaxSize: 100}
	evicted := c.Prune(cfg)
	assert.GreaterOrEqual(t, evicted, 1)

	snap := c.Snapshot()
	_, hasOwner := snap["owner"]
	assert.True(t, hasOwner)
}
