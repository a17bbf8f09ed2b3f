package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/compression"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/crdt"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/types"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/vclock"
)

func testCodec(op crdt.Operation) ([]byte, error) {
	return []byte(op.Key + op.Agent), nil
}

func TestCreateDeltaRoundTripsThroughVerify(t *testing.T) {
	clock := vclock.New("a1")
	clock.Increment()
	ops := []crdt.Operation{{
		Type:  crdt.OpSet,
		Key:   "default:k1",
		Value: types.StringValue("hello"),
		Clock: clock,
		Agent: "a1",
	}}
	compressor := compression.NewCompressor(nil)

	d, err := CreateDeltaSync("a1", "a2", ops, 1, compressor, testCodec)
	require.NoError(t, err)

	assert.NoError(t, VerifyDelta(d, compressor, testCodec))
}

// TestVerifyDeltaRejectsCorruptBlob is scenario 5 from spec §8: a single
// flipped byte in the compressed blob must be caught before application,
// not silently applied.
func TestVerifyDeltaRejectsCorruptBlob(t *testing.T) {
	clock := vclock.New("a1")
	clock.Increment()
	ops := []crdt.Operation{{
		Type:  crdt.OpSet,
		Key:   "default:k1",
		Value: types.StringValue("hello world, this needs to compress to something non-trivial"),
		Clock: clock,
		Agent: "a1",
	}}
	compressor := compression.NewCompressor(nil)
	d, err := CreateDeltaSync("a1", "a2", ops, 1, compressor, testCodec)
	require.NoError(t, err)
	require.NotEmpty(t, d.CompressedBlob)

	d.CompressedBlob[0] ^= 0xFF

	err = VerifyDelta(d, compressor, testCodec)
	assert.Error(t, err)
}

func TestApplyDeltaAppliesWhenLocalMissing(t *testing.T) {
	store := NewStore()
	clock := vclock.New("a1")
	clock.Increment()
	d := &Delta{
		Operations: []crdt.Operation{{
			Type:  crdt.OpSet,
			Key:   "default:k1",
			Value: types.IntValue(42),
			Clock: clock,
			Agent: "a1",
		}},
	}

	outcomes, err := ApplyDelta(store, d, nil)
	require.NoError(t, err)
	assert.Equal(t, []ApplyOutcome{OutcomeApplied}, outcomes)

	entry, err := store.Get("default:k1")
	require.NoError(t, err)
	v, _ := entry.Value.Int()
	assert.Equal(t, int64(42), v)
}

func TestApplyDeltaIgnoresStaleOperation(t *testing.T) {
	store := NewStore()
	localClock := vclock.New("a1")
	store.Put("default:k1", types.IntValue(1), localClock, EntryMetadata{})

	staleClock := vclock.New("a1") // fresh clock, dominated by localClock
	d := &Delta{Operations: []crdt.Operation{{
		Type: crdt.OpSet, Key: "default:k1", Value: types.IntValue(0), Clock: staleClock, Agent: "a1",
	}}}

	outcomes, err := ApplyDelta(store, d, nil)
	require.NoError(t, err)
	assert.Equal(t, []ApplyOutcome{OutcomeIgnored}, outcomes)

	entry, _ := store.Get("default:k1")
	v, _ := entry.Value.Int()
	assert.Equal(t, int64(1), v)
}

func TestApplyDeltaFlagsConcurrentWriteForReview(t *testing.T) {
	store := NewStore()
	localClock := vclock.New("a1")
	store.Put("default:k1", types.IntValue(1), localClock, EntryMetadata{})

	remoteClock := vclock.New("a2")
	remoteClock.Increment()
	d := &Delta{Operations: []crdt.Operation{{
		Type: crdt.OpSet, Key: "default:k1", Value: types.IntValue(2), Clock: remoteClock, Agent: "a2",
	}}}

	outcomes, err := ApplyDelta(store, d, nil)
	require.NoError(t, err)
	assert.Equal(t, []ApplyOutcome{OutcomeConflict}, outcomes)
}

// TestApplyDeltaAppliesDeciderWinnerOnConcurrentWrite exercises the
// non-nil-decider path of the vclock.Concurrent branch: the decider
// receives both sides (not a nil remote) and its winning value, not just
// its merged clock, ends up in the store.
func TestApplyDeltaAppliesDeciderWinnerOnConcurrentWrite(t *testing.T) {
	store := NewStore()
	localClock := vclock.New("a1")
	store.Put("default:k1", types.IntValue(1), localClock, EntryMetadata{})

	remoteClock := vclock.New("a2")
	remoteClock.Increment()
	d := &Delta{Operations: []crdt.Operation{{
		Type: crdt.OpSet, Key: "default:k1", Value: types.IntValue(2), Clock: remoteClock, Agent: "a2",
	}}}

	var sawLocal, sawRemote *Entry
	decide := func(local, remote *Entry) (any, map[string]uint64, bool, error) {
		sawLocal, sawRemote = local, remote
		return remote.Value, map[string]uint64{"a2": 1}, false, nil
	}

	outcomes, err := ApplyDelta(store, d, decide)
	require.NoError(t, err)
	assert.Equal(t, []ApplyOutcome{OutcomeApplied}, outcomes)

	require.NotNil(t, sawLocal)
	require.NotNil(t, sawRemote)
	localVal, _ := sawLocal.Value.Int()
	assert.Equal(t, int64(1), localVal)
	remoteVal, _ := sawRemote.Value.Int()
	assert.Equal(t, int64(2), remoteVal)

	entry, err := store.Get("default:k1")
	require.NoError(t, err)
	v, _ := entry.Value.Int()
	assert.Equal(t, int64(2), v, "store must hold the decider's winning value, not just a merged clock")
}
