package memory

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/compression"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/crdt"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/types"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/vclock"
)

// Delta is the wire unit of replication between two agents (spec §3
// "Delta Package").
type Delta struct {
	DeltaID        string
	SourceAgent    string
	TargetAgents   []string
	Version        uint64
	Operations     []crdt.Operation
	MerkleRoot     string
	CompressedBlob []byte
	Algorithm      compression.Algorithm
	Checksum       string
	Timestamp      time.Time
	Dependencies   []string
}

// operationCodec serializes a single operation to bytes for hashing and
// compression; kept abstract so the memory manager can swap in a richer
// encoding (e.g. one shared with gossip's EncodeFunc) without this file
// changing.
type operationCodec func(crdt.Operation) ([]byte, error)

// merkleRoot hashes the concatenation of each operation's individual hash,
// in receipt order (spec §3: "the hash of concatenated per-operation
// hashes in receipt order").
func merkleRoot(ops []crdt.Operation, encode operationCodec) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	for _, op := range ops {
		raw, err := encode(op)
		if err != nil {
			return "", err
		}
		opHash := blake2b.Sum256(raw)
		h.Write(opHash[:])
	}
	return hex(h.Sum(nil)), nil
}

func hex(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}

// CreateDeltaSync builds a Delta Package for the operations the target is
// missing (spec §4.7 "Delta sync").
func CreateDeltaSync(sourceAgent, targetAgent string, ops []crdt.Operation, version uint64, compressor *compression.Compressor, encode operationCodec) (*Delta, error) {
	root, err := merkleRoot(ops, encode)
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, "compute merkle root", err)
	}

	serialized, err := serializeOps(ops, encode)
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, "serialize operations", err)
	}

	blob, err := compressor.Compress(serialized)
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, "compress delta", err)
	}

	return &Delta{
		DeltaID:        uuid.NewString(),
		SourceAgent:    sourceAgent,
		TargetAgents:   []string{targetAgent},
		Version:        version,
		Operations:     ops,
		MerkleRoot:     root,
		CompressedBlob: blob.Data,
		Algorithm:      blob.Algorithm,
		Checksum:       blob.Checksum,
		Timestamp:      time.Now(),
	}, nil
}

func serializeOps(ops []crdt.Operation, encode operationCodec) ([]byte, error) {
	var out []byte
	for _, op := range ops {
		raw, err := encode(op)
		if err != nil {
			return nil, err
		}
		out = append(out, raw...)
	}
	return out, nil
}

// VerifyDelta checks the delta's checksum (over the compressed blob) and
// recomputes the Merkle root after decompression (spec §4.7 "Apply delta"
// step 1). On mismatch it returns InvalidDelta/CorruptBlob, never panics.
func VerifyDelta(d *Delta, compressor *compression.Compressor, encode operationCodec) error {
	blob := &compression.Blob{
		Algorithm: d.Algorithm,
		Data:      d.CompressedBlob,
		Checksum:  d.Checksum,
	}
	if _, err := compressor.Decompress(blob); err != nil {
		return a2aerr.Wrap(a2aerr.CorruptBlob, "delta blob failed checksum verification", err)
	}

	root, err := merkleRoot(d.Operations, encode)
	if err != nil {
		return a2aerr.Wrap(a2aerr.Internal, "recompute merkle root", err)
	}
	if root != d.MerkleRoot {
		return a2aerr.New(a2aerr.InvalidDelta, "merkle root mismatch")
	}
	return nil
}

// ApplyOutcome reports what happened to a single operation during
// ApplyDelta.
type ApplyOutcome int

const (
	OutcomeApplied ApplyOutcome = iota
	OutcomeIgnored
	OutcomeConflict
)

// ApplyDelta applies each operation in d to store, consulting conflict
// when clocks are concurrent (spec §4.7 "Apply delta" steps 2-5).
// Resolve is injected so this package has no dependency on pkg/conflict's
// concrete Resolver type (it only needs the decision for one pair of
// values).
type ConflictDecider func(local, remote *Entry) (winner any, clock map[string]uint64, needsReview bool, err error)

func ApplyDelta(store *Store, d *Delta, decide ConflictDecider) (outcomes []ApplyOutcome, err error) {
	outcomes = make([]ApplyOutcome, 0, len(d.Operations))
	for _, op := range d.Operations {
		remoteValue, ok := op.Value.(types.MetaValue)
		if !ok {
			remoteValue = types.NullValue()
		}

		local, getErr := store.Get(op.Key)
		if getErr != nil {
			// No local entry: remote is unconditionally newer.
			store.ApplyRemote(op.Key, remoteValue, op.Clock, EntryMetadata{
				SourceAgent: string(op.Agent),
				Namespace:   Namespace(op.Key),
			})
			outcomes = append(outcomes, OutcomeApplied)
			continue
		}

		cmp := op.Clock.Compare(local.Clock)
		switch cmp {
		case vclock.After:
			store.ApplyRemote(op.Key, remoteValue, op.Clock, local.Metadata)
			outcomes = append(outcomes, OutcomeApplied)
		case vclock.Before, vclock.Equal:
			outcomes = append(outcomes, OutcomeIgnored)
		case vclock.Concurrent:
			if decide == nil {
				outcomes = append(outcomes, OutcomeConflict)
				continue
			}
			remote := &Entry{
				Key:   op.Key,
				Value: remoteValue,
				Clock: op.Clock,
				Metadata: EntryMetadata{
					SourceAgent: string(op.Agent),
					Namespace:   Namespace(op.Key),
				},
			}
			winner, winnerClock, needsReview, decideErr := decide(local, remote)
			if decideErr != nil {
				return outcomes, a2aerr.Wrap(a2aerr.Internal, "conflict decision failed", decideErr)
			}
			if needsReview {
				outcomes = append(outcomes, OutcomeConflict)
				continue
			}
			resolvedValue, ok := winner.(types.MetaValue)
			if !ok {
				resolvedValue = local.Value
			}
			merged := local.Clock.Clone()
			merged.Merge(op.Clock)
			for agent, counter := range winnerClock {
				merged.Update(vclock.AgentID(agent), counter)
			}
			store.ApplyRemote(op.Key, resolvedValue, merged, local.Metadata)
			outcomes = append(outcomes, OutcomeApplied)
		}
	}
	return outcomes, nil
}
