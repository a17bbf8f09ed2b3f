package crdt

import (
	"sort"
	"sync"
	"time"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/vclock"
)

// OpType tags the kind of mutation recorded in the operation log (spec §3).
type OpType int

const (
	OpSet OpType = iota
	OpDelete
	OpMerge
	OpConflictResolve
)

// Operation is the atomic unit of replication (spec §3).
type Operation struct {
	Type      OpType
	Key       string
	Value     any
	Clock     *vclock.Clock
	Agent     vclock.AgentID
	Timestamp time.Time
	Metadata  map[string]string
}

// SyncResult reports the outcome of applying a batch of remote operations.
type SyncResult struct {
	Applied   int
	Conflicts int
	Unchanged int
}

// OpLog is an append-only, single-writer-per-id operation log (spec §4.2,
// §5 "CRDT operation log: append-only single-writer per CRDT id").
type OpLog struct {
	mu         sync.Mutex
	ops        []Operation
	convergeAt time.Time // last confirmed convergence point, for GC
}

// NewOpLog creates an empty operation log.
func NewOpLog() *OpLog {
	return &OpLog{}
}

// Append records op, stamping it with the current wall time if unset.
func (l *OpLog) Append(op Operation) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

// GetOperationsSince returns every logged operation whose vector clock is
// NOT dominated-or-equal (<=) to stateVector — i.e. what the caller doesn't
// already know about.
func (l *OpLog) GetOperationsSince(stateVector *vclock.Clock) []Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Operation, 0, len(l.ops))
	for _, op := range l.ops {
		cmp := op.Clock.Compare(stateVector)
		if cmp != vclock.Before && cmp != vclock.Equal {
			out = append(out, op)
		}
	}
	return out
}

// SynchronizeWith applies a batch of remote operations (sorted by timestamp
// for deterministic application order), returning counts of applied,
// conflicting, and unchanged operations. apply is supplied by the caller
// (typically the memory manager) because resolving a conflict may require
// invoking the conflict resolver, which OpLog has no knowledge of.
func (l *OpLog) SynchronizeWith(ops []Operation, apply func(Operation) (conflicted bool, changed bool)) SyncResult {
	sorted := make([]Operation, len(ops))
	copy(sorted, ops)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var res SyncResult
	for _, op := range sorted {
		conflicted, changed := apply(op)
		switch {
		case conflicted:
			res.Conflicts++
		case changed:
			res.Applied++
		default:
			res.Unchanged++
		}
		l.Append(op)
	}
	return res
}

// MarkConverged records that all operations up to and including at are
// considered part of a confirmed convergence point, enabling GarbageCollect
// to reclaim them.
func (l *OpLog) MarkConverged(at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if at.After(l.convergeAt) {
		l.convergeAt = at
	}
}

// GarbageCollect drops operations whose Timestamp is before olderThan and
// not after the last convergence time recorded by MarkConverged (spec §4.2).
// The convergence point is a wall time only; operation clocks are not
// compared against it.
func (l *OpLog) GarbageCollect(olderThan time.Time) (dropped int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.convergeAt.IsZero() {
		return 0
	}
	kept := l.ops[:0]
	for _, op := range l.ops {
		if op.Timestamp.Before(olderThan) && !op.Timestamp.After(l.convergeAt) {
			dropped++
			continue
		}
		kept = append(kept, op)
	}
	l.ops = kept
	return dropped
}

// Len returns the number of operations currently retained.
func (l *OpLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}
