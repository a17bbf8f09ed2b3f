package sharding

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
)

// MigrationState is the migration task's lifecycle (spec §4.5 "Migration
// task state machine").
type MigrationState string

const (
	MigrationPending   MigrationState = "pending"
	MigrationRunning   MigrationState = "running"
	MigrationCompleted MigrationState = "completed"
	MigrationFailed    MigrationState = "failed"
	MigrationCancelled MigrationState = "cancelled"
)

// Migration moves a range of keys from a source shard to a target shard
// (SplitShard starts one for the right half of a split; MergeShards and
// Rebalance do not start migrations).
type Migration struct {
	ID               string
	SourceShardID    string
	TargetShardID    string
	State            MigrationState
	BytesTransferred int64
	KeysTransferred  int64
	StartedAt        time.Time
	FinishedAt       time.Time
	Error            string
}

// MigrationRunner executes the byte-level copy for a migration; supplied
// by the caller (the memory manager owns the actual key/value store).
type MigrationRunner func(ctx context.Context, m *Migration, onProgress func(bytes, keys int64)) error

// MigrationTracker runs and records migrations, enforcing
// maxConcurrentMigrations.
type MigrationTracker struct {
	mu         sync.Mutex
	migrations map[string]*Migration
	maxConcurrent int
	running    int
}

// NewMigrationTracker creates a tracker bounding concurrent migrations to
// maxConcurrent (spec §4.5 "maxConcurrentMigrations").
func NewMigrationTracker(maxConcurrent int) *MigrationTracker {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &MigrationTracker{
		migrations:    make(map[string]*Migration),
		maxConcurrent: maxConcurrent,
	}
}

// Start creates and runs a migration synchronously in the caller's
// goroutine (the memory manager's worker pool supplies concurrency).
// Failed tasks leave the source shard intact; the caller is responsible
// for not having committed target writes before this returns success
// (spec §4.5: "Failed tasks MUST leave source shard intact; partial writes
// on the target MUST be cleaned up").
func (t *MigrationTracker) Start(ctx context.Context, sourceID, targetID string, run MigrationRunner) (*Migration, error) {
	t.mu.Lock()
	if t.running >= t.maxConcurrent {
		t.mu.Unlock()
		return nil, a2aerr.New(a2aerr.Backpressure, "max concurrent migrations reached")
	}
	t.running++
	m := &Migration{
		ID:            uuid.NewString(),
		SourceShardID: sourceID,
		TargetShardID: targetID,
		State:         MigrationPending,
		StartedAt:     time.Now(),
	}
	t.migrations[m.ID] = m
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running--
		t.mu.Unlock()
	}()

	t.mu.Lock()
	m.State = MigrationRunning
	t.mu.Unlock()

	err := run(ctx, m, func(bytes, keys int64) {
		t.mu.Lock()
		m.BytesTransferred += bytes
		m.KeysTransferred += keys
		t.mu.Unlock()
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	m.FinishedAt = time.Now()
	switch {
	case ctx.Err() != nil:
		m.State = MigrationCancelled
	case err != nil:
		m.State = MigrationFailed
		m.Error = err.Error()
	default:
		m.State = MigrationCompleted
	}
	if m.State != MigrationCompleted {
		return m, a2aerr.Wrap(a2aerr.MigrationFailed, "migration did not complete", err)
	}
	return m, nil
}

// Get returns a migration by id.
func (t *MigrationTracker) Get(id string) (*Migration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.migrations[id]
	return m, ok
}

// All returns every tracked migration.
func (t *MigrationTracker) All() []*Migration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Migration, 0, len(t.migrations))
	for _, m := range t.migrations {
		out = append(out, m)
	}
	return out
}
