// Package memory implements the distributed memory manager (spec §4.7,
// C7): the component composing vector clocks, CRDTs, compression,
// conflict resolution, sharding, and gossip into a coherent key/value
// coordination layer.
//
// Grounded top-to-bottom on pkg/models/sync_engine.go's SyncEngine
// (mutex-guarded maps, an injected config, a metrics struct, event
// handling, context+cancel lifecycle) and the nested ollama-distributed
// module's worker-pool bootstrap pattern (consulted as reference only).
package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/types"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/vclock"
)

// EntryMetadata carries per-entry routing and lifecycle attributes (spec
// §3 "Memory Entry").
type EntryMetadata struct {
	Namespace    string
	SourceAgent  string
	Priority     int // [0..10]
	TTL          time.Duration
	ContentType  string
	Checksum     string
	CreatedAt    time.Time
}

// Entry is a single key/value memory record.
type Entry struct {
	Key      string
	Value    types.MetaValue
	Clock    *vclock.Clock
	Metadata EntryMetadata
}

// Expired reports whether e's TTL has elapsed as of now.
func (e *Entry) Expired(now time.Time) bool {
	if e.Metadata.TTL <= 0 {
		return false
	}
	return now.After(e.Metadata.CreatedAt.Add(e.Metadata.TTL))
}

// Namespace extracts the namespace prefix from a key: the substring
// preceding the first ':', defaulting to "default" (spec §3).
func Namespace(key string) string {
	if idx := strings.IndexByte(key, ':'); idx >= 0 {
		return key[:idx]
	}
	return "default"
}

const stripeCount = 64

// Store is the local key/value memory store, single-writer-per-key via a
// striped lock (spec §5 "Local memory store: single-writer per key via a
// per-key mutex (or sharded striped lock)").
type Store struct {
	stripes [stripeCount]sync.RWMutex
	data    map[string]*Entry
	dataMu  sync.RWMutex // guards the data map's structure (insert/delete), not entry contents
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{data: make(map[string]*Entry)}
}

func (s *Store) stripe(key string) *sync.RWMutex {
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	return &s.stripes[h%stripeCount]
}

// Get returns the entry for key, or NotFound if absent or TTL-expired
// (spec §7: "get of an expired TTL returns NotFound").
func (s *Store) Get(key string) (*Entry, error) {
	lock := s.stripe(key)
	lock.RLock()
	defer lock.RUnlock()

	s.dataMu.RLock()
	e, ok := s.data[key]
	s.dataMu.RUnlock()
	if !ok {
		return nil, a2aerr.New(a2aerr.NotFound, "key not found: "+key)
	}
	if e.Expired(time.Now()) {
		return nil, a2aerr.New(a2aerr.NotFound, "key expired: "+key)
	}
	return e, nil
}

// Put inserts or replaces the entry for key under its stripe lock,
// bumping clock as the caller's local event (spec §5: "Vector-clock bumps
// occur under the key's write lock").
func (s *Store) Put(key string, value types.MetaValue, clock *vclock.Clock, meta EntryMetadata) *Entry {
	lock := s.stripe(key)
	lock.Lock()
	defer lock.Unlock()

	clock.Increment()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	if meta.Namespace == "" {
		meta.Namespace = Namespace(key)
	}
	e := &Entry{Key: key, Value: value, Clock: clock, Metadata: meta}

	s.dataMu.Lock()
	s.data[key] = e
	s.dataMu.Unlock()
	return e
}

// Delete removes key's entry.
func (s *Store) Delete(key string) {
	lock := s.stripe(key)
	lock.Lock()
	defer lock.Unlock()

	s.dataMu.Lock()
	delete(s.data, key)
	s.dataMu.Unlock()
}

// ApplyRemote writes a value already owned by a remote clock (used after
// delta application has decided the remote side wins); it does not bump
// the clock further, since the remote clock already reflects the write.
func (s *Store) ApplyRemote(key string, value types.MetaValue, clock *vclock.Clock, meta EntryMetadata) {
	lock := s.stripe(key)
	lock.Lock()
	defer lock.Unlock()

	if meta.Namespace == "" {
		meta.Namespace = Namespace(key)
	}
	s.dataMu.Lock()
	s.data[key] = &Entry{Key: key, Value: value, Clock: clock, Metadata: meta}
	s.dataMu.Unlock()
}

// Snapshot returns every non-expired entry, for metrics, cleanup sweeps,
// and persistence snapshots.
func (s *Store) Snapshot() []*Entry {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	now := time.Now()
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of tracked entries, including expired-but-not-yet
// swept ones.
func (s *Store) Len() int {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return len(s.data)
}

// DeleteNamespace removes every entry whose namespace is ns, returning the
// count removed (used by emergency cleanup).
func (s *Store) DeleteNamespace(ns string) int {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	removed := 0
	for k, e := range s.data {
		if e.Metadata.Namespace == ns {
			delete(s.data, k)
			removed++
		}
	}
	return removed
}
