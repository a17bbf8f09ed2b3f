package crdt

import (
	"sync"
	"time"
)

// LWWRegister is a last-writer-wins register: merge picks the value with
// the later timestamp, breaking ties by agent id ascending (spec §4.2).
type LWWRegister struct {
	mu        sync.RWMutex
	value     any
	timestamp time.Time
	agent     string
	set       bool
}

// NewLWWRegister creates an unset register.
func NewLWWRegister() *LWWRegister {
	return &LWWRegister{}
}

// Set records (v, now, agent) unconditionally — the caller is the writer of
// record; convergence happens via Merge.
func (r *LWWRegister) Set(v any, agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = v
	r.timestamp = time.Now()
	r.agent = agent
	r.set = true
}

// SetAt is like Set but with an explicit timestamp, for deterministic tests
// and for replaying remote writes with their original timestamp.
func (r *LWWRegister) SetAt(v any, agent string, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = v
	r.timestamp = ts
	r.agent = agent
	r.set = true
}

// Get returns the current value, its writer, and whether it has ever been set.
func (r *LWWRegister) Get() (value any, agent string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.agent, r.set
}

// wins reports whether candidate (ts, agent) beats the current winner under
// the (timestamp desc, agent asc) rule.
func wins(candTS time.Time, candAgent string, curTS time.Time, curAgent string) bool {
	if candTS.After(curTS) {
		return true
	}
	if candTS.Before(curTS) {
		return false
	}
	return candAgent < curAgent
}

// Merge keeps whichever of r/other wins under the tie-break rule.
func (r *LWWRegister) Merge(other *LWWRegister) {
	other.mu.RLock()
	oVal, oTS, oAgent, oSet := other.value, other.timestamp, other.agent, other.set
	other.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !oSet {
		return
	}
	if !r.set || wins(oTS, oAgent, r.timestamp, r.agent) {
		r.value = oVal
		r.timestamp = oTS
		r.agent = oAgent
		r.set = true
	}
}

// Clone returns an independent copy.
func (r *LWWRegister) Clone() *LWWRegister {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &LWWRegister{value: r.value, timestamp: r.timestamp, agent: r.agent, set: r.set}
}
