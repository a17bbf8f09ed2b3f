package crdt

import (
	"sync"

	"github.com/google/uuid"
)

// orTag is a globally-unique tag minted for each add, so concurrent
// add/remove of the same element can be distinguished (spec §4.2).
type orTag string

func newTag() orTag { return orTag(uuid.NewString()) }

// ORSet is an observed-remove set: elements carry add-tags, removal
// tombstones every tag currently observed for that element (not future
// ones), so a concurrent add the remover never saw survives the merge.
type ORSet struct {
	mu         sync.RWMutex
	adds       map[string]map[orTag]struct{} // element -> live add-tags
	tombstones map[orTag]struct{}
}

// NewORSet creates an empty OR-Set.
func NewORSet() *ORSet {
	return &ORSet{
		adds:       make(map[string]map[orTag]struct{}),
		tombstones: make(map[orTag]struct{}),
	}
}

// Add adds element, minting and returning a fresh unique tag.
func (s *ORSet) Add(element string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag := newTag()
	if s.adds[element] == nil {
		s.adds[element] = make(map[orTag]struct{})
	}
	s.adds[element][tag] = struct{}{}
	return string(tag)
}

// Remove tombstones every add-tag currently observed for element. A
// concurrent Add on another replica that this replica hasn't seen yet is
// unaffected (its tag doesn't exist here yet).
func (s *ORSet) Remove(element string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tag := range s.adds[element] {
		s.tombstones[tag] = struct{}{}
	}
}

// Contains reports whether element has at least one live (non-tombstoned)
// add-tag.
func (s *ORSet) Contains(element string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for tag := range s.adds[element] {
		if _, dead := s.tombstones[tag]; !dead {
			return true
		}
	}
	return false
}

// Elements returns all elements with at least one live tag.
func (s *ORSet) Elements() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.adds))
	for el, tags := range s.adds {
		for tag := range tags {
			if _, dead := s.tombstones[tag]; !dead {
				out = append(out, el)
				break
			}
		}
	}
	return out
}

// Merge unions tags then applies the union of tombstones (both sides' adds
// and removes survive, order-independent).
func (s *ORSet) Merge(other *ORSet) {
	other.mu.RLock()
	otherAdds := make(map[string]map[orTag]struct{}, len(other.adds))
	for el, tags := range other.adds {
		cp := make(map[orTag]struct{}, len(tags))
		for t := range tags {
			cp[t] = struct{}{}
		}
		otherAdds[el] = cp
	}
	otherTombstones := make(map[orTag]struct{}, len(other.tombstones))
	for t := range other.tombstones {
		otherTombstones[t] = struct{}{}
	}
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for el, tags := range otherAdds {
		if s.adds[el] == nil {
			s.adds[el] = make(map[orTag]struct{})
		}
		for t := range tags {
			s.adds[el][t] = struct{}{}
		}
	}
	for t := range otherTombstones {
		s.tombstones[t] = struct{}{}
	}
}

// Clone returns an independent deep copy.
func (s *ORSet) Clone() *ORSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := NewORSet()
	for el, tags := range s.adds {
		cp := make(map[orTag]struct{}, len(tags))
		for t := range tags {
			cp[t] = struct{}{}
		}
		out.adds[el] = cp
	}
	for t := range s.tombstones {
		out.tombstones[t] = struct{}{}
	}
	return out
}
