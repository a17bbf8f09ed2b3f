package conflict

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReviewItem is a conflict awaiting a human or application decision,
// shaped after pkg/consensus.Proposal's id/data/proposer/createdAt fields
// (spec §4.4: "manual" strategy and §6 "pendingConflicts — the local value
// is unchanged").
type ReviewItem struct {
	ID         string
	Conflict   *Conflict
	Candidate  *Resolution
	ProposedAt time.Time
	Resolved   bool
	Decision   any // the application's final chosen value, once decided
}

// ManualReviewQueue holds conflicts that no automatic strategy could
// confidently resolve.
type ManualReviewQueue struct {
	mu    sync.Mutex
	items map[string]*ReviewItem
}

// NewManualReviewQueue creates an empty queue.
func NewManualReviewQueue() *ManualReviewQueue {
	return &ManualReviewQueue{items: make(map[string]*ReviewItem)}
}

// Enqueue records c as pending manual review, keyed by a fresh id.
func (q *ManualReviewQueue) Enqueue(c *Conflict, candidate *Resolution) *ReviewItem {
	item := &ReviewItem{
		ID:         uuid.NewString(),
		Conflict:   c,
		Candidate:  candidate,
		ProposedAt: time.Now(),
	}
	q.mu.Lock()
	q.items[item.ID] = item
	q.mu.Unlock()
	return item
}

// Pending returns every unresolved item.
func (q *ManualReviewQueue) Pending() []*ReviewItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*ReviewItem, 0, len(q.items))
	for _, item := range q.items {
		if !item.Resolved {
			out = append(out, item)
		}
	}
	return out
}

// Decide records the application's chosen value for a pending item.
func (q *ManualReviewQueue) Decide(id string, decision any) (*ReviewItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return nil, false
	}
	item.Resolved = true
	item.Decision = decision
	return item, true
}

// Len returns the total number of items ever enqueued (resolved or not).
func (q *ManualReviewQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
