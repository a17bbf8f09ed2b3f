package gossip

import (
	"sync"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
)

// PendingQueue is the bounded MPSC queue gossip workers drain (spec §6:
// "Pending queue is a bounded MPSC with backpressure"). Capacity is
// batchSize*K (spec §4.6 "Backpressure"); when full, low/medium priority
// enqueues fail with Backpressure while high/critical messages preempt
// the oldest low-priority pending entry, preserving FIFO-within-priority
// order for everything else.
type PendingQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	capacity int
	buckets  map[Priority][]Message // FIFO within each priority bucket
	closed   bool
}

// NewPendingQueue creates a queue with the given total capacity.
func NewPendingQueue(capacity int) *PendingQueue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &PendingQueue{
		capacity: capacity,
		buckets:  make(map[Priority][]Message),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *PendingQueue) lenLocked() int {
	n := 0
	for _, b := range q.buckets {
		n += len(b)
	}
	return n
}

// Enqueue adds msg to its priority bucket. If the queue is at capacity,
// low/medium priority messages are rejected with Backpressure; high and
// critical messages evict the oldest low-priority entry (falling back to
// the oldest medium-priority entry if no low-priority entry exists) to
// make room.
func (q *PendingQueue) Enqueue(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return a2aerr.New(a2aerr.Cancelled, "pending queue closed")
	}

	if q.lenLocked() >= q.capacity {
		if msg.Priority < PriorityHigh {
			return a2aerr.New(a2aerr.Backpressure, "pending queue full")
		}
		if !q.evictLocked(PriorityLow) && !q.evictLocked(PriorityMedium) {
			return a2aerr.New(a2aerr.Backpressure, "pending queue full and nothing preemptable")
		}
	}

	q.buckets[msg.Priority] = append(q.buckets[msg.Priority], msg)
	q.notEmpty.Signal()
	return nil
}

func (q *PendingQueue) evictLocked(p Priority) bool {
	b := q.buckets[p]
	if len(b) == 0 {
		return false
	}
	q.buckets[p] = b[1:]
	return true
}

// Dequeue blocks until a message is available (highest priority first) or
// the queue is closed, in which case ok is false.
func (q *PendingQueue) Dequeue() (msg Message, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.lenLocked() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	for _, p := range []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow} {
		b := q.buckets[p]
		if len(b) > 0 {
			msg = b[0]
			q.buckets[p] = b[1:]
			return msg, true
		}
	}
	return Message{}, false
}

// Close wakes any blocked Dequeue callers and marks the queue closed.
func (q *PendingQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// Len reports the total number of pending messages across all priorities.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}
