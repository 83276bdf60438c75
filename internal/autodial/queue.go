// Package autodial holds the queue of activities the softphone works
// through in automatic call mode: when the current call ends, the next
// queued activity is dialed.
package autodial

import (
	"sync"

	"github.com/softdial/softdial/internal/call"
)

// Queue is a FIFO of activities awaiting a call. It is inactive until the
// first Enqueue and becomes inactive again once drained or stopped.
type Queue struct {
	mu      sync.Mutex
	items   []*call.Activity
	running bool
}

// New creates an empty, inactive queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends activities and activates the queue.
func (q *Queue) Enqueue(activities ...*call.Activity) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, activities...)
	if len(q.items) > 0 {
		q.running = true
	}
}

// Next pops the next activity. It returns nil when the queue is empty, in
// which case automatic mode ends.
func (q *Queue) Next() *call.Activity {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		q.running = false
		return nil
	}
	next := q.items[0]
	q.items = q.items[1:]
	return next
}

// Active reports whether automatic call mode is on.
func (q *Queue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Stop clears the queue and leaves automatic mode.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.running = false
}

// Len returns the number of queued activities.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
