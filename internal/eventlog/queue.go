// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package eventlog

import "sync"

// DefaultQueueCapacity bounds the webhook queue.
const DefaultQueueCapacity = 50

// Queue is a bounded FIFO of entries awaiting delivery. Push never blocks:
// when the queue is full the oldest entries are discarded.
type Queue struct {
	mu       sync.Mutex
	items    []Entry
	capacity int
	dropped  uint64
}

// NewQueue creates a queue holding at most capacity entries.
// A non-positive capacity selects DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		items:    make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// Push appends e and returns how many old entries were discarded to make room.
func (q *Queue) Push(e Entry) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, e)
	overflow := len(q.items) - q.capacity
	if overflow <= 0 {
		return 0
	}

	// Copy down so the backing array does not grow without bound.
	n := copy(q.items, q.items[overflow:])
	for i := n; i < len(q.items); i++ {
		q.items[i] = Entry{}
	}
	q.items = q.items[:n]
	q.dropped += uint64(overflow)
	return overflow
}

// Pop removes and returns the oldest entry.
func (q *Queue) Pop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Entry{}, false
	}
	e := q.items[0]
	q.items[0] = Entry{}
	q.items = q.items[1:]
	return e, true
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the total number of entries discarded on overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Snapshot returns a copy of the queued entries, oldest first.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.items))
	copy(out, q.items)
	return out
}
