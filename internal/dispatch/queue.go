package dispatch

import (
	"context"
	"sync"

	"github.com/roach88/stockline/internal/flow"
)

// Result is the outcome of one queued turn.
type Result struct {
	Replies []flow.Reply
	Err     error
}

// turn is one event waiting for its identity's worker.
type turn struct {
	ctx  context.Context
	ev   flow.Event
	done chan Result // buffered, size 1
}

// turnQueue is a thread-safe FIFO queue of turns for one identity.
//
// The queue is unbounded: a burst from one identity waits in memory rather
// than blocking the transport goroutine that received it.
//
// The queue uses a channel for signaling so the worker can wait for new
// turns and for its idle timer in the same select.
type turnQueue struct {
	mu     sync.Mutex
	turns  []turn
	closed bool
	signal chan struct{} // signals turn availability (buffered, size 1)
}

func newTurnQueue() *turnQueue {
	return &turnQueue{
		turns:  make([]turn, 0, 4),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds t to the back of the queue.
// Returns false if the queue is closed.
func (q *turnQueue) Enqueue(t turn) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.turns = append(q.turns, t)

	// Buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front turn without blocking.
func (q *turnQueue) TryDequeue() (turn, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.turns) == 0 {
		return turn{}, false
	}
	t := q.turns[0]

	// Clear the slot so the array does not retain the turn's context.
	q.turns[0] = turn{}
	if len(q.turns) == 1 {
		q.turns = q.turns[:0]
	} else {
		q.turns = q.turns[1:]
	}
	return t, true
}

// Wait returns a channel that signals when turns may be available.
func (q *turnQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued turns.
func (q *turnQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.turns)
}

// closeIfEmpty stops an empty queue from accepting turns and wakes the
// waiter. It reports whether the queue is closed; a non-empty queue is left
// open.
func (q *turnQueue) closeIfEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return true
	}
	if len(q.turns) > 0 {
		return false
	}
	q.closed = true
	close(q.signal)
	return true
}
