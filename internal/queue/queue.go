// Package queue provides the single ordered FIFO between message
// producers and the network thread. Producers on arbitrary goroutines
// append without blocking; the dispatch loop is the sole consumer and
// its bounded-wait Pop is its only suspension point.
package queue

import (
	"sync"
	"time"

	"connect-agent/pkg/models"
)

// Queue is an unbounded FIFO of outbound items. Push never blocks and
// never fails. Pop waits at most the given timeout.
type Queue struct {
	mu    sync.Mutex
	items []models.QueueItem
	// wake has capacity 1: one pending signal is enough, the consumer
	// drains the backlog before waiting again.
	wake chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Push appends an item.
func (q *Queue) Push(item models.QueueItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop removes and returns the head item. If the queue stays empty for
// the whole timeout it returns ok=false.
func (q *Queue) Pop(timeout time.Duration) (models.QueueItem, bool) {
	if item, ok := q.tryPop(); ok {
		return item, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.wake:
			if item, ok := q.tryPop(); ok {
				return item, true
			}
		case <-timer.C:
			return nil, false
		}
	}
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) tryPop() (models.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}
