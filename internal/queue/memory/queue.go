// Package memory provides the in-process job queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

// Errors returned by Queue.
var (
	ErrClosed = sheetsim.ErrQueueClosed
	ErrFull   = errors.New("queue full")
)

// Queue is a bounded FIFO of submitted jobs. Enqueue never blocks: a full
// queue is reported to the caller so the submission can be rejected.
type Queue struct {
	ch      chan sheetsim.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue holding up to capacity pending jobs.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan sheetsim.QueueItem, capacity),
	}
}

// Enqueue appends a job. It fails fast when the queue is full or closed.
func (q *Queue) Enqueue(ctx context.Context, item sheetsim.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", item.JobID, ErrFull)
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (sheetsim.QueueItem, error) {
	select {
	case <-ctx.Done():
		return sheetsim.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return sheetsim.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports how many jobs are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting jobs. Items already queued can still be drained.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
