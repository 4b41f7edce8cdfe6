// Package ingest carries worker URL discoveries into the queue store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/crawlops/crawlqueue/internal/crawlqueue"
)

// MemoryQueue is a bounded in-memory discovery queue with context-aware
// operations, used in development and tests.
type MemoryQueue struct {
	ch      chan crawlqueue.Discovery
	closeMu sync.Mutex
	closed  bool
}

// NewMemoryQueue constructs a queue with the provided capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{
		ch: make(chan crawlqueue.Discovery, capacity),
	}
}

// Enqueue pushes a discovery or returns when the context ends.
func (q *MemoryQueue) Enqueue(ctx context.Context, d crawlqueue.Discovery) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- d:
		return nil
	}
}

// Dequeue pops the next discovery, respecting context cancellation.
func (q *MemoryQueue) Dequeue(ctx context.Context) (crawlqueue.Discovery, error) {
	select {
	case <-ctx.Done():
		return crawlqueue.Discovery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d, ok := <-q.ch:
		if !ok {
			return crawlqueue.Discovery{}, errors.New("queue closed")
		}
		return d, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *MemoryQueue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
