package comm

import (
	"sync"

	"github.com/eapache/queue"
)

// BlockingQueue is an unbounded FIFO safe for any number of producers and
// consumers. Dequeue blocks until an item is available; there is no
// timeout and no cancellation, so consumers are shut down by enqueueing a
// sentinel behind the work they must finish first.
type BlockingQueue[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items *queue.Queue
}

// NewBlockingQueue returns an empty queue.
func NewBlockingQueue[T any]() *BlockingQueue[T] {
	q := &BlockingQueue[T]{items: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends item and wakes one blocked consumer, if any.
func (q *BlockingQueue[T]) Enqueue(item T) {
	q.mu.Lock()
	q.items.Add(item)
	q.mu.Unlock()
	q.cond.Signal()
}

// Dequeue removes and returns the oldest item, blocking while the queue is empty.
func (q *BlockingQueue[T]) Dequeue() T {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Length() == 0 {
		q.cond.Wait()
	}
	// a nil interface item comes back as the zero T
	item, _ := q.items.Remove().(T)
	return item
}

// Len returns the number of queued items at the moment of the call.
func (q *BlockingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}
