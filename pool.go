package comm

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// task wraps a work item. A task with stop set is the shutdown sentinel.
type task[T any] struct {
	item T
	stop bool
}

// ThreadPool runs a fixed number of workers that drain one shared
// BlockingQueue, calling the handler for each item.
//
// Shutdown is cooperative: Stop clears the run flag and queues one
// sentinel per worker behind the pending work, so every item posted
// before Stop is still handled. Wait joins the workers.
type ThreadPool[T any] struct {
	queue   *BlockingQueue[task[T]]
	handler func(T)
	size    int
	group   errgroup.Group

	// mu orders Post against Stop so no item lands behind the sentinels.
	mu      sync.RWMutex
	running atomic.Bool
}

// NewThreadPool starts n workers, each calling handler for the items it dequeues.
func NewThreadPool[T any](n int, handler func(T)) (*ThreadPool[T], error) {
	if n <= 0 {
		return nil, ErrInvalidWorkers
	}

	p := &ThreadPool[T]{
		queue:   NewBlockingQueue[task[T]](),
		handler: handler,
		size:    n,
	}
	p.running.Store(true)

	for i := 0; i < n; i++ {
		p.group.Go(p.work)
	}

	return p, nil
}

// work is the worker loop.
func (p *ThreadPool[T]) work() error {
	for {
		t := p.queue.Dequeue()
		if t.stop && !p.running.Load() {
			return nil
		}
		p.handler(t.item)
	}
}

// Post queues item for a worker. It may be called from any goroutine,
// including a worker inside the handler.
func (p *ThreadPool[T]) Post(item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running.Load() {
		return ErrPoolStopped
	}
	p.queue.Enqueue(task[T]{item: item})
	return nil
}

// Stop clears the run flag and wakes every worker once the work queued
// ahead of it is done. Calling Stop more than once has no further effect.
func (p *ThreadPool[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.CompareAndSwap(true, false) {
		return
	}
	for i := 0; i < p.size; i++ {
		p.queue.Enqueue(task[T]{stop: true})
	}
}

// Wait blocks until every worker has returned. Without a prior Stop it
// blocks until another goroutine stops the pool.
func (p *ThreadPool[T]) Wait() {
	_ = p.group.Wait()
}

// Running reports whether the pool still accepts work.
func (p *ThreadPool[T]) Running() bool {
	return p.running.Load()
}

// Size returns the number of workers.
func (p *ThreadPool[T]) Size() int {
	return p.size
}

// Len returns the number of queued items not yet picked up by a worker.
func (p *ThreadPool[T]) Len() int {
	return p.queue.Len()
}
