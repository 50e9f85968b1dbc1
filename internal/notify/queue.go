// internal/notify/queue.go
package notify

import "sync"

// Queue delivers pushed values to a Feed from a single goroutine, in push
// order. Push never blocks, so producers holding their own locks can
// enqueue without waiting on handlers.
type Queue[T any] struct {
	feed *Feed[T]

	mu        sync.Mutex
	cond      *sync.Cond
	items     []T
	pushed    uint64
	delivered uint64
	closed    bool

	done chan struct{}
}

// NewQueue starts the dispatch goroutine for feed.
func NewQueue[T any](feed *Feed[T]) *Queue[T] {
	q := &Queue[T]{
		feed: feed,
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Push enqueues v. It reports false once the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, v)
	q.pushed++
	q.cond.Broadcast()
	return true
}

// Flush blocks until every value pushed before the call has been delivered,
// or the queue is closed. Must not be called from a feed handler.
func (q *Queue[T]) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	target := q.pushed
	for q.delivered < target && !q.closed {
		q.cond.Wait()
	}
}

// Close drops pending values and stops the dispatcher. A delivery already
// running completes; nothing is delivered after it.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}

// Done is closed when the dispatch goroutine has exited.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

func (q *Queue[T]) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		v := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		q.feed.Send(v)

		q.mu.Lock()
		q.delivered++
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}
