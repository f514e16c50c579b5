package delivery

import (
	"sync"
)

const initialQueueSize = 64

// queue is a FIFO ring buffer, safe for concurrent use. The ring grows by
// doubling and its length is always a power of two.
type queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	count int
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{items: make([]T, initialQueueSize)}
}

func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *queue[T]) push(v T) {
	if q.count == len(q.items) {
		q.grow()
	}
	q.items[(q.head+q.count)&(len(q.items)-1)] = v
	q.count++
}

func (q *queue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.push(v)
}

// PushUnless appends v unless reject returns true for the current length.
// The check and the append are atomic.
func (q *queue[T]) PushUnless(v T, reject func(n int) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if reject(q.count) {
		return false
	}
	q.push(v)
	return true
}

func (q *queue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return v, false
	}
	var zero T
	v = q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) & (len(q.items) - 1)
	q.count--
	return v, true
}

// Drain removes and returns every queued item, oldest first.
func (q *queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, 0, q.count)
	var zero T
	for ; q.count > 0; q.count-- {
		out = append(out, q.items[q.head])
		q.items[q.head] = zero
		q.head = (q.head + 1) & (len(q.items) - 1)
	}
	q.head = 0
	return out
}

func (q *queue[T]) grow() {
	items := make([]T, len(q.items)*2)
	for i := 0; i < q.count; i++ {
		items[i] = q.items[(q.head+i)&(len(q.items)-1)]
	}
	q.items = items
	q.head = 0
}
