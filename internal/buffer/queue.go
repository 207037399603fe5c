// Package buffer provides the bounded FIFO used for per-workflow outbound
// queues and for the event journal's input.
package buffer

import (
	"sync"
)

// Queue is a thread-safe FIFO ring that doubles its backing array when
// full, up to an optional limit. Once the limit is reached each Push evicts
// the oldest item.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // read position
	tail   int // write position
	count  int
	limit  int // 0 = unbounded
	closed bool

	// Stats
	totalPushed int64
	totalPopped int64
	evicted     int64
	resizeCount int
}

// NewQueue creates a queue with the given initial capacity. A limit of 0
// leaves the queue unbounded.
func NewQueue[T any](initialCapacity, limit int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if limit > 0 && initialCapacity > limit {
		initialCapacity = limit
	}
	q := &Queue[T]{
		buf:   make([]T, initialCapacity),
		limit: limit,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item. When the queue is at its limit the oldest item is
// removed and returned with evicted=true. Push on a closed queue is a
// no-op that reports ok=false.
func (q *Queue[T]) Push(item T) (dropped T, evicted bool, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return dropped, false, false
	}

	if q.limit > 0 && q.count >= q.limit {
		dropped = q.popLocked()
		evicted = true
		q.evicted++
	} else if q.count == len(q.buf) {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.totalPushed++

	q.cond.Signal()
	return dropped, evicted, true
}

// PushFront puts items back at the head of the queue in their original
// order. Used to return entries that could not be delivered. Items beyond
// the limit are dropped from the tail and counted as evicted.
func (q *Queue[T]) PushFront(items []T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(items) == 0 {
		return
	}

	rest := q.drainLocked(0)
	q.totalPopped -= int64(len(rest))
	all := make([]T, 0, len(items)+len(rest))
	all = append(all, items...)
	all = append(all, rest...)
	if q.limit > 0 && len(all) > q.limit {
		q.evicted += int64(len(all) - q.limit)
		all = all[:q.limit]
	}

	for len(q.buf) < len(all) {
		q.grow()
	}
	for _, item := range all {
		q.buf[q.tail] = item
		q.tail = (q.tail + 1) % len(q.buf)
		q.count++
	}
	q.cond.Broadcast()
}

// Receive blocks until an item is available or the queue is closed and
// empty, in which case it returns false.
func (q *Queue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// TryReceive returns the oldest item without blocking.
func (q *Queue[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// DrainTo removes up to max items (all when max <= 0) in FIFO order.
func (q *Queue[T]) DrainTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainLocked(max)
}

// Close wakes blocked receivers. Remaining items can still be drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:       q.count,
		Capacity:    len(q.buf),
		Limit:       q.limit,
		TotalPushed: q.totalPushed,
		TotalPopped: q.totalPopped,
		Evicted:     q.evicted,
		ResizeCount: q.resizeCount,
	}
}

// Stats contains queue statistics.
type Stats struct {
	Count       int
	Capacity    int
	Limit       int
	TotalPushed int64
	TotalPopped int64
	Evicted     int64
	ResizeCount int
}

func (q *Queue[T]) popLocked() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // release reference
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.totalPopped++
	return item
}

func (q *Queue[T]) drainLocked(max int) []T {
	if q.count == 0 {
		return nil
	}
	n := q.count
	if max > 0 && max < n {
		n = max
	}
	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = q.popLocked()
	}
	return result
}

// grow doubles the backing array, capped at the limit. Must hold mu.
func (q *Queue[T]) grow() {
	newCap := len(q.buf) * 2
	if q.limit > 0 && newCap > q.limit {
		newCap = q.limit
	}
	if newCap <= len(q.buf) {
		return
	}
	newBuf := make([]T, newCap)
	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}
	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.resizeCount++
}
