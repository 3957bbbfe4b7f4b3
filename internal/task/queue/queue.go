// Package queue provides the stable priority queue that backs a worker.
package queue

import "container/heap"

// Queue orders items by priority: the numerically lowest priority pops first,
// and equal priorities pop in arrival order.
//
// Queue is not safe for concurrent use. The owning worker guards it with its own mutex.
type Queue[T any] struct {
	h   itemHeap[T]
	seq uint64
}

type item[T any] struct {
	priority int
	seq      uint64
	value    T
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push inserts v in O(log n).
func (q *Queue[T]) Push(priority int, v T) {
	q.seq++
	heap.Push(&q.h, item[T]{priority: priority, seq: q.seq, value: v})
}

// Pop removes and returns the next item. ok is false when the queue is empty.
func (q *Queue[T]) Pop() (v T, ok bool) {
	if len(q.h) == 0 {
		return v, false
	}
	it := heap.Pop(&q.h).(item[T])
	return it.value, true
}

// Peek returns the next item without removing it.
func (q *Queue[T]) Peek() (v T, priority int, ok bool) {
	if len(q.h) == 0 {
		return v, 0, false
	}
	return q.h[0].value, q.h[0].priority, true
}

func (q *Queue[T]) Len() int    { return len(q.h) }
func (q *Queue[T]) Empty() bool { return len(q.h) == 0 }

// Clear discards every pending item. The arrival counter keeps counting so
// ordering stays stable across clears.
func (q *Queue[T]) Clear() {
	clear(q.h)
	q.h = q.h[:0]
}

// itemHeap implements heap.Interface ordered by (priority, seq).
type itemHeap[T any] []item[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *itemHeap[T]) Push(x any) {
	*h = append(*h, x.(item[T]))
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	var zero item[T]
	old[n-1] = zero
	*h = old[0 : n-1]
	return it
}
