package history

import "sync"

// queue is an unbounded FIFO ring that doubles its capacity when it reaches
// 70% full. Writers never block.
type queue[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	count  int
	closed bool

	pushed  int64
	resizes int
}

func newQueue[T any](initialCapacity int) *queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &queue[T]{buf: make([]T, initialCapacity)}
}

// push appends item. It returns false once the queue is closed.
func (q *queue[T]) push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := len(q.buf) * 70 / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.growLocked()
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.pushed++
	return true
}

// drain removes up to max items (all when max <= 0) in FIFO order.
func (q *queue[T]) drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = q.buf[q.head]
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
	}
	q.count -= n
	return out
}

func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// growLocked doubles the ring, unwrapping it to start at index 0.
func (q *queue[T]) growLocked() {
	next := make([]T, len(q.buf)*2)
	n := copy(next, q.buf[q.head:])
	if n < q.count {
		copy(next[n:], q.buf[:q.count-n])
	}
	q.buf = next
	q.head = 0
	q.resizes++
}
