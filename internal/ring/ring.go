// Package ring provides a fixed-capacity FIFO buffer backed by a preallocated slice.
//
// Slots are reused by index; pushing into a full buffer overwrites the oldest entry,
// so memory stays at capacity regardless of load.
package ring

// Buffer is a bounded FIFO. It is not safe for concurrent use; callers own the locking.
type Buffer[T any] struct {
	items []T
	head  int
	size  int
}

// New allocates a buffer holding at most capacity items. Capacity below one is raised to one.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Len reports the number of stored items.
func (b *Buffer[T]) Len() int { return b.size }

// Cap reports the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Push appends v. When the buffer is full the oldest item is evicted and returned.
func (b *Buffer[T]) Push(v T) (evicted T, ok bool) {
	if b.size == len(b.items) {
		evicted = b.items[b.head]
		b.items[b.head] = v
		b.head = (b.head + 1) % len(b.items)
		return evicted, true
	}
	b.items[(b.head+b.size)%len(b.items)] = v
	b.size++
	return evicted, false
}

// Insert places v so the buffer stays ordered by less, scanning back from the newest item,
// and returns v's index. Items that compare equal keep insertion order. When the buffer is
// full and v sorts before every item, v is not stored and Insert returns -1.
func (b *Buffer[T]) Insert(v T, less func(a, b T) bool) int {
	if b.size == len(b.items) && less(v, b.items[b.head]) {
		return -1
	}
	b.Push(v)
	i := b.size - 1
	for ; i > 0; i-- {
		prev := b.items[b.slot(i-1)]
		if !less(v, prev) {
			break
		}
		b.items[b.slot(i)] = prev
	}
	b.items[b.slot(i)] = v
	return i
}

func (b *Buffer[T]) slot(i int) int { return (b.head + i) % len(b.items) }

// PopFront removes and returns the oldest item.
func (b *Buffer[T]) PopFront() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	v := b.items[b.head]
	b.items[b.head] = zero
	b.head = (b.head + 1) % len(b.items)
	b.size--
	return v, true
}

// EvictWhile pops items from the front while pred holds and returns how many were removed.
func (b *Buffer[T]) EvictWhile(pred func(T) bool) int {
	n := 0
	for b.size > 0 && pred(b.items[b.head]) {
		b.PopFront()
		n++
	}
	return n
}

// At returns the i-th item counting from the oldest.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("ring: index out of range")
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Last returns the newest item.
func (b *Buffer[T]) Last() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.At(b.size - 1), true
}

// Each calls fn from oldest to newest until fn returns false.
func (b *Buffer[T]) Each(fn func(int, T) bool) {
	for i := 0; i < b.size; i++ {
		if !fn(i, b.items[(b.head+i)%len(b.items)]) {
			return
		}
	}
}

// Reverse calls fn from newest to oldest until fn returns false.
func (b *Buffer[T]) Reverse(fn func(int, T) bool) {
	for i := b.size - 1; i >= 0; i-- {
		if !fn(i, b.items[(b.head+i)%len(b.items)]) {
			return
		}
	}
}

// Snapshot copies the contents, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Reset drops every item while keeping the backing array.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}
