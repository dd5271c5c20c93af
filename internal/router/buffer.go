package router

import (
	"sync"
)

// Buffer is a thread-safe ring buffer that doubles its capacity when it
// reaches 70% full, up to a configured ceiling. Beyond the ceiling Send
// drops the oldest item instead of growing, so a slow or dead consumer
// bounds memory rather than growing it without limit.
type Buffer[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	maxCap   int
	closed   bool

	// Stats
	totalReceived int64
	totalSent     int64
	totalDropped  int64
	resizeCount   int
}

// NewBuffer creates a buffer with the given initial capacity and growth
// ceiling. A maxCapacity below initialCapacity disables growth.
func NewBuffer[T any](initialCapacity, maxCapacity int) *Buffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity < initialCapacity {
		maxCapacity = initialCapacity
	}
	b := &Buffer[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		maxCap:   maxCapacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send adds an item to the buffer, growing at 70% capacity while under the
// ceiling and dropping the oldest item once full at the ceiling.
// Returns false if the buffer is closed.
func (b *Buffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold && b.capacity < b.maxCap {
		b.grow()
	}

	if b.count == b.capacity {
		// At the ceiling and full: overwrite the oldest item.
		b.head = (b.head + 1) % b.capacity
		b.count--
		b.totalDropped++
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalReceived++

	b.cond.Signal()
	return true
}

// Receive removes and returns an item from the buffer.
// Blocks until an item is available or the buffer is closed.
// Returns the item and true, or zero value and false if closed and empty.
func (b *Buffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}

	if b.count == 0 && b.closed {
		var zero T
		return zero, false
	}

	return b.takeLocked(), true
}

// TryReceive attempts to receive without blocking.
func (b *Buffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.takeLocked(), true
}

// DrainTo drains up to max items from the buffer. max <= 0 drains all.
func (b *Buffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = b.takeLocked()
	}
	return result
}

// Close closes the buffer. After closing, Send returns false.
// Receivers drain remaining items then get the closed signal.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Len returns the current number of items in the buffer.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity of the buffer.
func (b *Buffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:         b.count,
		Capacity:      b.capacity,
		MaxCapacity:   b.maxCap,
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		TotalDropped:  b.totalDropped,
		ResizeCount:   b.resizeCount,
	}
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count         int
	Capacity      int
	MaxCapacity   int
	TotalReceived int64
	TotalSent     int64
	TotalDropped  int64
	ResizeCount   int
}

// takeLocked removes the head item. Must be called with lock held and count > 0.
func (b *Buffer[T]) takeLocked() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalSent++
	return item
}

// grow doubles the buffer capacity, clamped to the ceiling.
// Must be called with lock held.
func (b *Buffer[T]) grow() {
	newCapacity := b.capacity * 2
	if newCapacity > b.maxCap {
		newCapacity = b.maxCap
	}
	if newCapacity == b.capacity {
		return
	}
	newBuf := make([]T, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.resizeCount++
}
