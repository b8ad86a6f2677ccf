package buffer

import "sync"

// Window keeps the most recent items added to it, overwriting the oldest
// once its capacity is reached. It is safe for concurrent use.
type Window[T any] struct {
	mu   sync.Mutex
	buf  []T
	head int64
	tail int64
}

// NewWindow creates a Window holding at most size items.
func NewWindow[T any](size int) *Window[T] {
	if size < 1 {
		size = 1
	}
	return &Window[T]{buf: make([]T, size)}
}

// Add appends t, evicting the oldest item when full.
func (w *Window[T]) Add(t T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf[w.tail%int64(len(w.buf))] = t
	w.tail++
	if w.tail-w.head > int64(len(w.buf)) {
		w.head++
	}
}

// Len returns the number of items currently kept.
func (w *Window[T]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int(w.tail - w.head)
}

// Items returns a copy of the kept items, oldest first.
func (w *Window[T]) Items() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]T, 0, w.tail-w.head)
	for i := w.head; i < w.tail; i++ {
		out = append(out, w.buf[i%int64(len(w.buf))])
	}
	return out
}

// Reset drops all items.
func (w *Window[T]) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.head, w.tail = 0, 0
	clear(w.buf)
}
