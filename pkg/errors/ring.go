package errors

import "sync"

// Ring is a thread-safe bounded buffer. Appending to a full ring evicts the
// oldest element.
type Ring[T any] struct {
	items []T
	size  int
	head  int
	count int
	mu    sync.RWMutex
}

// NewRing creates a ring with the given capacity
func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 10
	}
	return &Ring[T]{
		items: make([]T, size),
		size:  size,
	}
}

// Add appends item and reports whether an older item was evicted.
func (r *Ring[T]) Add(item T) (evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted = r.count == r.size
	r.items[r.head] = item
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
	return evicted
}

// All returns every item, oldest first
func (r *Ring[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot()
}

// Last returns up to n most recent items, oldest first
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Find returns the first item matching pred
func (r *Ring[T]) Find(pred func(T) bool) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := 0; i < r.count; i++ {
		item := r.items[r.index(i)]
		if pred(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// RemoveFunc drops every item matching pred and returns how many were removed.
func (r *Ring[T]) RemoveFunc(pred func(T) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]T, 0, r.count)
	for _, item := range r.snapshot() {
		if !pred(item) {
			kept = append(kept, item)
		}
	}
	removed := r.count - len(kept)
	if removed == 0 {
		return 0
	}
	r.reset()
	for _, item := range kept {
		r.items[r.head] = item
		r.head = (r.head + 1) % r.size
		r.count++
	}
	return removed
}

// Len returns the number of stored items
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the capacity
func (r *Ring[T]) Cap() int {
	return r.size
}

// Clear removes all items
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

func (r *Ring[T]) reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.count = 0
}

// index maps the i-th oldest position to a slot
func (r *Ring[T]) index(i int) int {
	start := 0
	if r.count >= r.size {
		start = r.head
	}
	return (start + i) % r.size
}

func (r *Ring[T]) snapshot() []T {
	if r.count == 0 {
		return nil
	}
	result := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		result[i] = r.items[r.index(i)]
	}
	return result
}
