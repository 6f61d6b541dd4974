package telemetry

// RingBuffer keeps the most recent capacity items, evicting oldest-first.
// Not safe for concurrent use; callers hold the owning runtime's lock.
type RingBuffer[T any] struct {
	items []T
	cap   int
	start int
}

func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{items: make([]T, 0, capacity), cap: capacity}
}

func (r *RingBuffer[T]) Push(item T) {
	if len(r.items) < r.cap {
		r.items = append(r.items, item)
		return
	}
	r.items[r.start] = item
	r.start = (r.start + 1) % r.cap
}

// Len is the number of items currently held.
func (r *RingBuffer[T]) Len() int { return len(r.items) }

// Items returns contents oldest-first as a fresh slice.
func (r *RingBuffer[T]) Items() []T {
	out := make([]T, 0, len(r.items))
	out = append(out, r.items[r.start:]...)
	out = append(out, r.items[:r.start]...)
	return out
}
