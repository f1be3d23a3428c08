package animation

// HistoryCap bounds both the command ring and the log ring.
const HistoryCap = 100

// Ring is a bounded most-recent-first list.
type Ring[T any] struct {
	items    []T
	capacity int
}

func NewRing[T any](capacity int, seed []T) *Ring[T] {
	if capacity <= 0 {
		capacity = HistoryCap
	}
	r := &Ring[T]{capacity: capacity, items: make([]T, 0, capacity+1)}
	if len(seed) > capacity {
		seed = seed[:capacity]
	}
	r.items = append(r.items, seed...)
	return r
}

// Push prepends v and returns whatever fell off the tail.
func (r *Ring[T]) Push(v T) []T {
	r.items = append(r.items, v)
	copy(r.items[1:], r.items[:len(r.items)-1])
	r.items[0] = v
	if len(r.items) <= r.capacity {
		return nil
	}
	evicted := append([]T(nil), r.items[r.capacity:]...)
	clear(r.items[r.capacity:])
	r.items = r.items[:r.capacity]
	return evicted
}

func (r *Ring[T]) Len() int { return len(r.items) }

// Items returns a copy, newest first.
func (r *Ring[T]) Items() []T {
	return append(make([]T, 0, len(r.items)), r.items...)
}
