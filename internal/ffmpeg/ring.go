package ffmpeg

// ring is a fixed-capacity FIFO that evicts the oldest entry on overflow.
type ring[T any] struct {
	items []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if len(r.items) == 0 {
		return
	}
	idx := (r.start + r.size) % len(r.items)
	r.items[idx] = v
	if r.size < len(r.items) {
		r.size++
		return
	}
	r.start = (r.start + 1) % len(r.items)
}

// snapshot returns the entries oldest first.
func (r *ring[T]) snapshot() []T {
	out := make([]T, r.size)
	for i := range r.size {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}

func (r *ring[T]) last() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[(r.start+r.size-1)%len(r.items)], true
}

func (r *ring[T]) len() int {
	return r.size
}

func (r *ring[T]) reset() {
	clear(r.items)
	r.start = 0
	r.size = 0
}
