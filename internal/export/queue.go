package export

// ring is a fixed-capacity FIFO. Pushing onto a full ring overwrites the
// oldest entry. Not safe for concurrent use; Batcher guards it with its mutex.
type ring[T any] struct {
	buf  []T
	head int // index of the oldest entry
	n    int
}

func newRing[T any](capacity int) ring[T] {
	return ring[T]{buf: make([]T, max(capacity, 1))}
}

// push appends v and reports whether the oldest entry was evicted to make
// room for it.
func (r *ring[T]) push(v T) (evicted bool) {
	if r.n == len(r.buf) {
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return true
	}
	r.buf[(r.head+r.n)%len(r.buf)] = v
	r.n++
	return false
}

// take removes and returns up to limit entries, oldest first.
func (r *ring[T]) take(limit int) []T {
	k := min(limit, r.n)
	if k <= 0 {
		return nil
	}
	out := make([]T, k)
	var zero T
	for i := range k {
		idx := (r.head + i) % len(r.buf)
		out[i] = r.buf[idx]
		r.buf[idx] = zero
	}
	r.head = (r.head + k) % len(r.buf)
	r.n -= k
	return out
}

// items returns a copy of the queued entries, oldest first.
func (r *ring[T]) items() []T {
	out := make([]T, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *ring[T]) len() int { return r.n }
