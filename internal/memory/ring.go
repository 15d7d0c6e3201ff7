package memory

// ring is a fixed-size circular buffer. It is not goroutine-safe; the Store
// lock guards it.
type ring[T any] struct {
	buf   []T
	head  int // next write position
	count int
}

func newRing[T any](size int) *ring[T] {
	if size <= 0 {
		size = 1
	}
	return &ring[T]{buf: make([]T, size)}
}

// push appends v, overwriting the oldest entry when full.
func (r *ring[T]) push(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// items returns the entries oldest first.
func (r *ring[T]) items() []T {
	if r.count == 0 {
		return nil
	}
	out := make([]T, r.count)
	if r.count < len(r.buf) {
		copy(out, r.buf[:r.count])
	} else {
		n := copy(out, r.buf[r.head:])
		copy(out[n:], r.buf[:r.head])
	}
	return out
}

// last returns the n most recent entries, oldest first.
func (r *ring[T]) last(n int) []T {
	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	all := r.items()
	return all[len(all)-n:]
}

func (r *ring[T]) len() int { return r.count }

func (r *ring[T]) cap() int { return len(r.buf) }

func (r *ring[T]) reset() {
	clear(r.buf)
	r.head = 0
	r.count = 0
}
