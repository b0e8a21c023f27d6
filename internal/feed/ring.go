package feed

// ring keeps the most recent events up to a fixed size, overwriting the oldest.
type ring struct {
	buf  []Event
	head int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]Event, size)}
}

func (r *ring) push(ev Event) {
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
	if r.head == 0 {
		r.full = true
	}
}

// items returns the events oldest first.
func (r *ring) items() []Event {
	if !r.full {
		out := make([]Event, r.head)
		copy(out, r.buf[:r.head])
		return out
	}
	out := make([]Event, 0, len(r.buf))
	out = append(out, r.buf[r.head:]...)
	return append(out, r.buf[:r.head]...)
}
