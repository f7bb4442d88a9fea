package bridge

// frameRing is a bounded FIFO for transcoded caller audio queued while the
// AI session is still connecting. When full it evicts the oldest chunk so
// the freshest audio survives; evictions are counted so the relay can report
// them once the session comes up.
//
// The ring is owned by the uplink pump goroutine and needs no locking.
type frameRing struct {
	buf     [][]byte
	head    int
	n       int
	dropped int
}

func newFrameRing(capacity int) *frameRing {
	if capacity < 1 {
		capacity = 1
	}
	return &frameRing{buf: make([][]byte, capacity)}
}

// Push appends chunk, evicting the oldest entry when the ring is full.
// It reports whether an entry was evicted.
func (r *frameRing) Push(chunk []byte) bool {
	if r.n == len(r.buf) {
		r.buf[r.head] = chunk
		r.head = (r.head + 1) % len(r.buf)
		r.dropped++
		return true
	}
	r.buf[(r.head+r.n)%len(r.buf)] = chunk
	r.n++
	return false
}

// Drain returns the buffered chunks in arrival order and empties the ring.
func (r *frameRing) Drain() [][]byte {
	out := make([][]byte, 0, r.n)
	for i := range r.n {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	clear(r.buf)
	r.head, r.n = 0, 0
	return out
}

// Len returns the number of buffered chunks.
func (r *frameRing) Len() int { return r.n }

// Dropped returns how many chunks have been evicted since creation.
func (r *frameRing) Dropped() int { return r.dropped }
