package alert

import "sync"

// DefaultBufferSize is the number of alerts kept in memory.
const DefaultBufferSize = 50

// Ring keeps the most recent alerts in arrival order.
//
// Thread Safety: all methods are safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	buf   []Alert
	start int
	n     int
}

// NewRing creates a Ring holding up to size alerts.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Ring{buf: make([]Alert, size)}
}

// Add appends a, evicting the oldest alert when full.
func (r *Ring) Add(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = a
		r.n++
		return
	}
	r.buf[r.start] = a
	r.start = (r.start + 1) % len(r.buf)
}

// Recent returns up to limit of the newest alerts, oldest first.
// A non-positive limit returns everything held.
func (r *Ring) Recent(limit int) []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > r.n {
		limit = r.n
	}
	out := make([]Alert, limit)
	skip := r.n - limit
	for i := 0; i < limit; i++ {
		out[i] = r.buf[(r.start+skip+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of alerts held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
