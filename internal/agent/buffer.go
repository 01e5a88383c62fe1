package agent

import (
	"sync"
	"time"
)

// RingBufferSize is how much of each output stream is retained.
const RingBufferSize = 8 * 1024

// ActivityBufferSize is how many activity entries are retained per model.
const ActivityBufferSize = 50

// ringBuffer keeps the last capacity bytes written to it.
type ringBuffer struct {
	mu   sync.Mutex
	buf  []byte
	cap  int
	full bool
	pos  int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]byte, capacity), cap: capacity}
}

// Write implements io.Writer and never fails.
func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	if n >= r.cap {
		copy(r.buf, p[n-r.cap:])
		r.pos = 0
		r.full = true
		return n, nil
	}

	first := copy(r.buf[r.pos:], p)
	if first < n {
		copy(r.buf, p[first:])
		r.full = true
	}
	r.pos = (r.pos + n) % r.cap
	if r.pos == 0 && n > 0 {
		r.full = true
	}
	return n, nil
}

// String returns the retained bytes in write order.
func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return string(r.buf[:r.pos])
	}
	out := make([]byte, 0, r.cap)
	out = append(out, r.buf[r.pos:]...)
	out = append(out, r.buf[:r.pos]...)
	return string(out)
}

// Activity is one observed reviewer action.
type Activity struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// activityBuffer keeps the newest entries up to a fixed count.
type activityBuffer struct {
	mu      sync.Mutex
	entries []Activity
	limit   int
}

func newActivityBuffer(limit int) *activityBuffer {
	return &activityBuffer{limit: limit}
}

func (b *activityBuffer) Add(a Activity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, a)
	if len(b.entries) > b.limit {
		b.entries = b.entries[len(b.entries)-b.limit:]
	}
}

func (b *activityBuffer) List() []Activity {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Activity, len(b.entries))
	copy(out, b.entries)
	return out
}
