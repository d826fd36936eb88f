package relaycommon

import (
	"sync"
)

// TailWriter keeps the last limit bytes written to it. It is safe for concurrent use
// and is used to retain the end of a worker's stderr for failure reports.
type TailWriter struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

// NewTailWriter constructs a TailWriter retaining at most limit bytes.
func NewTailWriter(limit int) *TailWriter {
	if limit <= 0 {
		limit = 4096
	}
	return &TailWriter{limit: limit}
}

// Write implements io.Writer. It never fails.
func (t *TailWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	if n >= t.limit {
		t.buf = append(t.buf[:0], p[n-t.limit:]...)
		return n, nil
	}
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return n, nil
}

// String returns the retained bytes.
func (t *TailWriter) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Len returns the number of retained bytes.
func (t *TailWriter) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}
