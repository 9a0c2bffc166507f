package worker

import (
	"strings"
	"sync"
)

// ringBuffer keeps the last cap bytes written to it. Writes never block on
// readers beyond a short mutex hold, so a chatty worker cannot stall.
type ringBuffer struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &ringBuffer{
		buf: make([]byte, 0, capacity),
		cap: capacity,
	}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(p) >= r.cap {
		r.buf = append(r.buf[:0], p[len(p)-r.cap:]...)
		return len(p), nil
	}
	if len(r.buf)+len(p) <= r.cap {
		r.buf = append(r.buf, p...)
		return len(p), nil
	}

	overflow := len(r.buf) + len(p) - r.cap
	n := copy(r.buf, r.buf[overflow:])
	r.buf = append(r.buf[:n], p...)
	return len(p), nil
}

// Len returns the number of buffered bytes
func (r *ringBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Tail returns at most the last n lines, without a trailing newline.
// ffmpeg progress output uses carriage returns, which count as line breaks.
func (r *ringBuffer) Tail(n int) string {
	r.mu.Lock()
	s := string(r.buf)
	r.mu.Unlock()

	s = strings.TrimRight(strings.ReplaceAll(s, "\r", "\n"), "\n")
	if s == "" || n <= 0 {
		return ""
	}

	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
