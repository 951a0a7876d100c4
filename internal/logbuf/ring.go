// Package logbuf keeps the most recent log lines in memory so operators can
// read them from chat.
package logbuf

import (
	"bytes"
	"sync"
)

// DefaultLines is the ring capacity used when none is given.
const DefaultLines = 1000

// Ring is a fixed-size circular buffer of log lines. It implements io.Writer
// and can sit behind an io.MultiWriter next to the real log output. When the
// ring is full the oldest line is overwritten.
type Ring struct {
	mu      sync.RWMutex
	lines   []string
	size    int
	head    int // next write position
	full    bool
	partial []byte
}

// NewRing creates a ring holding up to size lines.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultLines
	}
	return &Ring{
		lines: make([]string, size),
		size:  size,
	}
}

// Write implements io.Writer. Incomplete trailing lines are held until the
// newline arrives.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := p
	if len(r.partial) > 0 {
		data = append(r.partial, p...)
		r.partial = nil
	}
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		r.push(string(data[:i]))
		data = data[i+1:]
	}
	if len(data) > 0 {
		r.partial = append([]byte(nil), data...)
	}
	return len(p), nil
}

func (r *Ring) push(line string) {
	r.lines[r.head] = line
	r.head = (r.head + 1) % r.size
	if r.head == 0 {
		r.full = true
	}
}

// Len returns the number of complete lines held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return r.size
	}
	return r.head
}

// Tail returns up to n of the newest lines, oldest first.
func (r *Ring) Tail(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.head
	if r.full {
		count = r.size
	}
	if n <= 0 || n > count {
		n = count
	}

	out := make([]string, n)
	start := (r.head - n + r.size) % r.size
	for i := 0; i < n; i++ {
		out[i] = r.lines[(start+i)%r.size]
	}
	return out
}

// Reset clears the ring.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.full = false
	r.partial = nil
	clear(r.lines)
}

// Resize changes the capacity in place, keeping the newest lines that fit.
func (r *Ring) Resize(size int) {
	if size <= 0 {
		size = DefaultLines
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if size == r.size {
		return
	}

	count := r.head
	if r.full {
		count = r.size
	}
	keep := min(count, size)
	lines := make([]string, size)
	start := (r.head - keep + r.size) % r.size
	for i := 0; i < keep; i++ {
		lines[i] = r.lines[(start+i)%r.size]
	}
	r.lines = lines
	r.size = size
	r.head = keep % size
	r.full = keep == size
}

// Capacity returns the maximum number of lines kept.
func (r *Ring) Capacity() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}
