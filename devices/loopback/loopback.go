// Package loopback provides an in-memory Stream for tests and demos: two
// paired endpoints where writing to one makes the bytes available to the
// other's PollRx. Grounded on the teacher's backend/mem.go in-memory
// Backend, adapted from a sharded byte-addressable disk image (64KB shards,
// one RWMutex per shard, sized for parallel 4K random I/O) to a single
// mutex-protected byte queue, since the unit of contention here is a
// handful of bytes per packet rather than megabytes of block storage —
// sharding would add locking overhead with nothing to parallelize against.
package loopback

import (
	"sync"

	"github.com/ehrlich-b/perilib"
)

// Loopback is one end of an in-memory byte-stream pair.
type Loopback struct {
	mu     sync.Mutex
	rx     []byte
	peer   *Loopback
	opened bool
	closed bool
}

// NewPair creates two connected Loopback endpoints: bytes written to a
// become available to b's PollRx, and vice versa.
func NewPair() (a, b *Loopback) {
	a = &Loopback{}
	b = &Loopback{}
	a.peer = b
	b.peer = a
	return a, b
}

// Open marks the endpoint usable. Idempotent.
func (l *Loopback) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened = true
	l.closed = false
	return nil
}

// Close marks the endpoint unusable. Idempotent.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Write appends p to the peer's receive queue.
func (l *Loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return 0, perilib.ErrStreamClosed
	}

	l.peer.push(p)
	return len(p), nil
}

func (l *Loopback) push(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rx = append(l.rx, data...)
}

// PollRx drains and returns whatever bytes have accumulated since the last
// call.
func (l *Loopback) PollRx() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, perilib.ErrStreamClosed
	}
	if len(l.rx) == 0 {
		return nil, nil
	}
	out := l.rx
	l.rx = nil
	return out, nil
}

var _ perilib.Stream = (*Loopback)(nil)
