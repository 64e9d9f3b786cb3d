package client

import (
	"sync"

	"github.com/deftio/pocketdock"
)

// ringBuffer is a bounded accumulator for detached process output.
// Each logical stream gets half the total capacity; the oldest bytes
// are evicted when a stream's half overflows, and the overflow flag
// latches true.
type ringBuffer struct {
	mu       sync.Mutex
	half     int
	stdout   []byte
	stderr   []byte
	overflow bool
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = pocketdock.DefaultBufferCapacity
	}
	half := capacity / 2
	if half < 1 {
		half = 1
	}
	return &ringBuffer{half: half}
}

func (b *ringBuffer) write(kind pocketdock.StreamKind, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := &b.stdout
	if kind == pocketdock.StderrStream {
		buf = &b.stderr
	}
	*buf = append(*buf, data...)
	if excess := len(*buf) - b.half; excess > 0 {
		*buf = append((*buf)[:0], (*buf)[excess:]...)
		b.overflow = true
	}
}

// read drains the buffer and returns the snapshot.
func (b *ringBuffer) read() pocketdock.BufferSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := pocketdock.BufferSnapshot{
		Stdout: string(b.stdout),
		Stderr: string(b.stderr),
	}
	b.stdout = b.stdout[:0]
	b.stderr = b.stderr[:0]
	return snapshot
}

// peek copies the buffered output without draining it.
func (b *ringBuffer) peek() pocketdock.BufferSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return pocketdock.BufferSnapshot{
		Stdout: string(b.stdout),
		Stderr: string(b.stderr),
	}
}

func (b *ringBuffer) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stdout) + len(b.stderr)
}

func (b *ringBuffer) overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}
