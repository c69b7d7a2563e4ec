package session

import (
	"sync"

	"gdb-bridge/internal/protocol"
)

// RingBuffer keeps the most recent output chunks of a debugger so that the
// status endpoint can show what it printed last.
type RingBuffer struct {
	mu    sync.RWMutex
	slots []protocol.ProcessOutput
	head  int // index of the oldest chunk
	count int
}

// NewRingBuffer creates a ring buffer holding up to capacity chunks. A
// capacity below one keeps nothing.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &RingBuffer{slots: make([]protocol.ProcessOutput, capacity)}
}

// Write records a chunk, evicting the oldest one when full.
func (rb *RingBuffer) Write(out protocol.ProcessOutput) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.slots)
	if size == 0 {
		return
	}
	if rb.count < size {
		rb.slots[(rb.head+rb.count)%size] = out
		rb.count++
		return
	}
	rb.slots[rb.head] = out
	rb.head = (rb.head + 1) % size
}

// Len reports how many chunks are buffered.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// ReadAll returns the buffered chunks oldest first.
func (rb *RingBuffer) ReadAll() []protocol.ProcessOutput {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]protocol.ProcessOutput, rb.count)
	for i := range out {
		out[i] = rb.slots[(rb.head+i)%len(rb.slots)]
	}
	return out
}
