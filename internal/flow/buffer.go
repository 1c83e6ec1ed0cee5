//////////////////////////////////////////////////////////////////////////////
//
// Bounded, order-preserving queue of undelivered chunks
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package flow

import (
	"github.com/lanikai/golive/internal/media"
)

// DefaultQueueLimit is the number of chunks held before the oldest is evicted.
const DefaultQueueLimit = 60

// OverflowBuffer is a ring of chunks waiting for the transport. It never
// holds more than its limit: pushing onto a full buffer evicts the oldest
// chunk. It is not safe for concurrent use; a session touches it from a
// single goroutine.
type OverflowBuffer struct {
	ring  []media.Chunk
	head  int // index of the oldest chunk
	n     int
	bytes int

	evicted uint64
}

func NewOverflowBuffer(limit int) *OverflowBuffer {
	if limit < 1 {
		panic("flow: overflow buffer limit must be positive")
	}
	return &OverflowBuffer{ring: make([]media.Chunk, limit)}
}

// Len returns the number of queued chunks.
func (b *OverflowBuffer) Len() int {
	return b.n
}

// Limit returns the buffer's capacity.
func (b *OverflowBuffer) Limit() int {
	return len(b.ring)
}

// Bytes returns the total payload size of queued chunks.
func (b *OverflowBuffer) Bytes() int {
	return b.bytes
}

// Evicted returns the number of chunks dropped to make room.
func (b *OverflowBuffer) Evicted() uint64 {
	return b.evicted
}

// Push appends c as the newest chunk. If the buffer is full the oldest chunk
// is evicted first; Push then reports true.
func (b *OverflowBuffer) Push(c media.Chunk) (evicted bool) {
	if b.n == len(b.ring) {
		b.dropOldest()
		evicted = true
	}
	b.ring[(b.head+b.n)%len(b.ring)] = c
	b.n++
	b.bytes += c.Len()
	return
}

// PushFront returns a chunk taken by Pop to the head of the buffer. On a full
// buffer the chunk is itself the oldest, so it is evicted instead.
func (b *OverflowBuffer) PushFront(c media.Chunk) (evicted bool) {
	if b.n == len(b.ring) {
		b.evicted++
		return true
	}
	b.head = (b.head - 1 + len(b.ring)) % len(b.ring)
	b.ring[b.head] = c
	b.n++
	b.bytes += c.Len()
	return false
}

// Pop removes and returns the oldest chunk.
func (b *OverflowBuffer) Pop() (media.Chunk, bool) {
	if b.n == 0 {
		return media.Chunk{}, false
	}
	c := b.ring[b.head]
	b.ring[b.head] = media.Chunk{}
	b.head = (b.head + 1) % len(b.ring)
	b.n--
	b.bytes -= c.Len()
	return c, true
}

// Peek returns the oldest chunk without removing it.
func (b *OverflowBuffer) Peek() (media.Chunk, bool) {
	if b.n == 0 {
		return media.Chunk{}, false
	}
	return b.ring[b.head], true
}

// Clear drops every queued chunk. Cleared chunks are not counted as evicted.
func (b *OverflowBuffer) Clear() {
	for i := range b.ring {
		b.ring[i] = media.Chunk{}
	}
	b.head, b.n, b.bytes = 0, 0, 0
}

func (b *OverflowBuffer) dropOldest() {
	c, _ := b.Pop()
	b.evicted++
	log.Trace(4, "Evicted chunk %d (%d bytes)", c.Seq, c.Len())
}
