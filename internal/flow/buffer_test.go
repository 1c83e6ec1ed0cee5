package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lanikai/golive/internal/media"
)

func chunk(seq uint64, size int) media.Chunk {
	return media.Chunk{Seq: seq, Data: make([]byte, size)}
}

func TestPushPopOrder(t *testing.T) {
	b := NewOverflowBuffer(4)
	for seq := uint64(1); seq <= 3; seq++ {
		assert.False(t, b.Push(chunk(seq, 10)))
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 30, b.Bytes())

	for seq := uint64(1); seq <= 3; seq++ {
		c, ok := b.Pop()
		assert.True(t, ok)
		assert.Equal(t, seq, c.Seq)
	}
	_, ok := b.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Bytes())
}

func TestSixtyFirstChunkEvictsOldest(t *testing.T) {
	b := NewOverflowBuffer(DefaultQueueLimit)
	for seq := uint64(1); seq <= 60; seq++ {
		assert.False(t, b.Push(chunk(seq, 1)))
	}
	assert.True(t, b.Push(chunk(61, 1)))

	assert.Equal(t, 60, b.Len())
	assert.Equal(t, uint64(1), b.Evicted())
	c, _ := b.Peek()
	assert.Equal(t, uint64(2), c.Seq)
}

func TestLengthNeverExceedsLimit(t *testing.T) {
	b := NewOverflowBuffer(5)
	for seq := uint64(1); seq <= 100; seq++ {
		b.Push(chunk(seq, 1))
		assert.True(t, b.Len() <= 5)
	}
	assert.Equal(t, uint64(95), b.Evicted())

	// The survivors are the newest five, oldest first.
	for seq := uint64(96); seq <= 100; seq++ {
		c, _ := b.Pop()
		assert.Equal(t, seq, c.Seq)
	}
}

func TestPushFront(t *testing.T) {
	b := NewOverflowBuffer(3)
	b.Push(chunk(1, 1))
	b.Push(chunk(2, 1))

	c, _ := b.Pop()
	assert.False(t, b.PushFront(c))
	c, _ = b.Peek()
	assert.Equal(t, uint64(1), c.Seq)

	// On a full buffer the returned chunk is the oldest, so it goes.
	b.Push(chunk(3, 1))
	assert.True(t, b.PushFront(chunk(0, 1)))
	assert.Equal(t, 3, b.Len())
	c, _ = b.Peek()
	assert.Equal(t, uint64(1), c.Seq)
}

func TestClear(t *testing.T) {
	b := NewOverflowBuffer(3)
	b.Push(chunk(1, 5))
	b.Push(chunk(2, 5))
	b.Clear()

	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Bytes())
	assert.Equal(t, uint64(0), b.Evicted())
	b.Push(chunk(3, 1))
	c, _ := b.Pop()
	assert.Equal(t, uint64(3), c.Seq)
}
