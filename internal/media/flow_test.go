package media

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeAndWrite(t *testing.T) {
	var f Flow

	var wg sync.WaitGroup
	var ready sync.WaitGroup

	// Hundred subscribers
	for i := 0; i < 100; i++ {
		wg.Add(1)
		ready.Add(1)
		go func() {
			defer wg.Done()
			s := f.Subscribe(1)
			ready.Done()

			p, ok := <-s
			assert.True(t, ok)
			assert.True(t, bytes.Equal(p, []byte{0xc0, 0xff, 0xee}))
		}()
	}

	ready.Wait()
	f.Write([]byte{0xc0, 0xff, 0xee})
	wg.Wait()
}

func TestWriteDropsOldest(t *testing.T) {
	var f Flow
	s := f.Subscribe(2)

	f.Write([]byte{1})
	f.Write([]byte{2})
	f.Write([]byte{3})

	assert.Equal(t, []byte{2}, <-s)
	assert.Equal(t, []byte{3}, <-s)
	assert.Equal(t, uint64(1), f.Dropped())
}

func TestStartStopHooks(t *testing.T) {
	var starts, stops int
	stopped := make(chan struct{})
	f := Flow{
		Start: func() { starts++ },
		Stop:  func() { stops++; close(stopped) },
	}

	a := f.Subscribe(1)
	b := f.Subscribe(1)
	assert.Equal(t, 1, starts)

	assert.NoError(t, f.Unsubscribe(a))
	assert.NoError(t, f.Unsubscribe(b))
	<-stopped
	assert.Equal(t, 1, stops)

	assert.Equal(t, errNotFound, f.Unsubscribe(a))
}

func TestCloseFlow(t *testing.T) {
	var f Flow
	s := f.Subscribe(4)

	assert.NoError(t, f.Close())
	_, ok := <-s
	assert.False(t, ok)

	// Writes after close are discarded; late subscribers see a closed channel.
	f.Write([]byte{1})
	_, ok = <-f.Subscribe(1)
	assert.False(t, ok)
	assert.NoError(t, f.Close())
}
