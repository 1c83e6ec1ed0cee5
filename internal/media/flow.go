package media

import (
	"sync"
)

// Flow fans packets out to subscribers. It can be embedded into a struct.
// Each subscriber has its own bounded queue; when a queue is full the oldest
// packet is dropped to make room for the newest.
type Flow struct {
	// Start is called when the first subscriber is added.
	Start func()

	// Stop is called when the last subscriber is removed, or when a flow with
	// subscribers is closed.
	Stop func()

	subscribers []chan []byte
	closed      bool

	// Packets dropped because a subscriber fell behind.
	dropped uint64

	sync.Mutex
}

// Subscribe returns a channel receiving every packet written from now on.
// Capacity must be nonzero. Subscribing to a closed flow returns a closed
// channel.
func (f *Flow) Subscribe(capacity int) <-chan []byte {
	if capacity < 1 {
		panic("media.Flow: subscriber capacity must be nonzero")
	}

	f.Lock()
	defer f.Unlock()

	s := make(chan []byte, capacity)
	if f.closed {
		close(s)
		return s
	}
	f.subscribers = append(f.subscribers, s)
	if f.Start != nil && len(f.subscribers) == 1 {
		f.Start()
	}
	return s
}

// Unsubscribe removes s and closes it. Removing the last subscriber stops the
// flow's producer asynchronously.
func (f *Flow) Unsubscribe(s <-chan []byte) error {
	f.Lock()
	defer f.Unlock()

	// See https://github.com/golang/go/wiki/SliceTricks
	for i, subscriber := range f.subscribers {
		if s == subscriber {
			subs := f.subscribers
			close(subs[i])
			subs[len(subs)-1], subs[i] = subs[i], subs[len(subs)-1]
			f.subscribers = subs[:len(subs)-1]

			if f.Stop != nil && len(f.subscribers) == 0 {
				go f.Stop()
			}
			return nil
		}
	}

	return errNotFound
}

func (f *Flow) Write(p []byte) (n int, err error) {
	f.Lock()
	defer f.Unlock()

	for _, subscriber := range f.subscribers {
		select {
		case subscriber <- p:
			continue
		default:
		}

		// Drop oldest, add newest. The subscriber may have drained the
		// queue in the meantime, so neither operation may block.
		select {
		case <-subscriber:
			f.dropped++
		default:
		}
		select {
		case subscriber <- p:
		default:
		}
		log.Trace(5, "media.Flow: subscriber missed a buffer")
	}

	return len(p), nil
}

// Dropped returns the number of packets dropped for slow subscribers.
func (f *Flow) Dropped() uint64 {
	f.Lock()
	defer f.Unlock()
	return f.dropped
}

// Close closes every subscriber channel and stops the producer. Further
// writes are discarded.
func (f *Flow) Close() error {
	f.Lock()
	if f.closed {
		f.Unlock()
		return nil
	}
	f.closed = true
	n := len(f.subscribers)
	for _, subscriber := range f.subscribers {
		close(subscriber)
	}
	f.subscribers = nil
	f.Unlock()

	// The producer may be blocked in Write, so stop it without the lock held.
	if f.Stop != nil && n > 0 {
		f.Stop()
	}
	return nil
}
