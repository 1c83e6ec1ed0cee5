//////////////////////////////////////////////////////////////////////////////
//
// Chunked encoder: segments a device stream into timed chunks
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package encoder

import (
	"bytes"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/golive/internal/logging"
	"github.com/lanikai/golive/internal/media"
)

var log = logging.DefaultLogger.WithTag("encoder")

const (
	DefaultInterval = 250 * time.Millisecond

	// Packets buffered per track between the device and the encoder.
	DefaultTrackDepth = 64
)

var (
	errNotStopped   = errors.New("encoder: already started")
	errNotRecording = errors.New("encoder: not recording")
	errNotPaused    = errors.New("encoder: not paused")
	errNoDevice     = errors.New("encoder: device stream is not active")
)

// State of an Encoder.
type State int

const (
	Stopped State = iota
	Recording
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	default:
		return "invalid"
	}
}

// Options tune an Encoder. Zero values select the defaults.
type Options struct {
	// Chunk emission period.
	Interval time.Duration

	// Per-track subscription capacity, in packets.
	TrackDepth int
}

// An Encoder reads packets from every track of a device stream and emits
// them as one chunk per interval while recording. Chunks are delivered on
// an unbuffered channel: after Pause at most one chunk already emitted is
// still delivered, and after Stop none is. Empty intervals produce no chunk.
type Encoder struct {
	stream   *media.DeviceStream
	interval time.Duration
	depth    int

	chunks chan media.Chunk
	errs   chan error

	mu    sync.Mutex
	state State
	seq   uint64
	quit  chan struct{}
	done  chan struct{}
	subs  []subscription
}

type subscription struct {
	track *media.Track
	ch    <-chan []byte
}

func New(stream *media.DeviceStream, opts Options) *Encoder {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.TrackDepth <= 0 {
		opts.TrackDepth = DefaultTrackDepth
	}
	return &Encoder{
		stream:   stream,
		interval: opts.Interval,
		depth:    opts.TrackDepth,
		chunks:   make(chan media.Chunk),
		errs:     make(chan error),
	}
}

// Chunks delivers emitted chunks in sequence order.
func (e *Encoder) Chunks() <-chan media.Chunk {
	return e.chunks
}

// Errors delivers encoder failures. A failure does not stop the encoder.
func (e *Encoder) Errors() <-chan error {
	return e.errs
}

func (e *Encoder) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start subscribes to the device stream's tracks and begins periodic
// emission.
func (e *Encoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Stopped {
		return errNotStopped
	}
	if !e.stream.Active() {
		return errNoDevice
	}

	e.subs = e.subs[:0]
	for _, t := range e.stream.Tracks() {
		e.subs = append(e.subs, subscription{t, t.Subscribe(e.depth)})
	}
	e.quit = make(chan struct{})
	e.done = make(chan struct{})
	e.state = Recording

	go e.run(e.subs, e.quit, e.done)
	log.Debug("Recording %s every %v", e.stream.Device(), e.interval)
	return nil
}

// Pause suspends emission. Tracks stay subscribed; packets arriving while
// paused are discarded. Media recorded before the pause is kept and goes out
// with the first chunk after Resume.
func (e *Encoder) Pause() error {
	return e.transition(Recording, Paused, errNotRecording)
}

// Resume restarts emission after Pause.
func (e *Encoder) Resume() error {
	return e.transition(Paused, Recording, errNotPaused)
}

func (e *Encoder) transition(from, to State, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != from {
		return err
	}
	e.state = to
	log.Debug("Encoder %s", to)
	return nil
}

// Stop ends emission from any state. It waits for the emission goroutine to
// exit, and unsubscribes from the tracks without releasing the device.
// Stopping a stopped encoder does nothing.
func (e *Encoder) Stop() {
	e.mu.Lock()
	if e.state == Stopped {
		e.mu.Unlock()
		return
	}
	e.state = Stopped
	quit, done, subs := e.quit, e.done, e.subs
	e.subs = nil
	e.mu.Unlock()

	close(quit)
	<-done

	for _, s := range subs {
		s.track.Unsubscribe(s.ch)
	}
	log.Debug("Encoder stopped")
}

func (e *Encoder) recording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Recording
}

var annexBStartCode = []byte{0, 0, 0, 1}

func (e *Encoder) run(subs []subscription, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	// Fan-in: one forwarding goroutine per track keeps arrival order
	// within a track; across tracks packets interleave as they arrive.
	type packet struct {
		sub   int
		data  []byte
		ended bool
	}
	packets := make(chan packet)
	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func(i int, ch <-chan []byte) {
			defer wg.Done()
			for {
				select {
				case p, ok := <-ch:
					select {
					case packets <- packet{i, p, !ok}:
					case <-quit:
						return
					}
					if !ok {
						return
					}
				case <-quit:
					return
				}
			}
		}(i, s.ch)
	}
	defer wg.Wait()

	var buf bytes.Buffer
	for {
		select {
		case <-quit:
			return

		case p := <-packets:
			if p.ended {
				err := errors.Errorf("%s track ended", subs[p.sub].track.Kind())
				log.Warn("%v", err)
				select {
				case e.errs <- err:
				case <-quit:
					return
				}
				continue
			}
			if !e.recording() {
				continue
			}
			if subs[p.sub].track.Codec() == media.CodecH264 {
				buf.Write(annexBStartCode)
			}
			buf.Write(p.data)

		case <-ticker.C:
			// Media recorded before a pause waits for the first tick after
			// Resume.
			if !e.recording() || buf.Len() == 0 {
				continue
			}
			e.seq++
			chunk := media.Chunk{
				Seq:  e.seq,
				Data: append([]byte(nil), buf.Bytes()...),
			}
			buf.Reset()
			log.Trace(5, "Chunk %d: %d bytes", chunk.Seq, chunk.Len())
			select {
			case e.chunks <- chunk:
			case <-quit:
				return
			}
		}
	}
}
