// Package flow decides, chunk by chunk, whether media goes to the transport
// now or waits in the overflow buffer, and pauses the encoder while the
// transport is congested.
package flow

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/golive/internal/logging"
	"github.com/lanikai/golive/internal/media"
)

var log = logging.DefaultLogger.WithTag("flow")

const (
	DefaultMaxBufferedBytes    = 5000000
	DefaultResumeBufferedBytes = 1000000

	// Period of the backlog poll that resumes a congested encoder.
	DefaultResumeCheckInterval = 500 * time.Millisecond
)

var errThresholds = errors.New("flow: resume threshold must be positive and below the pause threshold")

// Thresholds on the transport backlog, in bytes. The encoder pauses when the
// backlog exceeds MaxBufferedBytes and resumes once it is at or below
// ResumeBufferedBytes.
type Thresholds struct {
	MaxBufferedBytes    int `yaml:"max_buffered_bytes"`
	ResumeBufferedBytes int `yaml:"resume_buffered_bytes"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxBufferedBytes:    DefaultMaxBufferedBytes,
		ResumeBufferedBytes: DefaultResumeBufferedBytes,
	}
}

func (t Thresholds) Validate() error {
	if t.ResumeBufferedBytes <= 0 || t.ResumeBufferedBytes >= t.MaxBufferedBytes {
		return errors.Wrapf(errThresholds, "pause at %d, resume at %d", t.MaxBufferedBytes, t.ResumeBufferedBytes)
	}
	return nil
}

// Channel is the transport as seen by the controller.
type Channel interface {
	// IsOpen reports whether chunks can be sent.
	IsOpen() bool

	// BufferedAmount returns the number of bytes accepted but not yet
	// written to the network.
	BufferedAmount() int

	// SendChunk queues c for transmission without blocking.
	SendChunk(c media.Chunk) error
}

// Pauser is the encoder as seen by the controller.
type Pauser interface {
	Pause() error
	Resume() error
}

// Decision records what Offer did with a chunk.
type Decision int

const (
	// Sent directly to the transport.
	Sent Decision = iota
	// Queued because the transport is not open, or behind earlier queued chunks.
	Queued
	// Queued because the transport backlog is over the pause threshold.
	Congested
)

func (d Decision) String() string {
	switch d {
	case Sent:
		return "sent"
	case Queued:
		return "queued"
	case Congested:
		return "congested"
	default:
		return "invalid"
	}
}

// A Controller routes chunks between the transport and the overflow buffer.
// Chunks reach the transport in the order they were offered, less any the
// buffer evicted. Like the buffer it owns, a Controller must be used from a
// single goroutine.
type Controller struct {
	thresholds Thresholds
	buffer     *OverflowBuffer
	encoder    Pauser

	// Set while the encoder is paused for congestion.
	congested bool

	// OnCongestion, if set, is called on every congestion edge: true when the
	// encoder is paused, false when it is resumed.
	OnCongestion func(congested bool)

	sent      uint64
	sentBytes uint64
}

func NewController(t Thresholds, buffer *OverflowBuffer, encoder Pauser) *Controller {
	return &Controller{
		thresholds: t,
		buffer:     buffer,
		encoder:    encoder,
	}
}

// Buffer returns the controller's overflow buffer.
func (fc *Controller) Buffer() *OverflowBuffer {
	return fc.buffer
}

// Congested reports whether the encoder is paused for congestion.
func (fc *Controller) Congested() bool {
	return fc.congested
}

// Sent returns the number of chunks and bytes handed to the transport.
func (fc *Controller) Sent() (chunks, bytes uint64) {
	return fc.sent, fc.sentBytes
}

// Offer decides the fate of one freshly emitted chunk. ch may be nil when no
// transport exists.
func (fc *Controller) Offer(ch Channel, c media.Chunk) Decision {
	if ch == nil || !ch.IsOpen() {
		fc.queue(c)
		return Queued
	}

	if backlog := ch.BufferedAmount(); backlog > fc.thresholds.MaxBufferedBytes {
		fc.queue(c)
		fc.pause(backlog)
		return Congested
	}

	// Never overtake a queued chunk.
	if fc.buffer.Len() > 0 {
		fc.queue(c)
		fc.Drain(ch)
		return Queued
	}

	if err := ch.SendChunk(c); err != nil {
		log.Debug("Send chunk %d failed, queueing: %v", c.Seq, err)
		fc.queue(c)
		return Queued
	}
	fc.count(c)
	return Sent
}

// Drain sends queued chunks, oldest first, while the transport is open and
// its backlog allows. A chunk that would push the backlog over the pause
// threshold goes back to the head of the buffer. Drain returns the number of
// chunks sent.
func (fc *Controller) Drain(ch Channel) (n int) {
	for fc.buffer.Len() > 0 {
		if ch == nil || !ch.IsOpen() {
			break
		}
		backlog := ch.BufferedAmount()
		if backlog > fc.thresholds.MaxBufferedBytes {
			break
		}

		c, _ := fc.buffer.Pop()
		if backlog > 0 && backlog+c.Len() > fc.thresholds.MaxBufferedBytes {
			fc.buffer.PushFront(c)
			break
		}
		if err := ch.SendChunk(c); err != nil {
			log.Debug("Drain stopped at chunk %d: %v", c.Seq, err)
			fc.buffer.PushFront(c)
			break
		}
		fc.count(c)
		n++
	}

	if n > 0 {
		log.Debug("Drained %d chunks, %d still queued", n, fc.buffer.Len())
	}
	return n
}

// CheckResume is the periodic backlog poll. If the encoder is paused for
// congestion and the backlog has fallen to the resume threshold, it resumes
// the encoder and drains the buffer. It is the only place a congestion pause
// is lifted.
func (fc *Controller) CheckResume(ch Channel) bool {
	if !fc.congested || ch == nil || !ch.IsOpen() {
		return false
	}
	backlog := ch.BufferedAmount()
	if backlog > fc.thresholds.ResumeBufferedBytes {
		log.Trace(4, "Still congested: backlog %d bytes", backlog)
		return false
	}

	fc.congested = false
	if err := fc.encoder.Resume(); err != nil {
		log.Debug("Resume encoder: %v", err)
	}
	log.Info("Congestion cleared: backlog %d bytes, resuming encoder", backlog)
	if fc.OnCongestion != nil {
		fc.OnCongestion(false)
	}
	fc.Drain(ch)
	return true
}

// Reset clears the buffer and forgets congestion. Used on session teardown.
func (fc *Controller) Reset() {
	fc.buffer.Clear()
	fc.congested = false
}

func (fc *Controller) queue(c media.Chunk) {
	if fc.buffer.Push(c) {
		log.Debug("Overflow buffer full (%d chunks), dropped oldest", fc.buffer.Limit())
	}
}

func (fc *Controller) pause(backlog int) {
	if fc.congested {
		return
	}
	fc.congested = true
	if err := fc.encoder.Pause(); err != nil {
		log.Debug("Pause encoder: %v", err)
	}
	log.Warn("Congested: backlog %d bytes over %d, pausing encoder", backlog, fc.thresholds.MaxBufferedBytes)
	if fc.OnCongestion != nil {
		fc.OnCongestion(true)
	}
}

func (fc *Controller) count(c media.Chunk) {
	fc.sent++
	fc.sentBytes += uint64(c.Len())
}
