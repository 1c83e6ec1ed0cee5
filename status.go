package golive

import (
	"fmt"
	"time"
)

// StatusKind classifies session status reports.
type StatusKind int

const (
	// Dialing the ingest server.
	StatusConnecting StatusKind = iota
	// Transport open and the encoder running.
	StatusLive
	// Encoder paused because the transport backlog is too large.
	StatusCongested
	// Transport lost; Attempt and Delay describe the next try.
	StatusReconnecting
	// The encoder reported an error. The session carries on.
	StatusEncoderError
	// The session ended normally, by request of the user or the server.
	StatusEnded
	// The session ended with Err.
	StatusFailed
)

func (k StatusKind) String() string {
	switch k {
	case StatusConnecting:
		return "connecting"
	case StatusLive:
		return "live"
	case StatusCongested:
		return "congested"
	case StatusReconnecting:
		return "reconnecting"
	case StatusEncoderError:
		return "encoder-error"
	case StatusEnded:
		return "ended"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("StatusKind(%d)", int(k))
	}
}

// A Status is one user-visible change in a session.
type Status struct {
	Kind    StatusKind
	Attempt int
	Delay   time.Duration
	Err     error
}

func (s Status) String() string {
	switch s.Kind {
	case StatusReconnecting:
		return fmt.Sprintf("reconnecting (attempt %d in %v)", s.Attempt, s.Delay)
	case StatusEncoderError, StatusFailed:
		return fmt.Sprintf("%s: %v", s.Kind, s.Err)
	}
	return s.Kind.String()
}

// Final reports whether s is the last status of a session.
func (s Status) Final() bool {
	return s.Kind == StatusEnded || s.Kind == StatusFailed
}

// Stats is a point-in-time summary of a session.
type Stats struct {
	State string

	// Chunks produced by the encoder.
	Emitted uint64

	// Chunks and bytes handed to the transport. Chunks still queued on a
	// connection that died are counted here and again in Discarded.
	Sent      uint64
	SentBytes uint64

	// Chunks and bytes the transport accepted but lost with its connection.
	Discarded      int
	DiscardedBytes int

	// Device packets dropped because the encoder fell behind.
	Dropped uint64

	// Overflow buffer contents and lifetime evictions.
	Queued      int
	QueuedBytes int
	Evicted     uint64

	// Bytes accepted by the transport but not yet written.
	Backlog int

	Connects    int
	Reconnects  int
	Congestions int
	Acks        int
	Congested   bool
}
