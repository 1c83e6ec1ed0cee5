package supervisor

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNoDevice is the terminal error of a session started without an
	// active device stream.
	ErrNoDevice = errors.New("no active device stream")

	// ErrReconnectExhausted matches the terminal error of a session that ran
	// out of reconnect attempts.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// ExhaustedError is the terminal error after the transport failed once more
// than the policy allows.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d reconnect attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrReconnectExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Teardown order: nothing new may be dialed, then nothing new may be
// produced, then the transport goes, then the timers, then queued data, and
// the device last.
var teardown = []EffectKind{
	CancelReconnect,
	CancelDial,
	StopEncoder,
	CloseTransport,
	StopKeepalive,
	StopResumeCheck,
	ClearBuffer,
	ReleaseDevice,
}

// Transition returns the state that follows s on event e, and the effects to
// carry out, in order. Events that make no sense in the current state are
// stale and produce no change.
func Transition(s Snapshot, e Event) (Snapshot, []Effect) {
	switch s.State {
	case Idle:
		switch e.Kind {
		case Start:
			if !e.HasDevice {
				s.State = Failed
				s.Err = ErrNoDevice
				return s, []Effect{{Kind: ReportFailure, Err: ErrNoDevice}}
			}
			s.State = Connecting
			return s, do(ReportConnecting, Dial)
		case UserStop:
			return closing(s, nil)
		}

	case Connecting:
		switch e.Kind {
		case Opened:
			s.Policy.Attempts = 0
			if e.Congested {
				s.State = Degraded
				return s, do(StartKeepalive, SendMeta, StartEncoder, StartResumeCheck, Drain, ReportCongested)
			}
			s.State = Open
			return s, do(StartKeepalive, SendMeta, StartEncoder, StartResumeCheck, Drain, ReportLive)
		case DialFailed:
			return lost(s, e.Err)
		case UserStop:
			return closing(s, nil)
		}

	case Open, Degraded:
		switch e.Kind {
		case Congested:
			if s.State == Open {
				s.State = Degraded
				return s, do(ReportCongested)
			}
		case Uncongested:
			if s.State == Degraded {
				s.State = Open
				return s, do(ReportLive)
			}
		case TransportClosed:
			next, effects := lost(s, e.Err)
			if next.State == Reconnecting {
				effects = append(do(StopKeepalive, StopResumeCheck, CloseTransport), effects...)
			}
			return next, effects
		case ServerStop, UserStop:
			return closing(s, nil)
		}

	case Reconnecting:
		switch e.Kind {
		case ReconnectTimer:
			s.State = Connecting
			return s, do(ReportConnecting, Dial)
		case UserStop:
			return closing(s, nil)
		}

	case Closing:
		if e.Kind == TornDown {
			if s.Err != nil {
				s.State = Failed
				return s, []Effect{{Kind: ReportFailure, Err: s.Err}}
			}
			s.State = Closed
			return s, do(ReportEnded)
		}
	}

	return s, nil
}

func closing(s Snapshot, err error) (Snapshot, []Effect) {
	s.State = Closing
	s.Err = err
	return s, do(teardown...)
}

// lost counts a transport failure and either schedules the next attempt or
// gives up.
func lost(s Snapshot, err error) (Snapshot, []Effect) {
	s.Policy.Attempts++
	if s.Policy.Attempts > s.Policy.MaxAttempts {
		return closing(s, &ExhaustedError{Attempts: s.Policy.MaxAttempts, Last: err})
	}

	delay := s.Policy.Delay(s.Policy.Attempts)
	s.State = Reconnecting
	return s, []Effect{
		{Kind: ScheduleReconnect, Delay: delay},
		{Kind: ReportReconnecting, Attempt: s.Policy.Attempts, Delay: delay},
	}
}
