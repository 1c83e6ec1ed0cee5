package supervisor

import (
	"fmt"
	"time"
)

// EventKind enumerates what can happen to a session.
type EventKind int

const (
	// Start requested. Event.HasDevice reports whether a device stream is
	// active.
	Start EventKind = iota
	// Dial succeeded.
	Opened
	// Dial failed or timed out. Event.Err is the cause.
	DialFailed
	// An open transport closed unexpectedly. Event.Err is the cause.
	TransportClosed
	// The server sent a stop control frame.
	ServerStop
	// The flow controller paused the encoder.
	Congested
	// The flow controller resumed the encoder.
	Uncongested
	// Stop requested by the user.
	UserStop
	// The reconnect timer fired.
	ReconnectTimer
	// Every teardown effect has run.
	TornDown
)

var eventNames = [...]string{
	Start:           "start",
	Opened:          "opened",
	DialFailed:      "dial-failed",
	TransportClosed: "transport-closed",
	ServerStop:      "server-stop",
	Congested:       "congested",
	Uncongested:     "uncongested",
	UserStop:        "user-stop",
	ReconnectTimer:  "reconnect-timer",
	TornDown:        "torn-down",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventNames[k]
}

type Event struct {
	Kind      EventKind
	Err       error
	HasDevice bool

	// Set on Opened when the encoder is still paused for congestion from
	// before the reconnect.
	Congested bool
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s(%v)", e.Kind, e.Err)
	}
	return e.Kind.String()
}

// EffectKind enumerates the actions the session carries out on behalf of
// the supervisor.
type EffectKind int

const (
	Dial EffectKind = iota
	CancelDial
	StartKeepalive
	StopKeepalive
	SendMeta
	StartEncoder
	StopEncoder
	StartResumeCheck
	StopResumeCheck
	Drain
	CloseTransport
	ClearBuffer
	// Effect.Delay is the wait before the next dial.
	ScheduleReconnect
	CancelReconnect
	ReleaseDevice

	// Status reports.
	ReportConnecting
	ReportLive
	ReportCongested
	// Effect.Attempt and Effect.Delay describe the pending attempt.
	ReportReconnecting
	ReportEnded
	// Effect.Err is the terminal error.
	ReportFailure
)

var effectNames = [...]string{
	Dial:               "dial",
	CancelDial:         "cancel-dial",
	StartKeepalive:     "start-keepalive",
	StopKeepalive:      "stop-keepalive",
	SendMeta:           "send-meta",
	StartEncoder:       "start-encoder",
	StopEncoder:        "stop-encoder",
	StartResumeCheck:   "start-resume-check",
	StopResumeCheck:    "stop-resume-check",
	Drain:              "drain",
	CloseTransport:     "close-transport",
	ClearBuffer:        "clear-buffer",
	ScheduleReconnect:  "schedule-reconnect",
	CancelReconnect:    "cancel-reconnect",
	ReleaseDevice:      "release-device",
	ReportConnecting:   "report-connecting",
	ReportLive:         "report-live",
	ReportCongested:    "report-congested",
	ReportReconnecting: "report-reconnecting",
	ReportEnded:        "report-ended",
	ReportFailure:      "report-failure",
}

func (k EffectKind) String() string {
	if k < 0 || int(k) >= len(effectNames) {
		return fmt.Sprintf("EffectKind(%d)", int(k))
	}
	return effectNames[k]
}

type Effect struct {
	Kind    EffectKind
	Delay   time.Duration
	Attempt int
	Err     error
}

func (e Effect) String() string {
	switch e.Kind {
	case ScheduleReconnect:
		return fmt.Sprintf("%s(%v)", e.Kind, e.Delay)
	case ReportReconnecting:
		return fmt.Sprintf("%s(#%d in %v)", e.Kind, e.Attempt, e.Delay)
	case ReportFailure:
		return fmt.Sprintf("%s(%v)", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func do(kinds ...EffectKind) []Effect {
	effects := make([]Effect, len(kinds))
	for i, k := range kinds {
		effects[i] = Effect{Kind: k}
	}
	return effects
}
