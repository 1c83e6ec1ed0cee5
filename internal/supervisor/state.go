// Package supervisor is the connection lifecycle of a broadcast session,
// expressed as a pure transition function. It holds no resources: it only
// decides which state comes next and which effects the session must carry
// out, in order.
package supervisor

import (
	"fmt"
	"time"
)

// State of a broadcast session.
type State int

const (
	Idle State = iota
	Connecting
	Open
	// Open, but the encoder is paused for congestion.
	Degraded
	// Waiting for the reconnect timer.
	Reconnecting
	// Tearing down. Ends in Closed, or Failed if Snapshot.Err is set.
	Closing
	Closed
	Failed
)

var stateNames = [...]string{
	Idle:         "idle",
	Connecting:   "connecting",
	Open:         "open",
	Degraded:     "degraded",
	Reconnecting: "reconnecting",
	Closing:      "closing",
	Closed:       "closed",
	Failed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Live reports whether the transport is open in s.
func (s State) Live() bool {
	return s == Open || s == Degraded
}

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// ReconnectPolicy bounds reconnection. Attempts counts consecutive failures
// since the transport was last open.
type ReconnectPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Attempts    int           `yaml:"-"`
}

func DefaultPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Delay before reconnect attempt n, counting from 1.
func (p ReconnectPolicy) Delay(n int) time.Duration {
	return p.BaseDelay * time.Duration(n)
}

// A Snapshot is the complete supervisor state.
type Snapshot struct {
	State  State
	Policy ReconnectPolicy

	// Why the session is failing, set on the way into Closing.
	Err error
}

// Initial returns the snapshot of a session that has not started.
func Initial(p ReconnectPolicy) Snapshot {
	p.Attempts = 0
	return Snapshot{State: Idle, Policy: p}
}
