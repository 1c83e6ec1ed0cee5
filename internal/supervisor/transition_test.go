package supervisor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDrop = errors.New("connection reset")

func kinds(effects []Effect) []EffectKind {
	var ks []EffectKind
	for _, e := range effects {
		ks = append(ks, e.Kind)
	}
	return ks
}

func has(effects []Effect, k EffectKind) bool {
	for _, e := range effects {
		if e.Kind == k {
			return true
		}
	}
	return false
}

func open(t *testing.T) Snapshot {
	s, _ := Transition(Initial(DefaultPolicy()), Event{Kind: Start, HasDevice: true})
	s, _ = Transition(s, Event{Kind: Opened})
	require.Equal(t, Open, s.State)
	return s
}

func TestStartRequiresDevice(t *testing.T) {
	s, effects := Transition(Initial(DefaultPolicy()), Event{Kind: Start})
	assert.Equal(t, Failed, s.State)
	assert.Equal(t, ErrNoDevice, s.Err)
	assert.Equal(t, []EffectKind{ReportFailure}, kinds(effects))
	assert.False(t, has(effects, Dial))
}

func TestStartAndOpen(t *testing.T) {
	s, effects := Transition(Initial(DefaultPolicy()), Event{Kind: Start, HasDevice: true})
	assert.Equal(t, Connecting, s.State)
	assert.Equal(t, []EffectKind{ReportConnecting, Dial}, kinds(effects))

	s, effects = Transition(s, Event{Kind: Opened})
	assert.Equal(t, Open, s.State)
	assert.Equal(t, []EffectKind{StartKeepalive, SendMeta, StartEncoder, StartResumeCheck, Drain, ReportLive}, kinds(effects))
}

func TestReconnectDelaysThenFailure(t *testing.T) {
	s := open(t)

	var delays []time.Duration
	var dials int
	s, effects := Transition(s, Event{Kind: TransportClosed, Err: errDrop})
	for s.State == Reconnecting {
		for _, e := range effects {
			if e.Kind == ScheduleReconnect {
				delays = append(delays, e.Delay)
			}
		}
		s, effects = Transition(s, Event{Kind: ReconnectTimer})
		require.Equal(t, Connecting, s.State)
		dials++
		s, effects = Transition(s, Event{Kind: DialFailed, Err: errDrop})
	}

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, delays)
	assert.Equal(t, 3, dials)
	assert.Equal(t, Closing, s.State)
	assert.Equal(t, kinds(do(teardown...)), kinds(effects))
	assert.False(t, has(effects, Dial))

	s, effects = Transition(s, Event{Kind: TornDown})
	assert.Equal(t, Failed, s.State)
	require.Len(t, effects, 1)
	assert.Equal(t, ReportFailure, effects[0].Kind)
	assert.True(t, errors.Is(effects[0].Err, ErrReconnectExhausted))
	assert.True(t, errors.Is(effects[0].Err, errDrop))
	assert.Contains(t, effects[0].Err.Error(), "3 reconnect attempts")

	// Terminal: nothing further happens.
	for _, k := range []EventKind{Start, Opened, ReconnectTimer, UserStop, TransportClosed} {
		next, effects := Transition(s, Event{Kind: k})
		assert.Equal(t, s, next)
		assert.Empty(t, effects)
	}
}

func TestOpenResetsAttempts(t *testing.T) {
	s := open(t)
	s, _ = Transition(s, Event{Kind: TransportClosed, Err: errDrop})
	s, _ = Transition(s, Event{Kind: ReconnectTimer})
	s, _ = Transition(s, Event{Kind: DialFailed, Err: errDrop})
	assert.Equal(t, 2, s.Policy.Attempts)

	s, _ = Transition(s, Event{Kind: ReconnectTimer})
	s, _ = Transition(s, Event{Kind: Opened})
	assert.Equal(t, 0, s.Policy.Attempts)

	s, effects := Transition(s, Event{Kind: TransportClosed, Err: errDrop})
	assert.Equal(t, Reconnecting, s.State)
	assert.Equal(t, []EffectKind{StopKeepalive, StopResumeCheck, CloseTransport, ScheduleReconnect, ReportReconnecting}, kinds(effects))
	assert.Equal(t, time.Second, effects[3].Delay)
	assert.Equal(t, 1, effects[4].Attempt)
}

func TestStopWhileReconnecting(t *testing.T) {
	s := open(t)
	s, _ = Transition(s, Event{Kind: TransportClosed, Err: errDrop})
	require.Equal(t, Reconnecting, s.State)

	s, effects := Transition(s, Event{Kind: UserStop})
	assert.Equal(t, Closing, s.State)
	assert.Equal(t, CancelReconnect, effects[0].Kind)
	assert.True(t, has(effects, ClearBuffer))
	assert.False(t, has(effects, Dial))

	// A timer that fired anyway is stale.
	s, effects = Transition(s, Event{Kind: ReconnectTimer})
	assert.Equal(t, Closing, s.State)
	assert.Empty(t, effects)

	s, effects = Transition(s, Event{Kind: TornDown})
	assert.Equal(t, Closed, s.State)
	assert.Equal(t, []EffectKind{ReportEnded}, kinds(effects))
}

func TestTeardownOrder(t *testing.T) {
	_, effects := Transition(open(t), Event{Kind: UserStop})
	assert.Equal(t, []EffectKind{
		CancelReconnect,
		CancelDial,
		StopEncoder,
		CloseTransport,
		StopKeepalive,
		StopResumeCheck,
		ClearBuffer,
		ReleaseDevice,
	}, kinds(effects))
}

func TestServerStopIsGraceful(t *testing.T) {
	s, effects := Transition(open(t), Event{Kind: ServerStop})
	assert.Equal(t, Closing, s.State)
	assert.Nil(t, s.Err)
	assert.True(t, has(effects, ReleaseDevice))

	s, effects = Transition(s, Event{Kind: TornDown})
	assert.Equal(t, Closed, s.State)
	assert.Equal(t, []EffectKind{ReportEnded}, kinds(effects))
}

func TestStopIsIdempotent(t *testing.T) {
	s, _ := Transition(open(t), Event{Kind: UserStop})
	next, effects := Transition(s, Event{Kind: UserStop})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)

	s, _ = Transition(s, Event{Kind: TornDown})
	next, effects = Transition(s, Event{Kind: UserStop})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)
}

func TestStopBeforeStart(t *testing.T) {
	s, effects := Transition(Initial(DefaultPolicy()), Event{Kind: UserStop})
	assert.Equal(t, Closing, s.State)
	assert.False(t, has(effects, Dial))
}

func TestStopWhileConnecting(t *testing.T) {
	s, _ := Transition(Initial(DefaultPolicy()), Event{Kind: Start, HasDevice: true})
	s, effects := Transition(s, Event{Kind: UserStop})
	assert.Equal(t, Closing, s.State)
	assert.True(t, has(effects, CancelDial))

	// A dial that completes after the stop is ignored.
	next, effects := Transition(s, Event{Kind: Opened})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)
}

func TestCongestionEdges(t *testing.T) {
	s := open(t)

	s, effects := Transition(s, Event{Kind: Uncongested})
	assert.Equal(t, Open, s.State)
	assert.Empty(t, effects)

	s, effects = Transition(s, Event{Kind: Congested})
	assert.Equal(t, Degraded, s.State)
	assert.Equal(t, []EffectKind{ReportCongested}, kinds(effects))

	s, effects = Transition(s, Event{Kind: Congested})
	assert.Equal(t, Degraded, s.State)
	assert.Empty(t, effects)

	s, effects = Transition(s, Event{Kind: Uncongested})
	assert.Equal(t, Open, s.State)
	assert.Equal(t, []EffectKind{ReportLive}, kinds(effects))

	// A transport lost while degraded reconnects like any other.
	s, _ = Transition(s, Event{Kind: Congested})
	s, _ = Transition(s, Event{Kind: TransportClosed, Err: errDrop})
	assert.Equal(t, Reconnecting, s.State)
}

func TestReconnectWhileCongestedStaysDegraded(t *testing.T) {
	s := open(t)
	s, _ = Transition(s, Event{Kind: Congested})
	s, _ = Transition(s, Event{Kind: TransportClosed, Err: errDrop})
	s, _ = Transition(s, Event{Kind: ReconnectTimer})
	require.Equal(t, Connecting, s.State)

	s, effects := Transition(s, Event{Kind: Opened, Congested: true})
	assert.Equal(t, Degraded, s.State)
	assert.Equal(t, 0, s.Policy.Attempts)
	assert.Equal(t, []EffectKind{StartKeepalive, SendMeta, StartEncoder, StartResumeCheck, Drain, ReportCongested}, kinds(effects))

	// The resume check lifts it as usual.
	s, effects = Transition(s, Event{Kind: Uncongested})
	assert.Equal(t, Open, s.State)
	assert.Equal(t, []EffectKind{ReportLive}, kinds(effects))
}

func TestZeroAttemptsFailsOnFirstLoss(t *testing.T) {
	p := DefaultPolicy()
	p.MaxAttempts = 0
	s, _ := Transition(Initial(p), Event{Kind: Start, HasDevice: true})
	s, _ = Transition(s, Event{Kind: DialFailed, Err: errDrop})
	assert.Equal(t, Closing, s.State)
	assert.True(t, errors.Is(s.Err, ErrReconnectExhausted))
}

func TestNames(t *testing.T) {
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.Equal(t, "server-stop", ServerStop.String())
	assert.Equal(t, "schedule-reconnect(2s)", Effect{Kind: ScheduleReconnect, Delay: 2 * time.Second}.String())
	assert.True(t, Degraded.Live())
	assert.True(t, Failed.Terminal())
	assert.False(t, Closing.Terminal())
}
