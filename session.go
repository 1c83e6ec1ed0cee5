//////////////////////////////////////////////////////////////////////////////
//
// Session delivers a live device stream to an ingest server
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

// Package golive broadcasts a live audio/video device to an ingest server
// over a websocket. A Session segments the device output into chunks, sends
// them in order, buffers a bounded number of chunks while the connection is
// congested or down, and reconnects a bounded number of times.
package golive

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/lanikai/golive/internal/encoder"
	"github.com/lanikai/golive/internal/flow"
	"github.com/lanikai/golive/internal/logging"
	"github.com/lanikai/golive/internal/media"
	"github.com/lanikai/golive/internal/sched"
	"github.com/lanikai/golive/internal/supervisor"
	"github.com/lanikai/golive/internal/transport"
)

var log = logging.DefaultLogger.WithTag("golive")

const statusBacklog = 64

var (
	errClosedBeforeOpen = errors.New("transport closed during handshake")
	errConnectionClosed = errors.New("transport closed")
)

// Events posted to the session loop from other goroutines.
type (
	dialResult struct {
		id  uint64
		ch  *transport.Channel
		err error
	}

	// A control frame or close from the channel created by dial id.
	channelEvent struct {
		id     uint64
		ch     *transport.Channel
		frame  transport.ControlFrame
		closed bool
		err    error
	}

	reconnectFired struct {
		task *sched.Task
	}

	resumeTick struct {
		task *sched.Task
	}

	statsQuery struct {
		reply chan Stats
	}
)

// A Session owns one broadcast: its encoder, overflow buffer, transport,
// timers and, once started, the device stream. All of them are driven by a
// single goroutine; other goroutines only post events to it.
type Session struct {
	// Random identifier, sent to the server as X-Session-Id.
	ID string

	cfg    Config
	url    string
	stream *media.DeviceStream
	enc    *encoder.Encoder
	fc     *flow.Controller

	events   chan interface{}
	stopCh   chan struct{}
	stopOnce sync.Once
	started  int32
	done     chan struct{}
	status   chan Status
	statusMu sync.Mutex

	// Set before done is closed.
	err   error
	final Stats

	// Owned by the loop.
	ctx         context.Context
	snap        supervisor.Snapshot
	ch          *transport.Channel
	keepalive   *transport.Keepalive
	resumeCheck *sched.Task
	reconnect   *sched.Task
	dialCancel  context.CancelFunc
	dialID      uint64
	dialing     bool
	early       []channelEvent
	stats       Stats
}

// NewSession prepares a broadcast of stream. Nothing happens until Start.
// The session releases stream on teardown.
func NewSession(cfg Config, stream *media.DeviceStream) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	url, err := cfg.ingestURL()
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:     uuid.New().String(),
		cfg:    cfg,
		url:    url,
		stream: stream,
		events: make(chan interface{}, 16),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		status: make(chan Status, statusBacklog),
		snap:   supervisor.Initial(cfg.Reconnect),
		ctx:    context.Background(),
	}
	s.enc = encoder.New(stream, encoder.Options{Interval: cfg.ChunkInterval})
	s.fc = flow.NewController(cfg.Thresholds, flow.NewOverflowBuffer(cfg.QueueLimit), s.enc)
	s.fc.OnCongestion = s.onCongestion
	return s, nil
}

// Start connects to the ingest server and begins broadcasting. It fails at
// once if the device stream is not active. Cancelling ctx stops the session
// like Stop.
func (s *Session) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return ErrAlreadyStarted
	}
	s.ctx = ctx

	log.Info("Session %s: broadcasting %s to %s", s.ID, s.stream.Device(), s.url)
	s.apply(supervisor.Event{Kind: supervisor.Start, HasDevice: s.stream.Active()})
	if s.snap.State.Terminal() {
		s.finish()
		return s.err
	}

	go s.run()
	return nil
}

// Stop ends the session from any state and waits for teardown to finish.
// It is safe to call more than once, and before Start.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if atomic.CompareAndSwapInt32(&s.started, 0, 1) {
			s.apply(supervisor.Event{Kind: supervisor.UserStop})
			s.finish()
		}
	})
	<-s.done
}

// Done is closed once the session has ended and every resource is released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error, or nil if the session ended normally or
// has not ended.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Status delivers status changes. It is closed after the final status. If
// the reader falls behind, the oldest undelivered reports are dropped.
func (s *Session) Status() <-chan Status {
	return s.status
}

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() Stats {
	if atomic.LoadInt32(&s.started) == 0 {
		return s.collectStats()
	}
	q := statsQuery{reply: make(chan Stats, 1)}
	select {
	case s.events <- q:
		select {
		case st := <-q.reply:
			return st
		case <-s.done:
		}
	case <-s.done:
	}
	return s.final
}

// SetTrackEnabled mutes or unmutes the audio or video track of the device.
func (s *Session) SetTrackEnabled(kind media.Kind, enabled bool) error {
	return s.stream.SetTrackEnabled(kind, enabled)
}

func (s *Session) post(ev interface{}) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) run() {
	defer s.finish()

	stop := s.stopCh
	cancelled := s.ctx.Done()
	for !s.snap.State.Terminal() {
		select {
		case c := <-s.enc.Chunks():
			s.onChunk(c)

		case err := <-s.enc.Errors():
			log.Warn("Session %s: encoder: %v", s.ID, err)
			s.report(Status{Kind: StatusEncoderError, Err: err})

		case ev := <-s.events:
			s.handle(ev)

		case <-stop:
			stop = nil
			log.Info("Session %s: stop requested", s.ID)
			s.apply(supervisor.Event{Kind: supervisor.UserStop})

		case <-cancelled:
			cancelled = nil
			log.Info("Session %s: context done: %v", s.ID, s.ctx.Err())
			s.apply(supervisor.Event{Kind: supervisor.UserStop})
		}
	}
}

func (s *Session) finish() {
	s.final = s.collectStats()
	s.statusMu.Lock()
	close(s.status)
	s.statusMu.Unlock()
	close(s.done)
	if s.err != nil {
		log.Error("Session %s failed: %v", s.ID, s.err)
	} else {
		log.Info("Session %s ended: %d chunks sent, %d evicted", s.ID, s.final.Sent, s.final.Evicted)
	}
}

// apply runs one supervisor transition and carries out its effects. A
// transition into Closing is completed here, since every teardown effect is
// synchronous.
func (s *Session) apply(e supervisor.Event) {
	prev := s.snap.State
	next, effects := supervisor.Transition(s.snap, e)
	s.snap = next
	if next.State != prev {
		log.Debug("Session %s: %s -> %s on %s", s.ID, prev, next.State, e)
	}
	for _, eff := range effects {
		log.Trace(3, "Session %s: %s", s.ID, eff)
		s.execute(eff)
	}
	if next.State == supervisor.Closing && prev != supervisor.Closing {
		s.apply(supervisor.Event{Kind: supervisor.TornDown})
	}
}

func (s *Session) execute(eff supervisor.Effect) {
	switch eff.Kind {
	case supervisor.Dial:
		s.dial()

	case supervisor.CancelDial:
		if s.dialCancel != nil {
			s.dialCancel()
			s.dialCancel = nil
		}
		// Results of the abandoned dial are stale from now on.
		s.dialID++
		s.dialing = false
		s.early = nil

	case supervisor.StartKeepalive:
		s.keepalive = transport.StartKeepalive(s.ch, s.cfg.PingInterval)

	case supervisor.StopKeepalive:
		s.keepalive.Stop()
		s.keepalive = nil

	case supervisor.SendMeta:
		if err := s.ch.SendControl(transport.NewMeta(s.cfg.FPS)); err != nil {
			log.Warn("Session %s: send meta: %v", s.ID, err)
		}

	case supervisor.StartEncoder:
		// The encoder keeps running across reconnects.
		if s.enc.State() != encoder.Stopped {
			return
		}
		if err := s.enc.Start(); err != nil {
			log.Warn("Session %s: start encoder: %v", s.ID, err)
			s.report(Status{Kind: StatusEncoderError, Err: err})
		}

	case supervisor.StopEncoder:
		s.enc.Stop()

	case supervisor.StartResumeCheck:
		s.resumeCheck.Cancel()
		s.resumeCheck = sched.Every(s.cfg.ResumeCheckInterval, func(t *sched.Task) {
			s.post(resumeTick{t})
		})

	case supervisor.StopResumeCheck:
		s.resumeCheck.Cancel()
		s.resumeCheck = nil

	case supervisor.Drain:
		s.fc.Drain(s.channel())

	case supervisor.CloseTransport:
		if s.ch != nil {
			s.ch.Close()
			s.ch = nil
		}

	case supervisor.ClearBuffer:
		if n := s.fc.Buffer().Len(); n > 0 {
			log.Debug("Session %s: discarding %d queued chunks", s.ID, n)
		}
		s.fc.Reset()

	case supervisor.ScheduleReconnect:
		s.reconnect.Cancel()
		s.reconnect = sched.After(eff.Delay, func(t *sched.Task) {
			s.post(reconnectFired{t})
		})
		s.stats.Reconnects++

	case supervisor.CancelReconnect:
		s.reconnect.Cancel()
		s.reconnect = nil

	case supervisor.ReleaseDevice:
		if err := s.stream.Stop(); err != nil {
			log.Warn("Session %s: release %s: %v", s.ID, s.stream.Device(), err)
		}

	case supervisor.ReportConnecting:
		s.report(Status{Kind: StatusConnecting})
	case supervisor.ReportLive:
		s.report(Status{Kind: StatusLive})
	case supervisor.ReportCongested:
		s.report(Status{Kind: StatusCongested})
	case supervisor.ReportReconnecting:
		log.Warn("Session %s: reconnect attempt %d in %v", s.ID, eff.Attempt, eff.Delay)
		s.report(Status{Kind: StatusReconnecting, Attempt: eff.Attempt, Delay: eff.Delay})
	case supervisor.ReportEnded:
		s.report(Status{Kind: StatusEnded})
	case supervisor.ReportFailure:
		s.err = eff.Err
		s.report(Status{Kind: StatusFailed, Err: eff.Err})
	}
}

func (s *Session) dial() {
	s.dialID++
	id := s.dialID
	ctx, cancel := context.WithCancel(s.ctx)
	s.dialCancel = cancel
	s.dialing = true
	s.early = nil

	opts := transport.DialOptions{
		Token:          s.cfg.Token,
		SessionID:      s.ID,
		ConnectTimeout: s.cfg.ConnectTimeout,
	}
	h := &channelHandler{s: s, id: id}
	go func() {
		ch, err := transport.Dial(ctx, s.url, opts, h)
		cancel()
		if !s.post(dialResult{id, ch, err}) && ch != nil {
			ch.Close()
		}
	}()
}

func (s *Session) handle(ev interface{}) {
	switch ev := ev.(type) {
	case dialResult:
		s.onDialResult(ev)

	case channelEvent:
		if ev.closed {
			n, bytes := ev.ch.Discarded()
			s.stats.Discarded += n
			s.stats.DiscardedBytes += bytes
		}
		if ev.id != s.dialID {
			return
		}
		if s.dialing {
			// The channel's read loop got ahead of the dial result.
			s.early = append(s.early, ev)
			return
		}
		s.onChannelEvent(ev)

	case reconnectFired:
		if ev.task != s.reconnect {
			return
		}
		s.reconnect = nil
		s.apply(supervisor.Event{Kind: supervisor.ReconnectTimer})

	case resumeTick:
		if ev.task != s.resumeCheck {
			return
		}
		s.fc.CheckResume(s.channel())

	case statsQuery:
		ev.reply <- s.collectStats()
	}
}

func (s *Session) onDialResult(r dialResult) {
	if r.id != s.dialID || !s.dialing {
		if r.ch != nil {
			r.ch.Close()
		}
		return
	}
	s.dialing = false
	s.dialCancel = nil
	early := s.early
	s.early = nil

	switch {
	case r.err != nil:
		log.Warn("Session %s: %v", s.ID, r.err)
		s.apply(supervisor.Event{Kind: supervisor.DialFailed, Err: r.err})
		return
	case !r.ch.IsOpen():
		err := r.ch.Err()
		if err == nil {
			err = errClosedBeforeOpen
		}
		s.apply(supervisor.Event{Kind: supervisor.DialFailed, Err: err})
		return
	}

	s.ch = r.ch
	s.stats.Connects++
	s.apply(supervisor.Event{Kind: supervisor.Opened, Congested: s.fc.Congested()})
	for _, ev := range early {
		s.onChannelEvent(ev)
	}
}

func (s *Session) onChannelEvent(ev channelEvent) {
	if ev.ch != s.ch {
		return
	}
	if ev.closed {
		err := ev.err
		if err == nil {
			err = errConnectionClosed
		}
		s.apply(supervisor.Event{Kind: supervisor.TransportClosed, Err: err})
		return
	}

	switch f := ev.frame; {
	case f.IsStop():
		log.Info("Session %s: server requested stop", s.ID)
		s.apply(supervisor.Event{Kind: supervisor.ServerStop})
	case f.Type == transport.TypeAck:
		s.stats.Acks++
		s.fc.Drain(s.channel())
	default:
		log.Debug("Session %s: ignoring %s frame", s.ID, f.Type)
	}
}

func (s *Session) onChunk(c media.Chunk) {
	s.stats.Emitted++
	d := s.fc.Offer(s.channel(), c)
	log.Trace(4, "Session %s: chunk %d (%d bytes) %s", s.ID, c.Seq, c.Len(), d)
}

func (s *Session) onCongestion(congested bool) {
	if congested {
		s.stats.Congestions++
		s.apply(supervisor.Event{Kind: supervisor.Congested})
	} else {
		s.apply(supervisor.Event{Kind: supervisor.Uncongested})
	}
}

// channel returns the open transport as a flow.Channel, or nil. A nil
// *transport.Channel must not become a non-nil interface.
func (s *Session) channel() flow.Channel {
	if s.ch == nil {
		return nil
	}
	return s.ch
}

// report queues a status for the reader. A slow reader loses the oldest
// reports, never the newest.
func (s *Session) report(st Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	for {
		select {
		case s.status <- st:
			return
		default:
		}
		select {
		case <-s.status:
		default:
		}
	}
}

func (s *Session) collectStats() Stats {
	st := s.stats
	st.State = s.snap.State.String()
	st.Sent, st.SentBytes = s.fc.Sent()
	st.Queued = s.fc.Buffer().Len()
	st.QueuedBytes = s.fc.Buffer().Bytes()
	st.Evicted = s.fc.Buffer().Evicted()
	st.Congested = s.fc.Congested()
	for _, t := range s.stream.Tracks() {
		st.Dropped += t.Dropped()
	}
	if s.ch != nil {
		st.Backlog = s.ch.BufferedAmount()
	}
	return st
}

// channelHandler forwards transport callbacks to the session loop, tagged
// with the dial that created the channel.
type channelHandler struct {
	s  *Session
	id uint64
}

func (h *channelHandler) HandleControl(ch *transport.Channel, f transport.ControlFrame) {
	h.s.post(channelEvent{id: h.id, ch: ch, frame: f})
}

func (h *channelHandler) HandleClose(ch *transport.Channel, err error) {
	h.s.post(channelEvent{id: h.id, ch: ch, closed: true, err: err})
}
