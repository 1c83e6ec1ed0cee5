// Package transport carries a broadcast to the ingest server over a websocket.
// Media chunks travel as binary frames and control messages as JSON text
// frames. Sends never block: frames are queued to a writer goroutine, and the
// number of queued bytes is exposed as the channel's backlog.
package transport

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/http/httpproxy"
	errors "golang.org/x/xerrors"

	"github.com/lanikai/golive/internal/logging"
	"github.com/lanikai/golive/internal/media"
)

var log = logging.DefaultLogger.WithTag("transport")

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultCloseTimeout   = time.Second

	// Largest text frame accepted from the server.
	maxControlSize = 64 * 1024
)

// State of a Channel.
type State int32

const (
	Idle State = iota
	Connecting
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "invalid"
	}
}

// A Handler receives inbound events from a Channel. Both methods are called
// from the channel's read goroutine and must not block for long.
type Handler interface {
	HandleControl(ch *Channel, f ControlFrame)

	// HandleClose is called exactly once, when the channel reaches Closed.
	// err is nil if the close was requested locally.
	HandleClose(ch *Channel, err error)
}

// DialOptions configure the websocket handshake.
type DialOptions struct {
	// Bearer token for the Authorization header. Optional.
	Token string

	// Sent as X-Session-Id so the server can correlate reconnects.
	SessionID string

	// Extra handshake headers.
	Header http.Header

	// Bound on TCP connect plus handshake. Zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// Bound on writing a single frame. Zero means DefaultWriteTimeout.
	WriteTimeout time.Duration

	// How long Close waits for the peer's close frame. Zero means
	// DefaultCloseTimeout.
	CloseTimeout time.Duration

	// Proxy selection. Nil means the HTTP_PROXY, HTTPS_PROXY and NO_PROXY
	// environment variables.
	Proxy func(*url.URL) (*url.URL, error)

	TLSClientConfig *tls.Config
}

func (o *DialOptions) setDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	if o.Proxy == nil {
		o.Proxy = httpproxy.FromEnvironment().ProxyFunc()
	}
}

func (o *DialOptions) header() http.Header {
	h := http.Header{}
	for k, v := range o.Header {
		h[k] = append([]string(nil), v...)
	}
	if o.Token != "" {
		h.Set("Authorization", "Bearer "+o.Token)
	}
	if o.SessionID != "" {
		h.Set("X-Session-Id", o.SessionID)
	}
	return h
}

type message struct {
	typ  int
	data []byte
}

// A Channel is one websocket connection to the ingest server. It is safe for
// concurrent use.
type Channel struct {
	conn    *websocket.Conn
	opts    DialOptions
	handler Handler

	state    int32 // State
	buffered int64

	// Chunks queued or in flight when the connection died.
	discarded      int64
	discardedBytes int64

	mu    sync.Mutex
	queue []message

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	finishOnce sync.Once
	err        error
}

// Dial connects to the ingest URL and returns an open channel. The dial is
// abandoned when ctx is done or opts.ConnectTimeout elapses.
func Dial(ctx context.Context, rawURL string, opts DialOptions, h Handler) (*Channel, error) {
	opts.setDefaults()

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	proxy := opts.Proxy
	dialer := websocket.Dialer{
		Proxy: func(r *http.Request) (*url.URL, error) {
			return proxy(r.URL)
		},
		HandshakeTimeout: opts.ConnectTimeout,
		TLSClientConfig:  opts.TLSClientConfig,
	}

	log.Debug("Dialing %s", rawURL)
	conn, resp, err := dialer.DialContext(ctx, rawURL, opts.header())
	if err != nil {
		if resp != nil {
			return nil, errors.Errorf("dial %s: %s: %w", rawURL, resp.Status, err)
		}
		return nil, errors.Errorf("dial %s: %w", rawURL, err)
	}
	conn.SetReadLimit(maxControlSize)

	ch := &Channel{
		conn:    conn,
		opts:    opts,
		handler: h,
		state:   int32(Open),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go ch.readLoop()
	go ch.writeLoop()
	log.Info("Connected to %s", rawURL)
	return ch, nil
}

func (ch *Channel) State() State {
	return State(atomic.LoadInt32(&ch.state))
}

func (ch *Channel) IsOpen() bool {
	return ch.State() == Open
}

// BufferedAmount returns the number of bytes queued but not yet written to
// the connection.
func (ch *Channel) BufferedAmount() int {
	return int(atomic.LoadInt64(&ch.buffered))
}

// SendChunk queues c as one binary frame.
func (ch *Channel) SendChunk(c media.Chunk) error {
	return ch.enqueue(websocket.BinaryMessage, c.Data)
}

// SendControl queues f as one text frame.
func (ch *Channel) SendControl(f ControlFrame) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	return ch.enqueue(websocket.TextMessage, data)
}

func (ch *Channel) enqueue(typ int, data []byte) error {
	ch.mu.Lock()
	if ch.State() != Open {
		ch.mu.Unlock()
		return ErrNotOpen
	}
	ch.queue = append(ch.queue, message{typ, data})
	atomic.AddInt64(&ch.buffered, int64(len(data)))
	ch.mu.Unlock()

	ch.signal()
	return nil
}

func (ch *Channel) signal() {
	select {
	case ch.wake <- struct{}{}:
	default:
	}
}

func (ch *Channel) next() (message, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.queue) == 0 {
		return message{}, false
	}
	m := ch.queue[0]
	ch.queue[0] = message{}
	ch.queue = ch.queue[1:]
	return m, true
}

// Close starts the closing handshake. Frames already queued are written
// first, and the connection is dropped if the peer has not answered within
// the close timeout. Close does not block and is safe to call repeatedly.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.State() != Open {
		ch.mu.Unlock()
		return nil
	}
	atomic.StoreInt32(&ch.state, int32(Closing))
	ch.queue = append(ch.queue, message{
		typ:  websocket.CloseMessage,
		data: websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	})
	ch.mu.Unlock()

	ch.signal()
	time.AfterFunc(ch.opts.CloseTimeout, func() {
		ch.finish(nil)
	})
	return nil
}

// Discarded returns the chunks, and their bytes, that were accepted by
// SendChunk but never written because the connection closed first.
func (ch *Channel) Discarded() (chunks, bytes int) {
	return int(atomic.LoadInt64(&ch.discarded)), int(atomic.LoadInt64(&ch.discardedBytes))
}

func (ch *Channel) discard(m message) {
	atomic.AddInt64(&ch.buffered, -int64(len(m.data)))
	if m.typ != websocket.BinaryMessage {
		return
	}
	atomic.AddInt64(&ch.discarded, 1)
	atomic.AddInt64(&ch.discardedBytes, int64(len(m.data)))
}

// Done is closed once the channel reaches Closed.
func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}

// Err returns why the channel closed, or nil while it is open or if it was
// closed locally.
func (ch *Channel) Err() error {
	select {
	case <-ch.done:
		return ch.err
	default:
		return nil
	}
}

func (ch *Channel) finish(err error) {
	ch.finishOnce.Do(func() {
		if ch.State() == Closing {
			err = nil
		}
		atomic.StoreInt32(&ch.state, int32(Closed))
		close(ch.quit)
		ch.conn.Close()

		ch.mu.Lock()
		for _, m := range ch.queue {
			if m.typ != websocket.CloseMessage {
				ch.discard(m)
			}
		}
		ch.queue = nil
		ch.mu.Unlock()
		if n, _ := ch.Discarded(); n > 0 {
			log.Debug("Discarded %d unsent chunks", n)
		}

		ch.err = err
		close(ch.done)
		if err != nil {
			log.Warn("Connection lost: %v", err)
		} else {
			log.Debug("Connection closed")
		}
		if ch.handler != nil {
			ch.handler.HandleClose(ch, err)
		}
	})
}

func (ch *Channel) writeLoop() {
	for {
		select {
		case <-ch.wake:
		case <-ch.quit:
			return
		}

		for {
			m, ok := ch.next()
			if !ok {
				break
			}
			deadline := time.Now().Add(ch.opts.WriteTimeout)

			var err error
			if m.typ == websocket.CloseMessage {
				err = ch.conn.WriteControl(m.typ, m.data, deadline)
			} else {
				ch.conn.SetWriteDeadline(deadline)
				err = ch.conn.WriteMessage(m.typ, m.data)
				if err != nil {
					ch.discard(m)
				} else {
					atomic.AddInt64(&ch.buffered, -int64(len(m.data)))
				}
			}
			if err != nil {
				ch.finish(errors.Errorf("write: %w", err))
				return
			}
		}
	}
}

func (ch *Channel) readLoop() {
	for {
		typ, data, err := ch.conn.ReadMessage()
		if err != nil {
			ch.finish(readError(err))
			return
		}

		switch typ {
		case websocket.TextMessage:
			f, err := ParseControl(data)
			if err != nil {
				log.Warn("Ignoring control frame: %v", err)
				continue
			}
			log.Trace(3, "Received %s frame", f.Type)
			if ch.handler != nil {
				ch.handler.HandleControl(ch, f)
			}
		default:
			log.Debug("Ignoring %d byte binary frame from server", len(data))
		}
	}
}
