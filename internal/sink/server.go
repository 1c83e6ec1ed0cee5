// Package sink is a development ingest server. It terminates broadcast
// websockets at <prefix>/<key>, records binary frames per stream key,
// acknowledges every few chunks and can ask a broadcaster to stop. It does
// no transcoding.
package sink

import (
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/lanikai/golive/internal/logging"
	"github.com/lanikai/golive/internal/transport"
)

var log = logging.DefaultLogger.WithTag("sink")

const (
	DefaultAckEvery     = 8
	DefaultMaxChunkSize = 16 << 20
)

var (
	errNoStream    = errors.New("no such stream")
	errNotLive     = errors.New("stream not connected")
	writeWait      = 5 * time.Second
	upgradeBufSize = 1024
)

type Options struct {
	// Directory for recordings, one file per stream key. Empty discards media.
	Dir string

	// Path under which stream keys are served. Defaults to /live.
	PathPrefix string

	// Send an ack after this many chunks. Defaults to DefaultAckEvery.
	AckEvery int

	// If set, broadcasters must present this bearer token.
	Token string

	// Largest accepted binary frame. Defaults to DefaultMaxChunkSize.
	MaxChunkSize int64

	// OnChunk, if set, is called with every binary frame received, in order.
	OnChunk func(key string, data []byte)
}

// Stats describes everything received for one stream key.
type Stats struct {
	Key         string
	SessionID   string
	Connections int
	Chunks      uint64
	Bytes       uint64
	Pings       int
	FPS         int
	Live        bool
}

type stream struct {
	key   string
	out   io.WriteCloser
	stats Stats

	// Current connection, nil between connections.
	conn    *websocket.Conn
	writeMu sync.Mutex

	// Serializes writes to out. Taken before Server.mu.
	recMu sync.Mutex
}

func (st *stream) send(conn *websocket.Conn, f transport.ControlFrame) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// A Server is an http.Handler for broadcast websockets.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	streams map[string]*stream
}

func NewServer(opts Options) *Server {
	if opts.PathPrefix == "" {
		opts.PathPrefix = transport.DefaultPathPrefix
	}
	opts.PathPrefix = "/" + strings.Trim(opts.PathPrefix, "/")
	if opts.AckEvery <= 0 {
		opts.AckEvery = DefaultAckEvery
	}
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = DefaultMaxChunkSize
	}
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  upgradeBufSize,
			WriteBufferSize: upgradeBufSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		streams: make(map[string]*stream),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, s.opts.PathPrefix+"/")
	if key == r.URL.Path || key == "" {
		http.NotFound(w, r)
		return
	}
	if s.opts.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.opts.MaxChunkSize)

	st, err := s.attach(key, r.Header.Get("X-Session-Id"), conn)
	if err != nil {
		log.Error("Stream %s: %v", key, err)
		return
	}
	defer s.detach(st, conn)

	log.Info("Stream %s connected from %s", key, r.RemoteAddr)
	s.serve(st, conn)
}

func (s *Server) attach(key, sessionID string, conn *websocket.Conn) (*stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[key]
	if !ok {
		st = &stream{key: key, stats: Stats{Key: key}}
		if s.opts.Dir == "" {
			st.out = nopCloser{io.Discard}
		} else {
			fs, err := NewFileSink(recordingPath(s.opts.Dir, key))
			if err != nil {
				return nil, errors.Wrap(err, "open recording")
			}
			st.out = fs
		}
		s.streams[key] = st
	}

	// A new connection replaces a stale one for the same key.
	if st.conn != nil {
		log.Debug("Stream %s: replacing previous connection", key)
		st.conn.Close()
	}
	st.conn = conn
	st.stats.SessionID = sessionID
	st.stats.Connections++
	st.stats.Live = true
	return st, nil
}

func (s *Server) detach(st *stream, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.conn == conn {
		st.conn = nil
		st.stats.Live = false
	}
	log.Info("Stream %s disconnected (%d chunks so far)", st.key, st.stats.Chunks)
}

func (s *Server) serve(st *stream, conn *websocket.Conn) {
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("Stream %s: %v", st.key, err)
			}
			return
		}

		switch typ {
		case websocket.BinaryMessage:
			if err := s.record(st, conn, data); err != nil {
				log.Error("Stream %s: %v", st.key, err)
				return
			}
		case websocket.TextMessage:
			s.control(st, conn, data)
		}
	}
}

func (s *Server) record(st *stream, conn *websocket.Conn, data []byte) error {
	st.recMu.Lock()
	defer st.recMu.Unlock()

	// A replaced connection may still be delivering frames. Only the current
	// one is recorded.
	s.mu.Lock()
	current := st.conn == conn
	s.mu.Unlock()
	if !current {
		log.Debug("Stream %s: dropping %d bytes from replaced connection", st.key, len(data))
		return nil
	}

	if _, err := st.out.Write(data); err != nil {
		return errors.Wrap(err, "write recording")
	}
	if s.opts.OnChunk != nil {
		s.opts.OnChunk(st.key, data)
	}

	s.mu.Lock()
	st.stats.Chunks++
	st.stats.Bytes += uint64(len(data))
	ack := st.stats.Chunks%uint64(s.opts.AckEvery) == 0
	s.mu.Unlock()

	if ack {
		if err := st.send(conn, transport.NewAck()); err != nil {
			log.Debug("Stream %s: ack: %v", st.key, err)
		}
	}
	return nil
}

func (s *Server) control(st *stream, conn *websocket.Conn, data []byte) {
	f, err := transport.ParseControl(data)
	if err != nil {
		log.Warn("Stream %s: %v", st.key, err)
		return
	}

	switch f.Type {
	case transport.TypeMeta:
		s.mu.Lock()
		st.stats.FPS = f.FPS
		s.mu.Unlock()
		log.Info("Stream %s: %d fps", st.key, f.FPS)
	case transport.TypePing:
		s.mu.Lock()
		st.stats.Pings++
		s.mu.Unlock()
		if err := st.send(conn, transport.NewAck()); err != nil {
			log.Debug("Stream %s: ack: %v", st.key, err)
		}
	default:
		log.Debug("Stream %s: ignoring %s frame", st.key, f.Type)
	}
}

func (s *Server) live(key string) (*stream, *websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[key]
	if !ok {
		return nil, nil, errors.Wrap(errNoStream, key)
	}
	if st.conn == nil {
		return nil, nil, errors.Wrap(errNotLive, key)
	}
	return st, st.conn, nil
}

// Stop asks the broadcaster of key to end its session.
func (s *Server) Stop(key string) error {
	st, conn, err := s.live(key)
	if err != nil {
		return err
	}
	log.Info("Stream %s: requesting stop", key)
	return st.send(conn, transport.NewStop())
}

// Drop closes the connection for key without a closing handshake, as a
// network failure would.
func (s *Server) Drop(key string) error {
	_, conn, err := s.live(key)
	if err != nil {
		return err
	}
	log.Info("Stream %s: dropping connection", key)
	return conn.Close()
}

func (s *Server) Stats(key string) (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[key]
	if !ok {
		return Stats{}, false
	}
	return st.stats, true
}

// Keys returns every stream key seen, sorted.
func (s *Server) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.streams))
	for k := range s.streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close disconnects every stream and closes their recordings.
func (s *Server) Close() error {
	s.mu.Lock()
	streams := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		if st.conn != nil {
			st.conn.Close()
		}
		streams = append(streams, st)
	}
	s.mu.Unlock()

	var first error
	for _, st := range streams {
		st.recMu.Lock()
		if err := st.out.Close(); err != nil && first == nil {
			first = err
		}
		st.recMu.Unlock()
	}
	return first
}
