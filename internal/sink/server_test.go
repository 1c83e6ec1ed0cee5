package sink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/golive/internal/media"
	"github.com/lanikai/golive/internal/transport"
)

type recorder struct {
	controls chan transport.ControlFrame
	closed   chan error
}

func newRecorder() *recorder {
	return &recorder{
		controls: make(chan transport.ControlFrame, 64),
		closed:   make(chan error, 1),
	}
}

func (r *recorder) HandleControl(ch *transport.Channel, f transport.ControlFrame) {
	r.controls <- f
}

func (r *recorder) HandleClose(ch *transport.Channel, err error) {
	r.closed <- err
}

func (r *recorder) next(t *testing.T) transport.ControlFrame {
	select {
	case f := <-r.controls:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("no control frame")
		return transport.ControlFrame{}
	}
}

func startServer(t *testing.T, opts Options) (*Server, string) {
	s := NewServer(opts)
	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return s, srv.URL
}

func dial(t *testing.T, base, key string, opts transport.DialOptions, h transport.Handler) *transport.Channel {
	u, err := transport.IngestURL(base, "", key)
	require.NoError(t, err)
	ch, err := transport.Dial(context.Background(), u, opts, h)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestRecordsChunksInOrder(t *testing.T) {
	dir := t.TempDir()
	var mu sync.Mutex
	var got []string
	s, base := startServer(t, Options{
		Dir:      dir,
		AckEvery: 3,
		OnChunk: func(key string, data []byte) {
			mu.Lock()
			got = append(got, string(data))
			mu.Unlock()
		},
	})

	r := newRecorder()
	ch := dial(t, base, "cam-1", transport.DialOptions{SessionID: "s1"}, r)
	require.NoError(t, ch.SendControl(transport.NewMeta(30)))
	for _, p := range []string{"aa", "bb", "cc", "dd"} {
		require.NoError(t, ch.SendChunk(media.Chunk{Data: []byte(p)}))
	}

	// Third chunk triggers an ack.
	assert.Equal(t, transport.TypeAck, r.next(t).Type)

	assert.Eventually(t, func() bool {
		st, _ := s.Stats("cam-1")
		return st.Chunks == 4
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"aa", "bb", "cc", "dd"}, got)
	mu.Unlock()

	st, ok := s.Stats("cam-1")
	require.True(t, ok)
	assert.Equal(t, uint64(8), st.Bytes)
	assert.Equal(t, 30, st.FPS)
	assert.Equal(t, "s1", st.SessionID)
	assert.Equal(t, 1, st.Connections)
	assert.True(t, st.Live)
	assert.Equal(t, []string{"cam-1"}, s.Keys())

	data, err := os.ReadFile(filepath.Join(dir, "cam-1.bin"))
	require.NoError(t, err)
	assert.Equal(t, "aabbccdd", string(data))
}

func TestPingIsAnswered(t *testing.T) {
	s, base := startServer(t, Options{})
	r := newRecorder()
	ch := dial(t, base, "k", transport.DialOptions{}, r)

	require.NoError(t, ch.SendControl(transport.NewPing(time.Now())))
	assert.Equal(t, transport.TypeAck, r.next(t).Type)
	st, _ := s.Stats("k")
	assert.Equal(t, 1, st.Pings)
}

func TestStopRequest(t *testing.T) {
	s, base := startServer(t, Options{})
	r := newRecorder()
	dial(t, base, "k", transport.DialOptions{}, r)

	assert.Eventually(t, func() bool {
		st, _ := s.Stats("k")
		return st.Live
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop("k"))
	assert.True(t, r.next(t).IsStop())

	assert.Error(t, s.Stop("unknown"))
}

func TestDropLooksLikeNetworkFailure(t *testing.T) {
	s, base := startServer(t, Options{})
	r := newRecorder()
	dial(t, base, "k", transport.DialOptions{}, r)

	assert.Eventually(t, func() bool { return s.Drop("k") == nil }, 5*time.Second, 5*time.Millisecond)

	select {
	case err := <-r.closed:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not close")
	}

	assert.Eventually(t, func() bool {
		st, _ := s.Stats("k")
		return !st.Live
	}, 5*time.Second, 5*time.Millisecond)
	assert.Error(t, s.Drop("k"))
}

func TestReconnectAppends(t *testing.T) {
	dir := t.TempDir()
	s, base := startServer(t, Options{Dir: dir})

	for i, p := range []string{"first", "second"} {
		ch := dial(t, base, "k", transport.DialOptions{}, nil)
		require.NoError(t, ch.SendChunk(media.Chunk{Data: []byte(p)}))
		n := uint64(i + 1)
		assert.Eventually(t, func() bool {
			st, _ := s.Stats("k")
			return st.Chunks == n
		}, 5*time.Second, 5*time.Millisecond)
		ch.Close()
		<-ch.Done()
	}

	st, _ := s.Stats("k")
	assert.Equal(t, 2, st.Connections)
	data, err := os.ReadFile(filepath.Join(dir, "k.bin"))
	require.NoError(t, err)
	assert.Equal(t, "firstsecond", string(data))
}

func TestTokenRequired(t *testing.T) {
	_, base := startServer(t, Options{Token: "secret"})
	u, err := transport.IngestURL(base, "", "k")
	require.NoError(t, err)

	_, err = transport.Dial(context.Background(), u, transport.DialOptions{Token: "wrong"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	ch, err := transport.Dial(context.Background(), u, transport.DialOptions{Token: "secret"}, nil)
	require.NoError(t, err)
	ch.Close()
}

func TestUnknownPath(t *testing.T) {
	_, base := startServer(t, Options{})
	for _, path := range []string{"/", "/live/", "/other/k"} {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestRecordingPath(t *testing.T) {
	assert.Equal(t, filepath.Join("d", "abc-1_x.bin"), recordingPath("d", "abc-1_x"))
	p := recordingPath("d", "../../etc/passwd")
	assert.Equal(t, "d", filepath.Dir(p))
	assert.False(t, strings.Contains(filepath.Base(p), "/"))
}

// overlapWriter records whether two writes ever ran at the same time.
type overlapWriter struct {
	active  int32
	overlap int32
	writes  int32
}

func (w *overlapWriter) Write(p []byte) (int, error) {
	if atomic.AddInt32(&w.active, 1) > 1 {
		atomic.StoreInt32(&w.overlap, 1)
	}
	time.Sleep(time.Millisecond)
	atomic.AddInt32(&w.writes, 1)
	atomic.AddInt32(&w.active, -1)
	return len(p), nil
}

func (w *overlapWriter) Close() error { return nil }

func TestRecordingWritesAreSerialized(t *testing.T) {
	s := NewServer(Options{AckEvery: 1000})
	out := &overlapWriter{}
	current, replaced := &websocket.Conn{}, &websocket.Conn{}
	st := &stream{key: "k", out: out, conn: current}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, s.record(st, current, []byte("chunk")))
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 0, atomic.LoadInt32(&out.overlap))
	assert.EqualValues(t, 40, atomic.LoadInt32(&out.writes))

	// Frames still arriving on a replaced connection are not recorded.
	assert.NoError(t, s.record(st, replaced, []byte("stale")))
	assert.EqualValues(t, 40, atomic.LoadInt32(&out.writes))
	assert.EqualValues(t, 40, st.stats.Chunks)
}
