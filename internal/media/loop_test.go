package media

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureLoopSharedByTracks(t *testing.T) {
	var running, starts int32
	video := newTrack(Video, CodecRaw)
	audio := newTrack(Audio, CodecRaw)
	newCaptureLoop("fake", func(quit <-chan struct{}) error {
		atomic.AddInt32(&starts, 1)
		atomic.StoreInt32(&running, 1)
		<-quit
		atomic.StoreInt32(&running, 0)
		return nil
	}, video, audio)

	v := video.Subscribe(1)
	a := audio.Subscribe(1)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&running) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, video.Unsubscribe(v))
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&running), "audio still subscribed")

	require.NoError(t, audio.Unsubscribe(a))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&running) == 0 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&starts))
}

func TestCaptureLoopFailureEndsTracks(t *testing.T) {
	src := &TestSource{FPS: 200, VideoSize: 8, AudioSize: 8, FailAfter: 3}
	s, err := src.Acquire(&Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	defer s.Stop()

	video := s.Track(Video).Subscribe(8)
	audio := s.Track(Audio).Subscribe(8)

	var frames int
	for range video {
		frames++
	}
	assert.Equal(t, 3, frames)

	select {
	case _, ok := <-audio:
		for ok {
			_, ok = <-audio
		}
	case <-time.After(time.Second):
		t.Fatal("audio track still open")
	}

	// A failed device stays down.
	late := s.Track(Video).Subscribe(1)
	_, ok := <-late
	assert.False(t, ok)
}
