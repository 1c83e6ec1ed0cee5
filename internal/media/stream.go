package media

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// A Track is one kind of media coming out of a device. Packets written by
// the device are delivered to subscribers only while the track is enabled.
type Track struct {
	Flow

	kind    Kind
	codec   string
	enabled int32
}

func newTrack(kind Kind, codec string) *Track {
	return &Track{kind: kind, codec: codec, enabled: 1}
}

func (t *Track) Kind() Kind {
	return t.kind
}

func (t *Track) Codec() string {
	return t.codec
}

func (t *Track) Enabled() bool {
	return atomic.LoadInt32(&t.enabled) == 1
}

func (t *Track) setEnabled(enabled bool) {
	var v int32
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&t.enabled, v)
}

// put delivers one packet from the device. Disabled tracks swallow packets.
func (t *Track) put(p []byte) {
	if !t.Enabled() {
		return
	}
	t.Write(p)
}

// A DeviceStream is the live output of an acquired device. It owns the
// device until Stop is called.
type DeviceStream struct {
	// Identifier for logs.
	ID string

	device string
	tracks []*Track

	// Device-specific cleanup (close files, stop capture).
	release func() error

	stopped  int32
	stopOnce sync.Once
	stopErr  error
}

func newDeviceStream(device string, tracks []*Track, release func() error) *DeviceStream {
	return &DeviceStream{
		ID:      uuid.New().String(),
		device:  device,
		tracks:  tracks,
		release: release,
	}
}

// Device returns the name of the device this stream was acquired from.
func (s *DeviceStream) Device() string {
	return s.device
}

// Tracks returns every track in the stream, video first.
func (s *DeviceStream) Tracks() []*Track {
	return s.tracks
}

// Track returns the track of the given kind, or nil.
func (s *DeviceStream) Track(kind Kind) *Track {
	for _, t := range s.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

// Active reports whether the stream holds the device.
func (s *DeviceStream) Active() bool {
	return s != nil && atomic.LoadInt32(&s.stopped) == 0
}

// SetTrackEnabled mutes or unmutes a track. It does not otherwise affect
// the stream.
func (s *DeviceStream) SetTrackEnabled(kind Kind, enabled bool) error {
	if !s.Active() {
		return errStreamStopped
	}
	t := s.Track(kind)
	if t == nil {
		return errNoSuchTrack
	}
	t.setEnabled(enabled)
	log.Info("%s track %s", kind, map[bool]string{true: "enabled", false: "disabled"}[enabled])
	return nil
}

// Stop releases the device. The underlying tracks are stopped exactly once,
// however many times and from however many teardown paths Stop is called.
func (s *DeviceStream) Stop() error {
	if s == nil {
		return nil
	}
	s.stopOnce.Do(func() {
		atomic.StoreInt32(&s.stopped, 1)
		for _, t := range s.tracks {
			t.Close()
		}
		if s.release != nil {
			s.stopErr = s.release()
		}
		log.Info("Released device %s (stream %s)", s.device, s.ID)
	})
	return s.stopErr
}
