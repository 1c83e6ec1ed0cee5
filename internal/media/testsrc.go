package media

import (
	"encoding/binary"
	"strconv"
	"time"
)

// TestSource is a synthetic device. Every frame interval it writes one video
// packet and one audio packet, each stamped with its frame number.
//
// Device spec: "testsrc:<fps>" (default 30).
type TestSource struct {
	FPS int

	// Packet sizes in bytes. Minimum 8.
	VideoSize int
	AudioSize int

	// If positive, capture fails after this many frames.
	FailAfter int
}

func (src *TestSource) Name() string {
	return "testsrc:" + strconv.Itoa(src.FPS)
}

func (src *TestSource) Acquire(c *Constraints) (*DeviceStream, error) {
	if err := checkConstraints(src.Name(), c, true, true); err != nil {
		return nil, err
	}
	if src.FPS <= 0 {
		return nil, &DeviceError{src.Name(), errUnsatisfiable}
	}

	var tracks []*Track
	var video, audio *Track
	if c.Video {
		video = newTrack(Video, CodecRaw)
		tracks = append(tracks, video)
	}
	if c.Audio {
		audio = newTrack(Audio, CodecRaw)
		tracks = append(tracks, audio)
	}

	newCaptureLoop(src.Name(), func(quit <-chan struct{}) error {
		ticker := time.NewTicker(time.Second / time.Duration(src.FPS))
		defer ticker.Stop()

		var frame uint64
		for {
			select {
			case <-quit:
				return nil
			case <-ticker.C:
			}
			frame++
			if src.FailAfter > 0 && frame > uint64(src.FailAfter) {
				return errCaptureFailed
			}
			if video != nil {
				video.put(testPacket(frame, src.VideoSize, 'v'))
			}
			if audio != nil {
				audio.put(testPacket(frame, src.AudioSize, 'a'))
			}
		}
	}, tracks...)

	log.Info("Acquired %s (video=%v audio=%v)", src.Name(), c.Video, c.Audio)
	return newDeviceStream(src.Name(), tracks, nil), nil
}

// testPacket is a frame number followed by a fill byte.
func testPacket(frame uint64, size int, fill byte) []byte {
	if size < 8 {
		size = 8
	}
	p := make([]byte, size)
	binary.BigEndian.PutUint64(p, frame)
	for i := 8; i < size; i++ {
		p[i] = fill
	}
	return p
}

func openTestSource(path string) (Device, error) {
	fps := 30
	if path != "" {
		n, err := strconv.Atoi(path)
		if err != nil {
			return nil, err
		}
		fps = n
	}
	return &TestSource{FPS: fps, VideoSize: 4096, AudioSize: 256}, nil
}

func init() {
	RegisterDeviceType("testsrc", openTestSource)
}
