package media

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lanikai/golive/internal/media/h264"
)

const (
	naluBufferInitialSize = 16 * 1024
	naluBufferMaximumSize = 1024 * 1024

	defaultH264FrameRate = 30
)

// H264File is a video-only device replaying a raw H.264 elementary stream
// (NAL units separated by Annex B start codes) at a fixed frame rate,
// looping at end of file.
//
// Device spec: "h264:<path>[@<fps>]".
type H264File struct {
	Path string
	FPS  int
}

func (d *H264File) Name() string {
	return "h264:" + d.Path
}

func (d *H264File) Acquire(c *Constraints) (*DeviceStream, error) {
	if err := checkConstraints(d.Name(), c, false, true); err != nil {
		return nil, err
	}
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, &DeviceError{d.Name(), err}
	}

	video := newTrack(Video, CodecH264)
	fps := d.FPS
	if fps <= 0 {
		fps = defaultH264FrameRate
	}
	newCaptureLoop(d.Name(), func(quit <-chan struct{}) error {
		return readH264(f, video, time.Second/time.Duration(fps), quit)
	}, video)

	log.Info("Acquired %s at %d fps", d.Name(), fps)
	return newDeviceStream(d.Name(), []*Track{video}, f.Close), nil
}

// readH264 writes NAL units to the track, pausing one frame period after
// each picture.
func readH264(f io.ReadSeeker, track *Track, period time.Duration, quit <-chan struct{}) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	scanner := newNALUScanner(f)
	for {
		select {
		case <-quit:
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			// End of file. Start over.
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}
			scanner = newNALUScanner(f)
			continue
		}

		// The scanner reuses its buffer.
		nalu := append([]byte(nil), scanner.Bytes()...)
		track.put(nalu)

		if h264.NALU(nalu).IsSlice() {
			select {
			case <-quit:
				return nil
			case <-ticker.C:
			}
		}
	}
}

func newNALUScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, naluBufferInitialSize), naluBufferMaximumSize)
	scanner.Split(splitNALU)
	return scanner
}

var h264StartCode = []byte{0, 0, 1}

// Splits NAL units on H.264 Annex B start codes.
func splitNALU(data []byte, atEOF bool) (advance int, nalu []byte, err error) {
	i := bytes.Index(data, h264StartCode)

	switch i {
	case -1:
		if atEOF && len(data) > 0 {
			// Final NAL unit runs to end of file.
			return len(data), data, nil
		}
		// No start code found. Wait for more data.
		advance = 0
	case 0:
		// 3-byte start code (0x000001) found at data[0]. Skip these 3 bytes.
		advance = 3
	case 1:
		// 4-byte start code (0x00000001) found at data[0]. Skip these 4 bytes.
		advance = 4
	default:
		// Next start code found at index i.
		advance = i + 3
		if data[i-1] == 0x00 {
			// 4-byte start code
			nalu = data[0 : i-1]
		} else {
			// 3-byte start code
			nalu = data[0:i]
		}
	}
	return
}

func openH264(path string) (Device, error) {
	d := &H264File{Path: path}
	if i := strings.LastIndexByte(path, '@'); i >= 0 {
		fps, err := strconv.Atoi(path[i+1:])
		if err != nil {
			return nil, err
		}
		d.Path, d.FPS = path[:i], fps
	}
	return d, nil
}

func init() {
	RegisterDeviceType("h264", openH264)
}
