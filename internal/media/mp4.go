package media

import (
	"io"
	"os"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/aacparser"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/mp4"
	"github.com/pkg/errors"

	"github.com/lanikai/golive/internal/media/h264"
)

// MP4File is a device replaying the H.264 video and AAC audio of an MP4
// file in real time, looping at end of file. Video is delivered as NAL
// units; audio as ADTS frames.
//
// Device spec: "mp4:<path>".
type MP4File struct {
	Path string
}

func (d *MP4File) Name() string {
	return "mp4:" + d.Path
}

func (d *MP4File) Acquire(c *Constraints) (*DeviceStream, error) {
	file, err := os.Open(d.Path)
	if err != nil {
		return nil, &DeviceError{d.Name(), err}
	}

	demuxer := mp4.NewDemuxer(file)
	codecs, err := demuxer.Streams()
	if err != nil {
		file.Close()
		return nil, &DeviceError{d.Name(), errors.Wrap(err, "read streams")}
	}

	f := &mp4File{
		name:    d.Name(),
		demuxer: demuxer,
		codecs:  codecs,
		tracks:  make([]*Track, len(codecs)),
	}

	var video, audio *Track
	for i, codec := range codecs {
		switch codec.Type() {
		case av.H264:
			if video != nil || !c.wantsVideo() {
				continue
			}
			info := codec.(av.VideoCodecData)
			log.Info("%v stream: %dx%d", info.Type(), info.Width(), info.Height())
			video = newTrack(Video, CodecH264)
			f.tracks[i] = video
		case av.AAC:
			if audio != nil || !c.wantsAudio() {
				continue
			}
			info := codec.(av.AudioCodecData)
			log.Info("%v stream: %d Hz", info.Type(), info.SampleRate())
			audio = newTrack(Audio, CodecAAC)
			f.tracks[i] = audio
		default:
			log.Debug("Skipping %v stream", codec.Type())
		}
	}

	if err := checkConstraints(d.Name(), c, audio != nil, video != nil); err != nil {
		file.Close()
		return nil, err
	}

	var tracks []*Track
	for _, t := range []*Track{video, audio} {
		if t != nil {
			tracks = append(tracks, t)
		}
	}

	newCaptureLoop(d.Name(), f.readLoop, tracks...)

	return newDeviceStream(d.Name(), tracks, file.Close), nil
}

func (c *Constraints) wantsVideo() bool { return c != nil && c.Video }
func (c *Constraints) wantsAudio() bool { return c != nil && c.Audio }

type mp4File struct {
	name    string
	demuxer *mp4.Demuxer

	codecs []av.CodecData

	// Indexed like codecs; nil for streams not delivered.
	tracks []*Track
}

func (f *mp4File) readLoop(quit <-chan struct{}) error {
	// Wall clock offset to the first packet in the file.
	var start time.Time

	for {
		select {
		case <-quit:
			return nil
		default:
		}

		pkt, err := f.demuxer.ReadPacket()
		if err != nil {
			if err == io.EOF {
				// Add a 50 millisecond delay, then play the file again.
				if err := f.demuxer.SeekToTime(0); err != nil {
					return errors.Wrap(err, "rewind")
				}
				start = time.Now().Add(50 * time.Millisecond)
				continue
			}
			return errors.Wrapf(err, "read packet from %s", f.name)
		}

		track := f.tracks[pkt.Idx]
		if track == nil {
			continue
		}

		if start.IsZero() {
			// The read loop might start in the middle of the file, so
			// initialize the start offset accordingly. This first packet will
			// be presented immediately.
			start = time.Now().Add(-pkt.Time)
		} else if wait := time.Until(start.Add(pkt.Time)); wait > 0 {
			select {
			case <-quit:
				return nil
			case <-time.After(wait):
			}
		}

		switch cd := f.codecs[pkt.Idx].(type) {
		case h264parser.CodecData:
			if pkt.IsKeyFrame {
				// Send SPS and PPS along with key frame.
				track.put(cd.SPS())
				track.put(cd.PPS())
			}
			nalus, _ := h264parser.SplitNALUs(pkt.Data)
			for _, nalu := range nalus {
				if len(nalu) == 0 || h264.NALU(nalu).Type() == h264.TypeSEI {
					continue
				}
				track.put(nalu)
			}
		case aacparser.CodecData:
			frame := make([]byte, aacparser.ADTSHeaderLength+len(pkt.Data))
			aacparser.FillADTSHeader(frame, cd.Config, 1024, len(pkt.Data))
			copy(frame[aacparser.ADTSHeaderLength:], pkt.Data)
			track.put(frame)
		}
	}
}

func openMP4(path string) (Device, error) {
	return &MP4File{Path: path}, nil
}

func init() {
	RegisterDeviceType("mp4", openMP4)
}
