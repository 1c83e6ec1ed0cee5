// Package media acquires live audio/video devices and exposes their output
// as tracks of packets. A DeviceStream is owned by exactly one broadcast
// session and is released exactly once.
package media

import (
	"github.com/lanikai/golive/internal/logging"
)

var log = logging.DefaultLogger.WithTag("media")

// Kind distinguishes audio tracks from video tracks.
type Kind int

const (
	Audio Kind = iota
	Video
)

func (k Kind) String() string {
	switch k {
	case Audio:
		return "audio"
	case Video:
		return "video"
	default:
		return "unknown"
	}
}

// Codec names carried by tracks.
const (
	CodecH264 = "H264"
	CodecAAC  = "AAC" // ADTS framed
	CodecRaw  = "raw" // opaque test payloads
)

// A Chunk is one segment of encoder output. Seq is its position in emission
// order, starting at 1. Data must not be modified once the chunk is emitted.
type Chunk struct {
	Seq  uint64
	Data []byte
}

// Len returns the payload size in bytes.
func (c Chunk) Len() int {
	return len(c.Data)
}
