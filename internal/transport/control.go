package transport

import (
	"encoding/json"
	"time"

	errors "golang.org/x/xerrors"
)

// Control frame types, carried in the "type" field of every text frame.
const (
	TypeMeta    = "meta"
	TypePing    = "ping"
	TypeAck     = "ack"
	TypeControl = "control"
)

// ActionStop is the only control action: the server asks the broadcaster to
// end the session.
const ActionStop = "stop"

var errMissingType = errors.New("control frame has no type")

// A ControlFrame is a small JSON message sent as a websocket text frame,
// distinct from the binary frames that carry media.
//
//	{"type":"meta","fps":30}
//	{"type":"ping","t":1571234567890}
//	{"type":"ack"}
//	{"type":"control","action":"stop"}
type ControlFrame struct {
	Type   string `json:"type"`
	FPS    int    `json:"fps,omitempty"`
	T      int64  `json:"t,omitempty"`
	Action string `json:"action,omitempty"`
}

// NewMeta returns the session parameters frame sent once after open.
func NewMeta(fps int) ControlFrame {
	return ControlFrame{Type: TypeMeta, FPS: fps}
}

// NewPing returns a liveness frame stamped with t in epoch milliseconds.
func NewPing(t time.Time) ControlFrame {
	return ControlFrame{Type: TypePing, T: t.UnixNano() / int64(time.Millisecond)}
}

func NewAck() ControlFrame {
	return ControlFrame{Type: TypeAck}
}

func NewStop() ControlFrame {
	return ControlFrame{Type: TypeControl, Action: ActionStop}
}

// IsStop reports whether f is a server request to end the session.
func (f ControlFrame) IsStop() bool {
	return f.Type == TypeControl && f.Action == ActionStop
}

func (f ControlFrame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// ParseControl decodes a text frame. Unknown types are returned as is so the
// caller can ignore them.
func ParseControl(data []byte) (ControlFrame, error) {
	var f ControlFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, errors.Errorf("bad control frame %q: %w", truncate(data, 64), err)
	}
	if f.Type == "" {
		return f, errMissingType
	}
	return f, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
