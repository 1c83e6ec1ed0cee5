package transport

import (
	"fmt"

	"github.com/gorilla/websocket"
	errors "golang.org/x/xerrors"
)

var (
	// ErrNotOpen is returned when sending on a channel that is not open.
	ErrNotOpen = errors.New("transport: channel not open")
)

// A CloseError reports that the peer ended the connection with a websocket
// close frame.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("closed by peer (%d)", e.Code)
	}
	return fmt.Sprintf("closed by peer (%d): %s", e.Code, e.Text)
}

// Normal reports whether the peer closed without signalling an error.
func (e *CloseError) Normal() bool {
	return e.Code == websocket.CloseNormalClosure || e.Code == websocket.CloseGoingAway
}

func readError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Text: ce.Text}
	}
	return errors.Errorf("read: %w", err)
}
