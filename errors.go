package golive

import (
	"github.com/pkg/errors"

	"github.com/lanikai/golive/internal/supervisor"
)

var (
	ErrNoURL         = errors.New("ingest url not set")
	ErrNoStreamKey   = errors.New("stream key not set")
	ErrInvalidConfig = errors.New("invalid config")

	// ErrNoDevice is returned by Start when the device stream is not active.
	ErrNoDevice = supervisor.ErrNoDevice

	// ErrReconnectExhausted matches (with errors.Is) the terminal error of a
	// session whose transport failed more often than the reconnect policy
	// allows. The last transport error is wrapped.
	ErrReconnectExhausted = supervisor.ErrReconnectExhausted

	ErrAlreadyStarted = errors.New("session already started")
)
