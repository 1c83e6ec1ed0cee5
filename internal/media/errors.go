//////////////////////////////////////////////////////////////////////////////
//
// Media errors
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	errCaptureFailed = errors.New("Capture failed")
	errNotFound      = errors.New("Not found")
	errNoSuchTrack   = errors.New("No such track")
	errNoTracks      = errors.New("Constraints request neither audio nor video")
	errStreamStopped = errors.New("Device stream stopped")
	errUnsatisfiable = errors.New("Device cannot satisfy constraints")
)

// A DeviceError reports that a capture device could not be acquired. It is
// fatal to a broadcast session: callers must not retry or open a transport.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Device, e.Err)
}

// Cause returns the underlying error, for errors.Cause.
func (e *DeviceError) Cause() error {
	return e.Err
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsDeviceError reports whether err, or any error it wraps, is a
// *DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
