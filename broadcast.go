package golive

import (
	"context"

	"github.com/pkg/errors"

	"github.com/lanikai/golive/internal/media"
)

// Broadcast acquires dev, streams it until ctx is done or the session ends
// on its own, and releases the device on every path. A device failure is
// returned as a *media.DeviceError and no connection is attempted. If
// onStatus is not nil it receives every status report.
func Broadcast(ctx context.Context, dev media.Device, cfg Config, onStatus func(Status)) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	stream, err := dev.Acquire(&cfg.Constraints)
	if err != nil {
		return err
	}
	defer stream.Stop()

	s, err := NewSession(cfg, stream)
	if err != nil {
		return err
	}

	reported := make(chan struct{})
	go func() {
		defer close(reported)
		for st := range s.Status() {
			if onStatus != nil {
				onStatus(st)
			}
		}
	}()

	if err := s.Start(ctx); err != nil {
		<-reported
		return errors.Wrap(err, "start session")
	}
	<-s.Done()
	<-reported
	return s.Err()
}
