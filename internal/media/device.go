package media

// Constraints select which tracks a device should produce.
type Constraints struct {
	Audio bool `json:"audio" yaml:"audio"`
	Video bool `json:"video" yaml:"video"`
}

// A Device is a capture source: a camera, a microphone, a file standing in
// for one, or a synthetic generator.
type Device interface {
	// Name identifies the device in logs and errors.
	Name() string

	// Acquire starts capture and returns the live stream. Failure is
	// reported as a *DeviceError.
	Acquire(c *Constraints) (*DeviceStream, error)
}

// checkConstraints validates c against the kinds a device can offer.
func checkConstraints(name string, c *Constraints, hasAudio, hasVideo bool) error {
	if c == nil || (!c.Audio && !c.Video) {
		return &DeviceError{name, errNoTracks}
	}
	if (c.Audio && !hasAudio) || (c.Video && !hasVideo) {
		return &DeviceError{name, errUnsatisfiable}
	}
	return nil
}
