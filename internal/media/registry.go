package media

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// OpenDevice resolves a "device spec". A device spec is a colon-separated
// string consisting of a device tag and a device path:
//
//	deviceSpec = deviceTag + ":" + devicePath
//
// The format of the device path is defined by the registered OpenFunc.
// Opening a device does not acquire it; see Device.Acquire.
func OpenDevice(spec string) (Device, error) {
	if log.Enabled(3) {
		var tags []string
		for t := range registry {
			tags = append(tags, t)
		}
		sort.Strings(tags)
		log.Trace(3, "Registered device types: %v", tags)
	}

	parts := strings.SplitN(spec, ":", 2)
	var tag, path string
	tag = parts[0]
	if len(parts) == 2 {
		path = parts[1]
	}

	open, found := registry[tag]
	if !found {
		return nil, errors.Errorf("Device type '%s' not registered", tag)
	}
	dev, err := open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", spec)
	}
	return dev, nil
}

// A function used to open a specific device type.
type OpenFunc func(path string) (Device, error)

var registry = map[string]OpenFunc{}

// Register a device type, identified by its "device tag". Devices of this
// type will be opened with the given function.
func RegisterDeviceType(tag string, open OpenFunc) {
	registry[tag] = open
}
