package media

import (
	"sync"
)

// A captureFunc reads from a device and writes packets to its tracks until
// quit is closed. A non-nil return ends the capture for good.
type captureFunc func(quit <-chan struct{}) error

// A captureLoop runs one device's captureFunc in a single goroutine, shared by
// every track of the device. The goroutine runs while at least one track has
// subscribers. If the captureFunc fails, every track is ended so that
// subscribers see their channels close.
type captureLoop struct {
	name    string
	capture captureFunc
	tracks  []*Track

	mu    sync.Mutex
	users int
	quit  chan struct{}
	done  chan struct{}

	// Separate from mu, which release holds while waiting for run to exit.
	errMu sync.Mutex
	err   error
}

// newCaptureLoop creates the loop and hooks it up to the given tracks.
func newCaptureLoop(name string, capture captureFunc, tracks ...*Track) *captureLoop {
	loop := &captureLoop{
		name:    name,
		capture: capture,
		tracks:  tracks,
	}
	for _, t := range tracks {
		t.Flow.Start = loop.acquire
		t.Flow.Stop = loop.release
	}
	return loop
}

func (loop *captureLoop) acquire() {
	loop.mu.Lock()
	defer loop.mu.Unlock()

	loop.users++
	if loop.users > 1 || loop.Err() != nil {
		return
	}

	quit := make(chan struct{})
	done := make(chan struct{})
	loop.quit, loop.done = quit, done
	go loop.run(quit, done)
}

func (loop *captureLoop) run(quit <-chan struct{}, done chan<- struct{}) {
	log.Debug("Capture %s started", loop.name)
	err := loop.capture(quit)
	if err == nil {
		log.Debug("Capture %s stopped", loop.name)
		close(done)
		return
	}

	log.Error("Capture %s failed: %v", loop.name, err)
	loop.errMu.Lock()
	loop.err = err
	loop.errMu.Unlock()
	close(done)

	// Ending a track calls release, which waits on done.
	go func() {
		for _, t := range loop.tracks {
			t.Close()
		}
	}()
}

// release drops one user. The last one out stops the capture goroutine and
// waits for it to exit.
func (loop *captureLoop) release() {
	loop.mu.Lock()
	defer loop.mu.Unlock()

	if loop.users == 0 {
		panic("captureLoop: release without acquire")
	}
	loop.users--
	if loop.users > 0 || loop.quit == nil {
		return
	}

	close(loop.quit)
	<-loop.done
	loop.quit, loop.done = nil, nil
}

// Err returns the error that ended the capture, if any.
func (loop *captureLoop) Err() error {
	loop.errMu.Lock()
	defer loop.errMu.Unlock()
	return loop.err
}
