package transport

import (
	"time"

	"github.com/lanikai/golive/internal/sched"
)

const DefaultPingInterval = 20 * time.Second

// Pinger is the part of a Channel the keepalive needs.
type Pinger interface {
	IsOpen() bool
	SendControl(f ControlFrame) error
}

// Keepalive sends a Ping frame at a fixed interval while its channel is open.
// Failed pings are ignored; a dead connection is detected by the transport
// closing, not by the keepalive.
type Keepalive struct {
	task *sched.Task
}

func StartKeepalive(p Pinger, interval time.Duration) *Keepalive {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	k := &Keepalive{}
	k.task = sched.Every(interval, func(*sched.Task) {
		if !p.IsOpen() {
			return
		}
		if err := p.SendControl(NewPing(time.Now())); err != nil {
			log.Debug("Ping failed: %v", err)
		}
	})
	return k
}

// Stop cancels future pings and waits out a ping in progress, so nothing is
// sent after it returns. Safe on a nil Keepalive and safe to repeat.
func (k *Keepalive) Stop() {
	if k == nil {
		return
	}
	k.task.Cancel()
	<-k.task.Done()
}
