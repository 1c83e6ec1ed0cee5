package transport

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakePinger struct {
	open  int32
	pings int32
	fail  bool
}

func (p *fakePinger) IsOpen() bool { return atomic.LoadInt32(&p.open) == 1 }

func (p *fakePinger) SendControl(f ControlFrame) error {
	if f.Type == TypePing && f.T > 0 {
		atomic.AddInt32(&p.pings, 1)
	}
	if p.fail {
		return errors.New("write failed")
	}
	return nil
}

func (p *fakePinger) count() int32 { return atomic.LoadInt32(&p.pings) }

func TestKeepalivePingsWhileOpen(t *testing.T) {
	p := &fakePinger{open: 1}
	k := StartKeepalive(p, 10*time.Millisecond)
	defer k.Stop()

	assert.Eventually(t, func() bool { return p.count() >= 3 }, time.Second, time.Millisecond)

	atomic.StoreInt32(&p.open, 0)
	time.Sleep(20 * time.Millisecond)
	n := p.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, p.count())
}

func TestKeepaliveIgnoresFailures(t *testing.T) {
	p := &fakePinger{open: 1, fail: true}
	k := StartKeepalive(p, 10*time.Millisecond)
	defer k.Stop()

	assert.Eventually(t, func() bool { return p.count() >= 3 }, time.Second, time.Millisecond)
}

func TestKeepaliveStop(t *testing.T) {
	p := &fakePinger{open: 1}
	k := StartKeepalive(p, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return p.count() >= 1 }, time.Second, time.Millisecond)

	k.Stop()
	k.Stop()
	n := p.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, p.count())

	var nilKeepalive *Keepalive
	nilKeepalive.Stop()
}
