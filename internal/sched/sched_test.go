package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAfterFiresOnce(t *testing.T) {
	var n int32
	task := After(5*time.Millisecond, func(*Task) { atomic.AddInt32(&n, 1) })

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not finish")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&n))
}

func TestAfterCancelled(t *testing.T) {
	var n int32
	task := After(50*time.Millisecond, func(*Task) { atomic.AddInt32(&n, 1) })
	task.Cancel()
	task.Cancel()

	<-task.Done()
	assert.Equal(t, int32(0), atomic.LoadInt32(&n))
}

func TestEveryRepeatsUntilCancelled(t *testing.T) {
	var n int32
	task := Every(2*time.Millisecond, func(*Task) { atomic.AddInt32(&n, 1) })

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) >= 3 }, time.Second, time.Millisecond)
	task.Cancel()
	<-task.Done()

	after := atomic.LoadInt32(&n)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&n))
}

func TestNilTaskCancel(t *testing.T) {
	var task *Task
	task.Cancel()
}
