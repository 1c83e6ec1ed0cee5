// Package sched provides cancellable scheduled tasks. A Task owns one
// goroutine and one timer; cancelling it stops the timer and ends the
// goroutine. Cancel never blocks, so it is safe to call from the goroutine
// that a task's callback posts into.
package sched

import (
	"sync"
	"time"
)

// A Task is a scheduled callback, either one-shot (After) or periodic (Every).
type Task struct {
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// After runs fn once, d from now, unless the task is cancelled first.
func After(d time.Duration, fn func(t *Task)) *Task {
	t := newTask()
	go func() {
		defer close(t.done)
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			fn(t)
		case <-t.quit:
		}
	}()
	return t
}

// Every runs fn every interval until the task is cancelled. The first run
// happens one interval from now.
func Every(interval time.Duration, fn func(t *Task)) *Task {
	t := newTask()
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(t)
			case <-t.quit:
				return
			}
		}
	}()
	return t
}

func newTask() *Task {
	return &Task{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Cancel stops the task. It is idempotent and safe on a nil Task. A callback
// already in progress is not interrupted.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.quit) })
}

// Done is closed when the task's goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
