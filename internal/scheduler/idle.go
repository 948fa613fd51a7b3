package scheduler

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// idleTask is one unit of deferred work. The dispatcher and the watchdog
// timer race to run it; the sync.Once keeps execution exactly-once.
type idleTask struct {
	runner *idleRunner
	fn     func()
	once   sync.Once
	timer  *time.Timer
}

func (t *idleTask) run() {
	t.once.Do(func() {
		defer t.runner.outstanding.Add(-1)
		t.fn()
	})
	t.timer.Stop()
}

// idleRunner defers tasks until the runtime quiets down, with a bounded
// maximum wait. A dispatcher goroutine drains the task list, yielding
// before each launch; a watchdog timer per task guarantees execution
// within the timeout even under sustained load.
type idleRunner struct {
	mu     sync.Mutex
	queue  []*idleTask
	closed bool

	wake chan struct{}
	done chan struct{}

	outstanding atomic.Int64
}

func newIdleRunner() *idleRunner {
	r := &idleRunner{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

// schedule queues fn for idle execution. The watchdog fires it after
// timeout if the dispatcher has not reached it first.
func (r *idleRunner) schedule(fn func(), timeout time.Duration) {
	t := &idleTask{runner: r, fn: fn}
	r.outstanding.Add(1)
	t.timer = time.AfterFunc(timeout, t.run)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		// Late arrival during teardown still runs; close waits for it.
		go t.run()
		return
	}
	r.queue = append(r.queue, t)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// idle reports whether no scheduled task is pending or running.
func (r *idleRunner) idle() bool {
	return r.outstanding.Load() == 0
}

// close drains the queue, runs everything scheduled, and waits for all
// tasks (including chains they schedule) to finish.
func (r *idleRunner) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	close(r.done)

	for r.outstanding.Load() != 0 {
		time.Sleep(time.Millisecond)
	}
}

func (r *idleRunner) loop() {
	for {
		t := r.next()
		if t == nil {
			return
		}
		runtime.Gosched()
		go t.run()
	}
}

// next blocks until a task is queued or the runner is closed and drained.
func (r *idleRunner) next() *idleTask {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			t := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return t
		}
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return nil
		}
		select {
		case <-r.wake:
		case <-r.done:
		}
	}
}
