package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// scrollFallback is the safety net behind the viewport observer: scroll
// notifications debounce into a full document re-scan that admits anything
// visible the observer missed.
type scrollFallback struct {
	debounce time.Duration
	scanFn   func()

	mu     sync.Mutex
	timer  *time.Timer
	armed  bool
	closed bool

	scanning atomic.Int32
	scans    atomic.Int64
}

func newScrollFallback(debounce time.Duration, scanFn func()) *scrollFallback {
	return &scrollFallback{debounce: debounce, scanFn: scanFn}
}

// notify records a scroll event. The scan fires once the scroll stream has
// been quiet for the debounce window; each new event restarts the window.
func (f *scrollFallback) notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if f.armed {
		f.timer.Reset(f.debounce)
		return
	}
	f.armed = true
	f.timer = time.AfterFunc(f.debounce, f.scan)
}

func (f *scrollFallback) scan() {
	f.scanning.Add(1)
	defer f.scanning.Add(-1)

	f.mu.Lock()
	f.armed = false
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return
	}

	f.scans.Add(1)
	f.scanFn()
}

// idle reports whether no scan is pending or running.
func (f *scrollFallback) idle() bool {
	if f.scanning.Load() != 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.armed
}

// close cancels any pending scan.
func (f *scrollFallback) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.timer != nil {
		f.timer.Stop()
	}
	f.armed = false
}

func (f *scrollFallback) scanCount() int64 {
	return f.scans.Load()
}
