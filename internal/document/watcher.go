package document

import (
	"sync"
	"time"
)

// Subscription is a handle to one observed node.
type Subscription interface {
	Cancel()
}

// ViewportWatcher notifies when an observed node's geometry enters the
// viewport. Implementations fire onVisible at most once per observation and
// unregister the node when they do.
type ViewportWatcher interface {
	Observe(node *PlaceholderNode, onVisible func()) Subscription
}

// ViewportFunc supplies the current viewport at call time.
type ViewportFunc func() Viewport

// PollWatcher checks observed nodes against the current viewport at a fixed
// interval. It stands in for a native intersection primitive on hosts that
// only expose scroll geometry.
type PollWatcher struct {
	viewport ViewportFunc
	margin   float64
	interval time.Duration

	mu      sync.Mutex
	entries map[uint64]*pollEntry
	nextID  uint64
	closed  bool
	done    chan struct{}
}

type pollEntry struct {
	node *PlaceholderNode
	fire func()
}

// NewPollWatcher creates a watcher polling at the given interval and starts
// its scan loop. Close stops the loop.
func NewPollWatcher(viewport ViewportFunc, margin float64, interval time.Duration) *PollWatcher {
	w := &PollWatcher{
		viewport: viewport,
		margin:   margin,
		interval: interval,
		entries:  make(map[uint64]*pollEntry),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// Observe registers a node for visibility notification.
func (w *PollWatcher) Observe(node *PlaceholderNode, onVisible func()) Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return pollSub{}
	}
	w.nextID++
	id := w.nextID
	w.entries[id] = &pollEntry{node: node, fire: onVisible}
	return pollSub{w: w, id: id}
}

// Close stops the scan loop. Pending observations never fire afterwards.
func (w *PollWatcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.entries = make(map[uint64]*pollEntry)
	w.mu.Unlock()
	close(w.done)
}

func (w *PollWatcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan fires and removes every entry whose node now intersects the viewport.
// Callbacks run outside the lock.
func (w *PollWatcher) scan() {
	vp := w.viewport()

	var fired []func()
	w.mu.Lock()
	for id, e := range w.entries {
		if vp.Intersects(e.node.Bounds(), w.margin) {
			fired = append(fired, e.fire)
			delete(w.entries, id)
		}
	}
	w.mu.Unlock()

	for _, fire := range fired {
		fire()
	}
}

type pollSub struct {
	w  *PollWatcher
	id uint64
}

func (s pollSub) Cancel() {
	if s.w == nil {
		return
	}
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	delete(s.w.entries, s.id)
}
