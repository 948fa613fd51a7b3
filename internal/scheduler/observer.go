package scheduler

import (
	"sync"

	"github.com/vizflow/vizflow/internal/document"
)

// observerSet tracks live watcher subscriptions so teardown can cancel
// anything that never fired.
type observerSet struct {
	mu     sync.Mutex
	subs   map[uint64]document.Subscription
	nextID uint64
	closed bool

	promotions int64
}

func newObserverSet() *observerSet {
	return &observerSet{subs: make(map[uint64]document.Subscription)}
}

// observe registers a deferred node with the watcher. When the node becomes
// visible the subscription is dropped and onVisible runs exactly once.
func (o *observerSet) observe(w document.ViewportWatcher, node *document.PlaceholderNode, onVisible func()) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.nextID++
	id := o.nextID
	o.mu.Unlock()

	sub := w.Observe(node, func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.promotions++
		o.mu.Unlock()
		onVisible()
	})

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		sub.Cancel()
		return
	}
	o.subs[id] = sub
	o.mu.Unlock()
}

// cancelAll drops every pending subscription. Nothing fires afterwards.
func (o *observerSet) cancelAll() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	subs := o.subs
	o.subs = make(map[uint64]document.Subscription)
	o.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}

func (o *observerSet) promoted() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.promotions
}

func (o *observerSet) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}
