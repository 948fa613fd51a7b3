package document

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// scrollable is a viewport the test moves while the watcher polls.
type scrollable struct {
	mu sync.Mutex
	vp Viewport
}

func (s *scrollable) get() Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vp
}

func (s *scrollable) scrollTo(top float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vp.Top = top
}

func TestPollWatcherFiresOnceOnScrollIntoView(t *testing.T) {
	sc := &scrollable{vp: Viewport{Top: 0, Height: 800}}
	w := NewPollWatcher(sc.get, 200, 5*time.Millisecond)
	defer w.Close()

	node := NewPlaceholderNode("d-1", Rect{Top: 2000, Height: 320}, "loading")
	var fired atomic.Int32
	w.Observe(node, func() { fired.Add(1) })

	// Off-screen: give the loop a few ticks, nothing may fire.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	sc.scrollTo(1500)
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Fire-once: further scrolling changes nothing.
	sc.scrollTo(0)
	sc.scrollTo(1500)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestPollWatcherCancel(t *testing.T) {
	sc := &scrollable{vp: Viewport{Top: 0, Height: 800}}
	w := NewPollWatcher(sc.get, 0, 5*time.Millisecond)
	defer w.Close()

	node := NewPlaceholderNode("d-2", Rect{Top: 5000, Height: 100}, "loading")
	var fired atomic.Int32
	sub := w.Observe(node, func() { fired.Add(1) })
	sub.Cancel()

	sc.scrollTo(4800)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestPollWatcherCloseDropsPending(t *testing.T) {
	sc := &scrollable{vp: Viewport{Top: 0, Height: 800}}
	w := NewPollWatcher(sc.get, 0, 5*time.Millisecond)

	node := NewPlaceholderNode("d-3", Rect{Top: 5000, Height: 100}, "loading")
	var fired atomic.Int32
	w.Observe(node, func() { fired.Add(1) })

	w.Close()
	w.Close() // idempotent

	sc.scrollTo(4800)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	// Observing after close is a no-op with a harmless subscription.
	sub := w.Observe(node, func() { fired.Add(1) })
	sub.Cancel()
	assert.Equal(t, int32(0), fired.Load())
}

func TestPollWatcherAlreadyVisibleFiresOnNextTick(t *testing.T) {
	sc := &scrollable{vp: Viewport{Top: 0, Height: 800}}
	w := NewPollWatcher(sc.get, 200, 5*time.Millisecond)
	defer w.Close()

	node := NewPlaceholderNode("d-4", Rect{Top: 100, Height: 100}, "loading")
	var fired atomic.Int32
	w.Observe(node, func() { fired.Add(1) })

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}
