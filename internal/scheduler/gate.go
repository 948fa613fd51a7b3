package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vizflow/vizflow/internal/document"
	"github.com/vizflow/vizflow/pkg/schema"
)

// admitResult reports what the gate did with an admission request.
type admitResult int

const (
	gateAdmitted admitResult = iota
	gateQueued
	gateRejected
)

// gateCounters is a snapshot of the gate's lifetime accounting.
type gateCounters struct {
	Admitted   int64
	Completed  int64
	PeakActive int64
	QueuedNow  int64
	ActiveNow  int64
}

// concurrencyGate is the admission control in front of the render executor.
// At most max renders run at once; excess admissions wait in a strict FIFO
// queue. An id is in-flight from admission until completion, so duplicate
// requests are rejected whether the first is queued or already rendering.
type concurrencyGate struct {
	max          int
	admitTimeout time.Duration
	runner       *idleRunner
	exec         func(node *document.PlaceholderNode)
	publish      func(event string, node *document.PlaceholderNode)
	logger       *slog.Logger

	mu       sync.Mutex
	active   int
	queue    []*document.PlaceholderNode
	inflight map[string]struct{}

	admitted   int64
	completed  int64
	peakActive int64
}

func newConcurrencyGate(max int, admitTimeout time.Duration, runner *idleRunner, exec func(*document.PlaceholderNode), publish func(string, *document.PlaceholderNode), logger *slog.Logger) *concurrencyGate {
	if max <= 0 {
		max = 1
	}
	return &concurrencyGate{
		max:          max,
		admitTimeout: admitTimeout,
		runner:       runner,
		exec:         exec,
		publish:      publish,
		logger:       logger,
		inflight:     make(map[string]struct{}),
	}
}

// admit requests a render slot for the node. Below capacity the executor is
// scheduled immediately; at capacity the node joins the FIFO queue. Nodes
// already in-flight or already in a terminal state are rejected.
func (g *concurrencyGate) admit(node *document.PlaceholderNode) admitResult {
	id := node.ID()

	g.mu.Lock()
	if _, dup := g.inflight[id]; dup {
		g.mu.Unlock()
		g.logger.Debug("admission rejected, already in-flight", slog.String("diagram_id", id))
		return gateRejected
	}
	if node.State() != schema.StateUnprocessed {
		g.mu.Unlock()
		return gateRejected
	}

	g.inflight[id] = struct{}{}
	if g.active < g.max {
		g.activateLocked()
		g.mu.Unlock()
		g.publish(schema.EventDiagramAdmitted, node)
		g.schedule(node)
		return gateAdmitted
	}

	g.queue = append(g.queue, node)
	g.mu.Unlock()
	g.logger.Debug("render queued at capacity", slog.String("diagram_id", id))
	g.publish(schema.EventDiagramQueued, node)
	return gateQueued
}

// activateLocked increments the active count for a node taking a slot.
func (g *concurrencyGate) activateLocked() {
	g.active++
	g.admitted++
	if int64(g.active) > g.peakActive {
		g.peakActive = int64(g.active)
	}
}

// schedule hands the node to the executor during an idle period, bounded by
// the admission timeout. Completion runs on every exit path, panics included.
func (g *concurrencyGate) schedule(node *document.PlaceholderNode) {
	g.runner.schedule(func() {
		defer g.complete(node.ID())
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("render task panic",
					slog.String("diagram_id", node.ID()),
					slog.Any("panic", r))
			}
		}()
		g.exec(node)
	}, g.admitTimeout)
}

// complete releases the node's slot and, if anything is queued, promotes the
// head of the queue into the freed slot.
func (g *concurrencyGate) complete(id string) {
	var next *document.PlaceholderNode

	g.mu.Lock()
	delete(g.inflight, id)
	g.active--
	g.completed++
	for len(g.queue) > 0 {
		head := g.queue[0]
		g.queue = g.queue[1:]
		if head.State() != schema.StateUnprocessed {
			delete(g.inflight, head.ID())
			continue
		}
		g.activateLocked()
		next = head
		break
	}
	g.mu.Unlock()

	if next != nil {
		g.publish(schema.EventDiagramAdmitted, next)
		g.schedule(next)
	}
}

// has reports whether the id is currently in-flight (queued or rendering).
func (g *concurrencyGate) has(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[id]
	return ok
}

// drained reports whether nothing is active or queued.
func (g *concurrencyGate) drained() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active == 0 && len(g.queue) == 0
}

func (g *concurrencyGate) counters() gateCounters {
	g.mu.Lock()
	defer g.mu.Unlock()
	return gateCounters{
		Admitted:   g.admitted,
		Completed:  g.completed,
		PeakActive: g.peakActive,
		QueuedNow:  int64(len(g.queue)),
		ActiveNow:  int64(g.active),
	}
}
