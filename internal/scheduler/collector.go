package scheduler

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vizflow/vizflow/internal/document"
	"github.com/vizflow/vizflow/pkg/schema"
)

// batchCollector coalesces container submissions into one classification
// pass. The first submission arms a flush timer; everything arriving before
// it fires joins the same batch. Flush always empties the batch.
type batchCollector struct {
	delay   time.Duration
	flushFn func(nodes []*document.PlaceholderNode)
	logger  *slog.Logger

	mu      sync.Mutex
	pending []*document.Container
	ids     map[string]struct{}
	timer   *time.Timer
	armed   bool

	flushing atomic.Int32
	flushes  atomic.Int64
}

func newBatchCollector(delay time.Duration, flushFn func([]*document.PlaceholderNode), logger *slog.Logger) *batchCollector {
	return &batchCollector{
		delay:   delay,
		flushFn: flushFn,
		logger:  logger,
		ids:     make(map[string]struct{}),
	}
}

// submit adds a container to the pending batch. Containers with nothing
// unprocessed are cheap no-ops; a container already pending is not added
// twice.
func (b *batchCollector) submit(c *document.Container) {
	if c.UnprocessedCount() == 0 {
		b.logger.Debug("container has no unprocessed placeholders", slog.String("container_id", c.ID()))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.ids[c.ID()]; dup {
		return
	}
	b.pending = append(b.pending, c)
	b.ids[c.ID()] = struct{}{}

	if !b.armed {
		b.armed = true
		b.timer = time.AfterFunc(b.delay, b.flush)
	}
}

// flush drains the batch and hands every still-unprocessed placeholder, in
// submission order, to the classification pass.
func (b *batchCollector) flush() {
	b.flushing.Add(1)
	defer b.flushing.Add(-1)

	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.ids = make(map[string]struct{})
	b.armed = false
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var nodes []*document.PlaceholderNode
	for _, c := range batch {
		for _, n := range c.Nodes() {
			if n.State() == schema.StateUnprocessed {
				nodes = append(nodes, n)
			}
		}
	}

	b.flushes.Add(1)
	b.logger.Debug("batch flushed",
		slog.Int("containers", len(batch)),
		slog.Int("placeholders", len(nodes)))
	b.flushFn(nodes)
}

// flushNow cancels any armed timer and flushes synchronously.
func (b *batchCollector) flushNow() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()
	b.flush()
}

// idle reports whether no flush is armed or running.
func (b *batchCollector) idle() bool {
	if b.flushing.Load() != 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.armed && len(b.pending) == 0
}

func (b *batchCollector) flushCount() int64 {
	return b.flushes.Load()
}
