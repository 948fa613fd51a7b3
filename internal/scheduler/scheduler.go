package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vizflow/vizflow/internal/document"
	"github.com/vizflow/vizflow/internal/registry"
	"github.com/vizflow/vizflow/internal/render"
	"github.com/vizflow/vizflow/internal/streaming"
	"github.com/vizflow/vizflow/pkg/schema"
)

// Config tunes the scheduling behavior. The zero value of any field falls
// back to its default.
type Config struct {
	// MaxConcurrency bounds simultaneous renders.
	MaxConcurrency int
	// FlushDelay is the batch coalescing window after the first submission.
	FlushDelay time.Duration
	// VisibleMargin extends the viewport by this many logical units when
	// classifying and scanning.
	VisibleMargin float64
	// ScrollDebounce is the quiet period after the last scroll event before
	// the fallback re-scan runs.
	ScrollDebounce time.Duration
	// AdmitTimeout bounds how long an admitted render may wait for an idle
	// window before the watchdog forces it.
	AdmitTimeout time.Duration
	// RenderTimeout bounds the executor's own idle wait around the engine
	// invocation.
	RenderTimeout time.Duration
	// WatcherPoll is the scan interval of the default polling watcher.
	WatcherPoll time.Duration
	// DefaultDiagramWidth and DefaultDiagramHeight size fragments whose
	// engine omitted sizing.
	DefaultDiagramWidth  float64
	DefaultDiagramHeight float64
	// Theme is the initial visual theme.
	Theme string
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{}.normalized()
}

func (c Config) normalized() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 2
	}
	if c.FlushDelay <= 0 {
		c.FlushDelay = 50 * time.Millisecond
	}
	if c.VisibleMargin <= 0 {
		c.VisibleMargin = 200
	}
	if c.ScrollDebounce <= 0 {
		c.ScrollDebounce = 200 * time.Millisecond
	}
	if c.AdmitTimeout <= 0 {
		c.AdmitTimeout = time.Second
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 2 * time.Second
	}
	if c.WatcherPoll <= 0 {
		c.WatcherPoll = 100 * time.Millisecond
	}
	if c.DefaultDiagramWidth <= 0 {
		c.DefaultDiagramWidth = 640
	}
	if c.DefaultDiagramHeight <= 0 {
		c.DefaultDiagramHeight = 320
	}
	if c.Theme == "" {
		c.Theme = render.ThemeLight
	}
	return c
}

// Deps carries the collaborators a Scheduler is built over. Registry,
// Engine, Document and Viewport are required; a nil Watcher gets a polling
// default owned by the scheduler, a nil Hub disables event publishing.
type Deps struct {
	Registry *registry.SourceRegistry
	Engine   render.Engine
	Document *document.Document
	Viewport document.ViewportFunc
	Watcher  document.ViewportWatcher
	Hub      streaming.EventHub
	Logger   *slog.Logger
}

// Counters is a snapshot of the scheduler's lifetime accounting, exposed
// for logging and tests.
type Counters struct {
	Admitted      int64 `json:"admitted"`
	Completed     int64 `json:"completed"`
	PeakActive    int64 `json:"peak_active"`
	QueuedNow     int64 `json:"queued_now"`
	ActiveNow     int64 `json:"active_now"`
	Flushes       int64 `json:"flushes"`
	Promotions    int64 `json:"promotions"`
	FallbackScans int64 `json:"fallback_scans"`
	Rerendered    int64 `json:"rerendered"`
}

// Scheduler decides when, in what order and how many at once diagram
// renders run for one session's document. Every placeholder handed in ends
// processed or error exactly once; renders wait for idle windows, bounded
// so they always run.
type Scheduler struct {
	cfg       Config
	sessionID string

	doc     *document.Document
	watcher document.ViewportWatcher
	ownPoll *document.PollWatcher
	hub     streaming.EventHub
	logger  *slog.Logger

	runner     *idleRunner
	collector  *batchCollector
	classifier *viewportClassifier
	gate       *concurrencyGate
	executor   *renderExecutor
	fallback   *scrollFallback
	observers  *observerSet

	themeMu sync.RWMutex
	theme   string

	themeBusy  atomic.Int32
	rerendered atomic.Int64

	closed atomic.Bool
}

// New builds a scheduler for one session.
func New(sessionID string, cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Registry == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduler requires a source registry")
	}
	if deps.Engine == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduler requires a render engine")
	}
	if deps.Document == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduler requires a document")
	}
	if deps.Viewport == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduler requires a viewport provider")
	}
	cfg = cfg.normalized()
	if !render.ValidTheme(cfg.Theme) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown theme %q", cfg.Theme)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("session_id", sessionID))

	s := &Scheduler{
		cfg:       cfg,
		sessionID: sessionID,
		doc:       deps.Document,
		hub:       deps.Hub,
		logger:    logger,
		theme:     cfg.Theme,
		runner:    newIdleRunner(),
		observers: newObserverSet(),
	}

	s.watcher = deps.Watcher
	if s.watcher == nil {
		s.ownPoll = document.NewPollWatcher(deps.Viewport, cfg.VisibleMargin, cfg.WatcherPoll)
		s.watcher = s.ownPoll
	}

	s.executor = &renderExecutor{
		registry:      deps.Registry,
		engine:        deps.Engine,
		theme:         s.Theme,
		runner:        s.runner,
		renderTimeout: cfg.RenderTimeout,
		defaultWidth:  cfg.DefaultDiagramWidth,
		defaultHeight: cfg.DefaultDiagramHeight,
		publish:       s.publishNode,
		logger:        logger,
	}
	s.gate = newConcurrencyGate(cfg.MaxConcurrency, cfg.AdmitTimeout, s.runner, s.executor.execute,
		func(event string, node *document.PlaceholderNode) { s.publishNode(event, node, nil) }, logger)
	s.classifier = newViewportClassifier(deps.Viewport, cfg.VisibleMargin)
	s.collector = newBatchCollector(cfg.FlushDelay, s.classifyAndAdmit, logger)
	s.fallback = newScrollFallback(cfg.ScrollDebounce, s.fallbackScan)

	return s, nil
}

// Submit hands a freshly inserted container to the batch collector. Called
// once per container, after its markup is in the page; safe to call again,
// duplicates admit nothing twice.
func (s *Scheduler) Submit(c *document.Container) {
	if s.closed.Load() {
		s.logger.Warn("submit after close ignored", slog.String("container_id", c.ID()))
		return
	}
	s.collector.submit(c)
}

// NotifyScroll records a scroll event for the fallback re-scan.
func (s *Scheduler) NotifyScroll() {
	if s.closed.Load() {
		return
	}
	s.fallback.notify()
}

// NotifyThemeChanged switches the visual theme and re-renders every
// processed diagram from its cached source. Errored diagrams stay as they
// are; a failed re-render keeps the previous visual.
func (s *Scheduler) NotifyThemeChanged(theme string) error {
	if !render.ValidTheme(theme) {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown theme %q", theme)
	}
	if s.closed.Load() {
		return schema.NewError(schema.ErrCodeConflict, "scheduler is closed")
	}

	s.themeMu.Lock()
	same := s.theme == theme
	s.theme = theme
	s.themeMu.Unlock()
	if same {
		return nil
	}

	s.publishSession(schema.EventThemeChanged, map[string]any{"theme": theme})
	s.themeBusy.Add(1)
	go s.rerenderPass(theme)
	return nil
}

// Theme returns the current visual theme.
func (s *Scheduler) Theme() string {
	s.themeMu.RLock()
	defer s.themeMu.RUnlock()
	return s.theme
}

// Counters returns a snapshot of the lifetime accounting.
func (s *Scheduler) Counters() Counters {
	gc := s.gate.counters()
	return Counters{
		Admitted:      gc.Admitted,
		Completed:     gc.Completed,
		PeakActive:    gc.PeakActive,
		QueuedNow:     gc.QueuedNow,
		ActiveNow:     gc.ActiveNow,
		Flushes:       s.collector.flushCount(),
		Promotions:    s.observers.promoted(),
		FallbackScans: s.fallback.scanCount(),
		Rerendered:    s.rerendered.Load(),
	}
}

// Settle blocks until no flush is armed, no scan is pending, no idle task
// is outstanding, the gate is drained and no theme pass is running, or the
// context expires. Intended for tests and teardown.
func (s *Scheduler) Settle(ctx context.Context) error {
	quiet := 0
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.settled() {
			quiet++
			// Two consecutive quiet observations close the tiny window
			// between a timer firing and its work registering as busy.
			if quiet >= 2 {
				return nil
			}
		} else {
			quiet = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) settled() bool {
	return s.collector.idle() &&
		s.fallback.idle() &&
		s.runner.idle() &&
		s.gate.drained() &&
		s.themeBusy.Load() == 0
}

// Close stops intake, flushes pending work, runs everything scheduled and
// waits for in-flight renders to complete. Admitted diagrams are never
// cancelled.
func (s *Scheduler) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.collector.flushNow()
	s.fallback.close()
	s.observers.cancelAll()
	if s.ownPoll != nil {
		s.ownPoll.Close()
	}
	s.runner.close()

	for !s.gate.drained() || s.themeBusy.Load() != 0 {
		time.Sleep(time.Millisecond)
	}

	c := s.Counters()
	s.logger.Info("scheduler closed",
		slog.Int64("admitted", c.Admitted),
		slog.Int64("completed", c.Completed),
		slog.Int64("peak_active", c.PeakActive))
}

// classifyAndAdmit is the flush target: partition the batch by current
// visibility, admit every visible node in discovery order, then register
// the deferred remainder with the observer.
func (s *Scheduler) classifyAndAdmit(nodes []*document.PlaceholderNode) {
	if len(nodes) == 0 {
		return
	}

	visible, deferred := s.classifier.classify(nodes, s.gate.has)
	s.publishSession(schema.EventBatchFlushed, map[string]any{
		"visible":  len(visible),
		"deferred": len(deferred),
	})

	for _, n := range visible {
		s.gate.admit(n)
	}
	for _, n := range deferred {
		s.observe(n)
	}
}

// observe registers a deferred node for promotion when it scrolls into
// range.
func (s *Scheduler) observe(node *document.PlaceholderNode) {
	s.observers.observe(s.watcher, node, func() {
		if node.State() != schema.StateUnprocessed || s.gate.has(node.ID()) {
			return
		}
		s.publishNode(schema.EventDiagramPromoted, node, nil)
		s.gate.admit(node)
	})
	s.publishNode(schema.EventDiagramDeferred, node, nil)
}

// fallbackScan re-examines the whole document for unprocessed placeholders
// that are visible now but were never admitted, usually because an observer
// notification was missed.
func (s *Scheduler) fallbackScan() {
	vp := s.classifier.viewport()
	caught := 0
	for _, n := range s.doc.Nodes() {
		if n.State() != schema.StateUnprocessed || s.gate.has(n.ID()) {
			continue
		}
		if !vp.Intersects(n.Bounds(), s.cfg.VisibleMargin) {
			continue
		}
		if s.gate.admit(n) != gateRejected {
			caught++
		}
	}
	if caught > 0 {
		s.logger.Debug("fallback scan admitted missed placeholders", slog.Int("count", caught))
	}
	s.publishSession(schema.EventFallbackScan, map[string]any{"admitted": caught})
}

// publishSession emits a session-level lifecycle event.
func (s *Scheduler) publishSession(event string, payload map[string]any) {
	if s.hub == nil {
		return
	}
	_ = s.hub.Publish(context.Background(), streaming.RenderEvent{
		SessionID: s.sessionID,
		EventType: event,
		Payload:   payload,
	})
}

// publishNode emits a diagram-level lifecycle event. Detached nodes have no
// live region left to patch, so nothing is published for them.
func (s *Scheduler) publishNode(event string, node *document.PlaceholderNode, payload map[string]any) {
	if s.hub == nil || node.Detached() {
		return
	}
	_ = s.hub.Publish(context.Background(), streaming.RenderEvent{
		SessionID: s.sessionID,
		DiagramID: node.ID(),
		EventType: event,
		Payload:   payload,
	})
}
