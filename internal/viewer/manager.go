package viewer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vizflow/vizflow/internal/document"
	"github.com/vizflow/vizflow/internal/history"
	"github.com/vizflow/vizflow/internal/logging"
	"github.com/vizflow/vizflow/internal/registry"
	"github.com/vizflow/vizflow/internal/render"
	"github.com/vizflow/vizflow/internal/scheduler"
	"github.com/vizflow/vizflow/internal/streaming"
	"github.com/vizflow/vizflow/internal/transform"
	"github.com/vizflow/vizflow/pkg/schema"
)

// Default viewport reported for a freshly loaded session, before the client
// sends a real one over the websocket.
const (
	defaultViewportHeight = 900.0
	containerGap          = 24.0
)

// SessionRuntime bundles the per-session rendering state: one registry, one
// live document, one transform pipeline and one scheduler, built when the
// session is first opened and torn down together.
type SessionRuntime struct {
	sessionID string
	reg       *registry.SourceRegistry
	doc       *document.Document
	pipeline  *transform.Pipeline
	sched     *scheduler.Scheduler

	mu       sync.Mutex
	viewport document.Viewport
	offset   float64
}

// Scheduler returns the runtime's scheduler.
func (rt *SessionRuntime) Scheduler() *scheduler.Scheduler { return rt.sched }

// Document returns the runtime's live document.
func (rt *SessionRuntime) Document() *document.Document { return rt.doc }

// Viewport returns the last viewport the client reported.
func (rt *SessionRuntime) Viewport() document.Viewport {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.viewport
}

// SetViewport records a client viewport report and nudges the scheduler's
// scroll fallback.
func (rt *SessionRuntime) SetViewport(vp document.Viewport) {
	rt.mu.Lock()
	rt.viewport = vp
	rt.mu.Unlock()
	rt.sched.NotifyScroll()
}

// insert converts one message body into a container, stacks it below the
// content already in the document and submits it to the scheduler.
func (rt *SessionRuntime) insert(ctx context.Context, body string) (*document.Container, error) {
	c, err := rt.pipeline.Convert(ctx, rt.sessionID, body)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	base := rt.offset
	rt.offset += rt.pipeline.EstimateHeight(body) + containerGap
	rt.mu.Unlock()

	transform.OffsetNodes(c, base)
	rt.doc.Append(c)
	rt.sched.Submit(c)
	return c, nil
}

func (rt *SessionRuntime) close() {
	rt.sched.Close()
}

// Manager owns one SessionRuntime per open session. Runtimes are built
// lazily on first access and replay the session's stored transcript through
// the transform pipeline, which is exactly the many-containers-at-once
// workload the scheduler's batch collector coalesces.
type Manager struct {
	store    history.Store
	hub      streaming.EventHub
	engine   render.Engine
	schedCfg scheduler.Config
	langs    []string
	logger   *slog.Logger

	mu       sync.Mutex
	runtimes map[string]*SessionRuntime
	closed   bool
}

// NewManager creates a Manager over the given collaborators.
func NewManager(store history.Store, hub streaming.EventHub, engine render.Engine, schedCfg scheduler.Config, logger *slog.Logger, langs ...string) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		hub:      hub,
		engine:   engine,
		schedCfg: schedCfg,
		langs:    langs,
		logger:   logger,
		runtimes: make(map[string]*SessionRuntime),
	}
}

// CreateSession stores a new session. An empty theme takes the scheduler
// config's default.
func (m *Manager) CreateSession(ctx context.Context, title, theme string) (*history.Session, error) {
	if theme == "" {
		theme = m.schedCfg.Theme
	}
	if theme != "" && !render.ValidTheme(theme) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown theme %q", theme)
	}

	session := &history.Session{
		ID:    uuid.NewString(),
		Title: title,
		Theme: theme,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	stored, err := m.store.GetSession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("session created",
		slog.String("session_id", stored.ID),
		slog.String("title", stored.Title))
	return stored, nil
}

// Acquire returns the runtime for a session, building it and replaying the
// stored transcript on first access.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (*SessionRuntime, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeConflict, "session manager is closed")
	}
	if rt, ok := m.runtimes[sessionID]; ok {
		m.mu.Unlock()
		return rt, nil
	}
	m.mu.Unlock()

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rt, err := m.buildRuntime(session)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		rt.close()
		return nil, schema.NewError(schema.ErrCodeConflict, "session manager is closed")
	}
	if existing, ok := m.runtimes[sessionID]; ok {
		// Lost the build race; keep the first runtime.
		m.mu.Unlock()
		rt.close()
		return existing, nil
	}
	m.runtimes[sessionID] = rt
	m.mu.Unlock()

	if err := m.replay(ctx, rt); err != nil {
		m.CloseSession(sessionID)
		return nil, err
	}
	return rt, nil
}

func (m *Manager) buildRuntime(session *history.Session) (*SessionRuntime, error) {
	reg := registry.NewSourceRegistry()
	doc := document.NewDocument(session.ID)

	rt := &SessionRuntime{
		sessionID: session.ID,
		reg:       reg,
		doc:       doc,
		pipeline:  transform.New(reg, m.logger, m.langs...),
		viewport:  document.Viewport{Top: 0, Height: defaultViewportHeight},
	}

	cfg := m.schedCfg
	if session.Theme != "" {
		cfg.Theme = session.Theme
	}
	sched, err := scheduler.New(session.ID, cfg, scheduler.Deps{
		Registry: reg,
		Engine:   m.engine,
		Document: doc,
		Viewport: rt.Viewport,
		Hub:      m.hub,
		Logger:   m.logger,
	})
	if err != nil {
		return nil, err
	}
	rt.sched = sched
	return rt, nil
}

// replay pushes the stored transcript through the pipeline. Submissions land
// back-to-back, so the batch collector coalesces them into one flush.
func (m *Manager) replay(ctx context.Context, rt *SessionRuntime) error {
	msgs, err := m.store.ListMessages(ctx, rt.sessionID, history.MessageFilter{})
	if err != nil {
		return err
	}

	diagrams := 0
	for _, msg := range msgs {
		c, err := rt.insert(logging.WithSessionID(ctx, rt.sessionID), msg.Body)
		if err != nil {
			return err
		}
		diagrams += len(c.Nodes())
	}

	m.logger.Info("session restored",
		slog.String("session_id", rt.sessionID),
		slog.Int("messages", len(msgs)),
		slog.Int("diagrams", diagrams))
	return nil
}

// AppendMessage stores a message and feeds its body through the session's
// pipeline and scheduler.
func (m *Manager) AppendMessage(ctx context.Context, sessionID, role, body string) (*history.Message, *document.Container, error) {
	rt, err := m.Acquire(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	msg := &history.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Body:      body,
	}
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return nil, nil, err
	}

	c, err := rt.insert(logging.WithSessionID(ctx, sessionID), body)
	if err != nil {
		return nil, nil, err
	}
	return msg, c, nil
}

// SetTheme persists a theme switch and triggers the re-render pass on the
// session's scheduler when the session is loaded.
func (m *Manager) SetTheme(ctx context.Context, sessionID, theme string) error {
	if !render.ValidTheme(theme) {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown theme %q", theme)
	}
	if err := m.store.UpdateSessionTheme(ctx, sessionID, theme); err != nil {
		return err
	}

	m.mu.Lock()
	rt := m.runtimes[sessionID]
	m.mu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.sched.NotifyThemeChanged(theme)
}

// CloseSession tears down a session's runtime, waiting for in-flight renders.
// The stored transcript is untouched.
func (m *Manager) CloseSession(sessionID string) {
	m.mu.Lock()
	rt := m.runtimes[sessionID]
	delete(m.runtimes, sessionID)
	m.mu.Unlock()

	if rt != nil {
		rt.close()
		m.logger.Info("session runtime closed", slog.String("session_id", sessionID))
	}
}

// PruneIdle deletes sessions idle since before the cutoff and tears down
// their runtimes. Returns the pruned session ids.
func (m *Manager) PruneIdle(ctx context.Context, idleBefore time.Time) ([]string, error) {
	ids, err := m.store.PruneIdleSessions(ctx, idleBefore)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		m.CloseSession(id)
	}
	return ids, nil
}

// Close tears down every runtime. The manager accepts no further work.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	runtimes := m.runtimes
	m.runtimes = make(map[string]*SessionRuntime)
	m.mu.Unlock()

	for _, rt := range runtimes {
		rt.close()
	}
}
