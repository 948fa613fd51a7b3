package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizflow/vizflow/internal/document"
	"github.com/vizflow/vizflow/internal/history"
	"github.com/vizflow/vizflow/internal/render"
	"github.com/vizflow/vizflow/internal/scheduler"
	"github.com/vizflow/vizflow/internal/streaming"
	"github.com/vizflow/vizflow/internal/viewer"
	"github.com/vizflow/vizflow/pkg/schema"
)

// --- Test harness ---

type harness struct {
	t      *testing.T
	store  history.Store
	hub    *streaming.MemoryHub
	engine *scriptedEngine
	mgr    *viewer.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := history.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	engine := newScriptedEngine()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := scheduler.Config{
		FlushDelay:     5 * time.Millisecond,
		ScrollDebounce: 10 * time.Millisecond,
		AdmitTimeout:   20 * time.Millisecond,
		RenderTimeout:  40 * time.Millisecond,
		WatcherPoll:    5 * time.Millisecond,
	}

	mgr := viewer.NewManager(store, hub, engine, cfg, logger)
	t.Cleanup(mgr.Close)

	return &harness{t: t, store: store, hub: hub, engine: engine, mgr: mgr}
}

func (h *harness) settle(rt *viewer.SessionRuntime) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, rt.Scheduler().Settle(ctx))
}

// scriptedEngine renders SVGs instantly, with per-source failure injection
// ("fail" anywhere in the source) and peak concurrency tracking.
type scriptedEngine struct {
	mu     sync.Mutex
	calls  int
	active int
	peak   int
}

func newScriptedEngine() *scriptedEngine { return &scriptedEngine{} }

func (e *scriptedEngine) Name() string { return "scripted" }

func (e *scriptedEngine) Render(_ context.Context, id, sourceCode string, opts render.Options) (*render.Fragment, error) {
	e.mu.Lock()
	e.calls++
	e.active++
	if e.active > e.peak {
		e.peak = e.active
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if strings.Contains(sourceCode, "fail") {
		return nil, schema.NewError(schema.ErrCodeEngineRender, "unparsable diagram source").WithDiagram(id)
	}
	return &render.Fragment{
		Markup: fmt.Sprintf(`<svg data-diagram=%q data-theme=%q></svg>`, id, opts.Theme),
		Width:  480,
		Height: 240,
	}, nil
}

func (e *scriptedEngine) renderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *scriptedEngine) peakConcurrent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}

func diagramMessage(label string) string {
	return fmt.Sprintf("Diagram %s:\n\n```dot\ndigraph %s { a -> b }\n```\n", label, label)
}

// --- Scenarios ---

// Scenario 1: restoring a stored transcript renders every diagram exactly
// once and leaves no placeholder unprocessed.
func TestRestoreSessionRendersEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.mgr.CreateSession(ctx, "history restore", "")
	require.NoError(t, err)

	const messages = 12
	for i := 0; i < messages; i++ {
		require.NoError(t, h.store.AppendMessage(ctx, &history.Message{
			ID:        fmt.Sprintf("m%d", i),
			SessionID: session.ID,
			Role:      history.RoleAssistant,
			Body:      diagramMessage(fmt.Sprintf("d%d", i)),
		}))
	}

	rt, err := h.mgr.Acquire(ctx, session.ID)
	require.NoError(t, err)
	h.settle(rt)

	// The initial viewport only covers the top of the transcript; scroll
	// through the rest the way a reader would.
	for top := 0.0; top <= rt.Document().Height(); top += 700 {
		rt.SetViewport(document.Viewport{Top: top, Height: 900})
		h.settle(rt)
	}

	nodes := rt.Document().Nodes()
	require.Len(t, nodes, messages)
	for _, n := range nodes {
		assert.True(t, n.State().Terminal(), "node %s still %s", n.ID(), n.State())
	}

	c := rt.Scheduler().Counters()
	assert.Equal(t, int64(messages), c.Admitted)
	assert.Equal(t, c.Admitted, c.Completed)
	assert.LessOrEqual(t, c.PeakActive, int64(2))
	assert.LessOrEqual(t, h.engine.peakConcurrent(), 2)
	assert.Equal(t, messages, h.engine.renderCount())
}

// Scenario 2: one malformed diagram fails inline without affecting its
// neighbors.
func TestFailingDiagramIsIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.mgr.CreateSession(ctx, "partial failure", "")
	require.NoError(t, err)

	_, good1, err := h.mgr.AppendMessage(ctx, session.ID, history.RoleUser, diagramMessage("ok1"))
	require.NoError(t, err)
	_, bad, err := h.mgr.AppendMessage(ctx, session.ID, history.RoleUser,
		"Broken:\n\n```dot\ndigraph fail { }\n```\n")
	require.NoError(t, err)
	_, good2, err := h.mgr.AppendMessage(ctx, session.ID, history.RoleUser, diagramMessage("ok2"))
	require.NoError(t, err)

	rt, err := h.mgr.Acquire(ctx, session.ID)
	require.NoError(t, err)
	h.settle(rt)

	assert.Equal(t, schema.StateProcessed, good1.Nodes()[0].State())
	assert.Equal(t, schema.StateProcessed, good2.Nodes()[0].State())

	badNode := bad.Nodes()[0]
	assert.Equal(t, schema.StateError, badNode.State())
	assert.Contains(t, badNode.Content(), "diagram-error")
	assert.Contains(t, badNode.Content(), "unparsable diagram source")
}

// Scenario 3: a diagram far below the viewport stays deferred until the
// client reports scrolling down, then renders.
func TestOffscreenDiagramDeferredUntilScroll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.mgr.CreateSession(ctx, "long page", "")
	require.NoError(t, err)

	// Enough prose above the fence to push it well past viewport + margin.
	body := strings.Repeat("line of prose\n", 120) + "\n```dot\ndigraph below { a }\n```\n"
	_, container, err := h.mgr.AppendMessage(ctx, session.ID, history.RoleUser, body)
	require.NoError(t, err)
	require.Len(t, container.Nodes(), 1)
	node := container.Nodes()[0]

	// Allow the flush and a few watcher polls: nothing should render yet.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, schema.StateUnprocessed, node.State())
	assert.Equal(t, 0, h.engine.renderCount())

	rt, err := h.mgr.Acquire(ctx, session.ID)
	require.NoError(t, err)
	rt.SetViewport(document.Viewport{Top: node.Bounds().Top - 100, Height: 900})
	h.settle(rt)

	assert.Equal(t, schema.StateProcessed, node.State())
	assert.Equal(t, 1, h.engine.renderCount())
}

// Scenario 4: a theme change re-renders processed diagrams and leaves failed
// ones untouched.
func TestThemeChangeRerendersProcessedOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.mgr.CreateSession(ctx, "theme switch", render.ThemeLight)
	require.NoError(t, err)

	_, good, err := h.mgr.AppendMessage(ctx, session.ID, history.RoleUser, diagramMessage("themed"))
	require.NoError(t, err)
	_, bad, err := h.mgr.AppendMessage(ctx, session.ID, history.RoleUser,
		"Broken:\n\n```dot\ndigraph fail { }\n```\n")
	require.NoError(t, err)

	rt, err := h.mgr.Acquire(ctx, session.ID)
	require.NoError(t, err)
	h.settle(rt)

	require.Equal(t, schema.StateProcessed, good.Nodes()[0].State())
	require.Equal(t, schema.StateError, bad.Nodes()[0].State())
	errorContent := bad.Nodes()[0].Content()

	require.NoError(t, h.mgr.SetTheme(ctx, session.ID, render.ThemeDark))
	h.settle(rt)

	assert.Contains(t, good.Nodes()[0].Content(), `data-theme="dark"`)
	assert.Equal(t, schema.StateProcessed, good.Nodes()[0].State())
	assert.Equal(t, errorContent, bad.Nodes()[0].Content())
	assert.Equal(t, int64(1), rt.Scheduler().Counters().Rerendered)
}

// Scenario 5: the event stream reports the full lifecycle of a posted
// message in sequence order.
func TestEventStreamCoversLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.mgr.CreateSession(ctx, "events", "")
	require.NoError(t, err)

	ch, cancel, err := h.hub.Subscribe(ctx, streaming.EventFilter{SessionID: session.ID})
	require.NoError(t, err)
	defer cancel()

	_, _, err = h.mgr.AppendMessage(ctx, session.ID, history.RoleUser, diagramMessage("ev"))
	require.NoError(t, err)

	rt, err := h.mgr.Acquire(ctx, session.ID)
	require.NoError(t, err)
	h.settle(rt)

	deadline := time.After(2 * time.Second)
	seen := make(map[string]bool)
	var lastSeq uint64
	for !seen[schema.EventRenderCompleted] {
		select {
		case ev := <-ch:
			assert.Greater(t, ev.Sequence, lastSeq, "sequence must increase")
			lastSeq = ev.Sequence
			seen[ev.EventType] = true
		case <-deadline:
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	assert.True(t, seen[schema.EventBatchFlushed])
	assert.True(t, seen[schema.EventDiagramAdmitted])
	assert.True(t, seen[schema.EventRenderStarted])
}

// Scenario 6: a seed manifest loads end to end and its sessions render on
// first open.
func TestSeededSessionRenders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.CreateSession(ctx, &history.Session{
		ID:    "seeded",
		Title: "Seeded",
		Theme: render.ThemeDark,
	}))
	require.NoError(t, h.store.AppendMessage(ctx, &history.Message{
		ID:        "sm1",
		SessionID: "seeded",
		Role:      history.RoleAssistant,
		Body:      diagramMessage("seed"),
	}))

	rt, err := h.mgr.Acquire(ctx, "seeded")
	require.NoError(t, err)
	h.settle(rt)

	nodes := rt.Document().Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, schema.StateProcessed, nodes[0].State())
	assert.Contains(t, nodes[0].Content(), `data-theme="dark"`)
}
