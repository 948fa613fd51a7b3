package scheduler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/vizflow/vizflow/internal/document"
	"github.com/vizflow/vizflow/internal/registry"
	"github.com/vizflow/vizflow/internal/render"
	"github.com/vizflow/vizflow/pkg/schema"
)

// renderExecutor performs one render pass over a placeholder. Whatever
// happens inside the engine, the node leaves in a terminal state: processed
// on success, error on a registry miss, an engine rejection, or a panic.
type renderExecutor struct {
	registry *registry.SourceRegistry
	engine   render.Engine
	theme    func() string
	runner   *idleRunner

	renderTimeout time.Duration
	defaultWidth  float64
	defaultHeight float64

	publish func(event string, node *document.PlaceholderNode, payload map[string]any)
	logger  *slog.Logger
}

// execute renders the node's diagram and writes the result back. Runs on a
// gate-admitted goroutine; the engine invocation itself waits for a second
// idle window, bounded by the render timeout.
func (e *renderExecutor) execute(node *document.PlaceholderNode) {
	id := node.ID()

	source, err := e.registry.Lookup(id)
	if err != nil {
		e.logger.Warn("render skipped, source missing", slog.String("diagram_id", id))
		e.fail(node, "missing diagram data")
		e.publish(schema.EventRenderFailed, node, map[string]any{"error": err.Error()})
		return
	}

	e.publish(schema.EventRenderStarted, node, nil)

	var frag *render.Fragment
	done := make(chan struct{})
	e.runner.schedule(func() {
		defer close(done)
		frag, err = e.invoke(id, source)
	}, e.renderTimeout)
	<-done

	if err != nil {
		e.logger.Warn("diagram render failed",
			slog.String("diagram_id", id),
			slog.String("error", err.Error()))
		e.fail(node, fmt.Sprintf("diagram failed to render: %s", renderFailureText(err)))
		e.publish(schema.EventRenderFailed, node, map[string]any{"error": err.Error()})
		return
	}

	e.correctGeometry(node, frag)

	if err := node.MarkProcessed(frag.Markup, source); err != nil {
		e.logger.Warn("could not finalize render", slog.String("diagram_id", id), slog.String("error", err.Error()))
		return
	}

	e.logger.Info("diagram rendered",
		slog.String("diagram_id", id),
		slog.String("engine", e.engine.Name()),
		slog.Float64("width", frag.Width),
		slog.Float64("height", frag.Height))
	e.publish(schema.EventRenderCompleted, node, map[string]any{
		"width":  frag.Width,
		"height": frag.Height,
	})
}

// invoke calls the engine, converting a synchronous panic into an error so
// the node still reaches a terminal state.
func (e *renderExecutor) invoke(id, source string) (frag *render.Fragment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeEngineRender, "engine panic: %v", r).WithDiagram(id)
		}
	}()
	frag, err = e.engine.Render(context.Background(), id, source, render.Options{Theme: e.theme()})
	if err == nil && frag == nil {
		err = schema.NewError(schema.ErrCodeEngineRender, "engine returned no fragment").WithDiagram(id)
	}
	return frag, err
}

// fail swaps in an inline annotation and marks the node error.
func (e *renderExecutor) fail(node *document.PlaceholderNode, text string) {
	annotation := fmt.Sprintf(`<div class="diagram-error" data-diagram-id=%q>%s</div>`,
		node.ID(), html.EscapeString(text))
	if err := node.MarkError(annotation); err != nil {
		e.logger.Warn("could not finalize failure", slog.String("diagram_id", node.ID()), slog.String("error", err.Error()))
	}
}

// correctGeometry fills in bounds when the engine omitted sizing. Engines
// that report no dimensions get the configured default diagram box.
func (e *renderExecutor) correctGeometry(node *document.PlaceholderNode, frag *render.Fragment) {
	if frag.Width <= 0 || frag.Height <= 0 {
		frag.Width = e.defaultWidth
		frag.Height = e.defaultHeight
	}
	b := node.Bounds()
	b.Width = frag.Width
	b.Height = frag.Height
	node.SetBounds(b)
}

// renderFailureText extracts the human-readable part of an engine error.
func renderFailureText(err error) string {
	var viz *schema.VizError
	if errors.As(err, &viz) {
		return viz.Message
	}
	return err.Error()
}
