package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/vizflow/vizflow/pkg/schema"
)

// GraphvizEngine renders DOT source in-process via the embedded graphviz
// runtime and emits themed SVG fragments.
type GraphvizEngine struct {
	logger *slog.Logger
}

// NewGraphvizEngine creates an in-process graphviz engine.
func NewGraphvizEngine(logger *slog.Logger) *GraphvizEngine {
	return &GraphvizEngine{logger: logger}
}

// Name returns the engine identifier.
func (e *GraphvizEngine) Name() string { return "graphviz" }

// Render lays out the DOT source and returns an SVG fragment. A parse or
// layout failure means malformed source and maps to an engine render error.
func (e *GraphvizEngine) Render(ctx context.Context, id, sourceCode string, opts Options) (*Fragment, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeEngineRender, "create graphviz runtime").WithDiagram(id).WithCause(err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	themed := applyThemeAttrs(sourceCode, PaletteFor(opts.Theme))
	graph, err := graphviz.ParseBytes([]byte(themed))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeEngineRender, "parse diagram source: %v", err).WithDiagram(id).WithCause(err)
	}
	defer graph.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.SVG, &buf); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeEngineRender, "render SVG: %v", err).WithDiagram(id).WithCause(err)
	}

	markup := buf.String()
	width, height := parseSVGSize(markup)
	e.logger.Debug("graphviz render complete",
		slog.String("diagram_id", id),
		slog.Int("bytes", buf.Len()),
	)
	return &Fragment{Markup: markup, Width: width, Height: height}, nil
}

// applyThemeAttrs injects graph-level color attributes right after the
// opening brace so user attributes declared later still win.
func applyThemeAttrs(sourceCode string, pal Palette) string {
	i := strings.IndexByte(sourceCode, '{')
	if i < 0 {
		return sourceCode
	}
	attrs := fmt.Sprintf(
		` bgcolor=%q; node [style="filled" fillcolor=%q color=%q fontcolor=%q]; edge [color=%q fontcolor=%q];`,
		pal.Background, pal.NodeFill, pal.NodeBorder, pal.FontColor, pal.EdgeColor, pal.FontColor,
	)
	return sourceCode[:i+1] + attrs + sourceCode[i+1:]
}
