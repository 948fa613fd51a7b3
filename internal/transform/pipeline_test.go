package transform

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizflow/vizflow/internal/registry"
	"github.com/vizflow/vizflow/pkg/schema"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConvertEmitsPlaceholdersAndRegistersSources(t *testing.T) {
	reg := registry.NewSourceRegistry()
	p := New(reg, discardLogger())

	markdown := "# Report\n" +
		"\n" +
		"Intro paragraph.\n" +
		"\n" +
		"```dot\n" +
		"digraph { a -> b }\n" +
		"```\n" +
		"\n" +
		"Between the diagrams.\n" +
		"\n" +
		"```graphviz\n" +
		"digraph { c -> d }\n" +
		"```\n"

	c, err := p.Convert(context.Background(), "sess-1", markdown)
	require.NoError(t, err)
	require.Len(t, c.Nodes(), 2)
	assert.Equal(t, 2, reg.Count())

	src0, err := reg.Lookup(c.Nodes()[0].ID())
	require.NoError(t, err)
	assert.Equal(t, "digraph { a -> b }", src0)

	src1, err := reg.Lookup(c.Nodes()[1].ID())
	require.NoError(t, err)
	assert.Equal(t, "digraph { c -> d }", src1)

	for _, n := range c.Nodes() {
		assert.Equal(t, schema.StateUnprocessed, n.State())
		assert.Contains(t, c.HTML(), `data-diagram-id="`+n.ID()+`"`)
		assert.Contains(t, n.Content(), "diagram-placeholder")
	}

	assert.Contains(t, c.HTML(), `<h1 id="report">Report</h1>`)
	assert.NotContains(t, c.HTML(), sentinelPrefix)
	assert.Equal(t, 2, c.UnprocessedCount())
}

func TestConvertLeavesRegularCodeFencesAlone(t *testing.T) {
	reg := registry.NewSourceRegistry()
	p := New(reg, discardLogger())

	markdown := "Some code:\n" +
		"\n" +
		"```go\n" +
		"func main() {}\n" +
		"```\n"

	c, err := p.Convert(context.Background(), "sess-1", markdown)
	require.NoError(t, err)
	assert.Empty(t, c.Nodes())
	assert.Equal(t, 0, reg.Count())
	assert.Contains(t, c.HTML(), "<pre")
	assert.NotContains(t, c.HTML(), "diagram-placeholder")
}

func TestConvertSourcePreservedVerbatim(t *testing.T) {
	reg := registry.NewSourceRegistry()
	p := New(reg, discardLogger())

	source := "digraph {\n" +
		"  a -> b [label=\"<x & y>\"]\n" +
		"  b -> c\n" +
		"}"
	markdown := "```dot\n" + source + "\n```\n"

	c, err := p.Convert(context.Background(), "sess-1", markdown)
	require.NoError(t, err)
	require.Len(t, c.Nodes(), 1)

	got, err := reg.Lookup(c.Nodes()[0].ID())
	require.NoError(t, err)
	assert.Equal(t, source, got)
}

func TestConvertEstimatesStackedGeometry(t *testing.T) {
	reg := registry.NewSourceRegistry()
	p := New(reg, discardLogger())

	markdown := "# Title\n" +
		"\n" +
		"```dot\n" +
		"digraph { a }\n" +
		"```\n" +
		"More text.\n" +
		"```dot\n" +
		"digraph { b }\n" +
		"```\n"

	c, err := p.Convert(context.Background(), "sess-1", markdown)
	require.NoError(t, err)
	require.Len(t, c.Nodes(), 2)

	first := c.Nodes()[0].Bounds()
	second := c.Nodes()[1].Bounds()

	assert.Equal(t, 2*estLineHeight, first.Top)
	assert.Equal(t, estDiagramWidth, first.Width)
	assert.Equal(t, estDiagramHeight, first.Height)

	assert.Equal(t, 3*estLineHeight+estDiagramHeight+estBlockGap, second.Top)
	assert.Greater(t, second.Top, first.Top)
}

func TestConvertSkipsEmptyFence(t *testing.T) {
	reg := registry.NewSourceRegistry()
	p := New(reg, discardLogger())

	c, err := p.Convert(context.Background(), "sess-1", "```dot\n\n```\n")
	require.NoError(t, err)
	assert.Empty(t, c.Nodes())
	assert.Equal(t, 0, reg.Count())
}

func TestConvertKeepsUnclosedFenceAsCode(t *testing.T) {
	reg := registry.NewSourceRegistry()
	p := New(reg, discardLogger())

	c, err := p.Convert(context.Background(), "sess-1", "```dot\ndigraph { a -> b }")
	require.NoError(t, err)
	assert.Empty(t, c.Nodes())
	assert.Equal(t, 0, reg.Count())
	assert.NotContains(t, c.HTML(), "diagram-placeholder")
}

func TestConvertCustomLanguages(t *testing.T) {
	reg := registry.NewSourceRegistry()
	p := New(reg, discardLogger(), "mermaid")

	markdown := "```mermaid\ngraph TD; A-->B;\n```\n" +
		"```dot\ndigraph { a }\n```\n"

	c, err := p.Convert(context.Background(), "sess-1", markdown)
	require.NoError(t, err)
	require.Len(t, c.Nodes(), 1)

	src, err := reg.Lookup(c.Nodes()[0].ID())
	require.NoError(t, err)
	assert.Equal(t, "graph TD; A-->B;", src)
}

func TestConvertFenceLanguageCaseInsensitive(t *testing.T) {
	reg := registry.NewSourceRegistry()
	p := New(reg, discardLogger())

	c, err := p.Convert(context.Background(), "sess-1", "```DOT\ndigraph { a }\n```\n")
	require.NoError(t, err)
	assert.Len(t, c.Nodes(), 1)
}

func TestOffsetNodes(t *testing.T) {
	reg := registry.NewSourceRegistry()
	p := New(reg, discardLogger())

	c, err := p.Convert(context.Background(), "sess-1", "```dot\ndigraph { a }\n```\n")
	require.NoError(t, err)
	require.Len(t, c.Nodes(), 1)

	before := c.Nodes()[0].Bounds().Top
	OffsetNodes(c, 500)
	assert.Equal(t, before+500, c.Nodes()[0].Bounds().Top)

	OffsetNodes(c, 0)
	assert.Equal(t, before+500, c.Nodes()[0].Bounds().Top)
}

func TestConvertManyFencesKeepDiscoveryOrder(t *testing.T) {
	reg := registry.NewSourceRegistry()
	p := New(reg, discardLogger())

	var sb strings.Builder
	for i := 0; i < 5; i++ {
		sb.WriteString("```dot\ndigraph { n" + string(rune('a'+i)) + " }\n```\n")
	}

	c, err := p.Convert(context.Background(), "sess-1", sb.String())
	require.NoError(t, err)
	require.Len(t, c.Nodes(), 5)

	for i := 1; i < len(c.Nodes()); i++ {
		assert.Greater(t, c.Nodes()[i].Bounds().Top, c.Nodes()[i-1].Bounds().Top)
	}
	for i, n := range c.Nodes() {
		src, err := reg.Lookup(n.ID())
		require.NoError(t, err)
		assert.Equal(t, "digraph { n"+string(rune('a'+i))+" }", src)
	}
}
