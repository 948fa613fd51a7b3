package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizflow/vizflow/internal/document"
)

func classifierNode(id string, top float64) *document.PlaceholderNode {
	return document.NewPlaceholderNode(id,
		document.Rect{Top: top, Width: 600, Height: 100}, "loading")
}

func TestClassifyPartitionsByViewport(t *testing.T) {
	vp := func() document.Viewport { return document.Viewport{Top: 0, Height: 800} }
	c := newViewportClassifier(vp, 200)

	nodes := []*document.PlaceholderNode{
		classifierNode("top", 100),
		classifierNode("margin", 950),
		classifierNode("below", 2000),
		classifierNode("far", 5000),
	}

	visible, deferred := c.classify(nodes, nil)

	require.Len(t, visible, 2)
	assert.Equal(t, "top", visible[0].ID())
	assert.Equal(t, "margin", visible[1].ID())
	require.Len(t, deferred, 2)
	assert.Equal(t, "below", deferred[0].ID())
	assert.Equal(t, "far", deferred[1].ID())
}

func TestClassifyMarginBoundary(t *testing.T) {
	vp := func() document.Viewport { return document.Viewport{Top: 0, Height: 800} }
	c := newViewportClassifier(vp, 200)

	// Viewport bottom 800 plus margin 200: tops below 1000 intersect.
	inside := classifierNode("inside", 999)
	outside := classifierNode("outside", 1000)

	visible, deferred := c.classify([]*document.PlaceholderNode{inside, outside}, nil)

	require.Len(t, visible, 1)
	assert.Equal(t, "inside", visible[0].ID())
	require.Len(t, deferred, 1)
	assert.Equal(t, "outside", deferred[0].ID())
}

func TestClassifyAboveViewportWithMargin(t *testing.T) {
	vp := func() document.Viewport { return document.Viewport{Top: 1000, Height: 800} }
	c := newViewportClassifier(vp, 200)

	// Node bottoms above top-margin are deferred; within the margin they count.
	above := classifierNode("above", 0)       // bottom 100 < 800
	nearby := classifierNode("nearby", 750)   // bottom 850 > 800
	onScreen := classifierNode("on", 1200)

	visible, deferred := c.classify([]*document.PlaceholderNode{above, nearby, onScreen}, nil)

	assert.Len(t, visible, 2)
	assert.Equal(t, "nearby", visible[0].ID())
	assert.Equal(t, "on", visible[1].ID())
	require.Len(t, deferred, 1)
	assert.Equal(t, "above", deferred[0].ID())
}

func TestClassifySkipsTerminalNodes(t *testing.T) {
	vp := func() document.Viewport { return document.Viewport{Top: 0, Height: 800} }
	c := newViewportClassifier(vp, 200)

	done := classifierNode("done", 100)
	require.NoError(t, done.MarkProcessed("<svg/>", "src"))
	failed := classifierNode("failed", 200)
	require.NoError(t, failed.MarkError("annotation"))
	fresh := classifierNode("fresh", 300)

	visible, deferred := c.classify([]*document.PlaceholderNode{done, failed, fresh}, nil)

	require.Len(t, visible, 1)
	assert.Equal(t, "fresh", visible[0].ID())
	assert.Empty(t, deferred)
}

func TestClassifySkipsInFlight(t *testing.T) {
	vp := func() document.Viewport { return document.Viewport{Top: 0, Height: 800} }
	c := newViewportClassifier(vp, 200)

	nodes := []*document.PlaceholderNode{
		classifierNode("busy", 100),
		classifierNode("idle", 200),
	}
	skip := func(id string) bool { return id == "busy" }

	visible, deferred := c.classify(nodes, skip)

	require.Len(t, visible, 1)
	assert.Equal(t, "idle", visible[0].ID())
	assert.Empty(t, deferred)
}
