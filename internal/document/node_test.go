package document

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizflow/vizflow/pkg/schema"
)

func TestNodeRenderLifecycle(t *testing.T) {
	n := NewPlaceholderNode("d-1", Rect{Top: 10, Height: 100}, "<div>loading</div>")

	assert.Equal(t, schema.StateUnprocessed, n.State())
	assert.Equal(t, "<div>loading</div>", n.Content())
	assert.Empty(t, n.CachedSource())

	require.NoError(t, n.MarkProcessed("<svg/>", "digraph { a -> b }"))
	assert.Equal(t, schema.StateProcessed, n.State())
	assert.Equal(t, "<svg/>", n.Content())
	assert.Equal(t, "digraph { a -> b }", n.CachedSource())
}

func TestNodeErrorLifecycle(t *testing.T) {
	n := NewPlaceholderNode("d-2", Rect{}, "loading")

	require.NoError(t, n.MarkError("diagram failed: bad syntax"))
	assert.Equal(t, schema.StateError, n.State())
	assert.Equal(t, "diagram failed: bad syntax", n.Content())
	assert.Empty(t, n.CachedSource())
}

func TestNodeRejectsSecondRenderPass(t *testing.T) {
	n := NewPlaceholderNode("d-3", Rect{}, "loading")
	require.NoError(t, n.MarkProcessed("<svg/>", "src"))

	err := n.MarkProcessed("<svg>other</svg>", "src")
	require.Error(t, err)
	var vErr *schema.VizError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, schema.ErrCodeConflict, vErr.Code)

	assert.Error(t, n.MarkError("boom"))
	assert.Equal(t, schema.StateProcessed, n.State())
	assert.Equal(t, "<svg/>", n.Content())
}

func TestNodeReplaceContent(t *testing.T) {
	n := NewPlaceholderNode("d-4", Rect{}, "loading")

	// Unprocessed and error nodes never accept an in-place replacement.
	assert.Error(t, n.ReplaceContent("<svg>dark</svg>"))

	require.NoError(t, n.MarkProcessed("<svg>light</svg>", "src"))
	require.NoError(t, n.ReplaceContent("<svg>dark</svg>"))
	assert.Equal(t, schema.StateProcessed, n.State())
	assert.Equal(t, "<svg>dark</svg>", n.Content())
	assert.Equal(t, "src", n.CachedSource())
}

func TestNodeBounds(t *testing.T) {
	n := NewPlaceholderNode("d-5", Rect{Top: 50, Height: 100}, "loading")
	n.SetBounds(Rect{Top: 50, Width: 640, Height: 320})
	assert.Equal(t, 640.0, n.Bounds().Width)
	assert.Equal(t, 370.0, n.Bounds().Bottom())
}
