package document

import (
	"sync"

	"github.com/vizflow/vizflow/pkg/schema"
)

// PlaceholderNode is the mutable document region standing in for one diagram
// until it renders. The transform pipeline creates it unprocessed; the render
// path mutates it exactly once into processed or error. Engine completions
// arrive on other goroutines, so all access goes through the mutex.
type PlaceholderNode struct {
	id string

	mu           sync.Mutex
	state        schema.PlaceholderState
	bounds       Rect
	content      string
	cachedSource string
	detached     bool
}

// NewPlaceholderNode creates an unprocessed placeholder showing loading content.
func NewPlaceholderNode(id string, bounds Rect, loading string) *PlaceholderNode {
	return &PlaceholderNode{
		id:      id,
		state:   schema.StateUnprocessed,
		bounds:  bounds,
		content: loading,
	}
}

// ID returns the diagram id the node is tied to.
func (n *PlaceholderNode) ID() string { return n.id }

// State returns the current render lifecycle state.
func (n *PlaceholderNode) State() schema.PlaceholderState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Bounds returns the node's geometry at call time.
func (n *PlaceholderNode) Bounds() Rect {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bounds
}

// SetBounds updates the node's geometry, e.g. after host layout or a
// geometry-correction step.
func (n *PlaceholderNode) SetBounds(r Rect) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bounds = r
}

// Content returns the currently visible markup.
func (n *PlaceholderNode) Content() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.content
}

// CachedSource returns the source retained for theme re-renders. Empty until
// the node is processed.
func (n *PlaceholderNode) CachedSource() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cachedSource
}

// Detached reports whether the node's containing region was discarded.
func (n *PlaceholderNode) Detached() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.detached
}

// MarkProcessed swaps the visible content for the rendered fragment, caches
// the original source for theme re-renders and moves the node to processed.
// Only an unprocessed node accepts a render result.
func (n *PlaceholderNode) MarkProcessed(markup, source string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != schema.StateUnprocessed {
		return schema.NewErrorf(schema.ErrCodeConflict, "placeholder already %s", n.state).WithDiagram(n.id)
	}
	n.state = schema.StateProcessed
	n.content = markup
	n.cachedSource = source
	return nil
}

// MarkError swaps in an inline error annotation and moves the node to error.
// Only an unprocessed node accepts a failure.
func (n *PlaceholderNode) MarkError(annotation string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != schema.StateUnprocessed {
		return schema.NewErrorf(schema.ErrCodeConflict, "placeholder already %s", n.state).WithDiagram(n.id)
	}
	n.state = schema.StateError
	n.content = annotation
	return nil
}

// ReplaceContent swaps the visible markup in place without a state change.
// Only processed nodes accept a replacement; this is the theme re-render path.
func (n *PlaceholderNode) ReplaceContent(markup string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != schema.StateProcessed {
		return schema.NewErrorf(schema.ErrCodeConflict, "cannot replace content of %s placeholder", n.state).WithDiagram(n.id)
	}
	n.content = markup
	return nil
}

func (n *PlaceholderNode) detach() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.detached = true
}
