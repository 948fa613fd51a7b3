package scheduler

import (
	"github.com/vizflow/vizflow/internal/document"
	"github.com/vizflow/vizflow/pkg/schema"
)

// viewportClassifier partitions freshly discovered placeholders by current
// visibility. Geometry is read once, at call time; a node classified as
// deferred is never re-examined here, later visibility is the observer's job.
type viewportClassifier struct {
	viewport document.ViewportFunc
	margin   float64
}

func newViewportClassifier(viewport document.ViewportFunc, margin float64) *viewportClassifier {
	return &viewportClassifier{viewport: viewport, margin: margin}
}

// classify splits nodes into visible and deferred, preserving discovery
// order within each partition. Nodes that are no longer unprocessed, or for
// which skip returns true (already in-flight), are dropped.
func (c *viewportClassifier) classify(nodes []*document.PlaceholderNode, skip func(id string) bool) (visible, deferred []*document.PlaceholderNode) {
	vp := c.viewport()
	for _, n := range nodes {
		if n.State() != schema.StateUnprocessed {
			continue
		}
		if skip != nil && skip(n.ID()) {
			continue
		}
		if vp.Intersects(n.Bounds(), c.margin) {
			visible = append(visible, n)
		} else {
			deferred = append(deferred, n)
		}
	}
	return visible, deferred
}
