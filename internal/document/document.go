package document

import (
	"sync"

	"github.com/vizflow/vizflow/pkg/schema"
)

// Container is one rendered document fragment (typically a message) inserted
// into the page, carrying the placeholders its body produced in reading order.
type Container struct {
	id    string
	html  string
	nodes []*PlaceholderNode
}

// NewContainer creates a container over rendered markup and its placeholders.
func NewContainer(id, html string, nodes []*PlaceholderNode) *Container {
	return &Container{id: id, html: html, nodes: nodes}
}

// ID returns the container id.
func (c *Container) ID() string { return c.id }

// HTML returns the rendered markup the container was built from.
func (c *Container) HTML() string { return c.html }

// Nodes returns the container's placeholders in reading order.
func (c *Container) Nodes() []*PlaceholderNode { return c.nodes }

// UnprocessedCount returns how many placeholders still await a render pass.
func (c *Container) UnprocessedCount() int {
	count := 0
	for _, n := range c.nodes {
		if n.State() == schema.StateUnprocessed {
			count++
		}
	}
	return count
}

// Document is the live page for one session: an ordered list of containers.
// The scroll fallback re-scans it, so reads take a snapshot under the lock.
type Document struct {
	mu         sync.RWMutex
	id         string
	containers []*Container
}

// NewDocument creates an empty document.
func NewDocument(id string) *Document {
	return &Document{id: id}
}

// ID returns the document id.
func (d *Document) ID() string { return d.id }

// Append inserts a container at the end of the document.
func (d *Document) Append(c *Container) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.containers = append(d.containers, c)
}

// Remove discards the container with the given id and marks its placeholders
// detached so late render completions skip the live-patch path.
func (d *Document) Remove(containerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, c := range d.containers {
		if c.id != containerID {
			continue
		}
		d.containers = append(d.containers[:i], d.containers[i+1:]...)
		for _, n := range c.nodes {
			n.detach()
		}
		return true
	}
	return false
}

// Containers returns a snapshot of the document's containers in order.
func (d *Document) Containers() []*Container {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Container, len(d.containers))
	copy(out, d.containers)
	return out
}

// Nodes returns a snapshot of every placeholder in document order.
func (d *Document) Nodes() []*PlaceholderNode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*PlaceholderNode
	for _, c := range d.containers {
		out = append(out, c.nodes...)
	}
	return out
}

// Height returns the bottom edge of the lowest placeholder, used to size
// scroll ranges in the viewer.
func (d *Document) Height() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var h float64
	for _, c := range d.containers {
		for _, n := range c.nodes {
			if b := n.Bounds().Bottom(); b > h {
				h = b
			}
		}
	}
	return h
}
