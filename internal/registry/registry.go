package registry

import (
	"sort"
	"sync"

	"github.com/vizflow/vizflow/pkg/schema"
)

// SourceRegistry is the thread-safe store of diagram source by id. The
// transform pipeline registers each block at the moment it emits the
// placeholder carrying the same id; sources live for the document's lifetime.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources map[string]string
}

// NewSourceRegistry creates an empty SourceRegistry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{
		sources: make(map[string]string),
	}
}

// Register stores diagram source under an id. Returns an error on empty
// id/source or duplicate id.
func (r *SourceRegistry) Register(id, sourceCode string) error {
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "diagram id is empty")
	}
	if sourceCode == "" {
		return schema.NewError(schema.ErrCodeValidation, "diagram source is empty").WithDiagram(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "diagram %q already registered", id)
	}

	r.sources[id] = sourceCode
	return nil
}

// Lookup retrieves the source for an id. A miss is a hard error: the render
// path turns it into a visible "missing diagram data" annotation, never a retry.
func (r *SourceRegistry) Lookup(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[id]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeMissingSource, "no source registered for diagram %q", id).WithDiagram(id)
	}
	return src, nil
}

// Has checks if an id is registered.
func (r *SourceRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[id]
	return ok
}

// Count returns the number of registered sources.
func (r *SourceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// IDs returns all registered ids, sorted.
func (r *SourceRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
