package scheduler

import (
	"log/slog"

	"github.com/sourcegraph/conc/pool"

	"github.com/vizflow/vizflow/internal/document"
	"github.com/vizflow/vizflow/pkg/schema"
)

// rerenderPass re-invokes the engine for every processed placeholder under
// the new theme, replacing content in place. Failures keep the previous
// visual; error and unprocessed nodes are untouched. Processed nodes are
// never in-flight, so running outside the gate keeps the engine's same-id
// exclusivity intact.
func (s *Scheduler) rerenderPass(theme string) {
	defer s.themeBusy.Add(-1)

	var targets []*document.PlaceholderNode
	for _, n := range s.doc.Nodes() {
		if n.State() == schema.StateProcessed && n.CachedSource() != "" {
			targets = append(targets, n)
		}
	}
	if len(targets) == 0 {
		return
	}

	s.logger.Info("re-rendering for theme change",
		slog.String("theme", theme),
		slog.Int("diagrams", len(targets)))

	p := pool.New().WithMaxGoroutines(s.cfg.MaxConcurrency)
	for _, node := range targets {
		node := node
		p.Go(func() {
			s.rerenderNode(node, theme)
		})
	}
	p.Wait()
}

func (s *Scheduler) rerenderNode(node *document.PlaceholderNode, theme string) {
	id := node.ID()

	frag, err := s.executor.invoke(id, node.CachedSource())
	if err != nil {
		s.logger.Warn("theme re-render failed, keeping previous visual",
			slog.String("diagram_id", id),
			slog.String("error", err.Error()))
		return
	}

	if err := node.ReplaceContent(frag.Markup); err != nil {
		s.logger.Warn("theme re-render dropped",
			slog.String("diagram_id", id),
			slog.String("error", err.Error()))
		return
	}

	s.rerendered.Add(1)
	s.publishNode(schema.EventThemeRerendered, node, map[string]any{"theme": theme})
}
