package schema

// Event type constants for the render lifecycle stream.
const (
	EventBatchFlushed    = "batch_flushed"
	EventDiagramAdmitted = "diagram_admitted"
	EventDiagramQueued   = "diagram_queued"
	EventDiagramDeferred = "diagram_deferred"
	EventDiagramPromoted = "diagram_promoted"

	EventRenderStarted   = "render_started"
	EventRenderCompleted = "render_completed"
	EventRenderFailed    = "render_failed"

	EventThemeChanged    = "theme_changed"
	EventThemeRerendered = "theme_rerendered"

	EventFallbackScan = "fallback_scan"
)

// PlaceholderState represents the render lifecycle state of a diagram placeholder.
type PlaceholderState string

const (
	StateUnprocessed PlaceholderState = "unprocessed"
	StateProcessed   PlaceholderState = "processed"
	StateError       PlaceholderState = "error"
)

// Terminal reports whether the state admits no further render pass.
// Theme re-renders replace content on processed nodes without leaving the state.
func (s PlaceholderState) Terminal() bool {
	return s == StateProcessed || s == StateError
}
