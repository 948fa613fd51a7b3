package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeMissingSource = "MISSING_SOURCE"
	ErrCodeEngineRender  = "ENGINE_RENDER"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeTimeout       = "TIMEOUT_ERROR"
	ErrCodeStore         = "STORE_ERROR"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// VizError is the structured error type for all vizflow operations.
type VizError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	DiagramID string         `json:"diagram_id,omitempty"`
	Cause     error          `json:"-"`
}

func (e *VizError) Error() string {
	if e.DiagramID != "" {
		return fmt.Sprintf("[%s] diagram %s: %s", e.Code, e.DiagramID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *VizError) Unwrap() error {
	return e.Cause
}

// NewError creates a new VizError.
func NewError(code, message string) *VizError {
	return &VizError{Code: code, Message: message}
}

// NewErrorf creates a new VizError with a formatted message.
func NewErrorf(code, format string, args ...any) *VizError {
	return &VizError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDiagram attaches a diagram ID to the error.
func (e *VizError) WithDiagram(diagramID string) *VizError {
	e.DiagramID = diagramID
	return e
}

// WithCause attaches an underlying cause.
func (e *VizError) WithCause(err error) *VizError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *VizError) WithDetails(details map[string]any) *VizError {
	e.Details = details
	return e
}
