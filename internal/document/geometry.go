package document

// Rect is an axis-aligned region in the document's logical coordinate space.
// Top grows downward, matching reading order.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Bottom returns the lower edge of the rect.
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Viewport is the vertical window of the document currently on screen.
type Viewport struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// Bottom returns the lower edge of the viewport.
func (v Viewport) Bottom() float64 { return v.Top + v.Height }

// Intersects reports whether r falls within the viewport expanded by margin
// logical units above and below.
func (v Viewport) Intersects(r Rect, margin float64) bool {
	return r.Top < v.Bottom()+margin && r.Bottom() > v.Top-margin
}
