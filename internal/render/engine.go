package render

import (
	"context"
	"strconv"
	"strings"
)

// Options carries per-render parameters honored by every engine.
type Options struct {
	Theme string
}

// Fragment is the visual result of one render. Zero Width/Height means the
// engine omitted sizing and the caller's geometry-correction step applies.
type Fragment struct {
	Markup string
	Width  float64
	Height float64
}

// Engine turns diagram source text into a visual fragment. Implementations
// must be safe for concurrent use across distinct ids; the scheduler
// guarantees the same id is never rendered twice concurrently.
type Engine interface {
	Name() string
	Render(ctx context.Context, id, sourceCode string, opts Options) (*Fragment, error)
}

// parseSVGSize extracts width/height from an SVG header and converts points
// to logical units (CSS pixels, 96/72). Returns zeros when either attribute
// is missing, which routes the fragment through geometry-correction.
func parseSVGSize(markup string) (width, height float64) {
	w := svgAttr(markup, `width="`)
	h := svgAttr(markup, `height="`)
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	return w, h
}

func svgAttr(markup, attr string) float64 {
	i := strings.Index(markup, attr)
	if i < 0 {
		return 0
	}
	rest := markup[i+len(attr):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return 0
	}
	val := rest[:end]
	scale := 1.0
	if strings.HasSuffix(val, "pt") {
		val = strings.TrimSuffix(val, "pt")
		scale = 96.0 / 72.0
	} else if strings.HasSuffix(val, "px") {
		val = strings.TrimSuffix(val, "px")
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0
	}
	return f * scale
}
