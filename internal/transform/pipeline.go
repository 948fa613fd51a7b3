package transform

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/vizflow/vizflow/internal/document"
	"github.com/vizflow/vizflow/internal/logging"
	"github.com/vizflow/vizflow/internal/registry"
	"github.com/vizflow/vizflow/pkg/schema"
)

// Geometry estimation in logical units. The estimates only have to be good
// enough for viewport classification; real layout drifts are absorbed by the
// observer and the scroll fallback.
const (
	estLineHeight    = 24.0
	estDiagramWidth  = 640.0
	estDiagramHeight = 320.0
	estBlockGap      = 16.0
)

const sentinelPrefix = "@@vizflow-diagram:"

// fenceBlock is one diagram fence lifted out of the markdown.
type fenceBlock struct {
	id     string
	lang   string
	source string
	top    float64
}

// Pipeline converts message markdown into a document container: HTML via
// goldmark, one placeholder region per diagram fence, sources registered
// under fresh ids, geometry estimated per placeholder.
type Pipeline struct {
	md        goldmark.Markdown
	registry  *registry.SourceRegistry
	languages map[string]bool
	logger    *slog.Logger
}

// New builds a Pipeline over the given registry. langs lists the fence
// languages treated as diagram sources; empty means "dot" and "graphviz".
func New(reg *registry.SourceRegistry, logger *slog.Logger, langs ...string) *Pipeline {
	if len(langs) == 0 {
		langs = []string{"dot", "graphviz"}
	}
	languages := make(map[string]bool, len(langs))
	for _, l := range langs {
		languages[strings.ToLower(l)] = true
	}

	if logger == nil {
		logger = slog.Default()
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
		),
	)

	return &Pipeline{
		md:        md,
		registry:  reg,
		languages: languages,
		logger:    logger,
	}
}

// Convert renders markdown to HTML, swaps every diagram fence for a
// placeholder region and registers the fence source under the placeholder's
// id. The returned container is ready for document insertion and scheduler
// submission.
func (p *Pipeline) Convert(ctx context.Context, sessionID, markdown string) (*document.Container, error) {
	logger := logging.LogWith(ctx, p.logger)

	stripped, fences := p.extractFences(markdown)

	var buf bytes.Buffer
	if err := p.md.Convert([]byte(stripped), &buf); err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "markdown conversion failed").WithCause(err)
	}
	htmlContent := buf.String()

	nodes := make([]*document.PlaceholderNode, 0, len(fences))
	for _, f := range fences {
		if err := p.registry.Register(f.id, f.source); err != nil {
			return nil, err
		}
		placeholder := placeholderMarkup(f.id)
		htmlContent = replaceSentinel(htmlContent, f.id, placeholder)
		nodes = append(nodes, document.NewPlaceholderNode(f.id, document.Rect{
			Top:    f.top,
			Left:   0,
			Width:  estDiagramWidth,
			Height: estDiagramHeight,
		}, placeholder))
	}

	containerID := uuid.NewString()
	logger.Debug("markdown converted",
		slog.String("session_id", sessionID),
		slog.String("container_id", containerID),
		slog.Int("diagrams", len(nodes)))

	return document.NewContainer(containerID, htmlContent, nodes), nil
}

// EstimateHeight approximates the rendered height of markdown in logical
// units, counting text lines plus a diagram box per diagram fence. Callers
// stack containers by advancing an offset cursor with this estimate.
func (p *Pipeline) EstimateHeight(markdown string) float64 {
	stripped, fences := p.extractFences(markdown)
	lines := strings.Count(stripped, "\n") + 1
	return float64(lines)*estLineHeight + float64(len(fences))*(estDiagramHeight+estBlockGap)
}

// OffsetNodes shifts every placeholder's estimated bounds down by base,
// placing the container's geometry after content already in the document.
func OffsetNodes(c *document.Container, base float64) {
	if base == 0 {
		return
	}
	for _, n := range c.Nodes() {
		b := n.Bounds()
		b.Top += base
		n.SetBounds(b)
	}
}

// extractFences lifts diagram fences out of the markdown, leaving a
// sentinel paragraph per fence, and estimates each fence's vertical offset
// within the rendered container. Non-diagram fences pass through untouched,
// including anything fence-like inside their bodies.
func (p *Pipeline) extractFences(markdown string) (string, []fenceBlock) {
	lines := strings.Split(markdown, "\n")
	var (
		out       []string
		fences    []fenceBlock
		textLines int
	)

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if !strings.HasPrefix(trimmed, "```") {
			out = append(out, line)
			textLines++
			continue
		}

		lang := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "```")))
		if !p.languages[lang] {
			// A regular code fence: copy through to its closing line.
			out = append(out, line)
			textLines++
			for i++; i < len(lines); i++ {
				out = append(out, lines[i])
				textLines++
				if strings.TrimSpace(lines[i]) == "```" {
					break
				}
			}
			continue
		}

		// A diagram fence: collect the body.
		var body []string
		closed := false
		for i++; i < len(lines); i++ {
			if strings.TrimSpace(lines[i]) == "```" {
				closed = true
				break
			}
			body = append(body, lines[i])
		}
		source := strings.Join(body, "\n")

		if strings.TrimSpace(source) == "" || !closed {
			// Nothing to render: keep the original fence text visible.
			out = append(out, "```"+lang)
			out = append(out, body...)
			if closed {
				out = append(out, "```")
			}
			textLines += len(body) + 2
			continue
		}

		f := fenceBlock{
			id:     uuid.NewString(),
			lang:   lang,
			source: source,
			top:    float64(textLines)*estLineHeight + float64(len(fences))*(estDiagramHeight+estBlockGap),
		}
		fences = append(fences, f)

		// Blank lines force the sentinel into its own paragraph.
		out = append(out, "", sentinelPrefix+f.id+"@@", "")
	}

	return strings.Join(out, "\n"), fences
}

// replaceSentinel swaps the rendered sentinel paragraph for the placeholder
// markup.
func replaceSentinel(htmlContent, id, placeholder string) string {
	sentinel := sentinelPrefix + id + "@@"
	if wrapped := "<p>" + sentinel + "</p>"; strings.Contains(htmlContent, wrapped) {
		return strings.Replace(htmlContent, wrapped, placeholder, 1)
	}
	return strings.Replace(htmlContent, sentinel, placeholder, 1)
}

func placeholderMarkup(id string) string {
	return fmt.Sprintf(`<div class="diagram-placeholder" data-diagram-id=%q>`+
		`<span class="diagram-loading">Rendering diagram</span></div>`, id)
}
