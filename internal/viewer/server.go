package viewer

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/vizflow/vizflow/internal/history"
	"github.com/vizflow/vizflow/internal/streaming"
)

//go:embed templates static
var content embed.FS

// Deps holds the dependencies for the viewer server.
type Deps struct {
	Store   history.Store
	Manager *Manager
	Hub     streaming.EventHub
	Logger  *slog.Logger
}

// Server serves the session viewer: pages, the JSON API, the SSE render
// patch stream and the websocket viewport channel.
type Server struct {
	deps  Deps
	pages map[string]*template.Template
}

// NewServer creates a Server with parsed templates.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	funcMap := template.FuncMap{
		"timeAgo":  timeAgo,
		"truncate": truncate,
	}

	// Parse shared templates (base layout), then build per-page sets. Each
	// page clones the shared set so its {{define "content"}} doesn't collide
	// with others.
	base := template.Must(
		template.New("").Funcs(funcMap).ParseFS(content, "templates/base.html"),
	)

	pageFiles := []string{
		"index.html",
		"session.html",
	}

	pages := make(map[string]*template.Template, len(pageFiles))
	for _, pf := range pageFiles {
		clone := template.Must(base.Clone())
		pages[pf] = template.Must(clone.ParseFS(content, "templates/"+pf))
	}

	return &Server{
		deps:  deps,
		pages: pages,
	}
}

// Handler returns the HTTP handler for the viewer routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Static files.
	staticFS, _ := fs.Sub(content, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	// Pages.
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /sessions/{id}", s.handleSessionPage)

	// API.
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.handlePostMessage)
	mux.HandleFunc("GET /api/sessions/{id}/document", s.handleDocument)
	mux.HandleFunc("POST /api/sessions/{id}/theme", s.handleSetTheme)

	// Streams.
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSSE)
	mux.HandleFunc("GET /ws/sessions/{id}", s.handleWebSocket)

	return mux
}

// renderPage executes a page template by name.
func (s *Server) renderPage(w http.ResponseWriter, page string, data any) {
	tmpl, ok := s.pages[page]
	if !ok {
		s.deps.Logger.Error("template not found", "page", page)
		http.Error(w, fmt.Sprintf("template %q not found", page), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		s.deps.Logger.Error("template render error", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
