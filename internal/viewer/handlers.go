package viewer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vizflow/vizflow/internal/history"
	"github.com/vizflow/vizflow/pkg/schema"
)

// --- Page data types ---

type pageData struct {
	Title string
}

type indexData struct {
	pageData
	Sessions []*history.Session
}

type sessionData struct {
	pageData
	Session      *history.Session
	MessageCount int
}

// --- Page handlers ---

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Store.ListSessions(r.Context(), history.SessionFilter{Limit: queryInt(r, "limit", 50)})
	if err != nil {
		s.deps.Logger.Error("list sessions failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.renderPage(w, "index.html", indexData{
		pageData: pageData{Title: "Sessions"},
		Sessions: sessions,
	})
}

func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("id")

	session, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		httpStatusError(w, err)
		return
	}
	count, _ := s.deps.Store.CountMessages(ctx, sessionID)

	s.renderPage(w, "session.html", sessionData{
		pageData:     pageData{Title: session.Title},
		Session:      session,
		MessageCount: count,
	})
}

// --- API handlers ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Store.ListSessions(r.Context(), history.SessionFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
		Theme string `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	session, err := s.deps.Manager.CreateSession(r.Context(), body.Title, body.Theme)
	if err != nil {
		httpStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if _, err := s.deps.Store.GetSession(r.Context(), sessionID); err != nil {
		httpStatusError(w, err)
		return
	}

	msgs, err := s.deps.Store.ListMessages(r.Context(), sessionID, history.MessageFilter{
		AfterSeq: int64(queryInt(r, "after_seq", 0)),
		Limit:    queryInt(r, "limit", 0),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list messages: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// handlePostMessage stores a message, runs its body through the transform
// pipeline and submits the resulting container to the session's scheduler.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var body struct {
		Role string `json:"role"`
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	if body.Role == "" {
		body.Role = history.RoleUser
	}

	msg, container, err := s.deps.Manager.AppendMessage(r.Context(), sessionID, body.Role, body.Body)
	if err != nil {
		httpStatusError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":      msg,
		"container_id": container.ID(),
		"html":         container.HTML(),
		"diagrams":     len(container.Nodes()),
	})
}

// handleDocument returns the live document's current markup and per-diagram
// states, used by clients reconnecting mid-session.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	rt, err := s.deps.Manager.Acquire(r.Context(), sessionID)
	if err != nil {
		httpStatusError(w, err)
		return
	}

	type containerView struct {
		ID   string `json:"id"`
		HTML string `json:"html"`
	}
	type diagramView struct {
		ID      string `json:"id"`
		State   string `json:"state"`
		Content string `json:"content"`
	}

	var containers []containerView
	var diagrams []diagramView
	for _, c := range rt.Document().Containers() {
		containers = append(containers, containerView{ID: c.ID(), HTML: c.HTML()})
		for _, n := range c.Nodes() {
			diagrams = append(diagrams, diagramView{
				ID:      n.ID(),
				State:   string(n.State()),
				Content: n.Content(),
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"theme":      rt.Scheduler().Theme(),
		"containers": containers,
		"diagrams":   diagrams,
		"counters":   rt.Scheduler().Counters(),
	})
}

func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var body struct {
		Theme string `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Theme == "" {
		writeError(w, http.StatusBadRequest, "theme is required")
		return
	}

	if err := s.deps.Manager.SetTheme(r.Context(), sessionID, body.Theme); err != nil {
		httpStatusError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"theme":      body.Theme,
	})
}

// httpStatusError maps a VizError code onto an HTTP status.
func httpStatusError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var viz *schema.VizError
	if errors.As(err, &viz) {
		switch viz.Code {
		case schema.ErrCodeNotFound:
			status = http.StatusNotFound
		case schema.ErrCodeValidation:
			status = http.StatusBadRequest
		case schema.ErrCodeConflict:
			status = http.StatusConflict
		}
	}
	writeError(w, status, err.Error())
}
