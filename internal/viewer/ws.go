package viewer

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vizflow/vizflow/internal/document"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// viewportRequest is the incoming WebSocket message format.
type viewportRequest struct {
	Type   string  `json:"type"`   // "viewport" or "scroll"
	Top    float64 `json:"top"`    // viewport top in logical units
	Height float64 `json:"height"` // viewport height in logical units
}

// viewportResponse is the outgoing WebSocket message format.
type viewportResponse struct {
	Type   string  `json:"type"` // "ack" or "error"
	Top    float64 `json:"top,omitempty"`
	Height float64 `json:"height,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// handleWebSocket is the viewport channel: the client reports its scroll
// position here, which feeds the scheduler's viewport provider and nudges
// the scroll fallback after every report.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	rt, err := s.deps.Manager.Acquire(r.Context(), sessionID)
	if err != nil {
		httpStatusError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.deps.Logger.Warn("websocket read failed", "session_id", sessionID, "error", err)
			}
			return
		}

		var req viewportRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.sendWSError(conn, "invalid message format")
			continue
		}

		switch req.Type {
		case "viewport", "scroll":
			if req.Height <= 0 {
				s.sendWSError(conn, "height must be positive")
				continue
			}
			rt.SetViewport(document.Viewport{Top: req.Top, Height: req.Height})
			s.sendWSResponse(conn, viewportResponse{Type: "ack", Top: req.Top, Height: req.Height})
		default:
			s.sendWSError(conn, "unknown message type: "+req.Type)
		}
	}
}

func (s *Server) sendWSResponse(conn *websocket.Conn, resp viewportResponse) {
	if err := conn.WriteJSON(resp); err != nil {
		s.deps.Logger.Warn("websocket write failed", "error", err)
	}
}

func (s *Server) sendWSError(conn *websocket.Conn, message string) {
	s.sendWSResponse(conn, viewportResponse{Type: "error", Error: message})
}
