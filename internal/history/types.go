package history

import "time"

// Message roles. The set is closed; AppendMessage rejects anything else.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ValidRole reports whether role is one of the known message roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Session is a persisted viewer conversation. Theme is the last theme the
// viewer selected for it; LastActiveAt drives idle pruning.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	Theme        string    `json:"theme"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Message is one transcript entry. Body is raw markdown; diagram sources stay
// inside it as fences and are never replaced by render results. Seq is
// assigned on append, monotonic per session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Body      string    `json:"body"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// MessageFilter specifies criteria for listing messages.
type MessageFilter struct {
	AfterSeq int64 `json:"after_seq,omitempty"`
	Limit    int   `json:"limit,omitempty"`
}
