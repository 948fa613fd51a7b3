package history

import (
	"context"
	"time"
)

// Store defines the message history persistence contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)
	UpdateSessionTheme(ctx context.Context, id, theme string) error
	TouchSession(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error

	// Messages (append-only)
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, sessionID string, filter MessageFilter) ([]*Message, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// Maintenance
	PruneIdleSessions(ctx context.Context, idleBefore time.Time) ([]string, error)
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
