package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vizflow/vizflow/pkg/schema"
)

// MemoryStore implements Store without persistence. It backs ephemeral
// deployments and tests; semantics, including error codes, match LibSQLStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	messages map[string][]*Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]*Message),
	}
}

// --- Sessions ---

func (s *MemoryStore) CreateSession(ctx context.Context, session *Session) error {
	if session.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "session id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "session %q already exists", session.ID)
	}

	stored := *session
	if stored.Theme == "" {
		stored.Theme = "light"
	}
	stored.CreatedAt = timeOrNow(stored.CreatedAt)
	stored.LastActiveAt = timeOrNow(stored.LastActiveAt)
	s.sessions[session.ID] = &stored
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, storeNotFound("session", id)
	}
	out := *session
	return &out, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out := *session
		sessions = append(sessions, &out)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].LastActiveAt.Equal(sessions[j].LastActiveAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].LastActiveAt.After(sessions[j].LastActiveAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(sessions) {
			return nil, nil
		}
		sessions = sessions[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(sessions) {
		sessions = sessions[:filter.Limit]
	}
	return sessions, nil
}

func (s *MemoryStore) UpdateSessionTheme(ctx context.Context, id, theme string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return storeNotFound("session", id)
	}
	session.Theme = theme
	session.LastActiveAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) TouchSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return storeNotFound("session", id)
	}
	session.LastActiveAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return storeNotFound("session", id)
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

// --- Messages ---

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *Message) error {
	if !ValidRole(msg.Role) {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown message role %q", msg.Role)
	}
	if msg.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "message id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[msg.SessionID]
	if !ok {
		return storeNotFound("session", msg.SessionID)
	}

	msgs := s.messages[msg.SessionID]
	var seq int64 = 1
	if len(msgs) > 0 {
		seq = msgs[len(msgs)-1].Seq + 1
	}
	msg.Seq = seq
	msg.CreatedAt = timeOrNow(msg.CreatedAt)

	stored := *msg
	s.messages[msg.SessionID] = append(msgs, &stored)
	session.LastActiveAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, sessionID string, filter MessageFilter) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Message
	for _, m := range s.messages[sessionID] {
		if m.Seq <= filter.AfterSeq {
			continue
		}
		cp := *m
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[sessionID]), nil
}

// --- Maintenance ---

func (s *MemoryStore) PruneIdleSessions(ctx context.Context, idleBefore time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, session := range s.sessions {
		if session.LastActiveAt.Before(idleBefore) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(s.sessions, id)
		delete(s.messages, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

func (s *MemoryStore) Vacuum(ctx context.Context) error { return nil }

// Close is a no-op; the store holds no external resources.
func (s *MemoryStore) Close() error { return nil }
