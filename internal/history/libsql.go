package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/vizflow/vizflow/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/history.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Sessions ---

func (s *LibSQLStore) CreateSession(ctx context.Context, session *Session) error {
	if session.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "session id is empty")
	}
	theme := session.Theme
	if theme == "" {
		theme = "light"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, theme, created_at, last_active_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Title, theme, timeOrNow(session.CreatedAt), timeOrNow(session.LastActiveAt),
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "session %q already exists", session.ID)
	}
	return err
}

func (s *LibSQLStore) GetSession(ctx context.Context, id string) (*Session, error) {
	session := &Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, theme, created_at, last_active_at FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.Title, &session.Theme, &session.CreatedAt, &session.LastActiveAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("session", id)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *LibSQLStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	query := `SELECT id, title, theme, created_at, last_active_at FROM sessions ORDER BY last_active_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session := &Session{}
		if err := rows.Scan(&session.ID, &session.Title, &session.Theme, &session.CreatedAt, &session.LastActiveAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *LibSQLStore) UpdateSessionTheme(ctx context.Context, id, theme string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET theme = ?, last_active_at = CURRENT_TIMESTAMP WHERE id = ?`, theme, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "session", id)
}

func (s *LibSQLStore) TouchSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = CURRENT_TIMESTAMP WHERE id = ?`, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "session", id)
}

func (s *LibSQLStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "session", id)
}

// --- Messages ---

func (s *LibSQLStore) AppendMessage(ctx context.Context, msg *Message) error {
	if !ValidRole(msg.Role) {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown message role %q", msg.Role)
	}
	if msg.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "message id is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, msg.SessionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return storeNotFound("session", msg.SessionID)
	}
	if err != nil {
		return err
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, msg.SessionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next message seq: %w", err)
	}
	msg.Seq = seq

	ts := timeOrNow(msg.CreatedAt)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, body, seq, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Body, seq, ts,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = CURRENT_TIMESTAMP WHERE id = ?`, msg.SessionID,
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return tx.Commit()
}

func (s *LibSQLStore) ListMessages(ctx context.Context, sessionID string, filter MessageFilter) ([]*Message, error) {
	query := `SELECT id, session_id, role, body, seq, created_at FROM messages WHERE session_id = ? AND seq > ? ORDER BY seq ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID, filter.AfterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Body, &m.Seq, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *LibSQLStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// --- Maintenance ---

func (s *LibSQLStore) PruneIdleSessions(ctx context.Context, idleBefore time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM sessions WHERE last_active_at < ?`, idleBefore.UTC())
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	// Messages go with their session via ON DELETE CASCADE.
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE last_active_at < ?`, idleBefore.UTC()); err != nil {
		return nil, fmt.Errorf("prune sessions: %w", err)
	}
	return ids, tx.Commit()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.VizError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
