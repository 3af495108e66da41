package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/handoff/internal/domain"
)

// ErrNotFound is returned when no session matches.
var ErrNotFound = errors.New("handoff session not found")

const sessionColumns = `id, agent_id, organization_id, vendor, conversation_id, ack, status, created_at, updated_at`

// SessionStore is the registry of handoff sessions.
type SessionStore struct {
	db  *DB
	now func() time.Time
}

// NewSessionStore creates a session store using the given database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

// Create inserts a new active session. A missing ID is generated.
func (s *SessionStore) Create(ctx context.Context, sess *domain.HandoffSession) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	now := s.now().UTC()
	sess.Status = domain.SessionActive
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err := s.db.x.NamedExecContext(ctx,
		`INSERT INTO handoff_sessions (`+sessionColumns+`)
		 VALUES (:id, :agent_id, :organization_id, :vendor, :conversation_id, :ack, :status, :created_at, :updated_at)`,
		sess,
	)
	if err != nil {
		s.db.log.Error().Err(err).Str("session", sess.ID).Msg("failed to create session")
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get returns a session by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*domain.HandoffSession, error) {
	var sess domain.HandoffSession
	err := s.db.x.GetContext(ctx, &sess,
		s.db.x.Rebind(`SELECT `+sessionColumns+` FROM handoff_sessions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &sess, nil
}

// FindByConversation returns the newest session for a vendor conversation.
func (s *SessionStore) FindByConversation(ctx context.Context, vendor domain.HandoffType, conversationID string) (*domain.HandoffSession, error) {
	var sess domain.HandoffSession
	err := s.db.x.GetContext(ctx, &sess,
		s.db.x.Rebind(`SELECT `+sessionColumns+` FROM handoff_sessions
		 WHERE vendor = ? AND conversation_id = ? ORDER BY created_at DESC LIMIT 1`),
		vendor, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session for %s conversation %s: %w", vendor, conversationID, err)
	}
	return &sess, nil
}

// AdvanceAck moves the session's ack cursor to seq unless it is already
// past it, and returns the stored cursor. The cursor never regresses.
func (s *SessionStore) AdvanceAck(ctx context.Context, id string, seq int64) (int64, error) {
	res, err := s.db.x.ExecContext(ctx,
		s.db.x.Rebind(`UPDATE handoff_sessions
		 SET ack = CASE WHEN ack < ? THEN ? ELSE ack END, updated_at = ?
		 WHERE id = ?`),
		seq, seq, s.now().UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("advance ack for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}

	var ack int64
	if err := s.db.x.GetContext(ctx, &ack, s.db.x.Rebind(`SELECT ack FROM handoff_sessions WHERE id = ?`), id); err != nil {
		return 0, fmt.Errorf("read ack for %s: %w", id, err)
	}
	return ack, nil
}

// MarkEnded records that the session was released. Ending twice is not an
// error.
func (s *SessionStore) MarkEnded(ctx context.Context, id string) error {
	res, err := s.db.x.ExecContext(ctx,
		s.db.x.Rebind(`UPDATE handoff_sessions SET status = ?, updated_at = ? WHERE id = ?`),
		domain.SessionEnded, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns sessions with the given status, newest first. An empty status
// lists all.
func (s *SessionStore) List(ctx context.Context, status domain.SessionStatus, limit int) ([]domain.HandoffSession, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sessionColumns + ` FROM handoff_sessions`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	var out []domain.HandoffSession
	if err := s.db.x.SelectContext(ctx, &out, s.db.x.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// MarkDelivered records a webhook message and reports whether it was new.
// Vendors retry deliveries; repeats must not be relayed twice.
func (s *SessionStore) MarkDelivered(ctx context.Context, vendor domain.HandoffType, messageID string) (bool, error) {
	res, err := s.db.x.ExecContext(ctx,
		s.db.x.Rebind(`INSERT INTO webhook_deliveries (vendor, message_id, received_at)
		 VALUES (?, ?, ?) ON CONFLICT (vendor, message_id) DO NOTHING`),
		vendor, messageID, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("record delivery %s/%s: %w", vendor, messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record delivery %s/%s: %w", vendor, messageID, err)
	}
	return n > 0, nil
}

// PruneDeliveries removes delivery records older than cutoff.
func (s *SessionStore) PruneDeliveries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.x.ExecContext(ctx,
		s.db.x.Rebind(`DELETE FROM webhook_deliveries WHERE received_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return res.RowsAffected()
}
