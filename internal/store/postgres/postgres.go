// Package postgres implements the store on PostgreSQL via database/sql
// and lib/pq. The claim and close operations rely on conditional
// UPDATEs so that status transitions are decided by the database, not
// by the application.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mirelon-dev/halodesk/internal/model/chat"
	"github.com/mirelon-dev/halodesk/internal/store"
)

const sessionColumns = `id, token, user_id, agent_id, guest_name, guest_email, status, created_at, updated_at, started_at, closed_at`

const messageColumns = `id, chat_id, sender_id, sender_kind, sender_name, body, kind, is_read, sent_at`

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL, verifies the connection and returns the
// store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an existing connection pool.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateSession(ctx context.Context, sess *chat.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, token, user_id, agent_id, guest_name, guest_email, status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULL, $4, $5, $6, $7, $8)
	`,
		sess.ID,
		sess.Token,
		sess.Participant.UserID,
		guestField(sess, func(g *chat.GuestProfile) string { return g.Name }),
		guestField(sess, func(g *chat.GuestProfile) string { return g.Email }),
		string(sess.Status),
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM chats WHERE id = $1`, id)
	return scanSession(row)
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM chats WHERE token = $1`, token)
	return scanSession(row)
}

func (s *Store) ClaimSession(ctx context.Context, id, agentID string, at time.Time) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE chats
		SET agent_id = $2, status = 'active', started_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'waiting'
		RETURNING `+sessionColumns,
		id, agentID, at,
	)
	sess, err := scanSession(row)
	if errors.Is(err, chat.ErrSessionNotFound) {
		// Nothing matched: either the session is gone or someone else
		// won the race. Look again to tell the two apart.
		if _, getErr := s.GetSession(ctx, id); getErr != nil {
			return chat.Session{}, getErr
		}
		return chat.Session{}, chat.ErrAlreadyClaimed
	}
	return sess, err
}

func (s *Store) CloseSession(ctx context.Context, id string, at time.Time) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE chats
		SET status = 'closed', closed_at = $2, updated_at = $2
		WHERE id = $1 AND status <> 'closed'
		RETURNING `+sessionColumns,
		id, at,
	)
	sess, err := scanSession(row)
	if errors.Is(err, chat.ErrSessionNotFound) {
		if _, getErr := s.GetSession(ctx, id); getErr != nil {
			return chat.Session{}, getErr
		}
		return chat.Session{}, chat.ErrInvalidTransition
	}
	return sess, err
}

func (s *Store) ListWaiting(ctx context.Context) ([]chat.Session, error) {
	return s.listSessions(ctx,
		`SELECT `+sessionColumns+` FROM chats WHERE status = 'waiting' ORDER BY created_at ASC, id ASC`)
}

func (s *Store) ListActiveByAgent(ctx context.Context, agentID string) ([]chat.Session, error) {
	return s.listSessions(ctx,
		`SELECT `+sessionColumns+` FROM chats WHERE agent_id = $1 AND status = 'active' ORDER BY updated_at DESC, id ASC`,
		agentID)
}

func (s *Store) ListByAgent(ctx context.Context, agentID string) ([]chat.Session, error) {
	return s.listSessions(ctx,
		`SELECT `+sessionColumns+` FROM chats WHERE agent_id = $1`, agentID)
}

func (s *Store) ListByCustomer(ctx context.Context, userID string) ([]chat.Session, error) {
	return s.listSessions(ctx,
		`SELECT `+sessionColumns+` FROM chats WHERE user_id = $1 ORDER BY updated_at DESC, id ASC`,
		userID)
}

func (s *Store) AppendMessage(ctx context.Context, m *chat.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1)`, m.SessionID,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return chat.ErrSessionNotFound
	}

	// sent_at is clamped to the previous message plus one microsecond so
	// the per-session ordering survives wall-clock skew.
	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, sender_kind, sender_name, body, kind, is_read, sent_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, FALSE, GREATEST(
			$8::timestamptz,
			COALESCE((SELECT max(sent_at) FROM messages WHERE chat_id = $2) + interval '1 microsecond', $8::timestamptz)
		))
		RETURNING sent_at
	`,
		m.ID, m.SessionID, m.SenderID, string(m.SenderKind), m.SenderName,
		m.Body, string(m.Kind), m.SentAt,
	).Scan(&m.SentAt)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET updated_at = GREATEST(updated_at, $2) WHERE id = $1`,
		m.SessionID, m.SentAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if err := s.checkSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.listMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = $1 ORDER BY sent_at ASC, id ASC`,
		sessionID)
}

func (s *Store) ListMessagesBetween(ctx context.Context, sessionID string, from, to time.Time) ([]chat.Message, error) {
	if err := s.checkSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.listMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = $1 AND sent_at BETWEEN $2 AND $3 ORDER BY sent_at ASC, id ASC`,
		sessionID, from, to)
}

func (s *Store) MarkMessageRead(ctx context.Context, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE WHERE id = $1 AND is_read = FALSE`, messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) MarkSessionRead(ctx context.Context, sessionID, excludeSenderID string) (int, error) {
	if err := s.checkSession(ctx, sessionID); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read = TRUE
		WHERE chat_id = $1
		  AND is_read = FALSE
		  AND ($2 = '' OR sender_id IS DISTINCT FROM $2)
	`, sessionID, excludeSenderID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) UnreadCount(ctx context.Context, sessionID string) (int, error) {
	if err := s.checkSession(ctx, sessionID); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM messages WHERE chat_id = $1 AND is_read = FALSE`,
		sessionID,
	).Scan(&n)
	return n, err
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) checkSession(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return chat.ErrSessionNotFound
	}
	return nil
}

func (s *Store) listSessions(ctx context.Context, query string, args ...any) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]chat.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) listMessages(ctx context.Context, query string, args ...any) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]chat.Message, 0)
	for rows.Next() {
		var (
			m        chat.Message
			senderID sql.NullString
			sKind    string
			mKind    string
		)
		if err := rows.Scan(
			&m.ID, &m.SessionID, &senderID, &sKind, &m.SenderName,
			&m.Body, &mKind, &m.IsRead, &m.SentAt,
		); err != nil {
			return nil, err
		}
		m.SenderID = senderID.String
		m.SenderKind = chat.SenderKind(sKind)
		m.Kind = chat.MessageKind(mKind)
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (chat.Session, error) {
	var (
		sess       chat.Session
		userID     sql.NullString
		agentID    sql.NullString
		guestName  sql.NullString
		guestEmail sql.NullString
		status     string
		startedAt  sql.NullTime
		closedAt   sql.NullTime
	)
	err := row.Scan(
		&sess.ID, &sess.Token, &userID, &agentID, &guestName, &guestEmail,
		&status, &sess.CreatedAt, &sess.UpdatedAt, &startedAt, &closedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, err
	}

	sess.Status = chat.Status(status)
	sess.AgentID = agentID.String
	if userID.Valid {
		sess.Participant = chat.UserParticipant(userID.String)
	} else {
		sess.Participant = chat.GuestParticipant(guestName.String, guestEmail.String)
	}
	if startedAt.Valid {
		t := startedAt.Time
		sess.StartedAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		sess.ClosedAt = &t
	}
	return sess, nil
}

func guestField(sess *chat.Session, f func(*chat.GuestProfile) string) sql.NullString {
	if sess.Participant.Guest == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: f(sess.Participant.Guest), Valid: true}
}
