// Package store defines the persistence port for sessions and messages.
// Implementations must be safe for concurrent use; the one hard
// requirement is that ClaimSession and CloseSession perform atomic
// conditional updates on session status.
package store

import (
	"context"
	"time"

	"github.com/mirelon-dev/halodesk/internal/model/chat"
)

// SentAtEpsilon is the minimum spacing enforced between two messages in
// the same session when the wall clock would otherwise move backwards.
const SentAtEpsilon = time.Microsecond

// Store abstracts durable storage for sessions and their messages.
//
// Lookup misses return chat.ErrSessionNotFound. ClaimSession returns
// chat.ErrAlreadyClaimed when the session exists but is no longer
// waiting; CloseSession returns chat.ErrInvalidTransition when it is
// already closed. Message listings are ordered by SentAt ascending,
// session listings as documented per method.
type Store interface {
	// CreateSession persists a new session as-is.
	CreateSession(ctx context.Context, s *chat.Session) error

	// GetSession retrieves a session by internal id.
	GetSession(ctx context.Context, id string) (chat.Session, error)

	// GetSessionByToken retrieves a session by its public token.
	GetSessionByToken(ctx context.Context, token string) (chat.Session, error)

	// ClaimSession atomically moves a waiting session to active under
	// agentID, setting StartedAt. Exactly one concurrent caller per
	// session succeeds.
	ClaimSession(ctx context.Context, id, agentID string, at time.Time) (chat.Session, error)

	// CloseSession atomically moves a waiting or active session to
	// closed, setting ClosedAt.
	CloseSession(ctx context.Context, id string, at time.Time) (chat.Session, error)

	// ListWaiting returns waiting sessions ordered by CreatedAt
	// ascending (oldest first).
	ListWaiting(ctx context.Context) ([]chat.Session, error)

	// ListActiveByAgent returns the agent's active sessions ordered by
	// last activity, most recent first.
	ListActiveByAgent(ctx context.Context, agentID string) ([]chat.Session, error)

	// ListByAgent returns every session ever assigned to the agent, in
	// no particular order.
	ListByAgent(ctx context.Context, agentID string) ([]chat.Session, error)

	// ListByCustomer returns the registered customer's sessions ordered
	// by last activity, most recent first.
	ListByCustomer(ctx context.Context, userID string) ([]chat.Session, error)

	// AppendMessage persists m, assigning SentAt so that it is never
	// earlier than the previous message of the same session (previous
	// plus SentAtEpsilon on clock skew), and touches the owning
	// session's last-activity marker. m is updated in place.
	AppendMessage(ctx context.Context, m *chat.Message) error

	// ListMessages returns the full transcript of a session.
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)

	// ListMessagesBetween returns the transcript restricted to
	// from <= SentAt <= to.
	ListMessagesBetween(ctx context.Context, sessionID string, from, to time.Time) ([]chat.Message, error)

	// MarkMessageRead flips one message to read. It reports whether a
	// change occurred; an unknown id is not an error.
	MarkMessageRead(ctx context.Context, messageID string) (bool, error)

	// MarkSessionRead flips every unread message in the session except
	// those sent by excludeSenderID (no exclusion when empty) and
	// returns the number changed.
	MarkSessionRead(ctx context.Context, sessionID, excludeSenderID string) (int, error)

	// UnreadCount counts unread messages in the session.
	UnreadCount(ctx context.Context, sessionID string) (int, error)

	// Close releases resources held by the store.
	Close() error
}
