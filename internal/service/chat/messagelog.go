package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mirelon-dev/halodesk/internal/events"
	"github.com/mirelon-dev/halodesk/internal/metrics"
	"github.com/mirelon-dev/halodesk/internal/model/chat"
)

// AppendMessageParams carries everything needed to append one message.
type AppendMessageParams struct {
	SessionID  string
	SenderKind chat.SenderKind
	SenderID   string
	SenderName string
	Body       string
	Kind       chat.MessageKind
}

// AppendMessage adds a message to the session transcript. The assigned
// SentAt never moves backwards within a session, and the append bumps
// the session's last-activity marker. Closed sessions still accept
// messages for history; they just can't be assigned anymore.
func (s *Service) AppendMessage(ctx context.Context, p AppendMessageParams) (chat.Message, error) {
	if p.Body == "" {
		return chat.Message{}, ErrBodyRequired
	}
	if !p.SenderKind.Valid() {
		return chat.Message{}, ErrInvalidSender
	}
	if p.Kind == "" {
		p.Kind = chat.MessageText
	}
	if !p.Kind.Valid() {
		return chat.Message{}, ErrInvalidKind
	}
	if p.SenderKind == chat.SenderGuest {
		// Guests have no account id to carry.
		p.SenderID = ""
	}

	m := chat.Message{
		ID:         uuid.NewString(),
		SessionID:  p.SessionID,
		SenderKind: p.SenderKind,
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		Body:       p.Body,
		Kind:       p.Kind,
		SentAt:     s.now(),
	}
	if err := s.store.AppendMessage(ctx, &m); err != nil {
		return chat.Message{}, err
	}

	metrics.RecordMessage(string(m.SenderKind))
	s.publish(ctx, events.KeyMessageSent, events.MessageEvent{
		SessionID:  m.SessionID,
		MessageID:  m.ID,
		SenderKind: string(m.SenderKind),
		SentAt:     m.SentAt,
	})
	s.log.Debug("message appended",
		slog.String("session", m.SessionID),
		slog.String("sender", string(m.SenderKind)),
	)
	return m, nil
}

// ListMessages returns the session transcript in send order.
func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.store.ListMessages(ctx, sessionID)
}

// ListMessagesBetween returns the transcript restricted to a time
// window.
func (s *Service) ListMessagesBetween(ctx context.Context, sessionID string, from, to time.Time) ([]chat.Message, error) {
	return s.store.ListMessagesBetween(ctx, sessionID, from, to)
}

// MarkRead flips one message to read. Idempotent: a second call, or an
// unknown id, reports false with no error so retries stay cheap.
func (s *Service) MarkRead(ctx context.Context, messageID string) (bool, error) {
	return s.store.MarkMessageRead(ctx, messageID)
}

// MarkSessionRead marks the session's unread messages as read, skipping
// those sent by excludeSenderID so a party never "reads" its own
// messages. An empty exclude id (a guest has none) excludes nothing.
func (s *Service) MarkSessionRead(ctx context.Context, sessionID, excludeSenderID string) (int, error) {
	return s.store.MarkSessionRead(ctx, sessionID, excludeSenderID)
}

// UnreadCount counts the session's unread messages.
func (s *Service) UnreadCount(ctx context.Context, sessionID string) (int, error) {
	return s.store.UnreadCount(ctx, sessionID)
}
