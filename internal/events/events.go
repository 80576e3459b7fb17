// Package events publishes chat lifecycle events to RabbitMQ so other
// systems (notifications, analytics) can react without polling. The
// core treats publishing as best-effort: a broker outage never fails a
// chat operation.
package events

import (
	"context"
	"time"
)

// Routing keys for the topic exchange.
const (
	KeySessionCreated = "chat.session.created"
	KeySessionClaimed = "chat.session.claimed"
	KeySessionClosed  = "chat.session.closed"
	KeyMessageSent    = "chat.message.sent"
)

// Meta describes the event itself.
type Meta struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Envelope wraps every published payload.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// SessionEvent is the payload for session lifecycle events.
type SessionEvent struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	Status    string `json:"status"`
	AgentID   string `json:"agentId,omitempty"`
}

// MessageEvent is the payload for message appends.
type MessageEvent struct {
	SessionID  string    `json:"sessionId"`
	MessageID  string    `json:"messageId"`
	SenderKind string    `json:"senderKind"`
	SentAt     time.Time `json:"sentAt"`
}

// Publisher emits events keyed by routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, data any) error
	Close() error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }
func (nopPublisher) Close() error                               { return nil }

// NewNop returns a publisher that discards everything. Used when no
// broker is configured.
func NewNop() Publisher { return nopPublisher{} }
