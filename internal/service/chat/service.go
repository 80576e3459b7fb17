// Package chat implements the chat lifecycle core: session creation,
// queueing and exclusive assignment, the ordered message log with
// read-state tracking, and per-agent statistics. Transport, identity
// and persistence are collaborators behind interfaces.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mirelon-dev/halodesk/internal/events"
	"github.com/mirelon-dev/halodesk/internal/metrics"
	"github.com/mirelon-dev/halodesk/internal/model/chat"
	"github.com/mirelon-dev/halodesk/internal/store"
)

var (
	// ErrAgentRequired is returned when an agent-side operation is
	// attempted without an agent id.
	ErrAgentRequired = errors.New("agent id is required")

	// ErrBodyRequired is returned when a message is appended with an
	// empty body.
	ErrBodyRequired = errors.New("message body is required")

	// ErrInvalidSender is returned for an unknown sender kind.
	ErrInvalidSender = errors.New("invalid sender kind")

	// ErrInvalidKind is returned for an unknown message kind.
	ErrInvalidKind = errors.New("invalid message kind")
)

// Service is the transport-agnostic operation set exposed by the core.
type Service struct {
	store  store.Store
	events events.Publisher
	log    *slog.Logger
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the core against a storage backend.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		events: events.NewNop(),
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSessionForCustomer opens a waiting session for a registered
// customer.
func (s *Service) CreateSessionForCustomer(ctx context.Context, userID string) (chat.Session, error) {
	return s.createSession(ctx, chat.UserParticipant(userID))
}

// CreateSessionForGuest opens a waiting session for an anonymous guest.
func (s *Service) CreateSessionForGuest(ctx context.Context, name, email string) (chat.Session, error) {
	return s.createSession(ctx, chat.GuestParticipant(name, email))
}

func (s *Service) createSession(ctx context.Context, p chat.Participant) (chat.Session, error) {
	if err := p.Validate(); err != nil {
		return chat.Session{}, err
	}

	now := s.now()
	sess := chat.Session{
		ID:          uuid.NewString(),
		Token:       "chat_" + uuid.NewString(),
		Participant: p,
		Status:      chat.StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateSession(ctx, &sess); err != nil {
		return chat.Session{}, err
	}

	kind := "user"
	if p.IsGuest() {
		kind = "guest"
	}
	metrics.RecordSessionStarted(kind)
	s.publish(ctx, events.KeySessionCreated, sessionEvent(sess))
	s.log.Info("session created",
		slog.String("session", sess.ID),
		slog.String("participant", kind),
	)
	return sess, nil
}

// FindByToken looks a session up by its public token.
func (s *Service) FindByToken(ctx context.Context, token string) (chat.Session, error) {
	return s.store.GetSessionByToken(ctx, token)
}

// FindByID looks a session up by internal id.
func (s *Service) FindByID(ctx context.Context, id string) (chat.Session, error) {
	return s.store.GetSession(ctx, id)
}

// ListByCustomer returns a registered customer's sessions, most
// recently active first.
func (s *Service) ListByCustomer(ctx context.Context, userID string) ([]chat.Session, error) {
	return s.store.ListByCustomer(ctx, userID)
}

// SessionOverview is the presentation view of a session. The message
// figures are recomputed from the log on every call rather than cached
// on the session.
type SessionOverview struct {
	Session      chat.Session  `json:"session"`
	MessageCount int           `json:"messageCount"`
	UnreadCount  int           `json:"unreadCount"`
	LastMessage  *chat.Message `json:"lastMessage,omitempty"`
}

// Overview assembles the derived view for one session.
func (s *Service) Overview(ctx context.Context, sessionID string) (SessionOverview, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionOverview{}, err
	}
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return SessionOverview{}, err
	}

	ov := SessionOverview{Session: sess, MessageCount: len(msgs)}
	for i := range msgs {
		if !msgs[i].IsRead {
			ov.UnreadCount++
		}
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		ov.LastMessage = &last
	}
	return ov, nil
}

func (s *Service) publish(ctx context.Context, key string, data any) {
	if err := s.events.Publish(ctx, key, data); err != nil {
		s.log.Warn("event publish failed",
			slog.String("key", key),
			slog.Any("error", err),
		)
	}
}

func sessionEvent(sess chat.Session) events.SessionEvent {
	return events.SessionEvent{
		SessionID: sess.ID,
		Token:     sess.Token,
		Status:    string(sess.Status),
		AgentID:   sess.AgentID,
	}
}
