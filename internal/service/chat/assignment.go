package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mirelon-dev/halodesk/internal/events"
	"github.com/mirelon-dev/halodesk/internal/metrics"
	"github.com/mirelon-dev/halodesk/internal/model/chat"
)

// ListWaiting returns the waiting queue, oldest session first.
func (s *Service) ListWaiting(ctx context.Context) ([]chat.Session, error) {
	return s.store.ListWaiting(ctx)
}

// ListActiveForAgent returns the agent's active sessions ordered by
// last message activity, most recent first. Active triage favors
// recency, unlike the FIFO waiting queue.
func (s *Service) ListActiveForAgent(ctx context.Context, agentID string) ([]chat.Session, error) {
	if agentID == "" {
		return nil, ErrAgentRequired
	}
	return s.store.ListActiveByAgent(ctx, agentID)
}

// Claim hands the waiting session to the agent. The storage layer
// decides the race: exactly one concurrent claimer per session wins,
// everyone else gets chat.ErrAlreadyClaimed. A storage-transient
// failure is retried once; a lost race never is.
func (s *Service) Claim(ctx context.Context, sessionID, agentID string) (chat.Session, error) {
	if agentID == "" {
		return chat.Session{}, ErrAgentRequired
	}

	sess, err := s.store.ClaimSession(ctx, sessionID, agentID, s.now())
	if err != nil && isTransient(err) {
		s.log.Warn("claim hit transient storage error, retrying",
			slog.String("session", sessionID),
			slog.Any("error", err),
		)
		sess, err = s.store.ClaimSession(ctx, sessionID, agentID, s.now())
	}
	if err != nil {
		if errors.Is(err, chat.ErrAlreadyClaimed) {
			metrics.RecordClaimConflict()
		}
		return chat.Session{}, err
	}

	metrics.RecordSessionClaimed()
	s.publish(ctx, events.KeySessionClaimed, sessionEvent(sess))
	s.log.Info("session claimed",
		slog.String("session", sess.ID),
		slog.String("agent", agentID),
	)
	return sess, nil
}

// Close ends a session on behalf of an agent. Agents may only close
// sessions assigned to them; closing an already-closed session is an
// error, not a no-op.
func (s *Service) Close(ctx context.Context, sessionID, agentID string) (chat.Session, error) {
	if agentID == "" {
		return chat.Session{}, ErrAgentRequired
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if sess.AgentID != agentID {
		return chat.Session{}, chat.ErrForbidden
	}
	return s.closeSession(ctx, sessionID)
}

// CloseBySystem ends a session without an ownership check. Used for
// housekeeping, such as abandoning a session still in the waiting
// queue.
func (s *Service) CloseBySystem(ctx context.Context, sessionID string) (chat.Session, error) {
	return s.closeSession(ctx, sessionID)
}

func (s *Service) closeSession(ctx context.Context, sessionID string) (chat.Session, error) {
	sess, err := s.store.CloseSession(ctx, sessionID, s.now())
	if err != nil {
		return chat.Session{}, err
	}

	metrics.RecordSessionClosed(sess.ClosedAt.Sub(sess.CreatedAt).Seconds())
	s.publish(ctx, events.KeySessionClosed, sessionEvent(sess))
	s.log.Info("session closed", slog.String("session", sess.ID))
	return sess, nil
}

// isTransient reports whether a claim failure may be worth one retry.
// Logical outcomes (lost race, missing session, cancellation) are
// final.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, chat.ErrAlreadyClaimed),
		errors.Is(err, chat.ErrSessionNotFound),
		errors.Is(err, chat.ErrInvalidTransition),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
