// Package memory provides the in-memory Store used by default and as
// the reference implementation in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mirelon-dev/halodesk/internal/model/chat"
	"github.com/mirelon-dev/halodesk/internal/store"
)

// Store keeps sessions and messages in process memory guarded by a
// single RWMutex. Conditional updates (claim, close) run under the
// write lock, which makes them trivially linearizable.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*chat.Session
	byToken  map[string]string
	messages map[string][]*chat.Message
	byMsgID  map[string]*chat.Message
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*chat.Session),
		byToken:  make(map[string]string),
		messages: make(map[string][]*chat.Message),
		byMsgID:  make(map[string]*chat.Message),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateSession(_ context.Context, sess *chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	s.sessions[cp.ID] = &cp
	s.byToken[cp.Token] = cp.ID
	s.messages[cp.ID] = make([]*chat.Message, 0, 16)
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

func (s *Store) GetSessionByToken(_ context.Context, token string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	return s.getLocked(id)
}

func (s *Store) ClaimSession(_ context.Context, id, agentID string, at time.Time) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	if err := sess.Claim(agentID, at); err != nil {
		// The session exists but is no longer waiting: the caller lost
		// the race (or arrived after it was decided).
		return chat.Session{}, chat.ErrAlreadyClaimed
	}
	return *sess, nil
}

func (s *Store) CloseSession(_ context.Context, id string, at time.Time) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	if err := sess.Close(at); err != nil {
		return chat.Session{}, err
	}
	return *sess, nil
}

func (s *Store) ListWaiting(_ context.Context) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.collect(func(sess *chat.Session) bool {
		return sess.Status == chat.StatusWaiting
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListActiveByAgent(_ context.Context, agentID string) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.collect(func(sess *chat.Session) bool {
		return sess.Status == chat.StatusActive && sess.AgentID == agentID
	})
	sortByActivity(out)
	return out, nil
}

func (s *Store) ListByAgent(_ context.Context, agentID string) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(sess *chat.Session) bool {
		return sess.AgentID == agentID
	}), nil
}

func (s *Store) ListByCustomer(_ context.Context, userID string) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.collect(func(sess *chat.Session) bool {
		return sess.Participant.UserID == userID
	})
	sortByActivity(out)
	return out, nil
}

func (s *Store) AppendMessage(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[m.SessionID]
	if !ok {
		return chat.ErrSessionNotFound
	}

	log := s.messages[m.SessionID]
	if n := len(log); n > 0 {
		if floor := log[n-1].SentAt.Add(store.SentAtEpsilon); m.SentAt.Before(floor) {
			m.SentAt = floor
		}
	}

	cp := *m
	s.messages[m.SessionID] = append(log, &cp)
	s.byMsgID[cp.ID] = &cp
	sess.Touch(cp.SentAt)
	return nil
}

func (s *Store) ListMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.messages[sessionID]
	if !ok {
		return nil, chat.ErrSessionNotFound
	}
	out := make([]chat.Message, 0, len(log))
	for _, m := range log {
		out = append(out, *m)
	}
	return out, nil
}

func (s *Store) ListMessagesBetween(_ context.Context, sessionID string, from, to time.Time) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.messages[sessionID]
	if !ok {
		return nil, chat.ErrSessionNotFound
	}
	out := make([]chat.Message, 0, len(log))
	for _, m := range log {
		if m.SentAt.Before(from) || m.SentAt.After(to) {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (s *Store) MarkMessageRead(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byMsgID[messageID]
	if !ok || m.IsRead {
		return false, nil
	}
	m.IsRead = true
	return true, nil
}

func (s *Store) MarkSessionRead(_ context.Context, sessionID, excludeSenderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.messages[sessionID]
	if !ok {
		return 0, chat.ErrSessionNotFound
	}
	changed := 0
	for _, m := range log {
		if m.IsRead {
			continue
		}
		if excludeSenderID != "" && m.SenderID == excludeSenderID {
			continue
		}
		m.IsRead = true
		changed++
	}
	return changed, nil
}

func (s *Store) UnreadCount(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.messages[sessionID]
	if !ok {
		return 0, chat.ErrSessionNotFound
	}
	n := 0
	for _, m := range log {
		if !m.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) getLocked(id string) (chat.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	return *sess, nil
}

func (s *Store) collect(keep func(*chat.Session) bool) []chat.Session {
	out := make([]chat.Session, 0)
	for _, sess := range s.sessions {
		if keep(sess) {
			out = append(out, *sess)
		}
	}
	return out
}

func sortByActivity(sessions []chat.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}
