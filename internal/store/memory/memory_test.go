package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirelon-dev/halodesk/internal/model/chat"
	"github.com/mirelon-dev/halodesk/internal/store"
)

var base = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func seedSession(t *testing.T, s *Store, id string, createdAt time.Time) chat.Session {
	t.Helper()
	sess := chat.Session{
		ID:          id,
		Token:       "chat_" + id,
		Participant: chat.GuestParticipant("Guest", "guest@example.com"),
		Status:      chat.StatusWaiting,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	require.NoError(t, s.CreateSession(context.Background(), &sess))
	return sess
}

func seedMessage(t *testing.T, s *Store, sessionID, msgID string, kind chat.SenderKind, senderID string, sentAt time.Time) chat.Message {
	t.Helper()
	m := chat.Message{
		ID:         msgID,
		SessionID:  sessionID,
		SenderKind: kind,
		SenderID:   senderID,
		SenderName: "x",
		Body:       "body " + msgID,
		Kind:       chat.MessageText,
		SentAt:     sentAt,
	}
	require.NoError(t, s.AppendMessage(context.Background(), &m))
	return m
}

func TestSessionRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := seedSession(t, s, "s1", base)

	byID, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Token, byID.Token)
	assert.True(t, byID.Participant.IsGuest())

	byToken, err := s.GetSessionByToken(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, byToken.ID)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
	_, err = s.GetSessionByToken(ctx, "chat_missing")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestClaimIsConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := seedSession(t, s, "s1", base)

	claimed, err := s.ClaimSession(ctx, sess.ID, "agent-a", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, chat.StatusActive, claimed.Status)
	assert.Equal(t, "agent-a", claimed.AgentID)
	require.NotNil(t, claimed.StartedAt)

	_, err = s.ClaimSession(ctx, sess.ID, "agent-b", base.Add(2*time.Minute))
	assert.ErrorIs(t, err, chat.ErrAlreadyClaimed)

	_, err = s.ClaimSession(ctx, "missing", "agent-a", base)
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestCloseSession(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := seedSession(t, s, "s1", base)

	closed, err := s.CloseSession(ctx, sess.ID, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, chat.StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	_, err = s.CloseSession(ctx, sess.ID, base.Add(2*time.Hour))
	assert.ErrorIs(t, err, chat.ErrInvalidTransition)

	// Closed sessions leave the waiting queue and can no longer be
	// claimed.
	waiting, err := s.ListWaiting(ctx)
	require.NoError(t, err)
	assert.Empty(t, waiting)
	_, err = s.ClaimSession(ctx, sess.ID, "agent-a", base)
	assert.ErrorIs(t, err, chat.ErrAlreadyClaimed)
}

func TestListWaitingFIFO(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedSession(t, s, "late", base.Add(time.Minute))
	seedSession(t, s, "early", base)

	waiting, err := s.ListWaiting(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, "early", waiting[0].ID)
	assert.Equal(t, "late", waiting[1].ID)
}

func TestListActiveByAgentRecencyOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedSession(t, s, "a", base)
	b := seedSession(t, s, "b", base.Add(time.Second))

	_, err := s.ClaimSession(ctx, a.ID, "agent-a", base.Add(time.Minute))
	require.NoError(t, err)
	_, err = s.ClaimSession(ctx, b.ID, "agent-a", base.Add(2*time.Minute))
	require.NoError(t, err)

	seedMessage(t, s, a.ID, "m1", chat.SenderGuest, "", base.Add(time.Hour))

	active, err := s.ListActiveByAgent(ctx, "agent-a")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, a.ID, active[0].ID)
	assert.Equal(t, b.ID, active[1].ID)

	none, err := s.ListActiveByAgent(ctx, "agent-z")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAppendClampsBackwardsClock(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := seedSession(t, s, "s1", base)

	first := seedMessage(t, s, sess.ID, "m1", chat.SenderGuest, "", base.Add(time.Minute))

	// A second append with an earlier wall clock must still land after
	// the first message.
	second := seedMessage(t, s, sess.ID, "m2", chat.SenderAgent, "agent-a", base.Add(30*time.Second))
	assert.Equal(t, first.SentAt.Add(store.SentAtEpsilon), second.SentAt)

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].SentAt.Before(msgs[1].SentAt))

	// The clamp bumps the session's activity marker too.
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, second.SentAt, got.UpdatedAt)
}

func TestAppendToMissingSession(t *testing.T) {
	s := New()
	m := chat.Message{ID: "m1", SessionID: "missing", SenderKind: chat.SenderGuest, Body: "x", Kind: chat.MessageText, SentAt: base}
	assert.ErrorIs(t, s.AppendMessage(context.Background(), &m), chat.ErrSessionNotFound)
}

func TestListMessagesBetween(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := seedSession(t, s, "s1", base)

	seedMessage(t, s, sess.ID, "m1", chat.SenderGuest, "", base.Add(1*time.Minute))
	seedMessage(t, s, sess.ID, "m2", chat.SenderAgent, "agent-a", base.Add(5*time.Minute))
	seedMessage(t, s, sess.ID, "m3", chat.SenderGuest, "", base.Add(9*time.Minute))

	window, err := s.ListMessagesBetween(ctx, sess.ID, base.Add(2*time.Minute), base.Add(8*time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "m2", window[0].ID)
}

func TestMarkMessageReadIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := seedSession(t, s, "s1", base)
	m := seedMessage(t, s, sess.ID, "m1", chat.SenderGuest, "", base.Add(time.Minute))

	changed, err := s.MarkMessageRead(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.MarkMessageRead(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.MarkMessageRead(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMarkSessionReadExcludesSender(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := seedSession(t, s, "s1", base)

	seedMessage(t, s, sess.ID, "m1", chat.SenderGuest, "", base.Add(1*time.Minute))
	seedMessage(t, s, sess.ID, "m2", chat.SenderAgent, "agent-a", base.Add(2*time.Minute))
	seedMessage(t, s, sess.ID, "m3", chat.SenderGuest, "", base.Add(3*time.Minute))

	changed, err := s.MarkSessionRead(ctx, sess.ID, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	unread, err := s.UnreadCount(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	// An empty exclude id excludes nothing: the remaining agent message
	// flips as well.
	changed, err = s.MarkSessionRead(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	unread, err = s.UnreadCount(ctx, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)

	_, err = s.MarkSessionRead(ctx, "missing", "")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}
