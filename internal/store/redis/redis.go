// Package redis implements the store on Redis. Session metadata and
// messages are JSON values; the ordered views live in sorted sets. The
// status transitions and message appends run as Lua scripts so each is
// a single atomic step on the server.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mirelon-dev/halodesk/internal/model/chat"
	"github.com/mirelon-dev/halodesk/internal/store"
)

// DefaultPrefix namespaces every key written by this store.
const DefaultPrefix = "halodesk:chat:"

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	PoolSize int
}

// Store is a Redis-backed store.Store.
type Store struct {
	client *redis.Client
	prefix string
}

// Open connects to Redis, verifies the connection and returns the store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewFromClient(client, cfg.Prefix), nil
}

// NewFromClient wraps an existing client. Useful for miniredis tests.
func NewFromClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

var _ store.Store = (*Store)(nil)

// Key helpers.
func (s *Store) metaKey(id string) string       { return s.prefix + "meta:" + id }
func (s *Store) tokenKey(token string) string   { return s.prefix + "token:" + token }
func (s *Store) msgsKey(id string) string       { return s.prefix + "msgs:" + id }
func (s *Store) msgKey(id string) string        { return s.prefix + "msg:" + id }
func (s *Store) lastSentKey(id string) string   { return s.prefix + "last:" + id }
func (s *Store) waitingKey() string             { return s.prefix + "waiting" }
func (s *Store) activeKey(agent string) string  { return s.prefix + "active:" + agent }
func (s *Store) agentKey(agent string) string   { return s.prefix + "agent:" + agent }
func (s *Store) userKey(user string) string     { return s.prefix + "user:" + user }
func (s *Store) activePrefix() string           { return s.prefix + "active:" }
func (s *Store) msgPrefix() string              { return s.prefix + "msg:" }

// claimScript moves a waiting session to active and maintains the
// waiting and per-agent indexes. Returns 0 when the session is missing,
// 1 when it is no longer waiting, otherwise the updated metadata JSON.
var claimScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local s = cjson.decode(raw)
if s['status'] ~= 'waiting' then return 1 end
s['status'] = 'active'
s['agentId'] = ARGV[1]
s['startedAtMicros'] = ARGV[2]
s['updatedAtMicros'] = ARGV[2]
raw = cjson.encode(s)
redis.call('SET', KEYS[1], raw)
redis.call('ZREM', KEYS[2], s['id'])
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), s['id'])
redis.call('SADD', KEYS[4], s['id'])
return raw
`)

// closeScript moves a waiting or active session to closed. Returns 0
// when missing, 1 when already closed, otherwise the updated JSON.
var closeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local s = cjson.decode(raw)
if s['status'] == 'closed' then return 1 end
local prev = s['status']
s['status'] = 'closed'
s['closedAtMicros'] = ARGV[1]
s['updatedAtMicros'] = ARGV[1]
raw = cjson.encode(s)
redis.call('SET', KEYS[1], raw)
if prev == 'waiting' then
    redis.call('ZREM', KEYS[2], s['id'])
elseif s['agentId'] ~= nil and s['agentId'] ~= '' then
    redis.call('ZREM', ARGV[2] .. s['agentId'], s['id'])
end
return raw
`)

// appendScript stores one message with a monotonic sent-at and touches
// the session's activity marker. Returns 0 when the session is missing,
// otherwise the assigned sent-at in microseconds.
var appendScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local sent = tonumber(ARGV[2])
local last = tonumber(redis.call('GET', KEYS[3]) or '0')
if sent <= last then sent = last + 1 end
local sentStr = string.format('%.0f', sent)
redis.call('SET', KEYS[3], sentStr)
local m = cjson.decode(ARGV[1])
m['sentAtMicros'] = sentStr
redis.call('SET', KEYS[4], cjson.encode(m))
redis.call('ZADD', KEYS[2], sent, m['id'])
local s = cjson.decode(raw)
if sent > tonumber(s['updatedAtMicros']) then
    s['updatedAtMicros'] = sentStr
    redis.call('SET', KEYS[1], cjson.encode(s))
    if s['status'] == 'active' and s['agentId'] ~= nil and s['agentId'] ~= '' then
        redis.call('ZADD', ARGV[3] .. s['agentId'], sent, s['id'])
    end
end
return sent
`)

// markReadScript flips one message to read, reporting whether anything
// changed. An unknown id reports no change.
var markReadScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local m = cjson.decode(raw)
if m['isRead'] then return 0 end
m['isRead'] = true
redis.call('SET', KEYS[1], cjson.encode(m))
return 1
`)

// markSessionReadScript flips every unread message except those from the
// excluded sender. Returns -1 when the session is missing, otherwise
// the number of messages changed.
var markSessionReadScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local ids = redis.call('ZRANGE', KEYS[2], 0, -1)
local changed = 0
for _, id in ipairs(ids) do
    local key = ARGV[2] .. id
    local raw = redis.call('GET', key)
    if raw then
        local m = cjson.decode(raw)
        local sender = m['senderId'] or ''
        if not m['isRead'] and (ARGV[1] == '' or sender ~= ARGV[1]) then
            m['isRead'] = true
            redis.call('SET', key, cjson.encode(m))
            changed = changed + 1
        end
    end
end
return changed
`)

func (s *Store) CreateSession(ctx context.Context, sess *chat.Session) error {
	raw, err := json.Marshal(toWireSession(sess))
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.metaKey(sess.ID), raw, 0)
		pipe.Set(ctx, s.tokenKey(sess.Token), sess.ID, 0)
		pipe.ZAdd(ctx, s.waitingKey(), redis.Z{
			Score:  float64(sess.CreatedAt.UnixMicro()),
			Member: sess.ID,
		})
		if sess.Participant.UserID != "" {
			pipe.SAdd(ctx, s.userKey(sess.Participant.UserID), sess.ID)
		}
		return nil
	})
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (chat.Session, error) {
	raw, err := s.client.Get(ctx, s.metaKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, err
	}
	return decodeSession([]byte(raw))
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (chat.Session, error) {
	id, err := s.client.Get(ctx, s.tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, err
	}
	return s.GetSession(ctx, id)
}

func (s *Store) ClaimSession(ctx context.Context, id, agentID string, at time.Time) (chat.Session, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{s.metaKey(id), s.waitingKey(), s.activeKey(agentID), s.agentKey(agentID)},
		agentID, at.UnixMicro(),
	).Result()
	if err != nil {
		return chat.Session{}, err
	}
	return decodeTransitionResult(res, chat.ErrAlreadyClaimed)
}

func (s *Store) CloseSession(ctx context.Context, id string, at time.Time) (chat.Session, error) {
	res, err := closeScript.Run(ctx, s.client,
		[]string{s.metaKey(id), s.waitingKey()},
		at.UnixMicro(), s.activePrefix(),
	).Result()
	if err != nil {
		return chat.Session{}, err
	}
	return decodeTransitionResult(res, chat.ErrInvalidTransition)
}

func (s *Store) ListWaiting(ctx context.Context) ([]chat.Session, error) {
	ids, err := s.client.ZRange(ctx, s.waitingKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchSessions(ctx, ids, func(sess chat.Session) bool {
		return sess.Status == chat.StatusWaiting
	})
}

func (s *Store) ListActiveByAgent(ctx context.Context, agentID string) ([]chat.Session, error) {
	ids, err := s.client.ZRevRange(ctx, s.activeKey(agentID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchSessions(ctx, ids, func(sess chat.Session) bool {
		return sess.Status == chat.StatusActive
	})
}

func (s *Store) ListByAgent(ctx context.Context, agentID string) ([]chat.Session, error) {
	ids, err := s.client.SMembers(ctx, s.agentKey(agentID)).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchSessions(ctx, ids, nil)
}

func (s *Store) ListByCustomer(ctx context.Context, userID string) ([]chat.Session, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	out, err := s.fetchSessions(ctx, ids, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, m *chat.Message) error {
	raw, err := json.Marshal(toWireMessage(m))
	if err != nil {
		return err
	}

	res, err := appendScript.Run(ctx, s.client,
		[]string{s.metaKey(m.SessionID), s.msgsKey(m.SessionID), s.lastSentKey(m.SessionID), s.msgKey(m.ID)},
		raw, m.SentAt.UnixMicro(), s.activePrefix(),
	).Result()
	if err != nil {
		return err
	}
	sent, ok := res.(int64)
	if !ok || sent == 0 {
		return chat.ErrSessionNotFound
	}
	m.SentAt = time.UnixMicro(sent).UTC()
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.listMessagesRange(ctx, sessionID, "-inf", "+inf")
}

func (s *Store) ListMessagesBetween(ctx context.Context, sessionID string, from, to time.Time) ([]chat.Message, error) {
	return s.listMessagesRange(ctx, sessionID,
		fmt.Sprintf("%d", from.UnixMicro()), fmt.Sprintf("%d", to.UnixMicro()))
}

func (s *Store) MarkMessageRead(ctx context.Context, messageID string) (bool, error) {
	res, err := markReadScript.Run(ctx, s.client, []string{s.msgKey(messageID)}).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (s *Store) MarkSessionRead(ctx context.Context, sessionID, excludeSenderID string) (int, error) {
	res, err := markSessionReadScript.Run(ctx, s.client,
		[]string{s.metaKey(sessionID), s.msgsKey(sessionID)},
		excludeSenderID, s.msgPrefix(),
	).Result()
	if err != nil {
		return 0, err
	}
	n, _ := res.(int64)
	if n < 0 {
		return 0, chat.ErrSessionNotFound
	}
	return int(n), nil
}

func (s *Store) UnreadCount(ctx context.Context, sessionID string) (int, error) {
	msgs, err := s.ListMessages(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if !m.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) listMessagesRange(ctx context.Context, sessionID, min, max string) ([]chat.Message, error) {
	exists, err := s.client.Exists(ctx, s.metaKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, chat.ErrSessionNotFound
	}

	ids, err := s.client.ZRangeByScore(ctx, s.msgsKey(sessionID), &redis.ZRangeBy{
		Min: min, Max: max,
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]chat.Message, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.Get(ctx, s.msgKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var wm wireMessage
		if err := json.Unmarshal([]byte(raw), &wm); err != nil {
			return nil, err
		}
		out = append(out, wm.toModel())
	}
	return out, nil
}

func (s *Store) fetchSessions(ctx context.Context, ids []string, keep func(chat.Session) bool) ([]chat.Session, error) {
	out := make([]chat.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if errors.Is(err, chat.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(sess) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func decodeTransitionResult(res any, conflict error) (chat.Session, error) {
	switch v := res.(type) {
	case int64:
		if v == 0 {
			return chat.Session{}, chat.ErrSessionNotFound
		}
		return chat.Session{}, conflict
	case string:
		return decodeSession([]byte(v))
	default:
		return chat.Session{}, fmt.Errorf("unexpected script result %T", res)
	}
}

// wireSession is the Redis representation of a session. Timestamps are
// unix microseconds carried as JSON strings (the ,string tag) so the
// Lua scripts can patch them without cjson rounding large integers;
// zero means unset.
type wireSession struct {
	ID             string `json:"id"`
	Token          string `json:"token"`
	UserID         string `json:"userId"`
	GuestName      string `json:"guestName"`
	GuestEmail     string `json:"guestEmail"`
	AgentID        string `json:"agentId"`
	Status         string `json:"status"`
	CreatedAtMicro int64  `json:"createdAtMicros,string"`
	UpdatedAtMicro int64  `json:"updatedAtMicros,string"`
	StartedAtMicro int64  `json:"startedAtMicros,string"`
	ClosedAtMicro  int64  `json:"closedAtMicros,string"`
}

func toWireSession(sess *chat.Session) wireSession {
	ws := wireSession{
		ID:             sess.ID,
		Token:          sess.Token,
		UserID:         sess.Participant.UserID,
		AgentID:        sess.AgentID,
		Status:         string(sess.Status),
		CreatedAtMicro: sess.CreatedAt.UnixMicro(),
		UpdatedAtMicro: sess.UpdatedAt.UnixMicro(),
	}
	if sess.Participant.Guest != nil {
		ws.GuestName = sess.Participant.Guest.Name
		ws.GuestEmail = sess.Participant.Guest.Email
	}
	if sess.StartedAt != nil {
		ws.StartedAtMicro = sess.StartedAt.UnixMicro()
	}
	if sess.ClosedAt != nil {
		ws.ClosedAtMicro = sess.ClosedAt.UnixMicro()
	}
	return ws
}

func decodeSession(raw []byte) (chat.Session, error) {
	var ws wireSession
	if err := json.Unmarshal(raw, &ws); err != nil {
		return chat.Session{}, err
	}

	sess := chat.Session{
		ID:        ws.ID,
		Token:     ws.Token,
		AgentID:   ws.AgentID,
		Status:    chat.Status(ws.Status),
		CreatedAt: time.UnixMicro(ws.CreatedAtMicro).UTC(),
		UpdatedAt: time.UnixMicro(ws.UpdatedAtMicro).UTC(),
	}
	if ws.UserID != "" {
		sess.Participant = chat.UserParticipant(ws.UserID)
	} else {
		sess.Participant = chat.GuestParticipant(ws.GuestName, ws.GuestEmail)
	}
	if ws.StartedAtMicro != 0 {
		t := time.UnixMicro(ws.StartedAtMicro).UTC()
		sess.StartedAt = &t
	}
	if ws.ClosedAtMicro != 0 {
		t := time.UnixMicro(ws.ClosedAtMicro).UTC()
		sess.ClosedAt = &t
	}
	return sess, nil
}

// wireMessage mirrors wireSession for messages.
type wireMessage struct {
	ID          string `json:"id"`
	SessionID   string `json:"sessionId"`
	SenderKind  string `json:"senderKind"`
	SenderID    string `json:"senderId"`
	SenderName  string `json:"senderName"`
	Body        string `json:"body"`
	Kind        string `json:"kind"`
	IsRead      bool   `json:"isRead"`
	SentAtMicro int64  `json:"sentAtMicros,string"`
}

func toWireMessage(m *chat.Message) wireMessage {
	return wireMessage{
		ID:          m.ID,
		SessionID:   m.SessionID,
		SenderKind:  string(m.SenderKind),
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Body:        m.Body,
		Kind:        string(m.Kind),
		IsRead:      m.IsRead,
		SentAtMicro: m.SentAt.UnixMicro(),
	}
}

func (wm wireMessage) toModel() chat.Message {
	return chat.Message{
		ID:         wm.ID,
		SessionID:  wm.SessionID,
		SenderKind: chat.SenderKind(wm.SenderKind),
		SenderID:   wm.SenderID,
		SenderName: wm.SenderName,
		Body:       wm.Body,
		Kind:       chat.MessageKind(wm.Kind),
		IsRead:     wm.IsRead,
		SentAt:     time.UnixMicro(wm.SentAtMicro).UTC(),
	}
}
