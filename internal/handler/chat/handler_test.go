package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mirelon-dev/halodesk/internal/handler/identity"
	"github.com/mirelon-dev/halodesk/internal/model/chat"
	chatservice "github.com/mirelon-dev/halodesk/internal/service/chat"
	"github.com/mirelon-dev/halodesk/internal/store/memory"
)

func setupRouter() (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService(memory.New())
	handler := New(chatSvc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func startGuestSession(t *testing.T, svc *chatservice.Service) chat.Session {
	t.Helper()
	sess, err := svc.CreateSessionForGuest(context.Background(), "Lina", "lina@example.com")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestStartGuestSession(t *testing.T) {
	r, _ := setupRouter()
	payload, _ := json.Marshal(map[string]string{
		"guestName":  "Lina",
		"guestEmail": "lina@example.com",
	})

	req := httptest.NewRequest(http.MethodPost, "/chat/start", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var sess chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if sess.Status != chat.StatusWaiting {
		t.Fatalf("expected waiting status, got %q", sess.Status)
	}
	if sess.Token == "" {
		t.Fatal("expected a session token")
	}
	if sess.Participant.Guest == nil || sess.Participant.Guest.Name != "Lina" {
		t.Fatalf("unexpected participant %+v", sess.Participant)
	}
}

func TestStartGuestSessionMissingEmail(t *testing.T) {
	r, _ := setupRouter()
	payload := []byte(`{"guestName":"Lina"}`)

	req := httptest.NewRequest(http.MethodPost, "/chat/start", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestStartCustomerSession(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/chat/start", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(identity.HeaderUserID, "user-7")
	req.Header.Set(identity.HeaderUserRole, string(identity.RoleCustomer))
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var sess chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if sess.Participant.UserID != "user-7" {
		t.Fatalf("expected registered participant, got %+v", sess.Participant)
	}
}

func TestMySessionsRequiresCustomer(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/chat/mine", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without customer identity, got %d", resp.Code)
	}
}

func TestMySessions(t *testing.T) {
	r, svc := setupRouter()

	if _, err := svc.CreateSessionForCustomer(context.Background(), "user-7"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	startGuestSession(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/chat/mine", nil)
	req.Header.Set(identity.HeaderUserID, "user-7")
	req.Header.Set(identity.HeaderUserRole, string(identity.RoleCustomer))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Sessions []chat.Session `json:"sessions"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].Participant.UserID != "user-7" {
		t.Fatalf("unexpected sessions %+v", body.Sessions)
	}
}

func TestGetMessagesByToken(t *testing.T) {
	r, svc := setupRouter()
	sess := startGuestSession(t, svc)

	_, err := svc.AppendMessage(context.Background(), chatservice.AppendMessageParams{
		SessionID:  sess.ID,
		SenderKind: chat.SenderGuest,
		SenderName: "Lina",
		Body:       "hello",
	})
	if err != nil {
		t.Fatalf("append message: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/chat/"+sess.Token+"/messages", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Session  chat.Session   `json:"session"`
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Session.ID != sess.ID {
		t.Fatalf("expected session %q, got %q", sess.ID, body.Session.ID)
	}
	if len(body.Messages) != 1 || body.Messages[0].Body != "hello" {
		t.Fatalf("unexpected messages %+v", body.Messages)
	}
}

func TestGetMessagesUnknownToken(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/chat/chat_missing/messages", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestGetMessagesBadWindow(t *testing.T) {
	r, svc := setupRouter()
	sess := startGuestSession(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/chat/"+sess.Token+"/messages?from=yesterday", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSendMessageAsGuest(t *testing.T) {
	r, svc := setupRouter()
	sess := startGuestSession(t, svc)

	payload, _ := json.Marshal(map[string]string{
		"sessionToken": sess.Token,
		"body":         "hi there",
	})
	req := httptest.NewRequest(http.MethodPost, "/messages/send", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var msg chat.Message
	if err := json.Unmarshal(resp.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if msg.SenderKind != chat.SenderGuest {
		t.Fatalf("expected guest sender, got %q", msg.SenderKind)
	}
	if msg.SenderID != "" {
		t.Fatalf("guest messages must not carry a sender id, got %q", msg.SenderID)
	}
	if msg.SenderName != "Lina" {
		t.Fatalf("expected sender name from participant, got %q", msg.SenderName)
	}
	if msg.Kind != chat.MessageText {
		t.Fatalf("expected text kind by default, got %q", msg.Kind)
	}
}

func TestSendMessageAsAgent(t *testing.T) {
	r, svc := setupRouter()
	sess := startGuestSession(t, svc)

	payload, _ := json.Marshal(map[string]string{
		"sessionToken": sess.Token,
		"body":         "how can I help?",
	})
	req := httptest.NewRequest(http.MethodPost, "/messages/send", bytes.NewReader(payload))
	req.Header.Set(identity.HeaderUserID, "agent-a")
	req.Header.Set(identity.HeaderUserRole, string(identity.RoleAgent))
	req.Header.Set(identity.HeaderUserName, "Agent A")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var msg chat.Message
	if err := json.Unmarshal(resp.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if msg.SenderKind != chat.SenderAgent || msg.SenderID != "agent-a" {
		t.Fatalf("unexpected sender %q/%q", msg.SenderKind, msg.SenderID)
	}
	if msg.SenderName != "Agent A" {
		t.Fatalf("expected sender name from identity, got %q", msg.SenderName)
	}
}

func TestSendMessageEmptyBody(t *testing.T) {
	r, svc := setupRouter()
	sess := startGuestSession(t, svc)

	payload, _ := json.Marshal(map[string]string{"sessionToken": sess.Token})
	req := httptest.NewRequest(http.MethodPost, "/messages/send", bytes.NewReader(payload))
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSendMessageUnknownToken(t *testing.T) {
	r, _ := setupRouter()

	payload, _ := json.Marshal(map[string]string{
		"sessionToken": "chat_missing",
		"body":         "hello?",
	})
	req := httptest.NewRequest(http.MethodPost, "/messages/send", bytes.NewReader(payload))
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestMarkSessionReadExcludesCaller(t *testing.T) {
	r, svc := setupRouter()
	sess := startGuestSession(t, svc)
	ctx := context.Background()

	if _, err := svc.AppendMessage(ctx, chatservice.AppendMessageParams{
		SessionID: sess.ID, SenderKind: chat.SenderGuest, SenderName: "Lina", Body: "hello",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := svc.AppendMessage(ctx, chatservice.AppendMessageParams{
		SessionID: sess.ID, SenderKind: chat.SenderAgent, SenderID: "agent-a", SenderName: "Agent A", Body: "hi",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/chat/"+sess.Token+"/read", nil)
	req.Header.Set(identity.HeaderUserID, "agent-a")
	req.Header.Set(identity.HeaderUserRole, string(identity.RoleAgent))
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Updated int `json:"updated"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Updated != 1 {
		t.Fatalf("expected 1 message marked, got %d", body.Updated)
	}
}

func TestMarkMessageRead(t *testing.T) {
	r, svc := setupRouter()
	sess := startGuestSession(t, svc)

	msg, err := svc.AppendMessage(context.Background(), chatservice.AppendMessageParams{
		SessionID: sess.ID, SenderKind: chat.SenderGuest, SenderName: "Lina", Body: "hello",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	req := httptest.NewRequest(http.MethodPatch, "/messages/"+msg.ID+"/read", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Changed bool `json:"changed"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Changed {
		t.Fatal("expected the first read to report a change")
	}

	// Second read is a no-op, not an error.
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPatch, "/messages/"+msg.ID+"/read", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", resp.Code)
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Changed {
		t.Fatal("expected the repeat read to report no change")
	}
}
