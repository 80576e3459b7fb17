package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mirelon-dev/halodesk/internal/handler/identity"
	"github.com/mirelon-dev/halodesk/internal/model/chat"
	chatService "github.com/mirelon-dev/halodesk/internal/service/chat"
	"github.com/mirelon-dev/halodesk/pkg/utils"
)

// Handler serves the public chat endpoints used by customers and
// guests, who address their session by its public token.
type Handler struct {
	chatSvc *chatService.Service
}

// New creates the public chat handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the public chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/start", h.handleStart)
	r.Get("/chat/mine", h.handleMySessions)
	r.Get("/chat/{token}/messages", h.handleMessages)
	r.Post("/chat/{token}/read", h.handleMarkSessionRead)
	r.Post("/messages/send", h.handleSend)
	r.Patch("/messages/{messageID}/read", h.handleMarkRead)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromRequest(r)

	if ident.IsCustomer() {
		session, err := h.chatSvc.CreateSessionForCustomer(r.Context(), ident.ID)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, session)
		return
	}

	var payload struct {
		GuestName  string `json:"guestName"`
		GuestEmail string `json:"guestEmail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.CreateSessionForGuest(r.Context(), payload.GuestName, payload.GuestEmail)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleMySessions(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromRequest(r)
	if !ident.IsCustomer() {
		utils.RespondError(w, http.StatusForbidden, "customer identity required")
		return
	}

	sessions, err := h.chatSvc.ListByCustomer(r.Context(), ident.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	session, err := h.chatSvc.FindByToken(r.Context(), token)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	from, to, windowed, err := parseWindow(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid from/to timestamps")
		return
	}

	var messages []chat.Message
	if windowed {
		messages, err = h.chatSvc.ListMessagesBetween(r.Context(), session.ID, from, to)
	} else {
		messages, err = h.chatSvc.ListMessages(r.Context(), session.ID)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session":  session,
		"messages": messages,
	})
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionToken string `json:"sessionToken"`
		SenderName   string `json:"senderName"`
		Body         string `json:"body"`
		Kind         string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.FindByToken(r.Context(), payload.SessionToken)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	ident := identity.FromRequest(r)
	params := chatService.AppendMessageParams{
		SessionID:  session.ID,
		Body:       payload.Body,
		Kind:       chat.MessageKind(payload.Kind),
		SenderName: payload.SenderName,
	}
	switch {
	case ident.IsAgent():
		params.SenderKind = chat.SenderAgent
		params.SenderID = ident.ID
	case ident.IsCustomer():
		params.SenderKind = chat.SenderCustomer
		params.SenderID = ident.ID
	default:
		params.SenderKind = chat.SenderGuest
	}
	if params.SenderName == "" {
		if ident.Name != "" {
			params.SenderName = ident.Name
		} else {
			params.SenderName = session.Participant.DisplayName()
		}
	}

	message, err := h.chatSvc.AppendMessage(r.Context(), params)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, message)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	changed, err := h.chatSvc.MarkRead(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func (h *Handler) handleMarkSessionRead(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.FindByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	// The caller's own messages are never unread to them; guests carry
	// no id, so nothing is excluded for them.
	exclude := identity.FromRequest(r).ID
	updated, err := h.chatSvc.MarkSessionRead(r.Context(), session.ID, exclude)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// parseWindow reads the optional from/to RFC3339 query parameters.
func parseWindow(r *http.Request) (from, to time.Time, ok bool, err error) {
	rawFrom := r.URL.Query().Get("from")
	rawTo := r.URL.Query().Get("to")
	if rawFrom == "" && rawTo == "" {
		return time.Time{}, time.Time{}, false, nil
	}

	to = time.Now().UTC()
	if rawFrom != "" {
		if from, err = time.Parse(time.RFC3339, rawFrom); err != nil {
			return time.Time{}, time.Time{}, false, err
		}
	}
	if rawTo != "" {
		if to, err = time.Parse(time.RFC3339, rawTo); err != nil {
			return time.Time{}, time.Time{}, false, err
		}
	}
	return from, to, true, nil
}

func respondServiceError(w http.ResponseWriter, err error) {
	utils.RespondError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrAlreadyClaimed),
		errors.Is(err, chat.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrInvalidParticipant),
		errors.Is(err, chatService.ErrBodyRequired),
		errors.Is(err, chatService.ErrInvalidSender),
		errors.Is(err, chatService.ErrInvalidKind),
		errors.Is(err, chatService.ErrAgentRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
