package agent

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mirelon-dev/halodesk/internal/handler/identity"
	"github.com/mirelon-dev/halodesk/internal/model/chat"
	"github.com/mirelon-dev/halodesk/internal/service/assist"
	chatService "github.com/mirelon-dev/halodesk/internal/service/chat"
	"github.com/mirelon-dev/halodesk/pkg/utils"
)

// Handler serves the agent console endpoints: the waiting queue,
// claiming, closing, statistics and optional reply suggestions.
type Handler struct {
	chatSvc   *chatService.Service
	assistSvc *assist.Service
}

// New creates the agent handler. assistSvc may be nil when no model is
// configured.
func New(chatSvc *chatService.Service, assistSvc *assist.Service) *Handler {
	return &Handler{chatSvc: chatSvc, assistSvc: assistSvc}
}

// RegisterRoutes mounts the agent routes behind the agent-role guard.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/agent", func(ar chi.Router) {
		ar.Use(identity.RequireAgent)
		ar.Get("/chats/waiting", h.handleWaiting)
		ar.Get("/chats/active", h.handleActive)
		ar.Post("/chats/{sessionID}/claim", h.handleClaim)
		ar.Post("/chats/{sessionID}/close", h.handleClose)
		ar.Get("/chats/{sessionID}/suggest", h.handleSuggest)
		ar.Get("/statistics", h.handleStatistics)
	})
}

func (h *Handler) handleWaiting(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatSvc.ListWaiting(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) handleActive(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromRequest(r)

	sessions, err := h.chatSvc.ListActiveForAgent(r.Context(), ident.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	// The console shows each active chat with its latest message and
	// unread figure, so return overviews rather than bare sessions.
	overviews := make([]chatService.SessionOverview, 0, len(sessions))
	for _, sess := range sessions {
		ov, err := h.chatSvc.Overview(r.Context(), sess.ID)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		overviews = append(overviews, ov)
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": overviews})
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromRequest(r)

	session, err := h.chatSvc.Claim(r.Context(), chi.URLParam(r, "sessionID"), ident.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromRequest(r)

	session, err := h.chatSvc.Close(r.Context(), chi.URLParam(r, "sessionID"), ident.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if h.assistSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "reply suggestions unavailable")
		return
	}

	session, err := h.chatSvc.FindByID(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	messages, err := h.chatSvc.ListMessages(r.Context(), session.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	suggestion, err := h.assistSvc.SuggestReply(r.Context(), session, messages)
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, "suggestion failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"suggestion": suggestion})
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromRequest(r)

	stats, err := h.chatSvc.AgentStatistics(r.Context(), ident.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, stats)
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
	case errors.Is(err, chatService.ErrAgentRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
