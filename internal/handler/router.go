package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	agentHandler "github.com/mirelon-dev/halodesk/internal/handler/agent"
	chatHandler "github.com/mirelon-dev/halodesk/internal/handler/chat"
	"github.com/mirelon-dev/halodesk/internal/metrics"
	"github.com/mirelon-dev/halodesk/internal/service/assist"
	chatService "github.com/mirelon-dev/halodesk/internal/service/chat"
	"github.com/mirelon-dev/halodesk/pkg/utils"
)

// NewRouter wires HTTP routes to core services. assistSvc may be nil.
func NewRouter(chatSvc *chatService.Service, assistSvc *assist.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-User-Id", "X-User-Role", "X-User-Name"},
	}))

	r.Route("/api", func(api chi.Router) {
		chatHandler.New(chatSvc).RegisterRoutes(api)
		agentHandler.New(chatSvc, assistSvc).RegisterRoutes(api)

		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{
				"status":    "healthy",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		})
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}
