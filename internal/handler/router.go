package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oncolife/chatbot/internal/config"
	"github.com/oncolife/chatbot/internal/handler/chat"
	"github.com/oncolife/chatbot/internal/handler/ws"
	"github.com/oncolife/chatbot/internal/middleware"
	chatService "github.com/oncolife/chatbot/internal/service/chat"
	"github.com/oncolife/chatbot/internal/service/push"
	"github.com/oncolife/chatbot/internal/service/triage"
	"github.com/oncolife/chatbot/pkg/logger"
	"github.com/oncolife/chatbot/pkg/utils"
)

// Dependencies are the services the HTTP layer is built on.
type Dependencies struct {
	Config  *config.Config
	Logger  *logger.Logger
	ChatSvc *chatService.Service
	Engine  *triage.Engine
	Hub     push.Hub
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	chatHandler := chat.New(deps.ChatSvc, deps.Engine, deps.Hub, log)
	wsHandler := ws.NewWebSocketHandler(deps.ChatSvc, deps.Engine, deps.Hub, log)

	r.Route("/api/chat", func(api chi.Router) {
		api.Use(middleware.Auth(deps.Config.Auth.JWTSecret, deps.Config.Auth.DefaultPatientID))
		if deps.Config.RateLimit.Enabled {
			api.Use(middleware.RateLimit(deps.Config.RateLimit.Requests, deps.Config.RateLimit.Window))
		}

		wsHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
	})

	return r
}
