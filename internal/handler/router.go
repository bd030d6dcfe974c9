package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edo-homes/portal/internal/middleware"
	"github.com/edo-homes/portal/internal/session"
	"github.com/edo-homes/portal/pkg/logger"
)

// Handlers groups the portal's HTTP handlers.
type Handlers struct {
	Health        *HealthHandler
	Auth          *AuthHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Directory     *DirectoryHandler
	Events        *EventHandler
	Stream        *StreamHandler
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Sessions          *session.Manager
	JWTSecret         string
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Logger            *logger.Logger
}

// NewRouter mounts every portal route.
func NewRouter(h Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Auth.Login)
		r.Post("/register", h.Auth.Register)
		r.Post("/logout", h.Auth.Logout)
		r.Get("/me", h.Auth.Me)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Session(cfg.Sessions, cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.Conversations.List)
			r.Get("/stream", h.Stream.Stream)

			r.Route("/{tenantID}", func(r chi.Router) {
				r.Get("/", h.Conversations.Get)
				r.Post("/messages", h.Conversations.Send)
				r.Post("/read", h.Conversations.MarkRead)
			})
		})

		r.Get("/messages", h.Messages.List)
		r.Delete("/messages", h.Messages.Delete)

		r.Get("/tenants", h.Directory.Tenants)
		r.Get("/properties", h.Directory.Properties)

		r.Get("/events", h.Events.List)
	})

	return r
}
