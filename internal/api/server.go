// Package api serves the agent's control surface over HTTP: login, the
// live session, call operations, the call log, and autodial campaigns.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/softdial/softdial/internal/agent"
	"github.com/softdial/softdial/internal/api/middleware"
	"github.com/softdial/softdial/internal/autodial"
	"github.com/softdial/softdial/internal/config"
	"github.com/softdial/softdial/internal/database"
	"github.com/softdial/softdial/internal/notify"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router    *chi.Mux
	agent     *agent.Agent
	callLog   database.CallLogRepository
	queue     *autodial.Queue
	notifier  *notify.Notifier
	cfg       *config.Config
	jwtSecret []byte
	registry  *prometheus.Registry
	logger    *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted. The
// prometheus registry may be nil to disable the /metrics endpoint.
func NewServer(
	a *agent.Agent,
	callLog database.CallLogRepository,
	queue *autodial.Queue,
	notifier *notify.Notifier,
	cfg *config.Config,
	jwtSecret []byte,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		agent:     a,
		callLog:   callLog,
		queue:     queue,
		notifier:  notifier,
		cfg:       cfg,
		jwtSecret: jwtSecret,
		registry:  registry,
		logger:    logger.With("subsystem", "api"),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(false))

	authLimiter := middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig())
	apiLimiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated routes.
		r.Get("/health", s.handleHealth)
		r.With(middleware.RateLimit(authLimiter)).Post("/auth/login", s.handleLogin)

		// Everything else requires a bearer token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(apiLimiter))
			r.Use(middleware.RequireAuth(s.jwtSecret))

			r.Get("/status", s.handleStatus)

			r.Route("/session", func(r chi.Router) {
				r.Get("/", s.handleSession)
				r.Post("/accept", s.handleAccept)
				r.Post("/reject", s.handleReject)
				r.Post("/hangup", s.handleHangUp)
				r.Post("/transfer", s.handleTransfer)
				r.Post("/mute", s.handleMute)
				r.Post("/device", s.handleSwitchDevice)
			})

			r.Post("/calls", s.handlePlaceCall)

			r.Route("/call-log", func(r chi.Router) {
				r.Get("/", s.handleCallLog)
				r.Get("/counts", s.handleCallLogCounts)
			})

			r.Route("/autodial", func(r chi.Router) {
				r.Get("/", s.handleAutodialStatus)
				r.Post("/", s.handleAutodialStart)
				r.Delete("/", s.handleAutodialStop)
			})
		})
	})

	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			s.registry, promhttp.HandlerOpts{},
		))
	}
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
