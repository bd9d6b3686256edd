// Package api exposes the link and user services over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/burugo/linkcheck"
)

// Pinger reports durable store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the HTTP handlers.
type Server struct {
	links    *linkcheck.LinkService
	users    *linkcheck.UserService
	store    Pinger
	metrics  *linkcheck.Metrics
	cfg      linkcheck.Config
	validate *validator.Validate
	logger   *zap.Logger
}

// NewServer wires the handlers. store and metrics may be nil.
func NewServer(cfg linkcheck.Config, links *linkcheck.LinkService, users *linkcheck.UserService, store Pinger, metrics *linkcheck.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		links:    links,
		users:    users,
		store:    store,
		metrics:  metrics,
		cfg:      cfg,
		validate: newValidator(),
		logger:   logger.Named("http"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(chimiddleware.RealIP)
	r.Use(s.accessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.HTTP.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", UserEmailHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.root)
	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Post("/login", s.login)
			r.Post("/check-email", s.checkEmail)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/dashboard", s.dashboard)
			r.Route("/links", func(r chi.Router) {
				r.Get("/", s.listLinks)
				r.Post("/", s.createLink)
				r.Get("/stats", s.linkStats)
				r.Get("/{linkID}", s.getLink)
				r.Patch("/{linkID}", s.updateLink)
				r.Delete("/{linkID}", s.deleteLink)
				r.Post("/{linkID}/scrape", s.scrapeLink)
				r.Put("/{linkID}/verification", s.recordVerification)
			})
		})
	})
	return r
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	ok(w, http.StatusOK, s.cfg.App.Name, map[string]string{
		"version": s.cfg.App.Version,
		"docs":    "/api/v1",
	}, false)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	db := "ok"
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			db = err.Error()
		}
	}
	cache := "disabled"
	if s.links.Cache().Enabled() {
		cache = "enabled"
	}
	writeJSON(w, status, map[string]string{
		"status":   http.StatusText(status),
		"database": db,
		"cache":    cache,
		"version":  s.cfg.App.Version,
	})
}
