// Package httpserver exposes the store over a thin JSON API: the storefront
// endpoints used by the Telegram WebApp and the token-protected admin
// console. All validation and state transitions live in the store; handlers
// only decode primitives and translate errors.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tg-shop/internal/store"
)

// Server wraps an http.Server with the API routes mounted.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Config holds HTTP layer settings.
type Config struct {
	Addr string
	// AdminToken guards admin routes; empty disables the check.
	AdminToken string
}

// New creates the HTTP server with storefront, admin, health and metrics
// endpoints.
func New(cfg Config, st *store.Store, logger *slog.Logger) *Server {
	api := &api{
		store:      st,
		logger:     logger.With("component", "http"),
		adminToken: cfg.AdminToken,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Media files are served straight from the media tree; the store only
	// ever hands out safe relative paths into it.
	fileServer := http.FileServer(http.Dir(st.MediaDir()))
	r.Handle("/media/*", http.StripPrefix("/media/", fileServer))

	r.Route("/api", func(r chi.Router) {
		r.Get("/categories", api.listCategories)
		r.Get("/products", api.listProducts)

		r.Route("/cart", func(r chi.Router) {
			r.Post("/add", api.addToCart)
			r.Get("/{userID}", api.getCart)
			r.Post("/clear", api.clearCart)
			r.Post("/checkout", api.checkout)
		})

		r.Group(func(r chi.Router) {
			r.Use(api.requireAdmin)

			r.Post("/categories", api.createCategory)
			r.Patch("/categories/{id}", api.updateCategory)
			r.Delete("/categories/{id}", api.deleteCategory)

			r.Post("/products", api.createProduct)
			r.Patch("/products/{id}", api.updateProduct)
			r.Delete("/products/{id}", api.deleteProduct)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/logs", api.recentLogs)
				r.Get("/bans", api.listBans)
				r.Post("/bans", api.setBan)
				r.Delete("/bans/{userID}", api.unsetBan)
				r.Get("/export", api.exportArchive)
				r.Post("/import", api.importArchive)
			})
		})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "http"),
	}
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the mounted routes, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
