package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/EdwardJXLi/TinyGen/internal/config"
	"github.com/EdwardJXLi/TinyGen/internal/task"
	"github.com/EdwardJXLi/TinyGen/pkg/cerr"
	"github.com/EdwardJXLi/TinyGen/pkg/clog"
)

// Server exposes the task service over HTTP.
type Server struct {
	server  *http.Server
	env     *config.Env
	service *task.Service
}

func NewServer(env *config.Env, service *task.Service) *Server {
	return &Server{
		env:     env,
		service: service,
	}
}

// Handler builds the full route tree. Exposed for httptest use.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		clog.SlogChiMiddleware(),
		cerr.NewJSONResponseChiMiddleware(),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
	})

	r.Get("/", s.handleRoot)
	r.Post("/generate", s.handleGenerate)
	r.Get("/health", s.handleHealth)
	r.Route("/task/{id}", func(r chi.Router) {
		r.Get("/", s.handleStatus)
		r.Get("/result", s.handleResult)
		r.Get("/logs", s.handleLogs)
		r.Delete("/cancel", s.handleCancel)
	})

	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.apiKeyMiddleware(r))
}

// ListenAndServe starts the HTTP server. The provided context becomes the
// base context of every request, so cancelling it on shutdown also tears
// down in-flight log-follow streams.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     h2c.NewHandler(s.Handler(), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	if s.env.APIKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and the root banner stay unauthenticated.
		if r.URL.Path == "/health" || r.URL.Path == "/" {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.Header.Get("Authorization")
			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}
		}
		if apiKey != s.env.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
