package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/blazehooks/internal/auth"
	"github.com/mattjoyce/blazehooks/internal/eventlog"
	"github.com/mattjoyce/blazehooks/internal/events"
	"github.com/mattjoyce/blazehooks/internal/metrics"
	"github.com/mattjoyce/blazehooks/internal/registry"
	"github.com/mattjoyce/blazehooks/internal/webhook"
)

// WebhookStore is the registry surface behind /webhooks.
type WebhookStore interface {
	Create(ctx context.Context, tenantID string, in registry.CreateInput) (*webhook.Endpoint, string, error)
	List(ctx context.Context, tenantID string) ([]webhook.Endpoint, error)
	Get(ctx context.Context, tenantID, id string) (*webhook.Endpoint, error)
	Update(ctx context.Context, tenantID, id string, in registry.UpdateInput) (*webhook.Endpoint, error)
	RotateSecret(ctx context.Context, tenantID, id string) (string, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// AttemptLister pages through an endpoint's delivery attempts.
type AttemptLister interface {
	List(ctx context.Context, tenantID, webhookID string, page, limit int) (*eventlog.Page, error)
}

// Publisher fans a domain event out to subscribed endpoints.
type Publisher interface {
	Publish(ctx context.Context, tenantID, event string, data json.RawMessage) ([]string, error)
}

// DepthReader reports the delivery backlog for /healthz.
type DepthReader interface {
	Depth(ctx context.Context) (int, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	Tokens []auth.TokenConfig
	// Metrics mounts /metrics when true.
	Metrics bool
}

// Server is the admin HTTP API.
type Server struct {
	config    Config
	webhooks  WebhookStore
	attempts  AttemptLister
	publisher Publisher
	queue     DepthReader
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. hub may be nil, in which case
// GET /events is not served.
func New(config Config, webhooks WebhookStore, attempts AttemptLister, publisher Publisher, queue DepthReader, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		webhooks:  webhooks,
		attempts:  attempts,
		publisher: publisher,
		queue:     queue,
		hub:       hub,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler builds the router. Exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.config.Metrics {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/webhooks", func(r chi.Router) {
			r.With(s.requireScopes(auth.ScopeWebhooksRO)).Get("/", s.handleListWebhooks)
			r.With(s.requireScopes(auth.ScopeWebhooksRW)).Post("/", s.handleCreateWebhook)
			r.Route("/{id}", func(r chi.Router) {
				r.With(s.requireScopes(auth.ScopeWebhooksRO)).Get("/", s.handleGetWebhook)
				r.With(s.requireScopes(auth.ScopeWebhooksRW)).Patch("/", s.handleUpdateWebhook)
				r.With(s.requireScopes(auth.ScopeWebhooksRW)).Delete("/", s.handleDeleteWebhook)
				r.With(s.requireScopes(auth.ScopeWebhooksRW)).Post("/rotate-secret", s.handleRotateSecret)
				r.With(s.requireScopes(auth.ScopeWebhooksRO)).Get("/events", s.handleListAttempts)
			})
		})

		r.With(s.requireScopes(auth.ScopeEventsPublish)).Post("/events", s.handlePublish)
		if s.hub != nil {
			r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests and records request metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		elapsed := time.Since(start)
		metrics.ObserveRequest(r.Method, route, ww.Status(), elapsed)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
