package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HandlerFunc processes a verified delivery. A non-nil error turns into a 500
// so the sender retries.
type HandlerFunc func(ctx context.Context, env Envelope, raw []byte) error

// Receiver is an HTTP server that accepts signed deliveries.
type Receiver struct {
	config  ReceiverConfig
	handle  HandlerFunc
	logger  *slog.Logger
	server  *http.Server
	nowFunc func() time.Time
}

// NewReceiver creates a receiver. handle may be nil, in which case verified
// deliveries are only logged.
func NewReceiver(config ReceiverConfig, handle HandlerFunc, logger *slog.Logger) *Receiver {
	return &Receiver{
		config:  config.withDefaults(),
		handle:  handle,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Start runs the receiver until ctx is cancelled (blocking).
func (r *Receiver) Start(ctx context.Context) error {
	r.server = &http.Server{
		Addr:         r.config.Listen,
		Handler:      r.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	r.logger.Info("receiver starting", "listen", r.config.Listen, "path", r.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("receiver shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("receiver shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("receiver error: %w", err)
	}
}

// Handler returns the router, for embedding or httptest.
func (r *Receiver) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(r.loggingMiddleware)
	router.Use(middleware.Recoverer)
	router.Post(r.config.Path, r.handleDelivery)
	return router
}

// loggingMiddleware logs requests without bodies.
func (r *Receiver) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		r.logger.Info("receiver request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(req.Context()),
		)
	})
}

func (r *Receiver) handleDelivery(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, r.config.MaxBodySize+1))
	if err != nil {
		r.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > r.config.MaxBodySize {
		r.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := req.Header.Get(SignatureHeader)
	if !VerifyAt(r.nowFunc(), r.config.Secret, signature, body, r.config.Tolerance) {
		// Always a generic 403; no hint about which check failed.
		r.logger.Warn("delivery signature rejected", "path", req.URL.Path, "present", signature != "")
		r.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Event == "" {
		r.respondError(w, http.StatusBadRequest, "invalid envelope")
		return
	}

	if r.handle != nil {
		if err := r.handle(req.Context(), env, body); err != nil {
			r.logger.Error("delivery handler failed", "event", env.Event, "error", err)
			r.respondError(w, http.StatusInternalServerError, "handler failed")
			return
		}
	}

	r.logger.Info("delivery accepted",
		"event", env.Event,
		"delivery_id", req.Header.Get("X-Webhook-Delivery"),
		"attempt", req.Header.Get("X-Webhook-Attempt"),
	)
	r.respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (r *Receiver) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (r *Receiver) respondError(w http.ResponseWriter, status int, message string) {
	r.respondJSON(w, status, map[string]string{"error": message})
}
