package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/blazehooks/internal/registry"
	"github.com/mattjoyce/blazehooks/internal/webhook"
)

const maxRequestBody = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    depth,
	})
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var in registry.CreateInput
	if !s.decodeBody(w, r, &in) {
		return
	}

	ep, secret, err := s.webhooks.Create(r.Context(), tenantOf(r), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info("webhook created", "tenant_id", ep.TenantID, "webhook_id", ep.ID, "url", ep.URL)
	respondJSON(w, http.StatusCreated, CreatedWebhook{Endpoint: *ep, Secret: secret})
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	list, err := s.webhooks.List(r.Context(), tenantOf(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []webhook.Endpoint{}
	}
	respondJSON(w, http.StatusOK, ListResponse{Data: list})
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	ep, err := s.webhooks.Get(r.Context(), tenantOf(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ep)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var in registry.UpdateInput
	if !s.decodeBody(w, r, &in) {
		return
	}

	ep, err := s.webhooks.Update(r.Context(), tenantOf(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ep)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.webhooks.Delete(r.Context(), tenantOf(r), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info("webhook deleted", "tenant_id", tenantOf(r), "webhook_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	secret, err := s.webhooks.RotateSecret(r.Context(), tenantOf(r), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info("webhook secret rotated", "tenant_id", tenantOf(r), "webhook_id", id)
	respondJSON(w, http.StatusOK, RotateResponse{Secret: secret})
}

// handleListAttempts handles GET /webhooks/{id}/events.
func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	tenant := tenantOf(r)
	id := chi.URLParam(r, "id")
	if _, err := s.webhooks.Get(r.Context(), tenant, id); err != nil {
		s.writeDomainError(w, err)
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	p, err := s.attempts.List(r.Context(), tenant, id, page, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	data := p.Data
	if data == nil {
		data = []webhook.DeliveryAttempt{}
	}
	respondJSON(w, http.StatusOK, AttemptsResponse{
		Data: data,
		Meta: PageMeta{
			Total:      p.Total,
			Page:       p.Page,
			Limit:      p.Limit,
			TotalPages: p.TotalPages,
		},
		SuccessRate: p.SuccessRate,
	})
}

// handlePublish handles POST /events: fan out to the caller's endpoints.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	ids, err := s.publisher.Publish(r.Context(), tenantOf(r), req.Event, req.Data)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusAccepted, PublishResponse{Event: req.Event, JobIDs: ids})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			s.writeError(w, http.StatusBadRequest, "request body is required")
		default:
			s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		}
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, webhook.NewValidationError(name, "must be an integer")
	}
	return n, nil
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// writeDomainError maps registry, log and dispatcher errors to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	if ve, ok := webhook.AsValidation(err); ok {
		resp := ErrorResponse{Error: ve.Error()}
		if ve.Field != "" {
			resp.Fields = map[string]string{ve.Field: ve.Message}
		}
		respondJSON(w, http.StatusBadRequest, resp)
		return
	}
	if errors.Is(err, webhook.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("request failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}
