package api

import (
	"encoding/json"

	"github.com/mattjoyce/blazehooks/internal/webhook"
)

// CreatedWebhook is returned once by POST /webhooks; the secret is never
// shown again.
type CreatedWebhook struct {
	webhook.Endpoint
	Secret string `json:"secret"`
}

type ListResponse struct {
	Data []webhook.Endpoint `json:"data"`
}

type RotateResponse struct {
	Secret string `json:"secret"`
}

type PageMeta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// AttemptsResponse is returned by GET /webhooks/{id}/events.
type AttemptsResponse struct {
	Data        []webhook.DeliveryAttempt `json:"data"`
	Meta        PageMeta                  `json:"meta"`
	SuccessRate *float64                  `json:"successRate"`
}

// PublishRequest is the body of POST /events.
type PublishRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type PublishResponse struct {
	Event  string   `json:"event"`
	JobIDs []string `json:"jobIds"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
}
