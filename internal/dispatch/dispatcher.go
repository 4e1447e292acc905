package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/blazehooks/internal/events"
	"github.com/mattjoyce/blazehooks/internal/log"
	"github.com/mattjoyce/blazehooks/internal/metrics"
	"github.com/mattjoyce/blazehooks/internal/queue"
	"github.com/mattjoyce/blazehooks/internal/webhook"
)

// SubscriberFinder looks up the endpoints an event should go to.
type SubscriberFinder interface {
	Subscribers(ctx context.Context, tenantID, event string) ([]webhook.Endpoint, error)
}

// Enqueuer persists a delivery job.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

type Dispatcher struct {
	subscribers SubscriberFinder
	queue       Enqueuer
	maxAttempts int
	hub         *events.Hub
	logger      *slog.Logger
}

// New creates a Dispatcher. hub may be nil.
func New(subs SubscriberFinder, q Enqueuer, maxAttempts int, hub *events.Hub) *Dispatcher {
	return &Dispatcher{
		subscribers: subs,
		queue:       q,
		maxAttempts: maxAttempts,
		hub:         hub,
		logger:      log.WithComponent("dispatch"),
	}
}

// Publish enqueues one delivery per subscribed endpoint and returns the job ids.
func (d *Dispatcher) Publish(ctx context.Context, tenantID, event string, data json.RawMessage) ([]string, error) {
	if tenantID == "" {
		return nil, webhook.NewValidationError("tenantId", "is required")
	}
	if event == "" {
		return nil, webhook.NewValidationError("event", "is required")
	}
	if len(data) > 0 && !json.Valid(data) {
		return nil, webhook.NewValidationError("data", "must be valid JSON")
	}

	body, err := webhook.EncodeBody(event, data)
	if err != nil {
		return nil, webhook.NewValidationError("data", err.Error())
	}

	endpoints, err := d.subscribers.Subscribers(ctx, tenantID, event)
	if err != nil {
		return nil, fmt.Errorf("find subscribers: %w", err)
	}

	ids := make([]string, 0, len(endpoints))
	if len(endpoints) == 0 {
		d.logger.Debug("no subscribers for event", "tenant_id", tenantID, "event", event)
		return ids, nil
	}

	var firstErr error
	for _, ep := range endpoints {
		id, err := d.queue.Enqueue(ctx, queue.EnqueueRequest{
			WebhookID:   ep.ID,
			TenantID:    tenantID,
			Event:       event,
			Payload:     body,
			MaxAttempts: d.maxAttempts,
		})
		if err != nil {
			log.WithWebhook(ep.ID).Error("failed to enqueue delivery", "event", event, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("enqueue delivery for webhook %s: %w", ep.ID, err)
			}
			continue
		}
		ids = append(ids, id)
		metrics.DeliveriesPublished.WithLabelValues(event).Inc()
		if d.hub != nil {
			d.hub.Publish(tenantID, events.TypeDeliveryQueued, map[string]any{
				"deliveryId": id,
				"webhookId":  ep.ID,
				"event":      event,
			})
		}
	}

	d.logger.Info("event dispatched", "tenant_id", tenantID, "event", event, "deliveries", len(ids))
	return ids, firstErr
}
