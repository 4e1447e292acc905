package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mattjoyce/blazehooks/internal/events"
	"github.com/mattjoyce/blazehooks/internal/log"
	"github.com/mattjoyce/blazehooks/internal/metrics"
	"github.com/mattjoyce/blazehooks/internal/queue"
	"github.com/mattjoyce/blazehooks/internal/registry"
	"github.com/mattjoyce/blazehooks/internal/webhook"
)

// Headers sent with every delivery besides the signature.
const (
	HeaderEvent    = "X-Webhook-Event"
	HeaderDelivery = "X-Webhook-Delivery"
	HeaderAttempt  = "X-Webhook-Attempt"
)

// maxDrainBytes bounds how much of an unread response body is discarded so
// the connection can be reused.
const maxDrainBytes = 64 * 1024

// Endpoints is the registry surface the worker needs.
type Endpoints interface {
	Snapshot(ctx context.Context, id string) (*registry.Target, error)
	RecordOutcome(ctx context.Context, id string, success bool) (bool, error)
}

// Jobs is the queue surface the worker needs.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, jobID string, status queue.Status, lastError *string) error
	Retry(ctx context.Context, jobID string, nextAttemptAt time.Time, lastError string) error
	RequeueForRecovery(ctx context.Context, jobID string, lastError string) error
}

// AttemptLog appends attempt rows.
type AttemptLog interface {
	Append(ctx context.Context, a webhook.DeliveryAttempt) error
}

// RateLimit is a per-endpoint token bucket. PerSecond 0 disables limiting.
type RateLimit struct {
	PerSecond float64
	Burst     int
}

type Options struct {
	Workers           int
	PollInterval      time.Duration
	Timeout           time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	ResponseBodyLimit int64
	UserAgent         string
	RateLimit         RateLimit
	// Client overrides the HTTP client; its Timeout is left alone.
	Client *http.Client
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 30 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Hour
	}
	if o.ResponseBodyLimit <= 0 {
		o.ResponseBodyLimit = 1024
	}
	if o.UserAgent == "" {
		o.UserAgent = "BlazeBlog-Webhooks/1.0"
	}
	return o
}

// Worker dequeues delivery jobs and performs their HTTP attempts.
type Worker struct {
	endpoints Endpoints
	jobs      Jobs
	attempts  AttemptLog
	hub       *events.Hub
	opts      Options
	client    *http.Client
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Worker. hub may be nil.
func New(endpoints Endpoints, jobs Jobs, attempts AttemptLog, hub *events.Hub, opts Options) *Worker {
	opts = opts.withDefaults()
	client := opts.Client
	if client == nil {
		client = &http.Client{
			// A redirect is the receiver's answer, not something to follow.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Worker{
		endpoints: endpoints,
		jobs:      jobs,
		attempts:  attempts,
		hub:       hub,
		opts:      opts,
		client:    client,
		logger:    log.WithComponent("delivery"),
		now:       time.Now,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Start runs the worker pool. This is a blocking call that runs until ctx is
// cancelled; in-flight attempts are given back to the queue.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("delivery workers started", "workers", w.opts.Workers)
	defer w.logger.Info("delivery workers stopped")

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.loop(ctx, n)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (w *Worker) loop(ctx context.Context, n int) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything that is due before sleeping again.
		for ctx.Err() == nil {
			worked, err := w.processNext(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Error("failed to process delivery", "worker", n, "error", err)
				}
				break
			}
			if !worked {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// processNext claims one due job and runs its attempt. It reports whether a
// job was claimed.
func (w *Worker) processNext(ctx context.Context) (bool, error) {
	job, err := w.jobs.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, w.deliver(ctx, job)
}

func (w *Worker) deliver(ctx context.Context, job *queue.Job) error {
	jobLogger := log.WithDelivery(job.ID).With("webhook_id", job.WebhookID, "event", job.Event, "attempt", job.Attempt)
	// Bookkeeping finishes even when shutdown cancels ctx mid-attempt.
	bg := context.WithoutCancel(ctx)

	target, err := w.endpoints.Snapshot(ctx, job.WebhookID)
	if errors.Is(err, webhook.ErrNotFound) {
		w.abandon(bg, job, "webhook deleted", jobLogger)
		return nil
	}
	if err != nil {
		w.release(bg, job, jobLogger)
		return fmt.Errorf("snapshot webhook %s: %w", job.WebhookID, err)
	}
	if !target.IsActive {
		w.abandon(bg, job, "webhook inactive", jobLogger)
		return nil
	}

	if lim := w.limiterFor(job.WebhookID); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			w.release(bg, job, jobLogger)
			return nil
		}
	}

	ts := w.now().Unix()
	signature := webhook.SignatureFor(target.Secret, ts, job.Payload)

	start := time.Now()
	status, body, sendErr := w.send(ctx, target.URL, signature, job)
	elapsed := time.Since(start)

	if sendErr != nil && ctx.Err() != nil {
		// Shutdown interrupted the attempt; it is re-sent after restart.
		w.release(bg, job, jobLogger)
		return nil
	}

	success := sendErr == nil
	tripped, err := w.endpoints.RecordOutcome(bg, job.WebhookID, success)
	if err != nil {
		jobLogger.Error("failed to record outcome", "error", err)
	}

	attempt := webhook.DeliveryAttempt{
		DeliveryID:     job.ID,
		WebhookID:      job.WebhookID,
		TenantID:       job.TenantID,
		Event:          job.Event,
		Payload:        job.Payload,
		URL:            target.URL,
		Attempt:        job.Attempt,
		ResponseTimeMs: elapsed.Milliseconds(),
		Signature:      signature,
		ResponseBody:   body,
		DeliveredAt:    w.now(),
	}
	if status > 0 {
		code := status
		attempt.HTTPStatus = &code
	}

	var errMsg string
	if sendErr != nil {
		errMsg = w.describe(sendErr)
		attempt.Error = &errMsg
	}

	switch {
	case success:
		attempt.Status = webhook.AttemptSucceeded
	case job.Attempt >= job.MaxAttempts:
		attempt.Status = webhook.AttemptExhausted
	case !w.stillActive(bg, job.WebhookID):
		attempt.Status = webhook.AttemptAbandoned
	default:
		attempt.Status = webhook.AttemptRetrying
	}

	if err := w.attempts.Append(bg, attempt); err != nil {
		jobLogger.Error("failed to append attempt", "error", err)
	}

	switch attempt.Status {
	case webhook.AttemptSucceeded:
		w.complete(bg, job, queue.StatusSucceeded, nil, jobLogger)
		jobLogger.Info("delivery succeeded", "http_status", status, "duration_ms", attempt.ResponseTimeMs)
	case webhook.AttemptExhausted:
		w.complete(bg, job, queue.StatusExhausted, &errMsg, jobLogger)
		jobLogger.Warn("delivery exhausted", "error", errMsg)
	case webhook.AttemptAbandoned:
		w.complete(bg, job, queue.StatusAbandoned, &errMsg, jobLogger)
		jobLogger.Warn("delivery abandoned after failed attempt", "error", errMsg)
	default:
		next := w.now().Add(Backoff(job.Attempt, w.opts.BackoffBase, w.opts.BackoffMax))
		if err := w.jobs.Retry(bg, job.ID, next, errMsg); err != nil {
			jobLogger.Error("failed to schedule retry", "error", err)
		}
		jobLogger.Info("delivery failed, retry scheduled", "error", errMsg, "next_attempt_at", next)
	}

	metrics.ObserveAttempt(job.Event, string(attempt.Status), elapsed)
	w.publish(job.TenantID, events.TypeDeliveryAttempted, map[string]any{
		"deliveryId":     job.ID,
		"webhookId":      job.WebhookID,
		"event":          job.Event,
		"attempt":        job.Attempt,
		"maxAttempts":    job.MaxAttempts,
		"status":         attempt.Status,
		"httpStatus":     attempt.HTTPStatus,
		"responseTimeMs": attempt.ResponseTimeMs,
		"error":          attempt.Error,
	})

	if tripped {
		metrics.AutoDisabled.Inc()
		jobLogger.Warn("webhook auto-disabled by failure rate")
		w.publish(job.TenantID, events.TypeWebhookDisabled, map[string]any{
			"webhookId": job.WebhookID,
		})
	}
	return nil
}

// send performs one POST. A non-nil error means the attempt failed; status is
// 0 when no response arrived.
func (w *Worker) send(ctx context.Context, url, signature string, job *queue.Job) (int, string, error) {
	actx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, url, bytes.NewReader(job.Payload))
	if err != nil {
		return 0, "", &webhook.DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.opts.UserAgent)
	req.Header.Set(webhook.SignatureHeader, signature)
	req.Header.Set(HeaderEvent, job.Event)
	req.Header.Set(HeaderDelivery, job.ID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(job.Attempt))

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, "", &webhook.DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, w.opts.ResponseBodyLimit))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, string(body), &webhook.DeliveryError{StatusCode: resp.StatusCode}
	}
	if readErr != nil {
		w.logger.Debug("failed to read response body", "delivery_id", job.ID, "error", readErr)
	}
	return resp.StatusCode, string(body), nil
}

func (w *Worker) describe(err error) string {
	var de *webhook.DeliveryError
	if errors.As(err, &de) && de.Timeout() {
		return fmt.Sprintf("timed out after %s", w.opts.Timeout)
	}
	return err.Error()
}

func (w *Worker) stillActive(ctx context.Context, webhookID string) bool {
	t, err := w.endpoints.Snapshot(ctx, webhookID)
	if err != nil {
		if !errors.Is(err, webhook.ErrNotFound) {
			w.logger.Error("failed to re-check webhook", "webhook_id", webhookID, "error", err)
			// Keep retrying; the next attempt re-reads the endpoint anyway.
			return true
		}
		return false
	}
	return t.IsActive
}

func (w *Worker) abandon(ctx context.Context, job *queue.Job, reason string, logger *slog.Logger) {
	w.complete(ctx, job, queue.StatusAbandoned, &reason, logger)
	logger.Info("delivery abandoned", "reason", reason)
	w.publish(job.TenantID, events.TypeDeliveryAbandoned, map[string]any{
		"deliveryId": job.ID,
		"webhookId":  job.WebhookID,
		"event":      job.Event,
		"reason":     reason,
	})
}

func (w *Worker) complete(ctx context.Context, job *queue.Job, status queue.Status, lastError *string, logger *slog.Logger) {
	if lastError != nil && *lastError == "" {
		lastError = nil
	}
	if err := w.jobs.Complete(ctx, job.ID, status, lastError); err != nil {
		logger.Error("failed to complete job", "status", status, "error", err)
	}
}

func (w *Worker) release(ctx context.Context, job *queue.Job, logger *slog.Logger) {
	if err := w.jobs.RequeueForRecovery(ctx, job.ID, "interrupted before the attempt completed"); err != nil {
		logger.Error("failed to release job", "error", err)
	}
}

func (w *Worker) publish(tenant, eventType string, data map[string]any) {
	if w.hub != nil {
		w.hub.Publish(tenant, eventType, data)
	}
}

// limiterFor returns the endpoint's token bucket, or nil when limiting is off.
func (w *Worker) limiterFor(webhookID string) *rate.Limiter {
	if w.opts.RateLimit.PerSecond <= 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	lim, ok := w.limiters[webhookID]
	if !ok {
		burst := w.opts.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(w.opts.RateLimit.PerSecond), burst)
		w.limiters[webhookID] = lim
	}
	return lim
}
