// Package eventlog is the append-only record of delivery attempts.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/blazehooks/internal/storage"
	"github.com/mattjoyce/blazehooks/internal/webhook"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is one page of attempts for an endpoint, newest first.
type Page struct {
	Data       []webhook.DeliveryAttempt
	Total      int
	Page       int
	Limit      int
	TotalPages int
	// SuccessRate covers every retained attempt of the endpoint; nil when there are none.
	SuccessRate *float64
}

type Log struct {
	db *sql.DB
}

func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Append writes one attempt. Rows are never updated.
func (l *Log) Append(ctx context.Context, a webhook.DeliveryAttempt) error {
	if a.DeliveryID == "" || a.WebhookID == "" {
		return fmt.Errorf("attempt is missing delivery or webhook id")
	}
	if a.Attempt < 1 {
		return fmt.Errorf("attempt number must be >= 1")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.DeliveredAt.IsZero() {
		a.DeliveredAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO delivery_attempts(
  id, delivery_id, webhook_id, tenant_id, event, payload, url, attempt, status,
  http_status, response_time_ms, signature, response_body, error, delivered_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, a.ID, a.DeliveryID, a.WebhookID, a.TenantID, a.Event, []byte(a.Payload), a.URL, a.Attempt, string(a.Status),
		a.HTTPStatus, a.ResponseTimeMs, a.Signature, a.ResponseBody, a.Error, storage.FormatTime(a.DeliveredAt))
	if err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

// List pages through an endpoint's attempts. page is 1-based; limit defaults
// to DefaultLimit and is capped at MaxLimit.
func (l *Log) List(ctx context.Context, tenantID, webhookID string, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var total, succeeded int
	if err := l.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
FROM delivery_attempts
WHERE tenant_id = ? AND webhook_id = ?;
`, string(webhook.AttemptSucceeded), tenantID, webhookID).Scan(&total, &succeeded); err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT `+attemptColumns+`
FROM delivery_attempts
WHERE tenant_id = ? AND webhook_id = ?
ORDER BY delivered_at DESC, attempt DESC, rowid DESC
LIMIT ? OFFSET ?;
`, tenantID, webhookID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	data, err := collect(rows)
	if err != nil {
		return nil, err
	}

	p := &Page{
		Data:       data,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
	if total > 0 {
		rate := float64(succeeded) / float64(total)
		p.SuccessRate = &rate
	}
	return p, nil
}

// ForDelivery returns every attempt of one logical delivery in attempt order.
func (l *Log) ForDelivery(ctx context.Context, deliveryID string) ([]webhook.DeliveryAttempt, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT `+attemptColumns+`
FROM delivery_attempts
WHERE delivery_id = ?
ORDER BY attempt ASC;
`, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}
	return collect(rows)
}

// Prune deletes attempts delivered before cutoff.
func (l *Log) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM delivery_attempts WHERE delivered_at < ?;`, storage.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune attempts: %w", err)
	}
	return res.RowsAffected()
}

const attemptColumns = `id, delivery_id, webhook_id, tenant_id, event, payload, url, attempt, status,
  http_status, response_time_ms, signature, response_body, error, delivered_at`

func collect(rows *sql.Rows) ([]webhook.DeliveryAttempt, error) {
	defer rows.Close()

	out := []webhook.DeliveryAttempt{}
	for rows.Next() {
		var (
			a            webhook.DeliveryAttempt
			payload      []byte
			status       string
			httpStatus   sql.NullInt64
			responseBody sql.NullString
			errMsg       sql.NullString
			deliveredAtS string
		)
		if err := rows.Scan(
			&a.ID, &a.DeliveryID, &a.WebhookID, &a.TenantID, &a.Event, &payload, &a.URL, &a.Attempt, &status,
			&httpStatus, &a.ResponseTimeMs, &a.Signature, &responseBody, &errMsg, &deliveredAtS,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Payload = payload
		a.Status = webhook.AttemptStatus(status)
		if httpStatus.Valid {
			code := int(httpStatus.Int64)
			a.HTTPStatus = &code
		}
		a.ResponseBody = responseBody.String
		if errMsg.Valid {
			a.Error = &errMsg.String
		}
		if t, err := storage.ParseTime(deliveredAtS); err == nil {
			a.DeliveredAt = t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
