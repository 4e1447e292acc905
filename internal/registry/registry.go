// Package registry stores webhook endpoints per tenant, keeps their sealed
// signing secrets, and applies the auto-disable policy from recorded outcomes.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/blazehooks/internal/secrets"
	"github.com/mattjoyce/blazehooks/internal/storage"
	"github.com/mattjoyce/blazehooks/internal/webhook"
)

const maxDescriptionLen = 500

// Options configures a Registry.
type Options struct {
	Vocabulary        webhook.Vocabulary
	Policy            Policy
	AllowInsecureURLs bool
}

// Registry is the SQLite-backed endpoint store.
type Registry struct {
	db            *sql.DB
	box           *secrets.Box
	vocab         webhook.Vocabulary
	policy        Policy
	allowInsecure bool
	now           func() time.Time
}

func New(db *sql.DB, box *secrets.Box, opts Options) *Registry {
	if len(opts.Vocabulary) == 0 {
		opts.Vocabulary = webhook.NewVocabulary(webhook.DefaultEvents...)
	}
	if opts.Policy.Window <= 0 || opts.Policy.MinSamples <= 0 {
		opts.Policy = DefaultPolicy()
	}
	return &Registry{
		db:            db,
		box:           box,
		vocab:         opts.Vocabulary,
		policy:        opts.Policy,
		allowInsecure: opts.AllowInsecureURLs,
		now:           time.Now,
	}
}

// Create registers an endpoint and returns it with its plaintext secret. The
// secret is not retrievable afterwards.
func (r *Registry) Create(ctx context.Context, tenantID string, in CreateInput) (*webhook.Endpoint, string, error) {
	if tenantID == "" {
		return nil, "", webhook.NewValidationError("tenantId", "is required")
	}
	u, err := r.validateURL(in.URL)
	if err != nil {
		return nil, "", err
	}
	events, err := r.validateEvents(in.Events)
	if err != nil {
		return nil, "", err
	}
	if len(in.Description) > maxDescriptionLen {
		return nil, "", webhook.NewValidationError("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLen))
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	id := uuid.NewString()
	secret, err := secrets.Generate()
	if err != nil {
		return nil, "", fmt.Errorf("generate secret: %w", err)
	}
	sealed, err := r.box.Seal(id, secret)
	if err != nil {
		return nil, "", fmt.Errorf("seal secret: %w", err)
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, "", fmt.Errorf("encode events: %w", err)
	}

	now := r.now().UTC()
	nowS := storage.FormatTime(now)
	_, err = r.db.ExecContext(ctx, `
INSERT INTO webhooks(
  id, tenant_id, url, description, events, secret_sealed, secret_fingerprint, is_active, created_at, updated_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, tenantID, u, in.Description, string(eventsJSON), sealed, secrets.Fingerprint(secret), boolToInt(active), nowS, nowS)
	if err != nil {
		return nil, "", fmt.Errorf("insert webhook: %w", err)
	}

	ep, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return nil, "", err
	}
	return ep, secret, nil
}

// List returns the tenant's endpoints, oldest first.
func (r *Registry) List(ctx context.Context, tenantID string) ([]webhook.Endpoint, error) {
	rows, err := r.db.QueryContext(ctx, selectEndpoint+`
WHERE w.tenant_id = ?
ORDER BY w.created_at ASC, w.rowid ASC;
`, r.windowStart(), r.windowStart(), tenantID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	out := []webhook.Endpoint{}
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

// Get returns one endpoint. Endpoints of other tenants are reported as not found.
func (r *Registry) Get(ctx context.Context, tenantID, id string) (*webhook.Endpoint, error) {
	row := r.db.QueryRowContext(ctx, selectEndpoint+`
WHERE w.id = ? AND w.tenant_id = ?;
`, r.windowStart(), r.windowStart(), id, tenantID)
	ep, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, webhook.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return ep, nil
}

// Update applies a partial update. Re-activating an endpoint clears
// autoDisabledAt and forgets its outcome window.
func (r *Registry) Update(ctx context.Context, tenantID, id string, in UpdateInput) (*webhook.Endpoint, error) {
	sets := []string{}
	args := []any{}

	if in.URL != nil {
		u, err := r.validateURL(*in.URL)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "url = ?")
		args = append(args, u)
	}
	if in.Events != nil {
		events, err := r.validateEvents(in.Events)
		if err != nil {
			return nil, err
		}
		eventsJSON, err := json.Marshal(events)
		if err != nil {
			return nil, fmt.Errorf("encode events: %w", err)
		}
		sets = append(sets, "events = ?")
		args = append(args, string(eventsJSON))
	}
	if in.Description != nil {
		if len(*in.Description) > maxDescriptionLen {
			return nil, webhook.NewValidationError("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLen))
		}
		sets = append(sets, "description = ?")
		args = append(args, *in.Description)
	}
	if in.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolToInt(*in.IsActive))
		if *in.IsActive {
			sets = append(sets, "auto_disabled_at = NULL")
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sets = append(sets, "updated_at = ?")
	args = append(args, storage.FormatTime(r.now()), id, tenantID)
	res, err := tx.ExecContext(ctx, `UPDATE webhooks SET `+strings.Join(sets, ", ")+` WHERE id = ? AND tenant_id = ?;`, args...)
	if err != nil {
		return nil, fmt.Errorf("update webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, webhook.ErrNotFound
	}

	if in.IsActive != nil && *in.IsActive {
		if _, err := tx.ExecContext(ctx, `DELETE FROM webhook_outcomes WHERE webhook_id = ?;`, id); err != nil {
			return nil, fmt.Errorf("reset outcome window: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return r.Get(ctx, tenantID, id)
}

// RotateSecret replaces the signing secret in one statement. Attempts signed
// after this returns use the new secret; there is no overlap period.
func (r *Registry) RotateSecret(ctx context.Context, tenantID, id string) (string, error) {
	secret, err := secrets.Generate()
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	sealed, err := r.box.Seal(id, secret)
	if err != nil {
		return "", fmt.Errorf("seal secret: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE webhooks
SET secret_sealed = ?, secret_fingerprint = ?, updated_at = ?
WHERE id = ? AND tenant_id = ?;
`, sealed, secrets.Fingerprint(secret), storage.FormatTime(r.now()), id, tenantID)
	if err != nil {
		return "", fmt.Errorf("rotate secret: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", webhook.ErrNotFound
	}
	return secret, nil
}

// Delete removes the endpoint and its outcome window. Deleting a missing
// endpoint is not an error. Logged attempts stay until retention removes them.
func (r *Registry) Delete(ctx context.Context, tenantID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ? AND tenant_id = ?;`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM webhook_outcomes WHERE webhook_id = ?;`, id); err != nil {
			return fmt.Errorf("delete outcomes: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// RecordOutcome appends an attempt result and re-evaluates the auto-disable
// policy. It reports whether this call disabled the endpoint. Unknown ids are
// ignored.
func (r *Registry) RecordOutcome(ctx context.Context, id string, success bool) (bool, error) {
	now := r.now().UTC()
	nowS := storage.FormatTime(now)
	cutoff := storage.FormatTime(now.Add(-r.policy.Window))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Writing first takes the database write lock before the window is read.
	res, err := tx.ExecContext(ctx, `
INSERT INTO webhook_outcomes(webhook_id, success, recorded_at)
SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM webhooks WHERE id = ?);
`, id, boolToInt(success), nowS, id)
	if err != nil {
		return false, fmt.Errorf("insert outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM webhook_outcomes WHERE webhook_id = ? AND recorded_at < ?;
`, id, cutoff); err != nil {
		return false, fmt.Errorf("trim outcome window: %w", err)
	}

	var total, failures int
	if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
FROM webhook_outcomes
WHERE webhook_id = ? AND recorded_at >= ?;
`, id, cutoff).Scan(&total, &failures); err != nil {
		return false, fmt.Errorf("aggregate outcomes: %w", err)
	}

	tripped := false
	if r.shouldDisable(total, failures) {
		res, err := tx.ExecContext(ctx, `
UPDATE webhooks
SET is_active = 0, auto_disabled_at = ?, updated_at = ?
WHERE id = ? AND is_active = 1;
`, nowS, nowS, id)
		if err != nil {
			return false, fmt.Errorf("auto-disable webhook: %w", err)
		}
		n, _ := res.RowsAffected()
		tripped = n == 1
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return tripped, nil
}

func (r *Registry) shouldDisable(total, failures int) bool {
	if total == 0 || total < r.policy.MinSamples {
		return false
	}
	return float64(failures)/float64(total) > r.policy.Threshold
}

// Subscribers returns the tenant's active endpoints subscribed to event.
func (r *Registry) Subscribers(ctx context.Context, tenantID, event string) ([]webhook.Endpoint, error) {
	rows, err := r.db.QueryContext(ctx, selectEndpoint+`
WHERE w.tenant_id = ? AND w.is_active = 1
  AND EXISTS (SELECT 1 FROM json_each(w.events) WHERE json_each.value = ?)
ORDER BY w.created_at ASC, w.rowid ASC;
`, r.windowStart(), r.windowStart(), tenantID, event)
	if err != nil {
		return nil, fmt.Errorf("find subscribers: %w", err)
	}
	defer rows.Close()

	var out []webhook.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

// Snapshot reads the current url, secret and active flag for one delivery
// attempt. Returns webhook.ErrNotFound once the endpoint is deleted.
func (r *Registry) Snapshot(ctx context.Context, id string) (*Target, error) {
	var (
		t      Target
		sealed []byte
		active int
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, url, secret_sealed, is_active FROM webhooks WHERE id = ?;
`, id).Scan(&t.ID, &t.TenantID, &t.URL, &sealed, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, webhook.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot webhook: %w", err)
	}
	secret, err := r.box.Open(id, sealed)
	if err != nil {
		return nil, err
	}
	t.Secret = secret
	t.IsActive = active == 1
	return &t, nil
}

func (r *Registry) windowStart() string {
	return storage.FormatTime(r.now().Add(-r.policy.Window))
}

func (r *Registry) validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", webhook.NewValidationError("url", "is required")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", webhook.NewValidationError("url", "must be an absolute URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !r.allowInsecure {
			return "", webhook.NewValidationError("url", "must use https")
		}
	default:
		return "", webhook.NewValidationError("url", "must use https")
	}
	if u.User != nil {
		return "", webhook.NewValidationError("url", "must not contain credentials")
	}
	return u.String(), nil
}

func (r *Registry) validateEvents(events []string) ([]string, error) {
	normalized := webhook.NormalizeEvents(events)
	if len(normalized) == 0 {
		return nil, webhook.NewValidationError("events", "must contain at least one event")
	}
	for _, e := range normalized {
		if !r.vocab.Contains(e) {
			return nil, webhook.NewValidationError("events", fmt.Sprintf("unknown event %q (known: %s)", e, strings.Join(r.vocab.Names(), ", ")))
		}
	}
	return normalized, nil
}

// selectEndpoint expects two window-start arguments before its WHERE clause.
const selectEndpoint = `
SELECT w.id, w.tenant_id, w.url, w.description, w.events, w.secret_fingerprint, w.is_active,
  w.auto_disabled_at, w.created_at, w.updated_at,
  (SELECT COUNT(*) FROM webhook_outcomes o WHERE o.webhook_id = w.id AND o.recorded_at >= ?),
  (SELECT COUNT(*) FROM webhook_outcomes o WHERE o.webhook_id = w.id AND o.recorded_at >= ? AND o.success = 0)
FROM webhooks w
`

type scanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(s scanner) (*webhook.Endpoint, error) {
	var (
		ep             webhook.Endpoint
		eventsJSON     string
		active         int
		autoDisabledAt sql.NullString
		createdAtS     string
		updatedAtS     string
		total          int
		failures       int
	)
	if err := s.Scan(
		&ep.ID, &ep.TenantID, &ep.URL, &ep.Description, &eventsJSON, &ep.SecretFingerprint, &active,
		&autoDisabledAt, &createdAtS, &updatedAtS, &total, &failures,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(eventsJSON), &ep.Events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	ep.IsActive = active == 1
	ep.AutoDisabledAt = storage.ParseNullTime(autoDisabledAt)
	if t, err := storage.ParseTime(createdAtS); err == nil {
		ep.CreatedAt = t
	}
	if t, err := storage.ParseTime(updatedAtS); err == nil {
		ep.UpdatedAt = t
	}
	if total > 0 {
		ep.FailureRate = float64(failures) / float64(total)
	}
	return &ep, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
