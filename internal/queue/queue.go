package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/blazehooks/internal/storage"
)

const (
	defaultMaxAttempts = 5
	maxErrorBytes      = 4 * 1024
)

const jobColumns = `id, webhook_id, tenant_id, event, payload, status, attempt, max_attempts,
  created_at, started_at, completed_at, next_attempt_at, last_error`

// Queue is the durable delivery job queue. Jobs become visible to Dequeue
// once next_attempt_at has passed.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.WebhookID == "" {
		return "", fmt.Errorf("webhook_id is empty")
	}
	if req.TenantID == "" {
		return "", fmt.Errorf("tenant_id is empty")
	}
	if req.Event == "" {
		return "", fmt.Errorf("event is empty")
	}
	if len(req.Payload) == 0 {
		return "", fmt.Errorf("payload is empty")
	}

	id := uuid.NewString()
	now := storage.FormatTime(q.now())

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	_, err := q.db.ExecContext(ctx, `
INSERT INTO delivery_jobs(
  id, webhook_id, tenant_id, event, payload, status, attempt, max_attempts, created_at, next_attempt_at
)
VALUES(?, ?, ?, ?, ?, ?, 1, ?, ?, ?);
`, id, req.WebhookID, req.TenantID, req.Event, []byte(req.Payload), StatusQueued, maxAttempts, now, now)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// Dequeue claims the job that has been due the longest and marks it running.
// Returns (nil, nil) if nothing is due.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	nowS := storage.FormatTime(q.now())

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM delivery_jobs
  WHERE status = ? AND next_attempt_at <= ?
  ORDER BY next_attempt_at ASC, created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE delivery_jobs
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next) AND status = ?
RETURNING `+jobColumns+`;
`, StatusQueued, nowS, StatusRunning, nowS, StatusQueued)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	return j, nil
}

// Complete moves a running job to a terminal status.
func (q *Queue) Complete(ctx context.Context, jobID string, status Status, lastError *string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is empty")
	}
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	res, err := q.db.ExecContext(ctx, `
UPDATE delivery_jobs
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ? AND status = ?;
`, status, storage.FormatTime(q.now()), truncateError(lastError), jobID, StatusRunning)
	if err != nil {
		return fmt.Errorf("update job completion: %w", err)
	}
	return q.requireRow(ctx, res, jobID)
}

// Retry puts a running job back in the queue for its next attempt, visible at
// nextAttemptAt.
func (q *Queue) Retry(ctx context.Context, jobID string, nextAttemptAt time.Time, lastError string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is empty")
	}

	res, err := q.db.ExecContext(ctx, `
UPDATE delivery_jobs
SET status = ?, attempt = attempt + 1, started_at = NULL, next_attempt_at = ?, last_error = ?
WHERE id = ? AND status = ? AND attempt < max_attempts;
`, StatusQueued, storage.FormatTime(nextAttemptAt), truncateError(&lastError), jobID, StatusRunning)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if n == 1 {
		return nil
	}

	j, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != StatusRunning {
		return ErrJobNotRunning
	}
	return ErrNoAttemptsLeft
}

// RequeueForRecovery returns a job left running by a dead process to the
// queue at the same attempt, visible immediately.
func (q *Queue) RequeueForRecovery(ctx context.Context, jobID string, lastError string) error {
	res, err := q.db.ExecContext(ctx, `
UPDATE delivery_jobs
SET status = ?, started_at = NULL, next_attempt_at = ?, last_error = ?
WHERE id = ? AND status = ?;
`, StatusQueued, storage.FormatTime(q.now()), truncateError(&lastError), jobID, StatusRunning)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return q.requireRow(ctx, res, jobID)
}

func (q *Queue) Get(ctx context.Context, jobID string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM delivery_jobs WHERE id = ?;`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// FindJobsByStatus returns jobs in status, oldest first.
func (q *Queue) FindJobsByStatus(ctx context.Context, status Status) ([]*Job, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM delivery_jobs
WHERE status = ?
ORDER BY created_at ASC, rowid ASC;
`, status)
	if err != nil {
		return nil, fmt.Errorf("find jobs by status: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Depth counts jobs that are queued or running.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM delivery_jobs WHERE status IN (?, ?);
`, StatusQueued, StatusRunning).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// PruneFinished deletes terminal jobs completed before cutoff.
func (q *Queue) PruneFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
DELETE FROM delivery_jobs
WHERE status IN (?, ?, ?) AND completed_at < ?;
`, StatusSucceeded, StatusExhausted, StatusAbandoned, storage.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

func (q *Queue) requireRow(ctx context.Context, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := q.Get(ctx, jobID); err != nil {
		return err
	}
	return ErrJobNotRunning
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var (
		j            Job
		statusS      string
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		nextAtS      string
		lastError    sql.NullString
		payload      []byte
	)
	if err := s.Scan(
		&j.ID, &j.WebhookID, &j.TenantID, &j.Event, &payload, &statusS, &j.Attempt, &j.MaxAttempts,
		&createdAtS, &startedAtS, &completedAtS, &nextAtS, &lastError,
	); err != nil {
		return nil, err
	}

	j.Status = Status(statusS)
	j.Payload = payload
	if t, err := storage.ParseTime(createdAtS); err == nil {
		j.CreatedAt = t
	}
	if t, err := storage.ParseTime(nextAtS); err == nil {
		j.NextAttemptAt = t
	}
	j.StartedAt = storage.ParseNullTime(startedAtS)
	j.CompletedAt = storage.ParseNullTime(completedAtS)
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	return &j, nil
}

func truncateError(s *string) any {
	if s == nil {
		return nil
	}
	v := *s
	if len(v) > maxErrorBytes {
		v = v[:maxErrorBytes]
	}
	return v
}
