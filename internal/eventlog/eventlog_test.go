package eventlog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/blazehooks/internal/storage"
	"github.com/mattjoyce/blazehooks/internal/webhook"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func attempt(deliveryID string, n int, status webhook.AttemptStatus, at time.Time) webhook.DeliveryAttempt {
	code := 200
	if status != webhook.AttemptSucceeded {
		code = 500
	}
	return webhook.DeliveryAttempt{
		DeliveryID:     deliveryID,
		WebhookID:      "wh-1",
		TenantID:       "tenant-a",
		Event:          webhook.EventCommentAdded,
		Payload:        []byte(`{"event":"comment.added","data":{}}`),
		URL:            "https://hooks.example.com",
		Attempt:        n,
		Status:         status,
		HTTPStatus:     &code,
		ResponseTimeMs: 12,
		Signature:      "t=1,v1=abc",
		DeliveredAt:    at,
	}
}

func TestAppendAndForDelivery(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(ctx, attempt("d1", 2, webhook.AttemptSucceeded, base.Add(time.Minute))))
	failed := attempt("d1", 1, webhook.AttemptRetrying, base)
	msg := "receiver responded with status 500"
	failed.Error = &msg
	failed.ResponseBody = "oops"
	require.NoError(t, l.Append(ctx, failed))

	got, err := l.ForDelivery(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Attempt)
	assert.Equal(t, webhook.AttemptRetrying, got[0].Status)
	require.NotNil(t, got[0].Error)
	assert.Equal(t, msg, *got[0].Error)
	assert.Equal(t, "oops", got[0].ResponseBody)
	assert.Equal(t, 2, got[1].Attempt)
	assert.Nil(t, got[1].Error)
	require.NotNil(t, got[1].HTTPStatus)
	assert.Equal(t, 200, *got[1].HTTPStatus)
	assert.True(t, got[1].DeliveredAt.Equal(base.Add(time.Minute)))
	assert.JSONEq(t, `{"event":"comment.added","data":{}}`, string(got[1].Payload))
}

func TestAppendRejectsDuplicateAttempt(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	now := time.Now()

	require.NoError(t, l.Append(ctx, attempt("d1", 1, webhook.AttemptRetrying, now)))
	assert.Error(t, l.Append(ctx, attempt("d1", 1, webhook.AttemptRetrying, now)))
	assert.Error(t, l.Append(ctx, attempt("d1", 0, webhook.AttemptRetrying, now)))
}

func TestAppendNullableFields(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	a := attempt("d1", 1, webhook.AttemptRetrying, time.Now())
	a.HTTPStatus = nil
	timeout := "context deadline exceeded"
	a.Error = &timeout
	require.NoError(t, l.Append(ctx, a))

	got, err := l.ForDelivery(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].HTTPStatus)
	assert.Equal(t, timeout, *got[0].Error)
}

func TestListPaginationAndSuccessRate(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 25; i++ {
		status := webhook.AttemptSucceeded
		if i%5 == 0 {
			status = webhook.AttemptRetrying
		}
		require.NoError(t, l.Append(ctx, attempt(fmt.Sprintf("d%02d", i), 1, status, base.Add(time.Duration(i)*time.Second))))
	}

	p, err := l.List(ctx, "tenant-a", "wh-1", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 25, p.Total)
	assert.Equal(t, 20, p.Limit)
	assert.Equal(t, 2, p.TotalPages)
	require.Len(t, p.Data, 20)
	assert.Equal(t, "d24", p.Data[0].DeliveryID, "newest first")
	require.NotNil(t, p.SuccessRate)
	assert.InDelta(t, 0.8, *p.SuccessRate, 1e-9)

	p, err = l.List(ctx, "tenant-a", "wh-1", 2, 20)
	require.NoError(t, err)
	require.Len(t, p.Data, 5)
	assert.Equal(t, "d04", p.Data[0].DeliveryID)

	p, err = l.List(ctx, "tenant-a", "wh-1", 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, MaxLimit, p.Limit)
	assert.Len(t, p.Data, 25)

	p, err = l.List(ctx, "tenant-b", "wh-1", 1, 20)
	require.NoError(t, err)
	assert.Zero(t, p.Total)
	assert.Empty(t, p.Data)
	assert.Nil(t, p.SuccessRate)
	assert.Zero(t, p.TotalPages)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	now := time.Now()

	require.NoError(t, l.Append(ctx, attempt("old", 1, webhook.AttemptSucceeded, now.Add(-31*24*time.Hour))))
	require.NoError(t, l.Append(ctx, attempt("new", 1, webhook.AttemptSucceeded, now)))

	n, err := l.Prune(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	p, err := l.List(ctx, "tenant-a", "wh-1", 1, 20)
	require.NoError(t, err)
	require.Len(t, p.Data, 1)
	assert.Equal(t, "new", p.Data[0].DeliveryID)
}
