package janitor

import (
	"context"
	"time"

	"github.com/mattjoyce/blazehooks/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_queue.go -package=mocks github.com/mattjoyce/blazehooks/internal/janitor QueueService,AttemptPruner

// QueueService defines the queue operations used by the janitor.
type QueueService interface {
	FindJobsByStatus(ctx context.Context, status queue.Status) ([]*queue.Job, error)
	RequeueForRecovery(ctx context.Context, jobID string, lastError string) error
	PruneFinished(ctx context.Context, cutoff time.Time) (int64, error)
	Depth(ctx context.Context) (int, error)
}

// AttemptPruner deletes old attempt log rows.
type AttemptPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
