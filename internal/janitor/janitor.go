// Package janitor recovers deliveries orphaned by a crash and prunes old
// delivery history.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/blazehooks/internal/metrics"
	"github.com/mattjoyce/blazehooks/internal/queue"
)

const recoveredError = "recovered after restart"

type Options struct {
	// Retention is how long attempt rows and finished jobs are kept.
	// Zero disables pruning.
	Retention     time.Duration
	PruneInterval time.Duration
}

// Janitor owns startup recovery and the periodic prune loop.
type Janitor struct {
	queue    QueueService
	attempts AttemptPruner
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(q QueueService, attempts AttemptPruner, opts Options, logger *slog.Logger) *Janitor {
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = time.Hour
	}
	return &Janitor{
		queue:    q,
		attempts: attempts,
		opts:     opts,
		logger:   logger.With("component", "janitor"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start recovers orphaned jobs and then runs the prune loop in the background.
// It must be called before delivery workers start claiming jobs.
func (j *Janitor) Start(ctx context.Context) error {
	if err := j.recoverOrphanedJobs(ctx); err != nil {
		return fmt.Errorf("janitor crash recovery failed: %w", err)
	}

	j.wg.Add(1)
	go j.loop(ctx)
	return nil
}

// Stop ends the prune loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()

	j.sweep(ctx)

	ticker := time.NewTicker(j.opts.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep(ctx)
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep prunes expired history and refreshes the queue depth gauge.
func (j *Janitor) sweep(ctx context.Context) {
	if depth, err := j.queue.Depth(ctx); err != nil {
		j.logger.Error("failed to read queue depth", "error", err)
	} else {
		metrics.QueueDepth.Set(float64(depth))
	}

	if j.opts.Retention <= 0 {
		return
	}
	cutoff := j.now().Add(-j.opts.Retention)

	attempts, err := j.attempts.Prune(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to prune delivery attempts", "error", err)
	}
	jobs, err := j.queue.PruneFinished(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to prune finished jobs", "error", err)
	}
	if attempts > 0 || jobs > 0 {
		j.logger.Info("pruned delivery history", "attempts", attempts, "jobs", jobs, "cutoff", cutoff)
	}
}

// recoverOrphanedJobs returns jobs left running by a dead process to the
// queue at the same attempt.
func (j *Janitor) recoverOrphanedJobs(ctx context.Context) error {
	running, err := j.queue.FindJobsByStatus(ctx, queue.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to find running jobs for recovery: %w", err)
	}
	if len(running) == 0 {
		j.logger.Debug("no orphaned jobs found")
		return nil
	}

	j.logger.Warn("found orphaned jobs, re-queueing", "count", len(running))
	for _, job := range running {
		if err := j.queue.RequeueForRecovery(ctx, job.ID, recoveredError); err != nil {
			j.logger.Error("failed to re-queue orphaned job", "delivery_id", job.ID, "error", err)
			continue
		}
		j.logger.Info("re-queued orphaned job",
			"delivery_id", job.ID,
			"webhook_id", job.WebhookID,
			"attempt", job.Attempt,
		)
	}
	return nil
}
