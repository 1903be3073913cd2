// Package jobs contains the worker's scheduled jobs.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alem-hub/alem-badges/internal/infrastructure/messaging"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDELIVER DEAD LETTERS JOB
// ══════════════════════════════════════════════════════════════════════════════

// Redeliverer is the part of messaging.Dispatcher the job needs.
type Redeliverer interface {
	DeadLetterQueue() *messaging.DeadLetterQueue
	Redeliver(entry messaging.DeadLetterEntry) error
}

// RedeliverStats summarizes one run.
type RedeliverStats struct {
	Attempted int
	Delivered int
	Failed    int
}

// RedeliverDeadLettersJob gives dead lettered badge events another try, for
// example once the audit database is reachable again.
type RedeliverDeadLettersJob struct {
	dispatcher Redeliverer
	batchSize  int
	logger     *slog.Logger

	lastRunStats atomic.Pointer[RedeliverStats]
}

// NewRedeliverDeadLettersJob creates the job. batchSize caps the entries
// handled per run; zero or less means the whole queue.
func NewRedeliverDeadLettersJob(dispatcher Redeliverer, batchSize int, logger *slog.Logger) *RedeliverDeadLettersJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedeliverDeadLettersJob{
		dispatcher: dispatcher,
		batchSize:  batchSize,
		logger:     logger.With("job", "redeliver_dead_letters"),
	}
}

// Name implements scheduler.Job.
func (j *RedeliverDeadLettersJob) Name() string {
	return "redeliver_dead_letters"
}

// Run implements scheduler.Job. Only entries queued before the run started
// are processed, so events that fail again wait for the next run.
func (j *RedeliverDeadLettersJob) Run(ctx context.Context) error {
	dlq := j.dispatcher.DeadLetterQueue()
	if dlq == nil {
		return nil
	}

	pending := dlq.Size()
	if j.batchSize > 0 && pending > j.batchSize {
		pending = j.batchSize
	}

	stats := &RedeliverStats{}
	for i := 0; i < pending; i++ {
		if ctx.Err() != nil {
			break
		}
		entry, ok := dlq.Pop()
		if !ok {
			break
		}

		stats.Attempted++
		if err := j.dispatcher.Redeliver(entry); err != nil {
			stats.Failed++
			j.logger.Warn("redelivery failed",
				"event_type", entry.Event.EventType(),
				"aggregate_id", entry.Event.AggregateID(),
				"handler", entry.HandlerName,
				"error", err,
			)
			continue
		}
		stats.Delivered++
	}

	j.lastRunStats.Store(stats)
	if stats.Attempted > 0 {
		j.logger.Info("dead letters redelivered",
			"attempted", stats.Attempted,
			"delivered", stats.Delivered,
			"failed", stats.Failed,
		)
	}

	if stats.Failed > 0 && stats.Delivered == 0 {
		return fmt.Errorf("all %d redeliveries failed", stats.Failed)
	}
	return nil
}

// LastRunStats returns the stats of the latest run, or nil before the first.
func (j *RedeliverDeadLettersJob) LastRunStats() *RedeliverStats {
	return j.lastRunStats.Load()
}
