package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fulfillment/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotify carries outbound notification deliveries.
	QueueNotify = "notify"
	// TaskReplenishmentSnapshot runs the replenishment analysis.
	TaskReplenishmentSnapshot = "replenishment:snapshot"
	// TaskIdempotencyCleanup prunes processed webhook keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ReplenishmentPayload describes a queued snapshot run.
type ReplenishmentPayload struct {
	Trigger     string `json:"trigger"`
	RequestedBy int64  `json:"requested_by,omitempty"`
}

// NewReplenishmentSnapshotTask constructs an Asynq task.
func NewReplenishmentSnapshotTask(payload ReplenishmentPayload) (*asynq.Task, error) {
	if payload.Trigger == "" {
		payload.Trigger = "queued"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReplenishmentSnapshot, data, asynq.Queue(QueueDefault), asynq.MaxRetry(2)), nil
}

// NewDeliverHandler hands queued notification events to sink.
func NewDeliverHandler(sink notify.Sink, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var evt notify.Event
		if err := json.Unmarshal(t.Payload(), &evt); err != nil {
			return fmt.Errorf("decode event: %v: %w", err, asynq.SkipRetry)
		}
		if err := sink.Deliver(ctx, evt); err != nil {
			logger.Warn("notification delivery failed",
				slog.String("sink", sink.Name()),
				slog.String("event_id", evt.ID),
				slog.String("type", evt.Type),
				slog.Any("error", err))
			return err
		}
		return nil
	}
}

// IdempotencyCleaner prunes stored idempotency keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewIdempotencyCleanupTask constructs the periodic cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// NewIdempotencyCleanupHandler removes keys older than retention.
func NewIdempotencyCleanupHandler(store IdempotencyCleaner, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := store.Cleanup(ctx, retention); err != nil {
			return fmt.Errorf("idempotency cleanup: %w", err)
		}
		logger.Debug("idempotency keys pruned", slog.Duration("retention", retention))
		return nil
	}
}
