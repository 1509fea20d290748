package replenishment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fulfillment/jobs"
)

// SnapshotJob processes queued replenishment runs.
type SnapshotJob struct {
	run    TriggerFunc
	logger *slog.Logger
}

// NewSnapshotJob constructs a job handler around run, usually
// Scheduler.RunNow.
func NewSnapshotJob(run TriggerFunc, logger *slog.Logger) *SnapshotJob {
	return &SnapshotJob{run: run, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *SnapshotJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.ReplenishmentPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	trigger := Trigger(payload.Trigger)
	if trigger == "" {
		trigger = TriggerQueued
	}
	snap, err := j.run(ctx, trigger)
	if errors.Is(err, ErrRunInProgress) {
		j.logger.Info("replenishment task skipped, run in progress", slog.String("trigger", string(trigger)))
		return nil
	}
	if err != nil {
		j.logger.Error("replenishment task", slog.String("trigger", string(trigger)), slog.Any("error", err))
		return err
	}
	j.logger.Info("replenishment task done",
		slog.String("date", snap.Date),
		slog.Int("recommendations", snap.Summary.Total),
		slog.Int64("requested_by", payload.RequestedBy))
	return nil
}
