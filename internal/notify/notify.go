// Package notify fans domain events out to side-channel sinks. Emission is fire
// and forget: sink failures are logged and never reach the caller.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the fulfillment core.
const (
	EventOrderCreated          = "order.created"
	EventOrderStatusChanged    = "order.status_changed"
	EventOrderBranchAssigned   = "order.branch_assigned"
	EventTransferChanged       = "transfer.status_changed"
	EventPhysicalMismatch      = "inventory.physical_mismatch"
	EventReplenishmentCritical = "replenishment.critical"
)

// Event is the envelope handed to sinks.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Sink delivers events somewhere.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt Event) error
}

// Emitter is what domain services depend on.
type Emitter interface {
	Emit(ctx context.Context, eventType, key string, payload any)
}

// Dispatcher delivers each event to every sink.
type Dispatcher struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewDispatcher builds a Dispatcher over the given sinks.
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:   sinks,
		logger:  logger,
		timeout: 5 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Emit builds the envelope and hands it to each sink. The caller's transaction
// has already committed; nothing here can undo it.
func (d *Dispatcher) Emit(ctx context.Context, eventType, key string, payload any) {
	if d == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("notify: encode payload", slog.String("type", eventType), slog.Any("error", err))
		return
	}
	evt := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		OccurredAt: d.now(),
		Payload:    raw,
	}
	// Detach from request cancellation so a closed client does not drop events.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, evt); err != nil {
			d.logger.Warn("notify: sink failed",
				slog.String("sink", sink.Name()),
				slog.String("type", evt.Type),
				slog.String("event_id", evt.ID),
				slog.Any("error", err))
		}
	}
}

// Decode unmarshals an event payload.
func (e Event) Decode(dest any) error {
	return json.Unmarshal(e.Payload, dest)
}
