package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// TaskDeliver is the asynq task type carrying an Event to the worker.
const TaskDeliver = "notify:deliver"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a topic keyed by aggregate.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a producer for the given brokers and topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Deliver writes one message.
func (s *KafkaSink) Deliver(ctx context.Context, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.Key),
		Value: value,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "event_id", Value: []byte(evt.ID)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notify: write to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSink hands events to the background worker for durable delivery.
type QueueSink struct {
	client enqueuer
	queue  string
}

// NewQueueSink wraps an asynq client.
func NewQueueSink(client *asynq.Client, queue string) *QueueSink {
	return &QueueSink{client: client, queue: queue}
}

func (s *QueueSink) Name() string { return "queue" }

// Deliver enqueues the event. The event id doubles as the task id so a
// retried enqueue cannot duplicate delivery.
func (s *QueueSink) Deliver(ctx context.Context, evt Event) error {
	task, err := NewDeliverTask(evt)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(evt.ID), asynq.MaxRetry(10)}
	if s.queue != "" {
		opts = append(opts, asynq.Queue(s.queue))
	}
	_, err = s.client.EnqueueContext(ctx, task, opts...)
	return err
}

// NewDeliverTask encodes an event as an asynq task.
func NewDeliverTask(evt Event) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliver, data), nil
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink builds a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, evt Event) error {
	s.logger.Info("event", slog.String("type", evt.Type), slog.String("key", evt.Key), slog.String("event_id", evt.ID))
	return nil
}

type auditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AuditSink persists events into the audit log.
type AuditSink struct {
	audit auditRecorder
}

// NewAuditSink builds an AuditSink.
func NewAuditSink(audit auditRecorder) *AuditSink {
	return &AuditSink{audit: audit}
}

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Deliver(ctx context.Context, evt Event) error {
	var meta map[string]any
	if err := json.Unmarshal(evt.Payload, &meta); err != nil {
		meta = map[string]any{"payload": string(evt.Payload)}
	}
	meta["event_id"] = evt.ID
	actorID, _ := meta["actor_id"].(float64)
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  int64(actorID),
		Action:   evt.Type,
		Entity:   "event",
		EntityID: evt.Key,
		Meta:     meta,
		At:       evt.OccurredAt,
	})
}

// Recorder keeps events in memory. Tests use it as a sink or as an Emitter.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Deliver(ctx context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.Err
}

// Emit satisfies Emitter directly.
func (r *Recorder) Emit(ctx context.Context, eventType, key string, payload any) {
	raw, _ := json.Marshal(payload)
	_ = r.Deliver(ctx, Event{Type: eventType, Key: key, OccurredAt: time.Now().UTC(), Payload: raw})
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters recorded events.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
