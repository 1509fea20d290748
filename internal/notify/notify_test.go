package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (e *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type fakeAudit struct {
	logs []shared.AuditLog
}

func (a *fakeAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestDispatcherSurvivesFailingSink(t *testing.T) {
	broken := &Recorder{Err: errors.New("down")}
	healthy := &Recorder{}
	d := NewDispatcher(nil, broken, healthy)

	d.Emit(context.Background(), EventOrderCreated, "order-1", map[string]any{"order_id": 1})

	require.Len(t, broken.Events(), 1)
	require.Len(t, healthy.Events(), 1)
	evt := healthy.Events()[0]
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, "order-1", evt.Key)
	var payload map[string]int
	require.NoError(t, evt.Decode(&payload))
	assert.Equal(t, 1, payload["order_id"])
}

func TestDispatcherIgnoresCancelledCaller(t *testing.T) {
	rec := &Recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewDispatcher(nil, rec).Emit(ctx, EventOrderCreated, "k", struct{}{})
	require.Len(t, rec.Events(), 1)
}

func TestKafkaSinkWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w}
	require.NoError(t, sink.Deliver(context.Background(), Event{ID: "e1", Type: EventTransferChanged, Key: "transfer-3"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "transfer-3", string(w.msgs[0].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)

	w.err = errors.New("leader not available")
	require.Error(t, sink.Deliver(context.Background(), Event{ID: "e2"}))
}

func TestQueueSinkEnqueuesDeliverTask(t *testing.T) {
	q := &fakeEnqueuer{}
	sink := &QueueSink{client: q, queue: "default"}
	require.NoError(t, sink.Deliver(context.Background(), Event{ID: "e1", Type: EventOrderCreated, Payload: []byte(`{}`)}))
	require.Len(t, q.tasks, 1)
	assert.Equal(t, TaskDeliver, q.tasks[0].Type())
}

func TestAuditSinkRecordsEvent(t *testing.T) {
	audit := &fakeAudit{}
	sink := NewAuditSink(audit)
	require.NoError(t, sink.Deliver(context.Background(), Event{ID: "e1", Type: EventOrderStatusChanged, Key: "order-5", Payload: []byte(`{"actor_id":9,"to":"CONFIRMED"}`)}))
	require.Len(t, audit.logs, 1)
	assert.Equal(t, int64(9), audit.logs[0].ActorID)
	assert.Equal(t, "order-5", audit.logs[0].EntityID)
	assert.Equal(t, "CONFIRMED", audit.logs[0].Meta["to"])
}
