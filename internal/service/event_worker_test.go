package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/kursadbilgin/webhook-relay/internal/domain"
	"github.com/kursadbilgin/webhook-relay/internal/observability"
	"github.com/kursadbilgin/webhook-relay/internal/queue"
	"go.uber.org/zap"
)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn == nil {
		return errors.New("unexpected Consume call")
	}
	return f.consumeFn(ctx, queueName, handler)
}

func (f *fakeConsumer) Close() error { return nil }

type fakeTrigger struct {
	triggerFn func(ctx context.Context, event domain.Event, data any) error
}

func (f *fakeTrigger) TriggerEvent(ctx context.Context, event domain.Event, data any) error {
	if f.triggerFn == nil {
		return errors.New("unexpected TriggerEvent call")
	}
	return f.triggerFn(ctx, event, data)
}

func TestEventWorkerProcessMessageTriggersDispatch(t *testing.T) {
	t.Parallel()

	var gotEvent domain.Event
	var gotData any
	trigger := &fakeTrigger{
		triggerFn: func(_ context.Context, event domain.Event, data any) error {
			gotEvent = event
			gotData = data
			return nil
		},
	}

	worker, err := NewEventWorker(&fakeConsumer{}, trigger, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventWorker() error = %v", err)
	}

	msg := queue.EventMessage{
		Event: "vehicle.sold",
		Data:  json.RawMessage(`{"vehicleId":"v-9","price":42000}`),
	}
	if err := worker.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if gotEvent != domain.EventVehicleSold {
		t.Fatalf("event = %q, want vehicle.sold", gotEvent)
	}
	payload, ok := gotData.(map[string]any)
	if !ok {
		t.Fatalf("data type = %T, want map", gotData)
	}
	if payload["vehicleId"] != "v-9" {
		t.Fatalf("vehicleId = %v", payload["vehicleId"])
	}
}

func TestEventWorkerDropsUnknownEvent(t *testing.T) {
	t.Parallel()

	worker, err := NewEventWorker(&fakeConsumer{}, &fakeTrigger{}, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventWorker() error = %v", err)
	}

	msg := queue.EventMessage{Event: "vehicle.exploded"}
	if err := worker.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("expected unknown event to be dropped, got %v", err)
	}
}

func TestEventWorkerDropsInvalidData(t *testing.T) {
	t.Parallel()

	worker, err := NewEventWorker(&fakeConsumer{}, &fakeTrigger{}, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventWorker() error = %v", err)
	}

	msg := queue.EventMessage{
		Event: "vehicle.sold",
		Data:  json.RawMessage(`{not json`),
	}
	if err := worker.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("expected invalid data to be dropped, got %v", err)
	}
}

func TestEventWorkerRequeuesOnDispatchError(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{
		triggerFn: func(context.Context, domain.Event, any) error {
			return errors.New("db unavailable")
		},
	}

	worker, err := NewEventWorker(&fakeConsumer{}, trigger, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventWorker() error = %v", err)
	}

	msg := queue.EventMessage{Event: "vehicle.sold"}
	if err := worker.processMessage(context.Background(), msg); err == nil {
		t.Fatal("expected error so the message gets requeued")
	}
}

func TestEventWorkerStartConsumesEventsQueue(t *testing.T) {
	t.Parallel()

	consumed := make(chan string, 4)
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			consumed <- queueName
			<-ctx.Done()
			return nil
		},
	}

	worker, err := NewEventWorker(consumer, &fakeTrigger{}, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventWorker() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()

	for i := 0; i < 2; i++ {
		if name := <-consumed; name != queue.EventsQueueName {
			t.Errorf("consumed queue = %q, want %q", name, queue.EventsQueueName)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func TestEventWorkerThreadsCorrelationID(t *testing.T) {
	t.Parallel()

	var gotCtx context.Context
	trigger := &fakeTrigger{
		triggerFn: func(ctx context.Context, _ domain.Event, _ any) error {
			gotCtx = ctx
			return nil
		},
	}

	worker, err := NewEventWorker(&fakeConsumer{}, trigger, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventWorker() error = %v", err)
	}

	msg := queue.EventMessage{
		Event:         "payment.completed",
		CorrelationID: " order-7781 ",
	}
	if err := worker.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	cid, ok := observability.CorrelationIDFromContext(gotCtx)
	if !ok {
		t.Fatal("expected correlation id threaded into dispatch context")
	}
	if cid != "order-7781" {
		t.Fatalf("correlation id = %q, want order-7781", cid)
	}
}
