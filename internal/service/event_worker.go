package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/webhook-relay/internal/domain"
	"github.com/kursadbilgin/webhook-relay/internal/observability"
	"github.com/kursadbilgin/webhook-relay/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// EventTrigger fans one platform event out to matching subscriptions.
type EventTrigger interface {
	TriggerEvent(ctx context.Context, event domain.Event, data any) error
}

// EventWorker bridges the broker to the dispatcher: it consumes platform
// events from the bus and triggers webhook fan-out for each.
type EventWorker struct {
	consumer    queue.Consumer
	dispatcher  EventTrigger
	logger      *zap.Logger
	concurrency int
}

func NewEventWorker(
	consumer queue.Consumer,
	dispatcher EventTrigger,
	concurrency int,
	logger *zap.Logger,
) (*EventWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventWorker{
		consumer:    consumer,
		dispatcher:  dispatcher,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the events queue until context cancellation.
func (w *EventWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("event worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.EventsQueueName),
			)

			err := w.consumer.Consume(groupCtx, queue.EventsQueueName, w.processMessage)
			if err != nil {
				w.logger.Error("event worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("event worker stopped",
				zap.Int("workerId", workerID),
			)
			return nil
		})
	}

	return g.Wait()
}

func (w *EventWorker) processMessage(ctx context.Context, msg queue.EventMessage) error {
	if cid := strings.TrimSpace(msg.CorrelationID); cid != "" {
		ctx = observability.WithCorrelationID(ctx, cid)
	}

	event, err := domain.ParseEventFromString(msg.Event)
	if err != nil {
		// Validation runs before the handler; an invalid event here means
		// the taxonomy changed underneath a queued message. Drop it.
		w.logger.Warn("dropping message with unknown event",
			zap.String("event", msg.Event),
			zap.String("correlationId", msg.CorrelationID),
		)
		return nil
	}

	var data any
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			w.logger.Warn("dropping message with invalid data payload",
				zap.String("event", msg.Event),
				zap.Error(err),
			)
			return nil
		}
	}

	if err := w.dispatcher.TriggerEvent(ctx, event, data); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			w.logger.Warn("dropping undeliverable event",
				zap.String("event", msg.Event),
				zap.Error(err),
			)
			return nil
		}
		return fmt.Errorf("failed to dispatch event: %w", err)
	}

	return nil
}
