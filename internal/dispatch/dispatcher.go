// Package dispatch fans a platform event out to every matching subscription.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/webhook-relay/internal/domain"
	"github.com/kursadbilgin/webhook-relay/internal/observability"
	"github.com/kursadbilgin/webhook-relay/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minDispatchConcurrency     = 1
	defaultDispatchConcurrency = 8
)

// Deliverer drives one subscription delivery to a terminal ledger state.
type Deliverer interface {
	Deliver(ctx context.Context, sub domain.Subscription, env domain.Envelope) (*domain.DeliveryAttempt, error)
}

type Dispatcher struct {
	subscriptions repository.SubscriptionRepository
	deliverer     Deliverer
	logger        *zap.Logger
	concurrency   int
	now           func() time.Time
}

func NewDispatcher(
	subscriptions repository.SubscriptionRepository,
	deliverer Deliverer,
	concurrency int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if concurrency < minDispatchConcurrency {
		concurrency = defaultDispatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		subscriptions: subscriptions,
		deliverer:     deliverer,
		logger:        logger,
		concurrency:   concurrency,
		now:           time.Now,
	}, nil
}

// TriggerEvent delivers the event to every active matching subscription.
// Each subscription gets its own ledger entry and its own outcome: one
// failing or slow subscriber never affects the others, and delivery
// failures are reported through the ledger, not to the caller. The only
// error paths out of here are an unknown event and a registry read failure.
func (d *Dispatcher) TriggerEvent(ctx context.Context, event domain.Event, data any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !event.IsValid() {
		return fmt.Errorf("%w: unknown event %q", domain.ErrValidation, string(event))
	}
	if event == domain.EventWildcard {
		return fmt.Errorf("%w: wildcard cannot be triggered as an event", domain.ErrValidation)
	}

	logger := observability.WithContextLogger(d.logger, ctx)

	subscriptions, err := d.subscriptions.ListActiveForEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions for event: %w", err)
	}

	if len(subscriptions) == 0 {
		logger.Debug("no active subscriptions for event",
			zap.String("event", event.String()),
		)
		return nil
	}

	env := domain.NewEnvelope(event, data, d.now())

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i := range subscriptions {
		sub := subscriptions[i]
		g.Go(func() error {
			attempt, deliverErr := d.deliverer.Deliver(groupCtx, sub, env)
			if deliverErr != nil {
				attemptID := ""
				if attempt != nil {
					attemptID = attempt.ID
				}
				logger.Warn("delivery failed",
					zap.String("event", event.String()),
					zap.String("subscriptionId", sub.ID),
					zap.String("attemptId", attemptID),
					zap.Error(deliverErr),
				)
			}
			return nil
		})
	}

	// Workers always return nil; Wait only collapses the group.
	_ = g.Wait()

	logger.Info("event dispatched",
		zap.String("event", event.String()),
		zap.Int("subscriptions", len(subscriptions)),
	)
	return nil
}
