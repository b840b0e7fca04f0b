// Package health tracks per-subscription failure streaks and deactivates
// chronically failing subscriptions.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/webhook-relay/internal/domain"
	"github.com/kursadbilgin/webhook-relay/internal/observability"
	"github.com/kursadbilgin/webhook-relay/internal/repository"
	"go.uber.org/zap"
)

// Governor applies the auto-disable policy after every delivery outcome.
// Streak mutations happen as single atomic updates in the repository, so
// overlapping deliveries to one subscription cannot lose increments.
type Governor struct {
	subscriptions repository.SubscriptionRepository
	logger        *zap.Logger
	metrics       *observability.Metrics
	threshold     int
	now           func() time.Time
}

func NewGovernor(subscriptions repository.SubscriptionRepository, logger *zap.Logger) (*Governor, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Governor{
		subscriptions: subscriptions,
		logger:        logger,
		threshold:     domain.MaxFailureStreak,
		now:           time.Now,
	}, nil
}

func (g *Governor) SetMetrics(metrics *observability.Metrics) {
	if g == nil {
		return
	}
	g.metrics = metrics
}

// RecordOutcome updates subscription health after a terminal delivery
// outcome. Success resets the failure streak; failure increments it and
// deactivates the subscription at the threshold. Reactivation is always an
// explicit operator action.
func (g *Governor) RecordOutcome(ctx context.Context, subscriptionID string, success bool, errText string) error {
	if strings.TrimSpace(subscriptionID) == "" {
		return fmt.Errorf("%w: subscription id is required", domain.ErrValidation)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	at := g.now().UTC()

	if success {
		return g.subscriptions.RecordSuccess(ctx, subscriptionID, at)
	}

	outcome, err := g.subscriptions.RecordFailure(ctx, subscriptionID, errText, at, g.threshold)
	if err != nil {
		return err
	}

	if !outcome.Active {
		g.logger.Warn("subscription auto-disabled after consecutive failures",
			zap.String("subscriptionId", subscriptionID),
			zap.Int("failureStreak", outcome.FailureStreak),
		)
		if g.metrics != nil && outcome.FailureStreak == g.threshold {
			g.metrics.IncSubscriptionDisabled()
		}
	}

	return nil
}
