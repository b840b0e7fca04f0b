package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webhook-relay/internal/domain"
	"github.com/kursadbilgin/webhook-relay/internal/repository"
	"go.uber.org/zap"
)

const secretByteLength = 32

// DeliveryExecutor drives one delivery to a terminal ledger state.
type DeliveryExecutor interface {
	Deliver(ctx context.Context, sub domain.Subscription, env domain.Envelope) (*domain.DeliveryAttempt, error)
	Redeliver(ctx context.Context, sub domain.Subscription, attempt *domain.DeliveryAttempt) (*domain.DeliveryAttempt, error)
}

// WebhookService owns subscription registration and the operator-facing
// delivery operations: test deliveries, ledger queries, and manual retries.
type WebhookService struct {
	subscriptions repository.SubscriptionRepository
	attempts      repository.AttemptRepository
	executor      DeliveryExecutor
	logger        *zap.Logger
	now           func() time.Time
	readSecret    func(b []byte) (int, error)
}

type RegisterInput struct {
	TargetURL   string
	Events      []string
	Secret      string
	Description string
}

// UpdateInput carries partial updates; nil fields are left untouched.
type UpdateInput struct {
	TargetURL   *string
	Events      []string
	Secret      *string
	Description *string
	Active      *bool
}

type DeliveryStats struct {
	ByStatus []repository.StatusCount
	ByEvent  []repository.EventCount
}

func NewWebhookService(
	subscriptions repository.SubscriptionRepository,
	attempts repository.AttemptRepository,
	executor DeliveryExecutor,
	logger *zap.Logger,
) (*WebhookService, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("delivery executor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookService{
		subscriptions: subscriptions,
		attempts:      attempts,
		executor:      executor,
		logger:        logger,
		now:           time.Now,
		readSecret:    rand.Read,
	}, nil
}

// Register creates a subscription. When no signing secret is supplied, a
// cryptographically random one is generated; either way the secret is only
// ever readable from the registration response.
func (s *WebhookService) Register(ctx context.Context, input RegisterInput) (*domain.Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	events, err := domain.ParseEventSet(input.Events)
	if err != nil {
		return nil, err
	}

	secret := strings.TrimSpace(input.Secret)
	if secret == "" {
		secret, err = s.generateSecret()
		if err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	subscription := &domain.Subscription{
		ID:          uuid.NewString(),
		TargetURL:   strings.TrimSpace(input.TargetURL),
		Events:      events,
		Secret:      secret,
		Description: strings.TrimSpace(input.Description),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := subscription.Validate(); err != nil {
		return nil, err
	}

	if err := s.subscriptions.Create(ctx, subscription); err != nil {
		return nil, err
	}

	s.logger.Info("subscription registered",
		zap.String("subscriptionId", subscription.ID),
		zap.String("targetUrl", subscription.TargetURL),
		zap.Strings("events", subscription.Events.Strings()),
	)
	return subscription, nil
}

func (s *WebhookService) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: subscription id is required", domain.ErrValidation)
	}
	return s.subscriptions.GetByID(ctx, strings.TrimSpace(id))
}

func (s *WebhookService) List(ctx context.Context) ([]domain.Subscription, error) {
	return s.subscriptions.List(ctx)
}

// Update applies a partial update. Re-activating a disabled subscription
// resets nothing else: the failure streak clears on the next success.
func (s *WebhookService) Update(ctx context.Context, id string, input UpdateInput) (*domain.Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: subscription id is required", domain.ErrValidation)
	}

	subscription, err := s.subscriptions.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	if input.TargetURL != nil {
		subscription.TargetURL = strings.TrimSpace(*input.TargetURL)
	}
	if input.Events != nil {
		events, err := domain.ParseEventSet(input.Events)
		if err != nil {
			return nil, err
		}
		subscription.Events = events
	}
	if input.Secret != nil {
		rotated := strings.TrimSpace(*input.Secret)
		if rotated == "" {
			return nil, fmt.Errorf("%w: secret must not be blank", domain.ErrValidation)
		}
		subscription.Secret = rotated
	}
	if input.Description != nil {
		subscription.Description = strings.TrimSpace(*input.Description)
	}
	if input.Active != nil {
		subscription.Active = *input.Active
	}
	subscription.UpdatedAt = s.now().UTC()

	if err := subscription.Validate(); err != nil {
		return nil, err
	}
	if err := s.subscriptions.Update(ctx, subscription); err != nil {
		return nil, err
	}

	return subscription, nil
}

func (s *WebhookService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: subscription id is required", domain.ErrValidation)
	}
	return s.subscriptions.Delete(ctx, strings.TrimSpace(id))
}

// SendTestDelivery fires a synthetic webhook.test event at one subscription,
// bypassing its event filter. The delivery goes through the full pipeline,
// so the result lands in the ledger and counts toward the failure streak.
func (s *WebhookService) SendTestDelivery(ctx context.Context, id string) (*domain.DeliveryAttempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	subscription, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	env := domain.NewEnvelope(domain.EventWebhookTest, map[string]any{
		"subscriptionId": subscription.ID,
		"message":        "test delivery",
	}, s.now())

	attempt, deliverErr := s.executor.Deliver(ctx, *subscription, env)
	if attempt == nil && deliverErr != nil {
		return nil, deliverErr
	}
	return attempt, nil
}

func (s *WebhookService) GetDelivery(ctx context.Context, id string) (*domain.DeliveryAttempt, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: delivery id is required", domain.ErrValidation)
	}
	return s.attempts.GetByID(ctx, strings.TrimSpace(id))
}

func (s *WebhookService) ListDeliveries(
	ctx context.Context,
	params repository.ListAttemptsParams,
) ([]domain.DeliveryAttempt, int64, error) {
	return s.attempts.List(ctx, params)
}

func (s *WebhookService) GetDeliveryStats(ctx context.Context, subscriptionID *string) (*DeliveryStats, error) {
	byStatus, err := s.attempts.CountByStatus(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	byEvent, err := s.attempts.CountByEvent(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return &DeliveryStats{ByStatus: byStatus, ByEvent: byEvent}, nil
}

// RetryDelivery re-runs a failed delivery against its stored payload. A
// successful delivery is never re-sent, and each ledger entry carries a
// manual retry budget separate from the automatic in-call attempts.
func (s *WebhookService) RetryDelivery(ctx context.Context, attemptID string) (*domain.DeliveryAttempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(attemptID) == "" {
		return nil, fmt.Errorf("%w: delivery id is required", domain.ErrValidation)
	}

	attempt, err := s.attempts.GetByID(ctx, strings.TrimSpace(attemptID))
	if err != nil {
		return nil, err
	}

	if attempt.Status == domain.DeliveryStatusSuccess {
		return nil, domain.ErrAlreadyDelivered
	}
	if attempt.RetryCount >= domain.MaxManualRetries {
		return nil, domain.ErrRetryLimit
	}

	subscription, err := s.subscriptions.GetByID(ctx, attempt.SubscriptionID)
	if err != nil {
		return nil, err
	}

	if err := s.attempts.IncrementRetryCount(ctx, attempt.ID); err != nil {
		return nil, fmt.Errorf("failed to increment retry count: %w", err)
	}

	s.logger.Info("manual redelivery requested",
		zap.String("attemptId", attempt.ID),
		zap.String("subscriptionId", subscription.ID),
		zap.Int("retryCount", attempt.RetryCount+1),
	)

	updated, deliverErr := s.executor.Redeliver(ctx, *subscription, attempt)
	if updated == nil && deliverErr != nil {
		return nil, deliverErr
	}
	return updated, nil
}

func (s *WebhookService) generateSecret() (string, error) {
	buf := make([]byte, secretByteLength)
	if _, err := s.readSecret(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
