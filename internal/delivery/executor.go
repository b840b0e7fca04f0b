package delivery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/webhook-relay/internal/domain"
	"github.com/kursadbilgin/webhook-relay/internal/observability"
	"github.com/kursadbilgin/webhook-relay/internal/ratelimit"
	"github.com/kursadbilgin/webhook-relay/internal/repository"
	"github.com/kursadbilgin/webhook-relay/internal/signature"
	"go.uber.org/zap"
)

const (
	// UserAgent identifies this service on every outbound delivery.
	UserAgent = "webhook-relay/1.0"

	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

const (
	defaultDeliveryTimeout = 5 * time.Second

	// maxAutoAttempts is the automatic per-trigger budget. The manual
	// redelivery cap lives in domain.MaxManualRetries; the two are
	// independent.
	maxAutoAttempts = 3

	baseRetryDelay       = time.Second
	maxRetryDelay        = 30 * time.Second
	maxRetryJitterMillis = 250
)

// HealthRecorder receives the terminal outcome of every delivery.
type HealthRecorder interface {
	RecordOutcome(ctx context.Context, subscriptionID string, success bool, errText string) error
}

type deliveryResult struct {
	StatusCode int
	Body       string
}

// Executor performs one signed HTTP delivery per trigger, folding automatic
// retries into a single ledger record.
type Executor struct {
	client   *resty.Client
	attempts repository.AttemptRepository
	health   HealthRecorder
	limiter  ratelimit.RateLimiter
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	randIntn func(n int) int
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewExecutor(
	attempts repository.AttemptRepository,
	health HealthRecorder,
	timeout time.Duration,
	logger *zap.Logger,
) (*Executor, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if health == nil {
		return nil, fmt.Errorf("health recorder is required")
	}
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return &Executor{
		client:   client,
		attempts: attempts,
		health:   health,
		logger:   logger,
		now:      time.Now,
		randIntn: rand.Intn,
		sleep:    sleepWithContext,
	}, nil
}

func (e *Executor) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

func (e *Executor) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if e == nil {
		return
	}
	e.limiter = limiter
}

// Deliver serializes and signs the envelope, creates a PENDING ledger entry,
// and drives it to a terminal state. The returned attempt reflects that
// terminal state; a delivery failure is reported through the attempt and the
// error, never by skipping the ledger.
func (e *Executor) Deliver(ctx context.Context, sub domain.Subscription, env domain.Envelope) (*domain.DeliveryAttempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := env.Marshal()
	if err != nil {
		return nil, err
	}

	attempt := &domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		Event:          env.Event,
		Payload:        string(payload),
		Status:         domain.DeliveryStatusPending,
		CreatedAt:      e.now().UTC(),
	}
	if err := e.attempts.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create ledger entry: %w", err)
	}

	deliverErr := e.run(ctx, sub, attempt.ID, payload, env.Event, env.Timestamp)

	updated, err := e.attempts.GetByID(ctx, attempt.ID)
	if err != nil {
		return attempt, deliverErr
	}
	return updated, deliverErr
}

// Redeliver re-runs the delivery mechanics against the stored envelope of an
// existing ledger entry, mutating the same record toward SUCCESS.
func (e *Executor) Redeliver(ctx context.Context, sub domain.Subscription, attempt *domain.DeliveryAttempt) (*domain.DeliveryAttempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if attempt == nil {
		return nil, fmt.Errorf("%w: delivery attempt is required", domain.ErrValidation)
	}

	env, err := domain.ParseEnvelope([]byte(attempt.Payload))
	if err != nil {
		return nil, err
	}

	deliverErr := e.run(ctx, sub, attempt.ID, []byte(attempt.Payload), env.Event, env.Timestamp)

	updated, err := e.attempts.GetByID(ctx, attempt.ID)
	if err != nil {
		return attempt, deliverErr
	}
	return updated, deliverErr
}

func (e *Executor) run(
	ctx context.Context,
	sub domain.Subscription,
	attemptID string,
	payload []byte,
	event domain.Event,
	timestamp string,
) error {
	if err := validTarget(sub.TargetURL); err != nil {
		return e.finishFailure(ctx, sub, attemptID, event, err)
	}

	sig := signature.Sign(payload, sub.Secret)

	var lastErr error
	for n := 1; n <= maxAutoAttempts; n++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, sub.ID); err != nil {
				// Limiter failures are our infrastructure, not the
				// subscriber's. The ledger row still terminates, but the
				// outcome must not count against the failure streak.
				return e.abortDelivery(ctx, attemptID, event, fmt.Errorf("rate limiter wait failed: %w", err))
			}
		}

		if e.metrics != nil {
			e.metrics.IncDeliveryInFlight(event.String())
		}
		start := e.now()
		result, err := e.post(ctx, sub.TargetURL, payload, sig, event, timestamp)
		if e.metrics != nil {
			e.metrics.ObserveDeliveryDuration(event.String(), e.now().Sub(start))
			e.metrics.DecDeliveryInFlight(event.String())
		}

		if err == nil {
			return e.finishSuccess(ctx, sub, attemptID, event, result)
		}

		lastErr = err
		if !IsTransient(err) || n == maxAutoAttempts {
			break
		}

		if e.metrics != nil {
			e.metrics.IncDeliveryRetried(event.String())
		}
		if err := e.sleep(ctx, e.retryDelay(n)); err != nil {
			break
		}
	}

	return e.finishFailure(ctx, sub, attemptID, event, lastErr)
}

// abortDelivery terminates the ledger row on an executor-side fault. The
// health governor is not told: the subscriber never answered, so the
// failure streak stays untouched.
func (e *Executor) abortDelivery(
	ctx context.Context,
	attemptID string,
	event domain.Event,
	abortErr error,
) error {
	logger := observability.WithContextLogger(e.logger, ctx)

	if err := e.attempts.MarkFailed(ctx, attemptID, abortErr.Error()); err != nil {
		logger.Error("failed to mark ledger entry failed",
			zap.String("attemptId", attemptID),
			zap.Error(err),
		)
	}

	logger.Warn("delivery aborted by executor fault",
		zap.String("attemptId", attemptID),
		zap.String("event", event.String()),
		zap.Error(abortErr),
	)

	if e.metrics != nil {
		e.metrics.IncDeliveryFailed(event.String(), "executor_error")
	}
	return abortErr
}

func (e *Executor) finishSuccess(
	ctx context.Context,
	sub domain.Subscription,
	attemptID string,
	event domain.Event,
	result *deliveryResult,
) error {
	deliveredAt := e.now().UTC()
	body := truncateBody(result.Body)

	if err := e.attempts.MarkSuccess(ctx, attemptID, result.StatusCode, body, deliveredAt); err != nil {
		return fmt.Errorf("failed to mark ledger entry successful: %w", err)
	}

	if err := e.health.RecordOutcome(ctx, sub.ID, true, ""); err != nil {
		observability.WithContextLogger(e.logger, ctx).Error("failed to record successful outcome",
			zap.String("subscriptionId", sub.ID),
			zap.Error(err),
		)
	}

	if e.metrics != nil {
		e.metrics.IncDeliverySent(event.String())
	}
	return nil
}

func (e *Executor) finishFailure(
	ctx context.Context,
	sub domain.Subscription,
	attemptID string,
	event domain.Event,
	lastErr error,
) error {
	errText := "delivery failed"
	if lastErr != nil {
		errText = lastErr.Error()
	}

	logger := observability.WithContextLogger(e.logger, ctx)

	if err := e.attempts.MarkFailed(ctx, attemptID, errText); err != nil {
		logger.Error("failed to mark ledger entry failed",
			zap.String("attemptId", attemptID),
			zap.Error(err),
		)
	}

	if err := e.health.RecordOutcome(ctx, sub.ID, false, errText); err != nil {
		logger.Error("failed to record failed outcome",
			zap.String("subscriptionId", sub.ID),
			zap.Error(err),
		)
	}

	if e.metrics != nil {
		reason := "permanent_error"
		if IsTransient(lastErr) {
			reason = "retry_exhausted"
		}
		e.metrics.IncDeliveryFailed(event.String(), reason)
	}
	return lastErr
}

func (e *Executor) post(
	ctx context.Context,
	target string,
	payload []byte,
	sig string,
	event domain.Event,
	timestamp string,
) (*deliveryResult, error) {
	response, err := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", UserAgent).
		SetHeader(HeaderSignature, sig).
		SetHeader(HeaderEvent, event.String()).
		SetHeader(HeaderTimestamp, timestamp).
		SetBody(payload).
		Post(target)
	if err != nil {
		return nil, &DeliveryError{
			Message:   "delivery request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &DeliveryError{
			Message:   "subscriber returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &deliveryResult{
			StatusCode: statusCode,
			Body:       responseBody,
		}, nil
	}

	return nil, &DeliveryError{
		StatusCode: statusCode,
		Message:    subscriberErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func (e *Executor) retryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if e.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = e.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func validTarget(target string) error {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return &DeliveryError{Message: "target url is required", Transient: false}
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return &DeliveryError{Message: "malformed target url", Transient: false, Cause: err}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &DeliveryError{Message: fmt.Sprintf("unsupported target scheme %q", parsed.Scheme), Transient: false}
	}
	return nil
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func subscriberErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("subscriber returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, truncateBody(body))
}

func truncateBody(body string) string {
	if len(body) <= domain.MaxResponseBodyBytes {
		return body
	}
	return body[:domain.MaxResponseBodyBytes]
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
