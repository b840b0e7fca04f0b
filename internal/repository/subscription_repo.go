package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/webhook-relay/internal/domain"
	"gorm.io/gorm"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, s *domain.Subscription) error
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	List(ctx context.Context) ([]domain.Subscription, error)
	Update(ctx context.Context, s *domain.Subscription) error
	Delete(ctx context.Context, id string) error
	ListActiveForEvent(ctx context.Context, event domain.Event) ([]domain.Subscription, error)
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string, errText string, at time.Time, threshold int) (*FailureOutcome, error)
}

// FailureOutcome reports the subscription health state after an atomic
// failure-streak increment.
type FailureOutcome struct {
	FailureStreak int  `gorm:"column:failure_streak"`
	Active        bool `gorm:"column:active"`
}

type GormSubscriptionRepo struct {
	db *gorm.DB
}

func NewGormSubscriptionRepo(db *gorm.DB) *GormSubscriptionRepo {
	return &GormSubscriptionRepo{db: db}
}

func (r *GormSubscriptionRepo) Create(ctx context.Context, s *domain.Subscription) error {
	model := subscriptionModelFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if s != nil {
		*s = *subscriptionModelToDomain(model)
	}
	return nil
}

func (r *GormSubscriptionRepo) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	var model SubscriptionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return subscriptionModelToDomain(&model), nil
}

func (r *GormSubscriptionRepo) List(ctx context.Context) ([]domain.Subscription, error) {
	var models []SubscriptionModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	subscriptions := make([]domain.Subscription, 0, len(models))
	for i := range models {
		subscriptions = append(subscriptions, *subscriptionModelToDomain(&models[i]))
	}
	return subscriptions, nil
}

// Update persists the operator-mutable columns only. Health columns
// (failure_streak, last_triggered_at, last_error) are owned by
// RecordSuccess/RecordFailure and never written here.
func (r *GormSubscriptionRepo) Update(ctx context.Context, s *domain.Subscription) error {
	model := subscriptionModelFromDomain(s)
	if model == nil {
		return fmt.Errorf("%w: subscription is required", domain.ErrValidation)
	}

	result := r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("id = ?", model.ID).
		Select("target_url", "events", "secret", "description", "active", "updated_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSubscriptionRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&SubscriptionModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSubscriptionRepo) ListActiveForEvent(ctx context.Context, event domain.Event) ([]domain.Subscription, error) {
	var models []SubscriptionModel
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("events @> ? OR events @> ?", jsonbArrayElement(event), jsonbArrayElement(domain.EventWildcard)).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	subscriptions := make([]domain.Subscription, 0, len(models))
	for i := range models {
		subscriptions = append(subscriptions, *subscriptionModelToDomain(&models[i]))
	}
	return subscriptions, nil
}

func (r *GormSubscriptionRepo) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failure_streak":    0,
			"last_triggered_at": at,
			"last_error":        nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordFailure bumps the failure streak and flips active off at the
// threshold in a single UPDATE, so concurrent deliveries to the same
// subscription cannot lose increments to a read-modify-write race.
func (r *GormSubscriptionRepo) RecordFailure(
	ctx context.Context,
	id string,
	errText string,
	at time.Time,
	threshold int,
) (*FailureOutcome, error) {
	var outcome FailureOutcome
	err := r.db.WithContext(ctx).Raw(`
		UPDATE subscriptions
		SET failure_streak = failure_streak + 1,
		    last_error = ?,
		    last_triggered_at = ?,
		    active = CASE WHEN failure_streak + 1 >= ? THEN FALSE ELSE active END,
		    updated_at = ?
		WHERE id = ?
		RETURNING failure_streak, active`,
		errText, at, threshold, at, id,
	).Scan(&outcome).Error
	if err != nil {
		return nil, err
	}
	if outcome.FailureStreak == 0 {
		return nil, domain.ErrNotFound
	}
	return &outcome, nil
}

func jsonbArrayElement(event domain.Event) string {
	return fmt.Sprintf(`[%q]`, event.String())
}
