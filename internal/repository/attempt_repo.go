package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/webhook-relay/internal/domain"
	"gorm.io/gorm"
)

type ListAttemptsParams struct {
	SubscriptionID *string
	Status         *domain.DeliveryStatus
	Event          *domain.Event
	From           *time.Time
	To             *time.Time
	Page           int
	PageSize       int
}

// StatusCount and EventCount back the admin statistics queries.
type StatusCount struct {
	Status domain.DeliveryStatus `gorm:"column:status"`
	Count  int                   `gorm:"column:count"`
}

type EventCount struct {
	Event domain.Event `gorm:"column:event"`
	Count int          `gorm:"column:count"`
}

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.DeliveryAttempt) error
	GetByID(ctx context.Context, id string) (*domain.DeliveryAttempt, error)
	List(ctx context.Context, params ListAttemptsParams) ([]domain.DeliveryAttempt, int64, error)
	MarkSuccess(ctx context.Context, id string, responseCode int, responseBody string, deliveredAt time.Time) error
	MarkFailed(ctx context.Context, id string, errText string) error
	IncrementRetryCount(ctx context.Context, id string) error
	CountByStatus(ctx context.Context, subscriptionID *string) ([]StatusCount, error)
	CountByEvent(ctx context.Context, subscriptionID *string) ([]EventCount, error)
	MarkStalePendingFailed(ctx context.Context, olderThan time.Time, errText string) (int64, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryAttempt, error) {
	var model DeliveryAttemptModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

func (r *GormAttemptRepo) List(ctx context.Context, params ListAttemptsParams) ([]domain.DeliveryAttempt, int64, error) {
	query := r.db.WithContext(ctx).Model(&DeliveryAttemptModel{})

	if params.SubscriptionID != nil {
		query = query.Where("subscription_id = ?", *params.SubscriptionID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Event != nil {
		query = query.Where("event = ?", *params.Event)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []DeliveryAttemptModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	attempts := make([]domain.DeliveryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}
	return attempts, total, nil
}

func (r *GormAttemptRepo) MarkSuccess(
	ctx context.Context,
	id string,
	responseCode int,
	responseBody string,
	deliveredAt time.Time,
) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryAttemptModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.DeliveryStatusSuccess,
			"response_code": responseCode,
			"response_body": responseBody,
			"error":         nil,
			"delivered_at":  deliveredAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed never regresses a SUCCESS attempt: the ledger is append-only
// evidence and a completed delivery stays completed.
func (r *GormAttemptRepo) MarkFailed(ctx context.Context, id string, errText string) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryAttemptModel{}).
		Where("id = ? AND status <> ?", id, domain.DeliveryStatusSuccess).
		Updates(map[string]any{
			"status": domain.DeliveryStatusFailed,
			"error":  errText,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormAttemptRepo) IncrementRetryCount(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryAttemptModel{}).
		Where("id = ?", id).
		Update("retry_count", gorm.Expr("retry_count + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormAttemptRepo) CountByStatus(ctx context.Context, subscriptionID *string) ([]StatusCount, error) {
	query := r.db.WithContext(ctx).
		Model(&DeliveryAttemptModel{}).
		Select("status, COUNT(*) AS count").
		Group("status")
	if subscriptionID != nil {
		query = query.Where("subscription_id = ?", *subscriptionID)
	}

	var counts []StatusCount
	if err := query.Scan(&counts).Error; err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *GormAttemptRepo) CountByEvent(ctx context.Context, subscriptionID *string) ([]EventCount, error) {
	query := r.db.WithContext(ctx).
		Model(&DeliveryAttemptModel{}).
		Select("event, COUNT(*) AS count").
		Group("event")
	if subscriptionID != nil {
		query = query.Where("subscription_id = ?", *subscriptionID)
	}

	var counts []EventCount
	if err := query.Scan(&counts).Error; err != nil {
		return nil, err
	}
	return counts, nil
}

// MarkStalePendingFailed fails PENDING attempts abandoned by a crashed
// process so the ledger cannot hold eternally-pending rows.
func (r *GormAttemptRepo) MarkStalePendingFailed(ctx context.Context, olderThan time.Time, errText string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryAttemptModel{}).
		Where("status = ? AND created_at < ?", domain.DeliveryStatusPending, olderThan).
		Updates(map[string]any{
			"status": domain.DeliveryStatusFailed,
			"error":  errText,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
