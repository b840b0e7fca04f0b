package repository

import (
	"time"

	"github.com/kursadbilgin/webhook-relay/internal/domain"
)

// SubscriptionModel is the persistence model for the subscriptions table.
type SubscriptionModel struct {
	ID              string          `gorm:"type:uuid;primaryKey"`
	TargetURL       string          `gorm:"type:text;not null"`
	Events          domain.EventSet `gorm:"type:jsonb;serializer:json;not null"`
	Secret          string          `gorm:"type:varchar(128);not null"`
	Description     string          `gorm:"type:text"`
	Active          bool            `gorm:"not null;default:true"`
	FailureStreak   int             `gorm:"not null;default:0"`
	LastTriggeredAt *time.Time      `gorm:"type:timestamptz"`
	LastError       *string         `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	SubscriptionID string                `gorm:"type:uuid;not null"`
	Event          domain.Event          `gorm:"type:varchar(64);not null"`
	Payload        string                `gorm:"type:text;not null"`
	Status         domain.DeliveryStatus `gorm:"type:varchar(20);not null"`
	ResponseCode   *int                  `gorm:"type:int"`
	ResponseBody   *string               `gorm:"type:text"`
	Error          *string               `gorm:"type:text"`
	RetryCount     int                   `gorm:"not null;default:0"`
	CreatedAt      time.Time
	DeliveredAt    *time.Time `gorm:"type:timestamptz"`
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

func subscriptionModelFromDomain(s *domain.Subscription) *SubscriptionModel {
	if s == nil {
		return nil
	}

	return &SubscriptionModel{
		ID:              s.ID,
		TargetURL:       s.TargetURL,
		Events:          s.Events,
		Secret:          s.Secret,
		Description:     s.Description,
		Active:          s.Active,
		FailureStreak:   s.FailureStreak,
		LastTriggeredAt: s.LastTriggeredAt,
		LastError:       s.LastError,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func subscriptionModelToDomain(m *SubscriptionModel) *domain.Subscription {
	if m == nil {
		return nil
	}

	return &domain.Subscription{
		ID:              m.ID,
		TargetURL:       m.TargetURL,
		Events:          m.Events,
		Secret:          m.Secret,
		Description:     m.Description,
		Active:          m.Active,
		FailureStreak:   m.FailureStreak,
		LastTriggeredAt: m.LastTriggeredAt,
		LastError:       m.LastError,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:             a.ID,
		SubscriptionID: a.SubscriptionID,
		Event:          a.Event,
		Payload:        a.Payload,
		Status:         a.Status,
		ResponseCode:   a.ResponseCode,
		ResponseBody:   a.ResponseBody,
		Error:          a.Error,
		RetryCount:     a.RetryCount,
		CreatedAt:      a.CreatedAt,
		DeliveredAt:    a.DeliveredAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:             m.ID,
		SubscriptionID: m.SubscriptionID,
		Event:          m.Event,
		Payload:        m.Payload,
		Status:         m.Status,
		ResponseCode:   m.ResponseCode,
		ResponseBody:   m.ResponseBody,
		Error:          m.Error,
		RetryCount:     m.RetryCount,
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
	}
}
