package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus represents the lifecycle state of a delivery attempt.
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "PENDING"
	DeliveryStatusSuccess DeliveryStatus = "SUCCESS"
	DeliveryStatusFailed  DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusSuccess, DeliveryStatusFailed:
		return true
	}
	return false
}

func ParseDeliveryStatusFromString(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

const (
	// MaxManualRetries caps operator-requested redeliveries per attempt.
	// Independent of the automatic in-call attempt budget.
	MaxManualRetries = 5

	// MaxResponseBodyBytes bounds the stored copy of a subscriber response.
	MaxResponseBodyBytes = 1000
)

// DeliveryAttempt is the append-only ledger record for one dispatch of one
// event to one subscription. Automatic retries within a trigger fold into
// this single record; RetryCount tracks manual redeliveries only.
type DeliveryAttempt struct {
	ID             string
	SubscriptionID string
	Event          Event
	Payload        string
	Status         DeliveryStatus
	ResponseCode   *int
	ResponseBody   *string
	Error          *string
	RetryCount     int
	CreatedAt      time.Time
	DeliveredAt    *time.Time
}
