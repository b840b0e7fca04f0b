package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MaxFailureStreak is the consecutive-failure count at which a subscription
// is automatically deactivated.
const MaxFailureStreak = 10

// Subscription is a registered webhook endpoint: where to deliver, which
// events to deliver, and the signing secret shared with the subscriber.
type Subscription struct {
	ID              string
	TargetURL       string
	Events          EventSet
	Secret          string
	Description     string
	Active          bool
	FailureStreak   int
	LastTriggeredAt *time.Time
	LastError       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s *Subscription) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: subscription is required", ErrValidation)
	}
	if err := validateTargetURL(s.TargetURL); err != nil {
		return err
	}
	if err := s.Events.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(s.Secret) == "" {
		return fmt.Errorf("%w: secret is required", ErrValidation)
	}
	return nil
}

func validateTargetURL(target string) error {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return fmt.Errorf("%w: target url is required", ErrValidation)
	}

	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%w: invalid target url: %v", ErrValidation, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: target url scheme must be http or https", ErrValidation)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: target url host is required", ErrValidation)
	}
	return nil
}
