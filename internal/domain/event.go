package domain

import (
	"fmt"
	"strings"
)

// Event identifies a domain state change that can be delivered to webhook subscribers.
type Event string

const (
	EventVehicleCreated         Event = "vehicle.created"
	EventVehicleUpdated         Event = "vehicle.updated"
	EventVehicleDeleted         Event = "vehicle.deleted"
	EventVehicleSold            Event = "vehicle.sold"
	EventInquiryReceived        Event = "inquiry.received"
	EventAppointmentScheduled   Event = "appointment.scheduled"
	EventAppointmentConfirmed   Event = "appointment.confirmed"
	EventAppointmentCancelled   Event = "appointment.cancelled"
	EventAppointmentCompleted   Event = "appointment.completed"
	EventPaymentInitiated       Event = "payment.initiated"
	EventPaymentCompleted       Event = "payment.completed"
	EventPaymentFailed          Event = "payment.failed"
	EventPaymentRefunded        Event = "payment.refunded"
	EventDeliveryScheduled      Event = "delivery.scheduled"
	EventDeliveryInTransit      Event = "delivery.in_transit"
	EventDeliveryCompleted      Event = "delivery.completed"
	EventNewsletterSubscribed   Event = "newsletter.subscribed"
	EventNewsletterUnsubscribed Event = "newsletter.unsubscribed"
	EventWebhookTest            Event = "webhook.test"
)

// EventWildcard matches every event when present in a subscription filter.
// It is valid inside a filter but can never be triggered itself.
const EventWildcard Event = "*"

var allEvents = []Event{
	EventVehicleCreated,
	EventVehicleUpdated,
	EventVehicleDeleted,
	EventVehicleSold,
	EventInquiryReceived,
	EventAppointmentScheduled,
	EventAppointmentConfirmed,
	EventAppointmentCancelled,
	EventAppointmentCompleted,
	EventPaymentInitiated,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventPaymentRefunded,
	EventDeliveryScheduled,
	EventDeliveryInTransit,
	EventDeliveryCompleted,
	EventNewsletterSubscribed,
	EventNewsletterUnsubscribed,
	EventWebhookTest,
}

func (e Event) String() string { return string(e) }

func (e Event) IsValid() bool {
	for _, known := range allEvents {
		if e == known {
			return true
		}
	}
	return false
}

// Events returns the closed set of triggerable events, excluding the wildcard.
func Events() []Event {
	out := make([]Event, len(allEvents))
	copy(out, allEvents)
	return out
}

func ParseEventFromString(s string) (Event, error) {
	e := Event(strings.ToLower(strings.TrimSpace(s)))
	if !e.IsValid() {
		return "", fmt.Errorf("%w: invalid event %q", ErrValidation, s)
	}
	return e, nil
}

// EventSet is a subscription's event filter: a set of event names, optionally
// containing the wildcard. A wildcard alongside specific names is redundant
// but valid.
type EventSet []Event

// ParseEventSet normalizes and validates a raw filter, dropping duplicates
// while preserving first-seen order.
func ParseEventSet(raw []string) (EventSet, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: event filter must include at least one event", ErrValidation)
	}

	seen := make(map[Event]struct{}, len(raw))
	set := make(EventSet, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.ToLower(strings.TrimSpace(item))
		if trimmed == EventWildcard.String() {
			if _, ok := seen[EventWildcard]; !ok {
				seen[EventWildcard] = struct{}{}
				set = append(set, EventWildcard)
			}
			continue
		}

		event, err := ParseEventFromString(trimmed)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[event]; !ok {
			seen[event] = struct{}{}
			set = append(set, event)
		}
	}

	return set, nil
}

// Matches reports whether deliveries for event should reach a subscription
// carrying this filter.
func (s EventSet) Matches(event Event) bool {
	for _, item := range s {
		if item == EventWildcard || item == event {
			return true
		}
	}
	return false
}

func (s EventSet) Contains(event Event) bool {
	for _, item := range s {
		if item == event {
			return true
		}
	}
	return false
}

func (s EventSet) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: event filter must include at least one event", ErrValidation)
	}
	for _, item := range s {
		if item == EventWildcard {
			continue
		}
		if !item.IsValid() {
			return fmt.Errorf("%w: invalid event %q in filter", ErrValidation, item)
		}
	}
	return nil
}

func (s EventSet) Strings() []string {
	out := make([]string, 0, len(s))
	for _, item := range s {
		out = append(out, item.String())
	}
	return out
}
