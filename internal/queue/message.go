package queue

import (
	"encoding/json"
	"fmt"

	"github.com/kursadbilgin/webhook-relay/internal/domain"
)

// EventMessage is the broker payload other platform services publish when a
// domain state change should reach webhook subscribers.
type EventMessage struct {
	Event         string          `json:"event"`
	Data          json.RawMessage `json:"data,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

func (m EventMessage) Validate() error {
	if _, err := domain.ParseEventFromString(m.Event); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return nil
}
