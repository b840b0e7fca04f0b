package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the canonical payload signed and posted to subscribers.
// Field order is the wire order; the executor serializes it once and the
// exact bytes are what gets signed.
type Envelope struct {
	Event     Event  `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

func NewEnvelope(event Event, data any, now time.Time) Envelope {
	return Envelope{
		Event:     event,
		Timestamp: now.UTC().Format(time.RFC3339),
		Data:      data,
	}
}

func (e Envelope) Marshal() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return payload, nil
}

// ParseEnvelope restores an envelope from ledger payload bytes, used for
// manual redelivery of a stored attempt.
func ParseEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return env, nil
}
