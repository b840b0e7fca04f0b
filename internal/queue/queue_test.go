package queue

import (
	"encoding/json"
	"testing"
)

func TestDLQName(t *testing.T) {
	if got := DLQName(EventsQueueName); got != "dlq.webhook.events" {
		t.Fatalf("DLQName = %s, want dlq.webhook.events", got)
	}
}

func TestEventMessageValidate(t *testing.T) {
	msg := EventMessage{
		Event: "vehicle.created",
		Data:  json.RawMessage(`{"id":"v-1"}`),
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.Event = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty event")
	}

	msg.Event = "vehicle.exploded"
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for unknown event")
	}

	// The wildcard is a filter construct, never a publishable event.
	msg.Event = "*"
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for wildcard event")
	}
}

func TestEventMessageValidateNormalizesCase(t *testing.T) {
	msg := EventMessage{Event: "  Payment.Completed "}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}
