package domain

import (
	"errors"
	"testing"
)

func TestParseEventFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Event
		wantErr bool
	}{
		{name: "exact", input: "vehicle.sold", want: EventVehicleSold},
		{name: "trims and lowers", input: "  Payment.Completed ", want: EventPaymentCompleted},
		{name: "unknown", input: "vehicle.exploded", wantErr: true},
		{name: "wildcard is not a triggerable event", input: "*", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseEventFromString(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseEventFromString(%q) expected error", tt.input)
				}
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEventFromString(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Fatalf("ParseEventFromString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseEventSet(t *testing.T) {
	t.Parallel()

	set, err := ParseEventSet([]string{"vehicle.sold", "VEHICLE.SOLD", "payment.completed"})
	if err != nil {
		t.Fatalf("ParseEventSet() error = %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("len = %d, want 2 (duplicates dropped)", len(set))
	}
	if set[0] != EventVehicleSold || set[1] != EventPaymentCompleted {
		t.Fatalf("set = %v, order should be preserved", set)
	}

	if _, err := ParseEventSet(nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty filter error = %v, want ErrValidation", err)
	}
	if _, err := ParseEventSet([]string{"nope"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown event error = %v, want ErrValidation", err)
	}
}

func TestParseEventSetWildcardWithSpecificNames(t *testing.T) {
	t.Parallel()

	// Redundant but valid.
	set, err := ParseEventSet([]string{"*", "vehicle.sold"})
	if err != nil {
		t.Fatalf("ParseEventSet() error = %v", err)
	}
	if !set.Contains(EventWildcard) {
		t.Fatal("set should contain wildcard")
	}
	if !set.Matches(EventNewsletterSubscribed) {
		t.Fatal("wildcard filter should match every event")
	}
}

func TestEventSetMatches(t *testing.T) {
	t.Parallel()

	specific := EventSet{EventVehicleSold, EventPaymentCompleted}
	if !specific.Matches(EventVehicleSold) {
		t.Fatal("filter should match a listed event")
	}
	if specific.Matches(EventInquiryReceived) {
		t.Fatal("filter should not match an unlisted event")
	}

	wildcard := EventSet{EventWildcard}
	for _, event := range Events() {
		if !wildcard.Matches(event) {
			t.Fatalf("wildcard should match %q", event)
		}
	}
}

func TestParseDeliveryStatusFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseDeliveryStatusFromString("pending")
	if err != nil {
		t.Fatalf("ParseDeliveryStatusFromString() error = %v", err)
	}
	if got != DeliveryStatusPending {
		t.Fatalf("status = %q, want PENDING", got)
	}

	if _, err := ParseDeliveryStatusFromString("SHIPPED"); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}
