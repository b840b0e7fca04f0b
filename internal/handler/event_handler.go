package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/webhook-relay/internal/domain"
)

// EventTrigger fans one platform event out to matching subscriptions.
type EventTrigger interface {
	TriggerEvent(ctx context.Context, event domain.Event, data any) error
}

// EventHandler exposes a synchronous trigger endpoint for platform services
// that call the relay directly instead of publishing to the event bus.
type EventHandler struct {
	dispatcher EventTrigger
}

func NewEventHandler(dispatcher EventTrigger) (*EventHandler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	return &EventHandler{dispatcher: dispatcher}, nil
}

func RegisterEventRoutes(router fiber.Router, dispatcher EventTrigger) error {
	h, err := NewEventHandler(dispatcher)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/events", h.Trigger)

	return nil
}

type triggerEventRequest struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (h *EventHandler) Trigger(c *fiber.Ctx) error {
	var req triggerEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	event, err := domain.ParseEventFromString(strings.TrimSpace(req.Event))
	if err != nil {
		return toHTTPError(err)
	}

	if err := h.dispatcher.TriggerEvent(c.Context(), event, req.Data); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"event":  event.String(),
		"status": "dispatched",
	})
}
