package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/webhook-relay/internal/domain"
	"github.com/kursadbilgin/webhook-relay/internal/service"
)

type SubscriptionService interface {
	Register(ctx context.Context, input service.RegisterInput) (*domain.Subscription, error)
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	List(ctx context.Context) ([]domain.Subscription, error)
	Update(ctx context.Context, id string, input service.UpdateInput) (*domain.Subscription, error)
	Delete(ctx context.Context, id string) error
	SendTestDelivery(ctx context.Context, id string) (*domain.DeliveryAttempt, error)
}

type SubscriptionHandler struct {
	service SubscriptionService
}

func NewSubscriptionHandler(service SubscriptionService) (*SubscriptionHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("subscription service is required")
	}
	return &SubscriptionHandler{service: service}, nil
}

func RegisterSubscriptionRoutes(router fiber.Router, service SubscriptionService) error {
	h, err := NewSubscriptionHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/subscriptions", h.Register)
	v1.Get("/subscriptions", h.List)
	v1.Get("/subscriptions/:id", h.Get)
	v1.Patch("/subscriptions/:id", h.Update)
	v1.Delete("/subscriptions/:id", h.Delete)
	v1.Post("/subscriptions/:id/test", h.SendTest)
	v1.Get("/events", h.ListEvents)

	return nil
}

type registerSubscriptionRequest struct {
	TargetURL   string   `json:"targetUrl"`
	Events      []string `json:"events"`
	Secret      string   `json:"secret"`
	Description string   `json:"description"`
}

type updateSubscriptionRequest struct {
	TargetURL   *string  `json:"targetUrl"`
	Events      []string `json:"events"`
	Secret      *string  `json:"secret"`
	Description *string  `json:"description"`
	Active      *bool    `json:"active"`
}

type subscriptionResponse struct {
	ID              string     `json:"id"`
	TargetURL       string     `json:"targetUrl"`
	Events          []string   `json:"events"`
	Secret          string     `json:"secret,omitempty"`
	Description     string     `json:"description,omitempty"`
	Active          bool       `json:"active"`
	FailureStreak   int        `json:"failureStreak"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
	LastError       *string    `json:"lastError,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type listSubscriptionsResponse struct {
	Data []subscriptionResponse `json:"data"`
}

func (h *SubscriptionHandler) Register(c *fiber.Ctx) error {
	var req registerSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	subscription, err := h.service.Register(c.Context(), service.RegisterInput{
		TargetURL:   req.TargetURL,
		Events:      req.Events,
		Secret:      req.Secret,
		Description: req.Description,
	})
	if err != nil {
		return toHTTPError(err)
	}

	// The registration response is the only place the secret is ever
	// returned. Reads redact it.
	return c.Status(fiber.StatusCreated).JSON(toSubscriptionResponse(subscription, true))
}

func (h *SubscriptionHandler) Get(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	subscription, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSubscriptionResponse(subscription, false))
}

func (h *SubscriptionHandler) List(c *fiber.Ctx) error {
	subscriptions, err := h.service.List(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]subscriptionResponse, 0, len(subscriptions))
	for i := range subscriptions {
		data = append(data, toSubscriptionResponse(&subscriptions[i], false))
	}

	return c.Status(fiber.StatusOK).JSON(listSubscriptionsResponse{Data: data})
}

func (h *SubscriptionHandler) Update(c *fiber.Ctx) error {
	var req updateSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	id := strings.TrimSpace(c.Params("id"))
	subscription, err := h.service.Update(c.Context(), id, service.UpdateInput{
		TargetURL:   req.TargetURL,
		Events:      req.Events,
		Secret:      req.Secret,
		Description: req.Description,
		Active:      req.Active,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSubscriptionResponse(subscription, false))
}

func (h *SubscriptionHandler) Delete(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Delete(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SubscriptionHandler) SendTest(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	attempt, err := h.service.SendTestDelivery(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(attempt))
}

// ListEvents returns the closed event taxonomy so integrators can discover
// valid filter values.
func (h *SubscriptionHandler) ListEvents(c *fiber.Ctx) error {
	events := domain.Events()
	names := make([]string, 0, len(events))
	for _, event := range events {
		names = append(names, event.String())
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"events":   names,
		"wildcard": domain.EventWildcard.String(),
	})
}

func toSubscriptionResponse(s *domain.Subscription, includeSecret bool) subscriptionResponse {
	if s == nil {
		return subscriptionResponse{}
	}

	resp := subscriptionResponse{
		ID:              s.ID,
		TargetURL:       s.TargetURL,
		Events:          s.Events.Strings(),
		Description:     s.Description,
		Active:          s.Active,
		FailureStreak:   s.FailureStreak,
		LastTriggeredAt: s.LastTriggeredAt,
		LastError:       s.LastError,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if includeSecret {
		resp.Secret = s.Secret
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyDelivered):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRetryLimit):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
