package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/webhook-relay/internal/domain"
	"github.com/kursadbilgin/webhook-relay/internal/repository"
	"github.com/kursadbilgin/webhook-relay/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type DeliveryService interface {
	GetDelivery(ctx context.Context, id string) (*domain.DeliveryAttempt, error)
	ListDeliveries(ctx context.Context, params repository.ListAttemptsParams) ([]domain.DeliveryAttempt, int64, error)
	GetDeliveryStats(ctx context.Context, subscriptionID *string) (*service.DeliveryStats, error)
	RetryDelivery(ctx context.Context, attemptID string) (*domain.DeliveryAttempt, error)
}

type DeliveryHandler struct {
	service DeliveryService
}

func NewDeliveryHandler(service DeliveryService) (*DeliveryHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("delivery service is required")
	}
	return &DeliveryHandler{service: service}, nil
}

func RegisterDeliveryRoutes(router fiber.Router, service DeliveryService) error {
	h, err := NewDeliveryHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/deliveries", h.List)
	v1.Get("/deliveries/stats", h.Stats)
	v1.Get("/deliveries/:id", h.Get)
	v1.Post("/deliveries/:id/retry", h.Retry)

	return nil
}

type deliveryResponse struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscriptionId"`
	Event          string     `json:"event"`
	Payload        string     `json:"payload"`
	Status         string     `json:"status"`
	ResponseCode   *int       `json:"responseCode,omitempty"`
	ResponseBody   *string    `json:"responseBody,omitempty"`
	Error          *string    `json:"error,omitempty"`
	RetryCount     int        `json:"retryCount"`
	CreatedAt      time.Time  `json:"createdAt"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
}

type listDeliveriesResponse struct {
	Data []deliveryResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type deliveryStatsResponse struct {
	ByStatus []statCountItem `json:"byStatus"`
	ByEvent  []statCountItem `json:"byEvent"`
}

type statCountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

func (h *DeliveryHandler) Get(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	attempt, err := h.service.GetDelivery(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(attempt))
}

func (h *DeliveryHandler) List(c *fiber.Ctx) error {
	params, err := parseListAttemptsParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	attempts, total, err := h.service.ListDeliveries(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]deliveryResponse, 0, len(attempts))
	for i := range attempts {
		data = append(data, toDeliveryResponse(&attempts[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listDeliveriesResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *DeliveryHandler) Stats(c *fiber.Ctx) error {
	var subscriptionID *string
	if raw := strings.TrimSpace(c.Query("subscriptionId")); raw != "" {
		subscriptionID = &raw
	}

	stats, err := h.service.GetDeliveryStats(c.Context(), subscriptionID)
	if err != nil {
		return toHTTPError(err)
	}

	resp := deliveryStatsResponse{
		ByStatus: make([]statCountItem, 0, len(stats.ByStatus)),
		ByEvent:  make([]statCountItem, 0, len(stats.ByEvent)),
	}
	for _, item := range stats.ByStatus {
		resp.ByStatus = append(resp.ByStatus, statCountItem{Key: item.Status.String(), Count: item.Count})
	}
	for _, item := range stats.ByEvent {
		resp.ByEvent = append(resp.ByEvent, statCountItem{Key: item.Event.String(), Count: item.Count})
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *DeliveryHandler) Retry(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	attempt, err := h.service.RetryDelivery(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(attempt))
}

func parseListAttemptsParams(c *fiber.Ctx) (repository.ListAttemptsParams, error) {
	params := repository.ListAttemptsParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListAttemptsParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListAttemptsParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if raw := strings.TrimSpace(c.Query("subscriptionId")); raw != "" {
		params.SubscriptionID = &raw
	}

	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseDeliveryStatusFromString(raw)
		if err != nil {
			return repository.ListAttemptsParams{}, err
		}
		params.Status = &status
	}

	if raw := strings.TrimSpace(c.Query("event")); raw != "" {
		event, err := domain.ParseEventFromString(raw)
		if err != nil {
			return repository.ListAttemptsParams{}, err
		}
		params.Event = &event
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListAttemptsParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListAttemptsParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toDeliveryResponse(a *domain.DeliveryAttempt) deliveryResponse {
	if a == nil {
		return deliveryResponse{}
	}

	return deliveryResponse{
		ID:             a.ID,
		SubscriptionID: a.SubscriptionID,
		Event:          a.Event.String(),
		Payload:        a.Payload,
		Status:         a.Status.String(),
		ResponseCode:   a.ResponseCode,
		ResponseBody:   a.ResponseBody,
		Error:          a.Error,
		RetryCount:     a.RetryCount,
		CreatedAt:      a.CreatedAt,
		DeliveredAt:    a.DeliveredAt,
	}
}
