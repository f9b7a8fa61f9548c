package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
)

type NotificationService interface {
	SendNotification(ctx context.Context, req domain.DispatchRequest) ([]domain.NotificationResult, error)
	GetAttempt(ctx context.Context, messageID string) (*domain.NotificationAttempt, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.SendNotification)
	v1.Get("/notifications/:messageId", h.GetNotification)

	return nil
}

type sendNotificationRequest struct {
	UserID         string            `json:"userId"`
	Channels       []string          `json:"channels"`
	TemplateKey    *string           `json:"templateKey,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	Subject        *string           `json:"subject,omitempty"`
	Content        *string           `json:"content,omitempty"`
	IdempotencyKey *string           `json:"idempotencyKey,omitempty"`
}

type notificationResultResponse struct {
	MessageID string  `json:"messageId"`
	UserID    string  `json:"userId"`
	Channel   string  `json:"channel"`
	Status    string  `json:"status"`
	Error     *string `json:"error,omitempty"`
}

type sendNotificationResponse struct {
	Results []notificationResultResponse `json:"results"`
}

type attemptResponse struct {
	MessageID   string     `json:"messageId"`
	UserID      string     `json:"userId"`
	Channel     string     `json:"channel"`
	TemplateKey *string    `json:"templateKey,omitempty"`
	Subject     *string    `json:"subject,omitempty"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retryCount"`
	Error       *string    `json:"error,omitempty"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (h *NotificationHandler) SendNotification(c *fiber.Ctx) error {
	var req sendNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	dispatchReq, err := requestToDispatchRequest(req)
	if err != nil {
		return toHTTPError(err)
	}

	ctx := observability.WithCorrelationID(c.UserContext(), requestCorrelationID(c))
	results, err := h.service.SendNotification(ctx, dispatchReq)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(sendNotificationResponse{
		Results: toResultResponses(results),
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	messageID := strings.TrimSpace(c.Params("messageId"))
	attempt, err := h.service.GetAttempt(c.UserContext(), messageID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toAttemptResponse(attempt))
}

func requestToDispatchRequest(req sendNotificationRequest) (domain.DispatchRequest, error) {
	channels := make([]domain.Channel, 0, len(req.Channels))
	for _, raw := range req.Channels {
		channel, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return domain.DispatchRequest{}, err
		}
		channels = append(channels, channel)
	}

	return domain.DispatchRequest{
		UserID:         req.UserID,
		Channels:       channels,
		TemplateKey:    req.TemplateKey,
		Variables:      req.Variables,
		Subject:        req.Subject,
		Content:        req.Content,
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toResultResponses(results []domain.NotificationResult) []notificationResultResponse {
	responses := make([]notificationResultResponse, 0, len(results))
	for _, r := range results {
		responses = append(responses, notificationResultResponse{
			MessageID: r.MessageID,
			UserID:    r.UserID,
			Channel:   r.ChannelType.String(),
			Status:    r.Status.String(),
			Error:     r.Error,
		})
	}
	return responses
}

func toAttemptResponse(a *domain.NotificationAttempt) attemptResponse {
	if a == nil {
		return attemptResponse{}
	}

	return attemptResponse{
		MessageID:   a.ID,
		UserID:      a.UserID,
		Channel:     a.Channel.String(),
		TemplateKey: a.TemplateKey,
		Subject:     a.Subject,
		Content:     a.Content,
		Status:      a.Status.String(),
		RetryCount:  a.RetryCount,
		Error:       a.Error,
		NextRetryAt: a.NextRetryAt,
		SentAt:      a.SentAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
