package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

type AdminService interface {
	UpsertChannelConfig(ctx context.Context, userID string, channel domain.Channel, raw []byte, active bool) (*domain.ChannelConfig, error)
	InvalidateChannelConfig(ctx context.Context, userID string, channel domain.Channel) error
	UpsertSetting(ctx context.Context, key, value string) error
	InvalidateTemplate(ctx context.Context, key string) error
}

type AdminHandler struct {
	service AdminService
}

func NewAdminHandler(service AdminService) (*AdminHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("admin service is required")
	}
	return &AdminHandler{service: service}, nil
}

func RegisterAdminRoutes(router fiber.Router, service AdminService) error {
	h, err := NewAdminHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Put("/users/:userId/channels/:channel", h.UpsertChannelConfig)
	v1.Delete("/users/:userId/channels/:channel/cache", h.InvalidateChannelConfig)
	v1.Put("/settings/:key", h.UpsertSetting)
	v1.Delete("/templates/:key/cache", h.InvalidateTemplate)

	return nil
}

// Settings stay raw until the channel is known.
type upsertChannelConfigRequest struct {
	Settings json.RawMessage `json:"settings"`
	Active   *bool           `json:"active"`
}

type channelConfigResponse struct {
	UserID  string `json:"userId"`
	Channel string `json:"channel"`
	Active  bool   `json:"active"`
}

type upsertSettingRequest struct {
	Value string `json:"value"`
}

func (h *AdminHandler) UpsertChannelConfig(c *fiber.Ctx) error {
	channel, err := domain.ParseChannelFromString(c.Params("channel"))
	if err != nil {
		return toHTTPError(err)
	}

	var req upsertChannelConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	cfg, err := h.service.UpsertChannelConfig(c.UserContext(), c.Params("userId"), channel, req.Settings, active)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(channelConfigResponse{
		UserID:  cfg.UserID,
		Channel: cfg.Channel.String(),
		Active:  cfg.Active,
	})
}

func (h *AdminHandler) InvalidateChannelConfig(c *fiber.Ctx) error {
	channel, err := domain.ParseChannelFromString(c.Params("channel"))
	if err != nil {
		return toHTTPError(err)
	}

	userID := strings.TrimSpace(c.Params("userId"))
	if err := h.service.InvalidateChannelConfig(c.UserContext(), userID, channel); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminHandler) UpsertSetting(c *fiber.Ctx) error {
	var req upsertSettingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	key := strings.TrimSpace(c.Params("key"))
	if err := h.service.UpsertSetting(c.UserContext(), key, req.Value); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"key":   key,
		"value": req.Value,
	})
}

func (h *AdminHandler) InvalidateTemplate(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Params("key"))
	if key == "" {
		return toHTTPError(fmt.Errorf("%w: template key is required", domain.ErrValidation))
	}
	if err := h.service.InvalidateTemplate(c.UserContext(), key); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
