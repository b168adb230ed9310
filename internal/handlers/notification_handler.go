package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/seabreeze-yc/clubinbox/internal/middleware"
	"github.com/seabreeze-yc/clubinbox/internal/models"
	"github.com/seabreeze-yc/clubinbox/internal/services"
)

type notificationLister interface {
	List(ctx context.Context, principal models.Principal, unreadOnly bool) (*services.NotificationList, error)
}

type notificationReadService interface {
	UnreadNotifications(ctx context.Context, principal models.Principal) (*models.UnreadCount, error)
	MarkNotificationRead(ctx context.Context, principal models.Principal, notificationID uuid.UUID) (*services.NotificationReadResult, error)
	MarkAllNotificationsRead(ctx context.Context, principal models.Principal) (int, error)
	DeleteNotification(ctx context.Context, principal models.Principal, notificationID uuid.UUID) (*services.DeleteResult, error)
}

// NotificationHandler serves both the member and the staff notification
// routes. Which collection a caller sees is decided by its role, never by the
// path it used.
type NotificationHandler struct {
	service   notificationLister
	readState notificationReadService
}

func NewNotificationHandler(service notificationLister, readState notificationReadService) *NotificationHandler {
	return &NotificationHandler{
		service:   service,
		readState: readState,
	}
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	list, err := h.service.List(c.UserContext(), principal, c.QueryBool("unread_only", false))
	if err != nil {
		return mapNotificationError(c, err)
	}

	return c.JSON(fiber.Map{
		"notifications": list.Notifications,
		"unread_count":  list.Unread.Count,
		"as_of":         list.AsOf,
	})
}

func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	count, err := h.readState.UnreadNotifications(c.UserContext(), principal)
	if err != nil {
		return mapNotificationError(c, err)
	}

	return c.JSON(count)
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	notificationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid notification id"})
	}

	result, err := h.readState.MarkNotificationRead(c.UserContext(), principal, notificationID)
	if err != nil {
		return mapNotificationError(c, err)
	}

	return c.JSON(fiber.Map{
		"notification": result.Notification,
		"changed":      result.Changed,
	})
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	read, err := h.readState.MarkAllNotificationsRead(c.UserContext(), principal)
	if err != nil {
		return mapNotificationError(c, err)
	}

	return c.JSON(fiber.Map{"read_count": read})
}

func (h *NotificationHandler) Delete(c *fiber.Ctx) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	notificationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid notification id"})
	}

	result, err := h.readState.DeleteNotification(c.UserContext(), principal, notificationID)
	if err != nil {
		return mapNotificationError(c, err)
	}

	return c.JSON(fiber.Map{
		"notification_id": result.Notification.ID,
		"was_unread":      result.WasUnread,
	})
}

func mapNotificationError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Notification not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process notification request"})
	}
}
