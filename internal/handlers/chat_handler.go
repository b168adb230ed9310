package handlers

import (
	"context"
	"errors"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/seabreeze-yc/clubinbox/internal/middleware"
	"github.com/seabreeze-yc/clubinbox/internal/models"
	"github.com/seabreeze-yc/clubinbox/internal/services"
	chatws "github.com/seabreeze-yc/clubinbox/internal/websocket"
	"github.com/seabreeze-yc/clubinbox/pkg/utils"
)

type chatApplicationService interface {
	ListConversations(ctx context.Context, principal models.Principal) (*services.ConversationList, error)
	ListMessages(ctx context.Context, principal models.Principal, conversationID string, page int, limit int) (*services.MessagePage, error)
	SendMessage(ctx context.Context, principal models.Principal, conversationID string, content string) (*services.ChatDelivery, error)
	UpdateStatus(ctx context.Context, principal models.Principal, conversationID string, status string) (*models.ConversationSummary, error)
}

type messageReadService interface {
	MarkMessageRead(ctx context.Context, principal models.Principal, messageID uuid.UUID) (*services.MessageReadResult, error)
	MarkConversationRead(ctx context.Context, principal models.Principal, conversationID string) (int, error)
}

type ChatHandler struct {
	service   chatApplicationService
	readState messageReadService
	hub       *chatws.Hub
	jwtSecret string
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active pending resolved"`
}

func NewChatHandler(
	service chatApplicationService,
	readState messageReadService,
	hub *chatws.Hub,
	jwtSecret string,
) *ChatHandler {
	return &ChatHandler{
		service:   service,
		readState: readState,
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	list, err := h.service.ListConversations(c.UserContext(), principal)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"conversations": list.Conversations,
		"as_of":         list.AsOf,
	})
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID := strings.TrimSpace(c.Params("id"))
	if conversationID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	result, err := h.service.ListMessages(c.UserContext(), principal, conversationID, page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":   result.Messages,
		"pagination": buildPaginationMeta(page, limit, result.Total),
		"as_of":      result.AsOf,
	})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationMessage(err)})
	}

	delivery, err := h.service.SendMessage(c.UserContext(), principal, c.Params("id"), req.Content)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": delivery.Message})
}

func (h *ChatHandler) MarkConversationRead(c *fiber.Ctx) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	read, err := h.readState.MarkConversationRead(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"read_count": read})
}

func (h *ChatHandler) MarkMessageRead(c *fiber.Ctx) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	messageID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	result, err := h.readState.MarkMessageRead(c.UserContext(), principal, messageID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": result.Message,
		"changed": result.Changed,
	})
}

func (h *ChatHandler) UpdateStatus(c *fiber.Ctx) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationMessage(err)})
	}

	summary, err := h.service.UpdateStatus(c.UserContext(), principal, c.Params("id"), req.Status)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversation": summary})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	role, _ := conn.Locals("role").(string)
	client := chatws.NewClient(h.hub, conn, models.Principal{UserID: userID, Role: role})

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.service)
}

// parseWSClaims accepts the token as a query parameter since browsers cannot
// set headers on the upgrade request.
func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
