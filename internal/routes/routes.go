package routes

import (
	"errors"

	"github.com/charmbracelet/log"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/seabreeze-yc/clubinbox/internal/config"
	"github.com/seabreeze-yc/clubinbox/internal/events"
	"github.com/seabreeze-yc/clubinbox/internal/handlers"
	"github.com/seabreeze-yc/clubinbox/internal/middleware"
	"github.com/seabreeze-yc/clubinbox/internal/repository"
	"github.com/seabreeze-yc/clubinbox/internal/services"
	chatws "github.com/seabreeze-yc/clubinbox/internal/websocket"
)

// Services is everything the HTTP layer, the ingest consumer and the jobs
// share. They all write through the same publisher.
type Services struct {
	Chat          *services.ChatService
	ReadState     *services.ReadStateService
	Notifications *services.NotificationService
}

func NewServices(db services.Database, publisher events.Publisher, logger *log.Logger) *Services {
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	return &Services{
		Chat: services.NewChatService(db, conversationRepo, messageRepo, publisher, logger),
		ReadState: services.NewReadStateService(
			db,
			conversationRepo,
			messageRepo,
			notificationRepo,
			publisher,
			logger,
		),
		Notifications: services.NewNotificationService(notificationRepo, publisher, logger),
	}
}

func RegisterRoutes(app *fiber.App, cfg *config.Config, svc *Services, hub *chatws.Hub) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT secret is required to register routes")
	}

	chatHandler := handlers.NewChatHandler(svc.Chat, svc.ReadState, hub, cfg.JWTSecret)
	notificationHandler := handlers.NewNotificationHandler(svc.Notifications, svc.ReadState)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})

	api := app.Group("/api")

	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Patch("/:id/read", chatHandler.MarkConversationRead)
	conversations.Patch("/:id/status", middleware.StaffRequired(), chatHandler.UpdateStatus)

	messages := authProtected.Group("/messages")
	messages.Patch("/:id/read", chatHandler.MarkMessageRead)

	registerNotificationRoutes(authProtected.Group("/notifications"), notificationHandler)
	registerNotificationRoutes(
		authProtected.Group("/staff/notifications", middleware.StaffRequired()),
		notificationHandler,
	)

	return nil
}

func registerNotificationRoutes(router fiber.Router, handler *handlers.NotificationHandler) {
	router.Get("", handler.List)
	router.Get("/unread-count", handler.UnreadCount)
	router.Patch("/read-all", handler.MarkAllRead)
	router.Patch("/:id/read", handler.MarkRead)
	router.Delete("/:id", handler.Delete)
}
