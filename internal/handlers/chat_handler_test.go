package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/seabreeze-yc/clubinbox/internal/logging"
	"github.com/seabreeze-yc/clubinbox/internal/models"
	"github.com/seabreeze-yc/clubinbox/internal/services"
	chatws "github.com/seabreeze-yc/clubinbox/internal/websocket"
)

type stubChatService struct {
	conversationsResult *services.ConversationList
	conversationsErr    error
	messagesResult      *services.MessagePage
	messagesErr         error
	sendResult          *services.ChatDelivery
	sendErr             error
	statusResult        *models.ConversationSummary
	statusErr           error
	lastPrincipal       models.Principal
	lastConversationID  string
	lastContent         string
	lastStatus          string
	lastPage            int
	lastLimit           int
}

func (s *stubChatService) ListConversations(_ context.Context, principal models.Principal) (*services.ConversationList, error) {
	s.lastPrincipal = principal
	return s.conversationsResult, s.conversationsErr
}

func (s *stubChatService) ListMessages(_ context.Context, principal models.Principal, conversationID string, page int, limit int) (*services.MessagePage, error) {
	s.lastPrincipal = principal
	s.lastConversationID = conversationID
	s.lastPage = page
	s.lastLimit = limit
	return s.messagesResult, s.messagesErr
}

func (s *stubChatService) SendMessage(_ context.Context, principal models.Principal, conversationID string, content string) (*services.ChatDelivery, error) {
	s.lastPrincipal = principal
	s.lastConversationID = conversationID
	s.lastContent = content
	return s.sendResult, s.sendErr
}

func (s *stubChatService) UpdateStatus(_ context.Context, principal models.Principal, conversationID string, status string) (*models.ConversationSummary, error) {
	s.lastPrincipal = principal
	s.lastConversationID = conversationID
	s.lastStatus = status
	return s.statusResult, s.statusErr
}

type stubMessageReadService struct {
	readResult         *services.MessageReadResult
	readErr            error
	conversationRead   int
	conversationErr    error
	lastMessageID      uuid.UUID
	lastConversationID string
}

func (s *stubMessageReadService) MarkMessageRead(_ context.Context, _ models.Principal, messageID uuid.UUID) (*services.MessageReadResult, error) {
	s.lastMessageID = messageID
	return s.readResult, s.readErr
}

func (s *stubMessageReadService) MarkConversationRead(_ context.Context, _ models.Principal, conversationID string) (int, error) {
	s.lastConversationID = conversationID
	return s.conversationRead, s.conversationErr
}

func newChatTestApp(handler *ChatHandler, role, userID string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("role", role)
		c.Locals("user_id", userID)
		return c.Next()
	})
	app.Get("/api/v1/conversations", handler.ListConversations)
	app.Get("/api/v1/conversations/:id/messages", handler.GetMessages)
	app.Post("/api/v1/conversations/:id/messages", handler.SendMessage)
	app.Patch("/api/v1/conversations/:id/read", handler.MarkConversationRead)
	app.Patch("/api/v1/conversations/:id/status", handler.UpdateStatus)
	app.Patch("/api/v1/messages/:id/read", handler.MarkMessageRead)
	return app
}

func TestListConversationsReturnsSummariesWithAsOf(t *testing.T) {
	asOf := time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC)
	lastMessage := "See you at the dock"
	service := &stubChatService{
		conversationsResult: &services.ConversationList{
			Conversations: []models.ConversationSummary{
				{
					Conversation: models.Conversation{
						ID:          "user_42_admin",
						MemberID:    "42",
						LastMessage: &lastMessage,
						Status:      models.ConversationActive,
					},
					UnreadCount: 2,
				},
			},
			AsOf: asOf,
		},
	}
	handler := NewChatHandler(service, &stubMessageReadService{}, chatws.NewHub(logging.Discard()), "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	resp, err := newChatTestApp(handler, "member", "42").Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastPrincipal.UserID != "42" || service.lastPrincipal.Role != "member" {
		t.Fatalf("unexpected principal: %+v", service.lastPrincipal)
	}

	var body struct {
		Conversations []models.ConversationSummary `json:"conversations"`
		AsOf          time.Time                    `json:"as_of"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Conversations) != 1 || body.Conversations[0].UnreadCount != 2 {
		t.Fatalf("unexpected response: %+v", body.Conversations)
	}
	if !body.AsOf.Equal(asOf) {
		t.Fatalf("expected as_of %v, got %v", asOf, body.AsOf)
	}
}

func TestListConversationsRequiresPrincipal(t *testing.T) {
	handler := NewChatHandler(&stubChatService{}, &stubMessageReadService{}, chatws.NewHub(logging.Discard()), "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	resp, err := newChatTestApp(handler, "member", "").Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestGetMessagesReturnsPagination(t *testing.T) {
	service := &stubChatService{
		messagesResult: &services.MessagePage{
			Messages: []models.ChatMessage{
				{ID: uuid.New(), ConversationID: "user_7_admin", SenderID: "7", Content: "Hi", CreatedAt: time.Now().UTC()},
			},
			Total: 12,
			AsOf:  time.Now().UTC(),
		},
	}
	handler := NewChatHandler(service, &stubMessageReadService{}, chatws.NewHub(logging.Discard()), "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/user_7_admin/messages?page=2&limit=5", nil)
	resp, err := newChatTestApp(handler, "staff", "s-1").Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastConversationID != "user_7_admin" || service.lastPage != 2 || service.lastLimit != 5 {
		t.Fatalf("unexpected forwarded pagination: conversation=%s page=%d limit=%d", service.lastConversationID, service.lastPage, service.lastLimit)
	}

	var body struct {
		Messages   []models.ChatMessage  `json:"messages"`
		Pagination models.PaginationMeta `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Messages) != 1 || body.Pagination.Total != 12 || body.Pagination.TotalPages != 3 {
		t.Fatalf("unexpected response body: %+v %+v", body.Messages, body.Pagination)
	}
}

func TestGetMessagesMapsErrors(t *testing.T) {
	cases := map[error]int{
		pgx.ErrNoRows:            http.StatusNotFound,
		services.ErrNotFound:     http.StatusNotFound,
		services.ErrForbidden:    http.StatusForbidden,
		services.ErrInvalidInput: http.StatusBadRequest,
	}

	for serviceErr, want := range cases {
		service := &stubChatService{messagesErr: serviceErr}
		handler := NewChatHandler(service, &stubMessageReadService{}, chatws.NewHub(logging.Discard()), "secret")

		req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/user_8_admin/messages", nil)
		resp, err := newChatTestApp(handler, "member", "7").Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != want {
			t.Errorf("%v: expected %d, got %d", serviceErr, want, resp.StatusCode)
		}
	}
}

func TestSendMessageValidatesBody(t *testing.T) {
	service := &stubChatService{}
	handler := NewChatHandler(service, &stubMessageReadService{}, chatws.NewHub(logging.Discard()), "secret")
	app := newChatTestApp(handler, "member", "7")

	for _, body := range []string{`{}`, `{"content":""}`, `{"content":"` + strings.Repeat("a", 4001) + `"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/user_7_admin/messages", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400 for %.20q, got %d", body, resp.StatusCode)
		}
	}
	if service.lastContent != "" {
		t.Fatalf("service should not be called for invalid bodies")
	}
}

func TestSendMessageReturnsCreatedMessage(t *testing.T) {
	message := &models.ChatMessage{
		ID:             uuid.New(),
		ConversationID: "user_7_admin",
		SenderID:       "7",
		Content:        "Is the crane free Friday?",
		CreatedAt:      time.Now().UTC(),
	}
	service := &stubChatService{sendResult: &services.ChatDelivery{Message: message}}
	handler := NewChatHandler(service, &stubMessageReadService{}, chatws.NewHub(logging.Discard()), "secret")

	req := httptest.NewRequest(
		http.MethodPost,
		"/api/v1/conversations/user_7_admin/messages",
		strings.NewReader(`{"content":"Is the crane free Friday?"}`),
	)
	req.Header.Set("Content-Type", "application/json")

	resp, err := newChatTestApp(handler, "member", "7").Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastConversationID != "user_7_admin" || service.lastContent != message.Content {
		t.Fatalf("unexpected forwarded send: %q %q", service.lastConversationID, service.lastContent)
	}

	var body struct {
		Message models.ChatMessage `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Message.ID != message.ID {
		t.Fatalf("expected message %s, got %s", message.ID, body.Message.ID)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	service := &stubChatService{}
	handler := NewChatHandler(service, &stubMessageReadService{}, chatws.NewHub(logging.Discard()), "secret")

	req := httptest.NewRequest(
		http.MethodPatch,
		"/api/v1/conversations/user_7_admin/status",
		strings.NewReader(`{"status":"archived"}`),
	)
	req.Header.Set("Content-Type", "application/json")

	resp, err := newChatTestApp(handler, "staff", "s-1").Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body["error"] != "status must be one of: active, pending, resolved" {
		t.Fatalf("unexpected error message %q", body["error"])
	}
}

func TestMarkMessageRead(t *testing.T) {
	messageID := uuid.New()
	readAt := time.Now().UTC()
	readState := &stubMessageReadService{
		readResult: &services.MessageReadResult{
			Message: &models.ChatMessage{ID: messageID, ReadAt: &readAt},
			Changed: true,
		},
	}
	handler := NewChatHandler(&stubChatService{}, readState, chatws.NewHub(logging.Discard()), "secret")
	app := newChatTestApp(handler, "member", "7")

	resp, err := app.Test(httptest.NewRequest(http.MethodPatch, "/api/v1/messages/not-a-uuid/read", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad id, got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodPatch, "/api/v1/messages/"+messageID.String()+"/read", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if readState.lastMessageID != messageID {
		t.Fatalf("expected message %s, got %s", messageID, readState.lastMessageID)
	}

	var body struct {
		Changed bool `json:"changed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !body.Changed {
		t.Fatal("expected changed=true")
	}
}

func TestMarkConversationRead(t *testing.T) {
	readState := &stubMessageReadService{conversationRead: 3}
	handler := NewChatHandler(&stubChatService{}, readState, chatws.NewHub(logging.Discard()), "secret")

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/conversations/user_7_admin/read", nil)
	resp, err := newChatTestApp(handler, "member", "7").Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if readState.lastConversationID != "user_7_admin" {
		t.Fatalf("unexpected conversation %q", readState.lastConversationID)
	}

	var body struct {
		ReadCount int `json:"read_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.ReadCount != 3 {
		t.Fatalf("expected read_count 3, got %d", body.ReadCount)
	}
}

func TestWebSocketAuthRequiresUpgrade(t *testing.T) {
	handler := NewChatHandler(&stubChatService{}, &stubMessageReadService{}, chatws.NewHub(logging.Discard()), "secret")

	app := fiber.New()
	app.Get("/api/v1/ws", handler.WebSocketAuth, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %d", resp.StatusCode)
	}
}
