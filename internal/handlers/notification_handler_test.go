package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/seabreeze-yc/clubinbox/internal/models"
	"github.com/seabreeze-yc/clubinbox/internal/services"
)

type stubNotificationService struct {
	listResult     *services.NotificationList
	listErr        error
	lastPrincipal  models.Principal
	lastUnreadOnly bool
}

func (s *stubNotificationService) List(_ context.Context, principal models.Principal, unreadOnly bool) (*services.NotificationList, error) {
	s.lastPrincipal = principal
	s.lastUnreadOnly = unreadOnly
	return s.listResult, s.listErr
}

type stubNotificationReadService struct {
	countResult   *models.UnreadCount
	readResult    *services.NotificationReadResult
	readErr       error
	readAll       int
	readAllErr    error
	deleteResult  *services.DeleteResult
	deleteErr     error
	lastID        uuid.UUID
	lastPrincipal models.Principal
}

func (s *stubNotificationReadService) UnreadNotifications(_ context.Context, principal models.Principal) (*models.UnreadCount, error) {
	s.lastPrincipal = principal
	return s.countResult, nil
}

func (s *stubNotificationReadService) MarkNotificationRead(_ context.Context, principal models.Principal, notificationID uuid.UUID) (*services.NotificationReadResult, error) {
	s.lastPrincipal = principal
	s.lastID = notificationID
	return s.readResult, s.readErr
}

func (s *stubNotificationReadService) MarkAllNotificationsRead(_ context.Context, principal models.Principal) (int, error) {
	s.lastPrincipal = principal
	return s.readAll, s.readAllErr
}

func (s *stubNotificationReadService) DeleteNotification(_ context.Context, principal models.Principal, notificationID uuid.UUID) (*services.DeleteResult, error) {
	s.lastPrincipal = principal
	s.lastID = notificationID
	return s.deleteResult, s.deleteErr
}

func newNotificationTestApp(handler *NotificationHandler, role, userID string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("role", role)
		c.Locals("user_id", userID)
		return c.Next()
	})
	for _, prefix := range []string{"/api/v1/notifications", "/api/v1/staff/notifications"} {
		group := app.Group(prefix)
		group.Get("/", handler.List)
		group.Get("/unread-count", handler.UnreadCount)
		group.Patch("/read-all", handler.MarkAllRead)
		group.Patch("/:id/read", handler.MarkRead)
		group.Delete("/:id", handler.Delete)
	}
	return app
}

func TestListNotificationsForwardsUnreadOnly(t *testing.T) {
	asOf := time.Date(2030, 7, 4, 12, 0, 0, 0, time.UTC)
	service := &stubNotificationService{
		listResult: &services.NotificationList{
			Notifications: []models.Notification{
				{ID: uuid.New(), Type: models.NotificationNewBooking, Priority: models.PriorityHigh, Title: "Booking"},
			},
			Unread: models.UnreadCount{Scope: "staff", Count: 1, AsOf: asOf},
			AsOf:   asOf,
		},
	}
	handler := NewNotificationHandler(service, &stubNotificationReadService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/staff/notifications?unread_only=true", nil)
	resp, err := newNotificationTestApp(handler, "staff_manager", "s-4").Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !service.lastUnreadOnly || service.lastPrincipal.Role != "staff_manager" {
		t.Fatalf("unexpected forwarded call: unread_only=%v principal=%+v", service.lastUnreadOnly, service.lastPrincipal)
	}

	var body struct {
		Notifications []models.Notification `json:"notifications"`
		UnreadCount   int                   `json:"unread_count"`
		AsOf          time.Time             `json:"as_of"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Notifications) != 1 || body.UnreadCount != 1 || !body.AsOf.Equal(asOf) {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestUnreadCountReturnsAggregate(t *testing.T) {
	readState := &stubNotificationReadService{
		countResult: &models.UnreadCount{Scope: "user:9", Count: 4, AsOf: time.Now().UTC()},
	}
	handler := NewNotificationHandler(&stubNotificationService{}, readState)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/unread-count", nil)
	resp, err := newNotificationTestApp(handler, "member", "9").Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var body models.UnreadCount
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Count != 4 || body.Scope != "user:9" {
		t.Fatalf("unexpected aggregate %+v", body)
	}
}

func TestMarkNotificationReadMapsNotFound(t *testing.T) {
	readState := &stubNotificationReadService{readErr: services.ErrNotFound}
	handler := NewNotificationHandler(&stubNotificationService{}, readState)
	id := uuid.New()

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/notifications/"+id.String()+"/read", nil)
	resp, err := newNotificationTestApp(handler, "member", "9").Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if readState.lastID != id {
		t.Fatalf("expected id %s, got %s", id, readState.lastID)
	}
}

func TestMarkAllReadReportsCountAndFailure(t *testing.T) {
	readState := &stubNotificationReadService{readAll: 5}
	handler := NewNotificationHandler(&stubNotificationService{}, readState)
	app := newNotificationTestApp(handler, "admin", "a-1")

	resp, err := app.Test(httptest.NewRequest(http.MethodPatch, "/api/v1/staff/notifications/read-all", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	var body struct {
		ReadCount int `json:"read_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	resp.Body.Close()
	if body.ReadCount != 5 {
		t.Fatalf("expected read_count 5, got %d", body.ReadCount)
	}

	readState.readAllErr = errors.New("connection reset")
	resp, err = app.Test(httptest.NewRequest(http.MethodPatch, "/api/v1/staff/notifications/read-all", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestDeleteNotification(t *testing.T) {
	id := uuid.New()
	readState := &stubNotificationReadService{
		deleteResult: &services.DeleteResult{
			Notification: &models.Notification{ID: id},
			WasUnread:    true,
		},
	}
	handler := NewNotificationHandler(&stubNotificationService{}, readState)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/notifications/"+id.String(), nil)
	resp, err := newNotificationTestApp(handler, "member", "9").Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		NotificationID uuid.UUID `json:"notification_id"`
		WasUnread      bool      `json:"was_unread"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.NotificationID != id || !body.WasUnread {
		t.Fatalf("unexpected body %+v", body)
	}
}
