package services

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/seabreeze-yc/clubinbox/internal/events"
	"github.com/seabreeze-yc/clubinbox/internal/models"
	"github.com/seabreeze-yc/clubinbox/internal/repository"
	"github.com/seabreeze-yc/clubinbox/pkg/scope"
)

type NotificationService struct {
	notificationRepo *repository.NotificationRepository
	push             *pusher
	now              func() time.Time
}

type NotificationList struct {
	Notifications []models.Notification
	Unread        models.UnreadCount
	AsOf          time.Time
}

func NewNotificationService(
	notificationRepo *repository.NotificationRepository,
	publisher events.Publisher,
	logger *log.Logger,
) *NotificationService {
	now := func() time.Time { return time.Now().UTC() }
	return &NotificationService{
		notificationRepo: notificationRepo,
		push: &pusher{
			publisher: publisher,
			logger:    logger,
			now:       now,
		},
		now: now,
	}
}

func (s *NotificationService) List(
	ctx context.Context,
	principal models.Principal,
	unreadOnly bool,
) (*NotificationList, error) {
	if principal.UserID == "" {
		return nil, ErrForbidden
	}

	owner := ownerFor(principal)
	asOf := s.now()

	notifications, err := s.notificationRepo.List(ctx, repository.NotificationListFilter{
		Owner:      owner,
		UnreadOnly: unreadOnly,
	})
	if err != nil {
		return nil, err
	}

	count, err := s.notificationRepo.CountUnread(ctx, owner)
	if err != nil {
		return nil, err
	}

	return &NotificationList{
		Notifications: notifications,
		Unread: models.UnreadCount{
			Scope: scope.Resolve(principal).NotificationScope,
			Count: count,
			AsOf:  asOf,
		},
		AsOf: asOf,
	}, nil
}

// Create stores a notification and pushes it to its owner. A redelivered
// source event returns (nil, nil).
func (s *NotificationService) Create(
	ctx context.Context,
	input models.CreateNotificationInput,
) (*models.Notification, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Message = strings.TrimSpace(input.Message)
	if err := validateNotificationInput(input); err != nil {
		return nil, err
	}

	notification, created, err := s.notificationRepo.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}

	s.push.notifications(ctx, events.NotificationCreated, *notification)
	return notification, nil
}

func validateNotificationInput(input models.CreateNotificationInput) error {
	if input.Title == "" || input.Message == "" {
		return ErrInvalidInput
	}
	if !models.ValidNotificationType(input.Type) || !models.ValidPriority(input.Priority) {
		return ErrInvalidInput
	}

	switch input.RecipientScope {
	case models.RecipientUser:
		if input.RecipientID == nil || *input.RecipientID == "" {
			return ErrInvalidInput
		}
	case models.RecipientStaff, models.RecipientAdmin:
		if input.RecipientID != nil {
			return ErrInvalidInput
		}
	default:
		return ErrInvalidInput
	}
	return nil
}
