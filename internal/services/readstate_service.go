package services

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/seabreeze-yc/clubinbox/internal/events"
	"github.com/seabreeze-yc/clubinbox/internal/models"
	"github.com/seabreeze-yc/clubinbox/internal/repository"
	"github.com/seabreeze-yc/clubinbox/pkg/scope"
)

// ReadStateService owns every read/unread transition. Transitions only go
// forward (UNREAD → READ, and READ → DELETED for notifications) and repeating
// one is a no-op that reports Changed=false and pushes nothing.
type ReadStateService struct {
	db               Database
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	notificationRepo *repository.NotificationRepository
	push             *pusher
	now              func() time.Time
}

type MessageReadResult struct {
	Message *models.ChatMessage
	Changed bool
}

type NotificationReadResult struct {
	Notification *models.Notification
	Changed      bool
}

type DeleteResult struct {
	Notification *models.Notification
	WasUnread    bool
}

func NewReadStateService(
	db Database,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	notificationRepo *repository.NotificationRepository,
	publisher events.Publisher,
	logger *log.Logger,
) *ReadStateService {
	now := func() time.Time { return time.Now().UTC() }
	return &ReadStateService{
		db:               db,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		notificationRepo: notificationRepo,
		push: &pusher{
			conversationRepo: conversationRepo,
			publisher:        publisher,
			logger:           logger,
			now:              now,
		},
		now: now,
	}
}

func (s *ReadStateService) MarkMessageRead(
	ctx context.Context,
	principal models.Principal,
	messageID uuid.UUID,
) (*MessageReadResult, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !scope.Resolve(principal).CanSeeConversation(message.ConversationID) {
		return nil, ErrNotFound
	}

	conversation, err := s.conversationRepo.GetByID(ctx, message.ConversationID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	updated, changed, err := repository.NewMessageRepository(tx).MarkRead(
		ctx,
		messageID,
		conversation.MemberID,
		sideFor(principal),
	)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := repository.NewConversationRepository(tx).Touch(ctx, conversation.ID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if changed {
		s.push.conversation(ctx, conversation.ID, events.MessageRead, []models.ChatMessage{*updated})
	}
	return &MessageReadResult{Message: updated, Changed: changed}, nil
}

// MarkConversationRead reads every message from the other side in one
// statement and returns how many flipped.
func (s *ReadStateService) MarkConversationRead(
	ctx context.Context,
	principal models.Principal,
	conversationID string,
) (int, error) {
	visible := scope.Resolve(principal)
	if conversationID == "" {
		conversationID = visible.ConversationKey
	}
	if conversationID == "" || !visible.CanSeeConversation(conversationID) {
		return 0, ErrForbidden
	}

	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if visible.Visibility == scope.Self {
				return 0, nil
			}
			return 0, ErrNotFound
		}
		return 0, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	read, err := repository.NewMessageRepository(tx).MarkConversationRead(
		ctx,
		conversation.ID,
		conversation.MemberID,
		sideFor(principal),
	)
	if err != nil {
		return 0, err
	}
	if len(read) > 0 {
		if err := repository.NewConversationRepository(tx).Touch(ctx, conversation.ID); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	if len(read) > 0 {
		s.push.conversation(ctx, conversation.ID, events.MessageRead, read)
	}
	return len(read), nil
}

func (s *ReadStateService) MarkNotificationRead(
	ctx context.Context,
	principal models.Principal,
	notificationID uuid.UUID,
) (*NotificationReadResult, error) {
	notification, changed, err := s.notificationRepo.MarkRead(ctx, notificationID, ownerFor(principal))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if changed {
		s.push.notifications(ctx, events.NotificationRead, *notification)
	}
	return &NotificationReadResult{Notification: notification, Changed: changed}, nil
}

// MarkAllNotificationsRead runs as a single UPDATE, so a failure leaves every
// notification in scope exactly as it was.
func (s *ReadStateService) MarkAllNotificationsRead(
	ctx context.Context,
	principal models.Principal,
) (int, error) {
	read, err := s.notificationRepo.MarkAllRead(ctx, ownerFor(principal))
	if err != nil {
		return 0, err
	}

	if len(read) > 0 {
		s.push.notifications(ctx, events.NotificationsReadAll, read...)
	}
	return len(read), nil
}

func (s *ReadStateService) DeleteNotification(
	ctx context.Context,
	principal models.Principal,
	notificationID uuid.UUID,
) (*DeleteResult, error) {
	deleted, err := s.notificationRepo.Delete(ctx, notificationID, ownerFor(principal))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.push.notifications(ctx, events.NotificationDeleted, *deleted)
	return &DeleteResult{Notification: deleted, WasUnread: !deleted.Read}, nil
}

// UnreadNotifications is the derived aggregate for the principal's scope.
func (s *ReadStateService) UnreadNotifications(
	ctx context.Context,
	principal models.Principal,
) (*models.UnreadCount, error) {
	asOf := s.now()
	count, err := s.notificationRepo.CountUnread(ctx, ownerFor(principal))
	if err != nil {
		return nil, err
	}
	return &models.UnreadCount{
		Scope: scope.Resolve(principal).NotificationScope,
		Count: count,
		AsOf:  asOf,
	}, nil
}
