package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/seabreeze-yc/clubinbox/internal/events"
	"github.com/seabreeze-yc/clubinbox/internal/models"
	"github.com/seabreeze-yc/clubinbox/internal/repository"
	"github.com/seabreeze-yc/clubinbox/pkg/scope"
)

const MaxMessageLength = 4000

type ChatService struct {
	db               Database
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	push             *pusher
	now              func() time.Time
}

type ChatDelivery struct {
	Conversation *models.Conversation
	Message      *models.ChatMessage
}

type ConversationList struct {
	Conversations []models.ConversationSummary
	AsOf          time.Time
}

type MessagePage struct {
	Messages []models.ChatMessage
	Total    int
	AsOf     time.Time
}

func NewChatService(
	db Database,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	publisher events.Publisher,
	logger *log.Logger,
) *ChatService {
	now := func() time.Time { return time.Now().UTC() }
	return &ChatService{
		db:               db,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		push: &pusher{
			conversationRepo: conversationRepo,
			publisher:        publisher,
			logger:           logger,
			now:              now,
		},
		now: now,
	}
}

func (s *ChatService) ListConversations(
	ctx context.Context,
	principal models.Principal,
) (*ConversationList, error) {
	if principal.UserID == "" {
		return nil, ErrForbidden
	}

	visible := scope.Resolve(principal)
	asOf := s.now()

	summaries, err := s.conversationRepo.ListSummaries(ctx, sideFor(principal), visible.ConversationKey)
	if err != nil {
		return nil, err
	}

	return &ConversationList{Conversations: summaries, AsOf: asOf}, nil
}

func (s *ChatService) ListMessages(
	ctx context.Context,
	principal models.Principal,
	conversationID string,
	page int,
	limit int,
) (*MessagePage, error) {
	if conversationID == "" || page <= 0 || limit <= 0 {
		return nil, ErrInvalidInput
	}
	visible := scope.Resolve(principal)
	if !visible.CanSeeConversation(conversationID) {
		return nil, ErrForbidden
	}

	asOf := s.now()
	if _, err := s.conversationRepo.GetByID(ctx, conversationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if visible.Visibility == scope.Self {
				// the member's thread exists implicitly until the first send
				return &MessagePage{Messages: []models.ChatMessage{}, AsOf: asOf}, nil
			}
			return nil, ErrNotFound
		}
		return nil, err
	}

	messages, total, err := s.messageRepo.ListByConversation(ctx, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}

	return &MessagePage{Messages: messages, Total: total, AsOf: asOf}, nil
}

func (s *ChatService) SendMessage(
	ctx context.Context,
	principal models.Principal,
	conversationID string,
	content string,
) (*ChatDelivery, error) {
	trimmed, err := normalizeContent(content)
	if err != nil {
		return nil, err
	}

	visible := scope.Resolve(principal)
	if conversationID == "" {
		conversationID = visible.ConversationKey
	}
	if conversationID == "" || !visible.CanSeeConversation(conversationID) {
		return nil, ErrForbidden
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txConversationRepo := repository.NewConversationRepository(tx)
	txMessageRepo := repository.NewMessageRepository(tx)

	fromMember := visible.Visibility == scope.Self
	if fromMember {
		if _, err := txConversationRepo.CreateOrGet(ctx, conversationID, principal.UserID); err != nil {
			return nil, err
		}
	}

	conversation, err := txConversationRepo.GetForUpdate(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	message, err := txMessageRepo.Create(ctx, &models.ChatMessage{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       principal.UserID,
		Content:        trimmed,
		CreatedAt:      nextMessageTime(s.now(), conversation.LastActivityAt),
	})
	if err != nil {
		return nil, err
	}

	if err := txConversationRepo.RecordMessage(
		ctx,
		conversationID,
		message,
		statusAfterMessage(fromMember),
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.push.conversation(ctx, conversationID, events.MessageCreated, []models.ChatMessage{*message})

	return &ChatDelivery{
		Conversation: conversation,
		Message:      message,
	}, nil
}

func (s *ChatService) UpdateStatus(
	ctx context.Context,
	principal models.Principal,
	conversationID string,
	status string,
) (*models.ConversationSummary, error) {
	if !scope.IsStaff(principal.Role) {
		return nil, ErrForbidden
	}
	if conversationID == "" || !models.ValidConversationStatus(status) {
		return nil, ErrInvalidInput
	}

	changed, err := s.conversationRepo.SetStatus(ctx, conversationID, status)
	if err != nil {
		return nil, err
	}

	summary, err := s.conversationRepo.GetSummary(ctx, conversationID, repository.StaffSide)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if changed {
		s.push.conversation(ctx, conversationID, events.ConversationUpdated, nil)
	}
	return summary, nil
}

// ResolveIdle closes active threads with no activity since idleFor ago.
func (s *ChatService) ResolveIdle(ctx context.Context, idleFor time.Duration) (int, error) {
	ids, err := s.conversationRepo.ResolveIdle(ctx, s.now().Add(-idleFor))
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.push.conversation(ctx, id, events.ConversationUpdated, nil)
	}
	return len(ids), nil
}

func normalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > MaxMessageLength {
		return "", ErrInvalidInput
	}
	return trimmed, nil
}

// nextMessageTime keeps created_at strictly increasing inside a
// conversation, at the microsecond precision Postgres stores.
func nextMessageTime(now, lastActivity time.Time) time.Time {
	candidate := now.UTC().Truncate(time.Microsecond)
	if !candidate.After(lastActivity) {
		candidate = lastActivity.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return candidate
}

// statusAfterMessage: a member writing (re)opens the thread for staff, a
// staff reply makes it active.
func statusAfterMessage(fromMember bool) string {
	if fromMember {
		return models.ConversationPending
	}
	return models.ConversationActive
}
