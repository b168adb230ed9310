package services

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/seabreeze-yc/clubinbox/internal/events"
	"github.com/seabreeze-yc/clubinbox/internal/models"
	"github.com/seabreeze-yc/clubinbox/internal/repository"
	"github.com/seabreeze-yc/clubinbox/pkg/scope"
)

// pusher turns committed state changes into push events. Push is advisory:
// failures are logged and never fail the request.
type pusher struct {
	conversationRepo *repository.ConversationRepository
	publisher        events.Publisher
	logger           *log.Logger
	now              func() time.Time
}

// conversation publishes the member's view to the member and the pool view
// to staff, each carrying the messages that changed.
func (p *pusher) conversation(
	ctx context.Context,
	conversationID string,
	eventType string,
	messages []models.ChatMessage,
) {
	memberView, err := p.conversationRepo.GetSummary(ctx, conversationID, repository.MemberSide)
	if err != nil {
		p.logger.Warn("load member summary for push", "conversation_id", conversationID, "err", err)
		return
	}
	staffView, err := p.conversationRepo.GetSummary(ctx, conversationID, repository.StaffSide)
	if err != nil {
		p.logger.Warn("load staff summary for push", "conversation_id", conversationID, "err", err)
		return
	}

	now := p.now()
	p.publish(ctx, events.Envelope{
		Audience: events.Audience{UserIDs: []string{memberView.MemberID}},
		Event: events.Event{
			Type:         eventType,
			Scope:        scope.MemberConversationKey(memberView.MemberID),
			Conversation: memberView,
			Messages:     messages,
			Timestamp:    now,
		},
	})
	p.publish(ctx, events.Envelope{
		Audience: events.Audience{Staff: true},
		Event: events.Event{
			Type:         eventType,
			Scope:        scope.ConversationsPath,
			Conversation: staffView,
			Messages:     messages,
			Timestamp:    now,
		},
	})
}

func (p *pusher) notifications(ctx context.Context, eventType string, notifications ...models.Notification) {
	if len(notifications) == 0 {
		return
	}

	grouped := make(map[string][]models.Notification)
	audiences := make(map[string]events.Audience)
	for _, notification := range notifications {
		key, audience := notificationAudience(notification)
		grouped[key] = append(grouped[key], notification)
		audiences[key] = audience
	}

	now := p.now()
	for key, batch := range grouped {
		p.publish(ctx, events.Envelope{
			Audience: audiences[key],
			Event: events.Event{
				Type:          eventType,
				Scope:         key,
				Notifications: batch,
				Timestamp:     now,
			},
		})
	}
}

func (p *pusher) publish(ctx context.Context, envelope events.Envelope) {
	if err := p.publisher.Publish(ctx, envelope); err != nil {
		p.logger.Warn("publish push event", "type", envelope.Event.Type, "err", err)
	}
}

func notificationAudience(notification models.Notification) (string, events.Audience) {
	if notification.RecipientScope == models.RecipientUser && notification.RecipientID != nil {
		return scope.MemberNotificationScope(*notification.RecipientID),
			events.Audience{UserIDs: []string{*notification.RecipientID}}
	}
	return scope.StaffNotificationScope, events.Audience{Staff: true}
}

func sideFor(principal models.Principal) repository.Side {
	if scope.IsStaff(principal.Role) {
		return repository.StaffSide
	}
	return repository.MemberSide
}

func ownerFor(principal models.Principal) repository.NotificationOwner {
	if scope.IsStaff(principal.Role) {
		return repository.PoolOwner()
	}
	return repository.UserOwner(principal.UserID)
}
