package inboxclient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MutationError wraps a failed write. The caches were not touched
// optimistically, so nothing needs rolling back; the affected keys are
// refreshed regardless so counters cannot drift.
type MutationError struct {
	Op  string
	Err error
}

func (e *MutationError) Error() string {
	return "inboxclient: " + e.Op + ": " + e.Err.Error()
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// SendMessage posts to a conversation. An empty id means the member's own
// thread.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*ChatMessage, error) {
	conversationID = c.conversationID(conversationID)
	message, err := c.transport.sendMessage(ctx, conversationID, content)
	if err != nil {
		return nil, &MutationError{Op: "send message", Err: err}
	}

	c.messages.Push(conversationID, *message)
	c.refreshMessages(conversationID)
	c.refreshConversations()
	return message, nil
}

// MarkMessageRead marks one message read for the caller's side.
func (c *Client) MarkMessageRead(ctx context.Context, messageID uuid.UUID) (*ChatMessage, error) {
	message, _, err := c.transport.markMessageRead(ctx, messageID)
	if err != nil {
		c.refreshConversations()
		return nil, &MutationError{Op: "mark message read", Err: err}
	}

	c.messages.Push(message.ConversationID, *message)
	c.refreshMessages(message.ConversationID)
	c.refreshConversations()
	return message, nil
}

// MarkConversationRead marks everything the caller received in a thread as
// read and returns how many messages changed.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) (int, error) {
	conversationID = c.conversationID(conversationID)
	read, err := c.transport.markConversationRead(ctx, conversationID)
	c.refreshMessages(conversationID)
	c.refreshConversations()
	if err != nil {
		return 0, &MutationError{Op: "mark conversation read", Err: err}
	}
	return read, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	notification, _, err := c.transport.markNotificationRead(ctx, c.scope, id)
	if err != nil {
		c.refreshNotifications()
		c.refreshUnread()
		return nil, &MutationError{Op: "mark notification read", Err: err}
	}

	c.notifications.Push(c.scope.NotificationScope, *notification)
	c.refreshNotifications()
	c.refreshUnread()
	return notification, nil
}

// MarkAllNotificationsRead flips every unread notification of the scope.
// The aggregate is refetched even when the call fails, since the server may
// have applied part of it.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	read, err := c.transport.markAllNotificationsRead(ctx, c.scope)
	c.refreshNotifications()
	c.refreshUnread()
	if err != nil {
		return 0, &MutationError{Op: "mark all notifications read", Err: err}
	}
	return read, nil
}

// DeleteNotification removes a notification and reports whether it was
// still unread.
func (c *Client) DeleteNotification(ctx context.Context, id uuid.UUID) (bool, error) {
	wasUnread, err := c.transport.deleteNotification(ctx, c.scope, id)
	if err != nil {
		c.refreshNotifications()
		c.refreshUnread()
		return false, &MutationError{Op: "delete notification", Err: err}
	}

	c.notifications.Remove(c.scope.NotificationScope, id.String(), time.Now())
	c.refreshNotifications()
	c.refreshUnread()
	return wasUnread, nil
}
