// Package events carries push events from the services to connected
// websocket clients, either in-process or through Redis.
package events

import (
	"context"
	"time"

	"github.com/seabreeze-yc/clubinbox/internal/models"
)

const (
	ConversationUpdated  = "conversation.updated"
	MessageCreated       = "message.created"
	MessageRead          = "message.read"
	NotificationCreated  = "notification.created"
	NotificationRead     = "notification.read"
	NotificationDeleted  = "notification.deleted"
	NotificationsReadAll = "notifications.read_all"
)

// Event is what a client receives. It has the same item shapes as the REST
// read endpoints; clients treat it as a freshness hint.
type Event struct {
	Type          string                      `json:"type"`
	Scope         string                      `json:"scope,omitempty"`
	Conversation  *models.ConversationSummary `json:"conversation,omitempty"`
	Messages      []models.ChatMessage        `json:"messages,omitempty"`
	Notifications []models.Notification       `json:"notifications,omitempty"`
	Timestamp     time.Time                   `json:"timestamp"`
}

// Audience lists who should receive an event. Staff means every connected
// staff or admin session.
type Audience struct {
	UserIDs []string `json:"user_ids,omitempty"`
	Staff   bool     `json:"staff,omitempty"`
}

type Envelope struct {
	Audience Audience `json:"audience"`
	Event    Event    `json:"event"`
}

type Publisher interface {
	Publish(ctx context.Context, envelope Envelope) error
}

// Deliverer is implemented by the websocket hub.
type Deliverer interface {
	Deliver(envelope Envelope)
}

// LocalPublisher hands events straight to the hub of this process.
type LocalPublisher struct {
	hub Deliverer
}

func NewLocalPublisher(hub Deliverer) *LocalPublisher {
	return &LocalPublisher{hub: hub}
}

func (p *LocalPublisher) Publish(_ context.Context, envelope Envelope) error {
	p.hub.Deliver(envelope)
	return nil
}

// Discard drops every event. Used where no push channel exists.
type Discard struct{}

func (Discard) Publish(context.Context, Envelope) error { return nil }
