package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	NotificationNewBooking        = "new_booking"
	NotificationServiceBooking    = "service_booking"
	NotificationEventRegistration = "event_registration"
	NotificationSystem            = "system"
	NotificationPayment           = "payment"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const (
	RecipientUser  = "user"
	RecipientStaff = "staff"
	RecipientAdmin = "admin"
)

func ValidNotificationType(kind string) bool {
	switch kind {
	case NotificationNewBooking, NotificationServiceBooking, NotificationEventRegistration,
		NotificationSystem, NotificationPayment:
		return true
	}
	return false
}

func ValidPriority(priority string) bool {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Notification struct {
	ID             uuid.UUID       `json:"id"`
	RecipientScope string          `json:"recipient_scope"`
	RecipientID    *string         `json:"recipient_id,omitempty"`
	Type           string          `json:"type"`
	Priority       string          `json:"priority"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	ActionRequired bool            `json:"action_required"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Read           bool            `json:"read"`
	ReadAt         *time.Time      `json:"read_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (n Notification) IsRead() bool {
	return n.Read || n.ReadAt != nil
}

func (n Notification) Key() string {
	return n.ID.String()
}

func (n Notification) Version() time.Time {
	if n.ReadAt != nil && n.ReadAt.After(n.CreatedAt) {
		return *n.ReadAt
	}
	return n.CreatedAt
}

type CreateNotificationInput struct {
	RecipientScope string
	RecipientID    *string
	Type           string
	Priority       string
	Title          string
	Message        string
	ActionRequired bool
	Metadata       map[string]any
	SourceEventID  *string
}

// UnreadCount is the derived aggregate for one notification scope.
type UnreadCount struct {
	Scope string    `json:"scope"`
	Count int       `json:"count"`
	AsOf  time.Time `json:"as_of"`
}

func (u UnreadCount) Key() string {
	return u.Scope
}

func (u UnreadCount) Version() time.Time {
	return u.AsOf
}
