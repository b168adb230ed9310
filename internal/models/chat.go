package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ConversationActive   = "active"
	ConversationPending  = "pending"
	ConversationResolved = "resolved"
)

func ValidConversationStatus(status string) bool {
	switch status {
	case ConversationActive, ConversationPending, ConversationResolved:
		return true
	}
	return false
}

// Conversation is a member thread. StaffID is nil while the thread belongs to
// the open staff/admin pool.
type Conversation struct {
	ID                  string    `json:"id"`
	MemberID            string    `json:"member_id"`
	StaffID             *string   `json:"staff_id,omitempty"`
	LastMessage         *string   `json:"last_message,omitempty"`
	LastMessageSenderID *string   `json:"last_message_sender_id,omitempty"`
	LastActivityAt      time.Time `json:"last_activity_at"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type ChatMessage struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at"`
}

func (m ChatMessage) IsRead() bool {
	return m.ReadAt != nil
}

// Key and Version let delivery code reconcile messages arriving from
// different channels.
func (m ChatMessage) Key() string {
	return m.ID.String()
}

func (m ChatMessage) Version() time.Time {
	if m.ReadAt != nil && m.ReadAt.After(m.CreatedAt) {
		return *m.ReadAt
	}
	return m.CreatedAt
}

// ConversationSummary is a conversation as seen from one side of it; the
// unread count is always computed, never stored.
type ConversationSummary struct {
	Conversation
	UnreadCount int `json:"unread_count"`
}

func (s ConversationSummary) Key() string {
	return s.ID
}

func (s ConversationSummary) Version() time.Time {
	if s.UpdatedAt.After(s.LastActivityAt) {
		return s.UpdatedAt
	}
	return s.LastActivityAt
}
