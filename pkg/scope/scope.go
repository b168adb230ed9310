// Package scope decides what a principal is allowed to see and where that
// data lives. Server handlers, the push hub and the client library all call
// Resolve so that every surface agrees on the same collection.
package scope

import (
	"fmt"
	"strings"

	"github.com/seabreeze-yc/clubinbox/internal/models"
)

type Visibility string

const (
	// Self limits the principal to its own thread and notifications.
	Self Visibility = "SELF"
	// All is the staff/admin view over every conversation.
	All Visibility = "ALL"
)

const (
	ConversationsPath       = "/api/v1/conversations"
	MessagesRootPath        = "/api/v1/messages"
	MemberNotificationsPath = "/api/v1/notifications"
	StaffNotificationsPath  = "/api/v1/staff/notifications"
	PushPath                = "/api/v1/ws"

	// StaffNotificationScope is shared by every staff sub-role and admin.
	StaffNotificationScope = "staff"
)

type Scope struct {
	Visibility        Visibility
	ConversationsPath string
	NotificationsPath string
	NotificationScope string
	PushPath          string

	// ConversationKey is set only for SELF scopes.
	ConversationKey string
}

// IsStaff reports whether a role gets the pool view. Any role that starts
// with "staff" counts, so sub-roles like "staff_manager" route like admin.
func IsStaff(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	return role == "admin" || strings.HasPrefix(role, "staff")
}

// MemberConversationKey is the synthetic id of a member's thread with the
// club. It is derived, never stored separately.
func MemberConversationKey(memberID string) string {
	return fmt.Sprintf("user_%s_admin", memberID)
}

// MemberFromConversationKey is the inverse of MemberConversationKey.
func MemberFromConversationKey(key string) (string, bool) {
	if !strings.HasPrefix(key, "user_") || !strings.HasSuffix(key, "_admin") {
		return "", false
	}
	memberID := strings.TrimSuffix(strings.TrimPrefix(key, "user_"), "_admin")
	if memberID == "" {
		return "", false
	}
	return memberID, true
}

func MemberNotificationScope(memberID string) string {
	return "user:" + memberID
}

func Resolve(principal models.Principal) Scope {
	if IsStaff(principal.Role) {
		return Scope{
			Visibility:        All,
			ConversationsPath: ConversationsPath,
			NotificationsPath: StaffNotificationsPath,
			NotificationScope: StaffNotificationScope,
			PushPath:          PushPath,
		}
	}

	key := MemberConversationKey(principal.UserID)
	return Scope{
		Visibility:        Self,
		ConversationsPath: ConversationsPath,
		ConversationKey:   key,
		NotificationsPath: MemberNotificationsPath,
		NotificationScope: MemberNotificationScope(principal.UserID),
		PushPath:          PushPath,
	}
}

// MessagesPath is the thread endpoint for a conversation id.
func MessagesPath(conversationID string) string {
	return ConversationsPath + "/" + conversationID + "/messages"
}

// MessageReadPath marks one message read, whatever thread it is in.
func MessageReadPath(messageID string) string {
	return MessagesRootPath + "/" + messageID + "/read"
}

// CanSeeConversation is the visibility check used on every conversation read
// and write.
func (s Scope) CanSeeConversation(conversationID string) bool {
	if s.Visibility == All {
		return true
	}
	return conversationID != "" && conversationID == s.ConversationKey
}
