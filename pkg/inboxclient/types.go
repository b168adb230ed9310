package inboxclient

import "github.com/seabreeze-yc/clubinbox/internal/models"

// The wire types the client hands out. They are aliases of the server's own
// models, so a value read here is exactly what the server wrote.
type (
	Principal           = models.Principal
	Conversation        = models.Conversation
	ConversationSummary = models.ConversationSummary
	ChatMessage         = models.ChatMessage
	Notification        = models.Notification
	UnreadCount         = models.UnreadCount
)
