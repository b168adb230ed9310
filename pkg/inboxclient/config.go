package inboxclient

import (
	"strings"
	"time"
)

// Config controls how fresh each kind of data is kept and how the client
// talks to the server. Zero values fall back to the defaults below.
type Config struct {
	BaseURL string
	Token   string

	// Freshness tiers. A value older than its TTL is served immediately and
	// refreshed in the background.
	ConversationsTTL time.Duration
	MessagesTTL      time.Duration
	NotificationsTTL time.Duration

	// MessagePageSize is how many of the latest messages a thread read keeps.
	MessagePageSize int

	// PollInterval is how often subscribed keys are checked for staleness.
	PollInterval   time.Duration
	RequestTimeout time.Duration

	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

const (
	DefaultConversationsTTL = 8 * time.Second
	DefaultMessagesTTL      = 3 * time.Second
	DefaultNotificationsTTL = 20 * time.Second
	DefaultMessagePageSize  = 50
	DefaultPollInterval     = time.Second
	DefaultRequestTimeout   = 10 * time.Second
	DefaultReconnectMin     = time.Second
	DefaultReconnectMax     = 30 * time.Second
)

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.ConversationsTTL <= 0 {
		c.ConversationsTTL = DefaultConversationsTTL
	}
	if c.MessagesTTL <= 0 {
		c.MessagesTTL = DefaultMessagesTTL
	}
	if c.NotificationsTTL <= 0 {
		c.NotificationsTTL = DefaultNotificationsTTL
	}
	if c.MessagePageSize <= 0 {
		c.MessagePageSize = DefaultMessagePageSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = DefaultReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = DefaultReconnectMax
		if c.ReconnectMax < c.ReconnectMin {
			c.ReconnectMax = c.ReconnectMin
		}
	}
	return c
}
