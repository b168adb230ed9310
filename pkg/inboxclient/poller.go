package inboxclient

import (
	"context"
	"time"
)

// poll refreshes every watched key that outlived its TTL. It runs whether or
// not push is connected; the version rule makes the overlap harmless.
func (c *Client) poll(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) {
	for _, key := range c.conversations.ObservedKeys() {
		if c.conversations.Stale(key) {
			go c.fetchLogged(ctx, "conversations", func(ctx context.Context) error {
				_, err := c.conversations.Fetch(ctx, key, c.loadConversations)
				return err
			})
		}
	}
	for _, key := range c.messages.ObservedKeys() {
		if c.messages.Stale(key) {
			go c.fetchLogged(ctx, "messages", func(ctx context.Context) error {
				_, err := c.messages.Fetch(ctx, key, c.loadMessages(key))
				return err
			})
		}
	}
	for _, key := range c.notifications.ObservedKeys() {
		if c.notifications.Stale(key) {
			go c.fetchLogged(ctx, "notifications", func(ctx context.Context) error {
				_, err := c.notifications.Fetch(ctx, key, c.loadNotifications)
				return err
			})
		}
	}
	for _, key := range c.unread.ObservedKeys() {
		if c.unread.Stale(key) {
			go c.fetchLogged(ctx, "unread", func(ctx context.Context) error {
				_, err := c.unread.Fetch(ctx, key, c.loadUnread)
				return err
			})
		}
	}
}

// fetchLogged keeps poll failures quiet: the last good value stays cached
// and the next tick tries again.
func (c *Client) fetchLogged(ctx context.Context, kind string, fetch func(context.Context) error) {
	if err := fetch(ctx); err != nil && ctx.Err() == nil {
		c.logger.Debug("poll refresh failed", "kind", kind, "err", err)
	}
}
