// Package inboxclient is the client side of the club inbox: it resolves what
// a principal may see, caches conversations, threads and notifications, and
// keeps them fresh from both the push channel and an interval poll. Every
// delivery is reconciled by version, so the two channels can race freely.
package inboxclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/seabreeze-yc/clubinbox/internal/events"
	"github.com/seabreeze-yc/clubinbox/internal/logging"
	"github.com/seabreeze-yc/clubinbox/pkg/scope"
	"github.com/seabreeze-yc/clubinbox/pkg/utils"
)

type Option func(*Client)

// WithHTTPClient replaces the REST client, e.g. for tests or custom TLS.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

type Client struct {
	cfg        Config
	principal  Principal
	scope      scope.Scope
	transport  *restTransport
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *log.Logger

	conversations *Cache[ConversationSummary]
	messages      *Cache[ChatMessage]
	notifications *Cache[Notification]
	unread        *Cache[UnreadCount]

	pushConnected atomic.Bool
}

func New(cfg Config, principal Principal, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:       cfg,
		principal: principal,
		scope:     scope.Resolve(principal),
		dialer:    websocket.DefaultDialer,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.transport = newRESTTransport(cfg, c.httpClient)
	c.conversations = newCache[ConversationSummary](cfg.ConversationsTTL, cfg.RequestTimeout, nil, conversationsByActivity)
	c.messages = newCache[ChatMessage](cfg.MessagesTTL, cfg.RequestTimeout, keepMessageRead, messagesAscending)
	c.notifications = newCache[Notification](cfg.NotificationsTTL, cfg.RequestTimeout, keepNotificationRead, notificationsNewestFirst)
	c.unread = newCache[UnreadCount](cfg.NotificationsTTL, cfg.RequestTimeout, nil, nil)
	return c
}

// NewFromToken derives the principal from the session token itself.
func NewFromToken(cfg Config, opts ...Option) (*Client, error) {
	claims, err := utils.PeekClaims(cfg.Token)
	if err != nil {
		return nil, err
	}
	return New(cfg, Principal{UserID: claims.UserID, Role: claims.Role}, opts...), nil
}

func (c *Client) Scope() scope.Scope {
	return c.scope
}

// PushConnected reports whether the websocket is currently up. When it is
// not, data still arrives through the poll.
func (c *Client) PushConnected() bool {
	return c.pushConnected.Load()
}

// Run keeps watched keys fresh until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	url, err := pushURL(c.cfg.BaseURL, c.scope.PushPath)
	if err != nil {
		return err
	}

	listener := &pushListener{
		url:     url,
		token:   c.cfg.Token,
		dialer:  c.dialer,
		min:     c.cfg.ReconnectMin,
		max:     c.cfg.ReconnectMax,
		onEvent: c.applyEvent,
		onConnect: func() {
			c.pushConnected.Store(true)
			c.logger.Debug("push connected")
			c.refreshAll()
		},
		onDisconnect: func(err error) {
			c.pushConnected.Store(false)
			c.logger.Debug("push disconnected, polling only", "err", err)
		},
		logger: c.logger,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		listener.run(ctx)
	}()
	go func() {
		defer wg.Done()
		c.poll(ctx)
	}()
	wg.Wait()
	return nil
}

// conversationID maps the empty id to the member's own thread.
func (c *Client) conversationID(id string) string {
	if id == "" {
		return c.scope.ConversationKey
	}
	return id
}

func (c *Client) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	return c.conversations.Get(ctx, c.scope.ConversationsPath, c.loadConversations)
}

func (c *Client) Messages(ctx context.Context, conversationID string) ([]ChatMessage, error) {
	conversationID = c.conversationID(conversationID)
	return c.messages.Get(ctx, conversationID, c.loadMessages(conversationID))
}

func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	return c.notifications.Get(ctx, c.scope.NotificationScope, c.loadNotifications)
}

func (c *Client) UnreadCount(ctx context.Context) (UnreadCount, error) {
	view, err := c.unread.Get(ctx, c.scope.NotificationScope, c.loadUnread)
	if err != nil {
		return UnreadCount{}, err
	}
	return firstUnread(view, c.scope.NotificationScope), nil
}

// WatchConversations calls fn with the conversation list whenever it changes.
// The returned func stops the watch; in-flight reads still land in the cache.
func (c *Client) WatchConversations(fn func([]ConversationSummary)) func() {
	key := c.scope.ConversationsPath
	return c.watch(c.conversations.Subscribe(key, fn), func() {
		_, _ = c.conversations.Get(context.Background(), key, c.loadConversations)
	})
}

func (c *Client) WatchMessages(conversationID string, fn func([]ChatMessage)) func() {
	key := c.conversationID(conversationID)
	return c.watch(c.messages.Subscribe(key, fn), func() {
		_, _ = c.messages.Get(context.Background(), key, c.loadMessages(key))
	})
}

func (c *Client) WatchNotifications(fn func([]Notification)) func() {
	key := c.scope.NotificationScope
	return c.watch(c.notifications.Subscribe(key, fn), func() {
		_, _ = c.notifications.Get(context.Background(), key, c.loadNotifications)
	})
}

func (c *Client) WatchUnreadCount(fn func(UnreadCount)) func() {
	key := c.scope.NotificationScope
	unsubscribe := c.unread.Subscribe(key, func(view []UnreadCount) {
		fn(firstUnread(view, key))
	})
	return c.watch(unsubscribe, func() {
		_, _ = c.unread.Get(context.Background(), key, c.loadUnread)
	})
}

func (c *Client) watch(unsubscribe func(), prime func()) func() {
	go prime()
	return unsubscribe
}

func firstUnread(view []UnreadCount, key string) UnreadCount {
	if len(view) == 0 {
		return UnreadCount{Scope: key}
	}
	return view[0]
}

// emptyIfUnauthorized turns an expired session into an empty snapshot so
// watchers render nothing instead of failing.
func emptyIfUnauthorized[T Unit](snapshot Snapshot[T], err error) (Snapshot[T], error) {
	if errors.Is(err, ErrUnauthorized) {
		return Snapshot[T]{AsOf: time.Now().UTC()}, nil
	}
	return snapshot, err
}

func (c *Client) loadConversations(ctx context.Context) (Snapshot[ConversationSummary], error) {
	return emptyIfUnauthorized[ConversationSummary](c.transport.conversations(ctx, c.scope))
}

func (c *Client) loadMessages(conversationID string) Loader[ChatMessage] {
	return func(ctx context.Context) (Snapshot[ChatMessage], error) {
		return emptyIfUnauthorized[ChatMessage](c.transport.messages(ctx, conversationID, c.cfg.MessagePageSize))
	}
}

// loadNotifications also feeds the aggregate, since the list response
// carries the unread count of the same read.
func (c *Client) loadNotifications(ctx context.Context) (Snapshot[Notification], error) {
	page, err := c.transport.notifications(ctx, c.scope)
	if errors.Is(err, ErrUnauthorized) {
		return emptyIfUnauthorized(Snapshot[Notification]{}, err)
	}
	if err != nil {
		return Snapshot[Notification]{}, err
	}
	c.unread.Push(c.scope.NotificationScope, page.Unread)
	return page.Snapshot, nil
}

func (c *Client) loadUnread(ctx context.Context) (Snapshot[UnreadCount], error) {
	count, err := c.transport.unreadCount(ctx, c.scope)
	if errors.Is(err, ErrUnauthorized) {
		now := time.Now().UTC()
		return Snapshot[UnreadCount]{
			Items: []UnreadCount{{Scope: c.scope.NotificationScope, AsOf: now}},
			AsOf:  now,
		}, nil
	}
	if err != nil {
		return Snapshot[UnreadCount]{}, err
	}
	return Snapshot[UnreadCount]{Items: []UnreadCount{count}, AsOf: count.AsOf}, nil
}

func (c *Client) refreshConversations() {
	c.conversations.Refresh(c.scope.ConversationsPath, c.loadConversations)
}

func (c *Client) refreshMessages(conversationID string) {
	c.messages.Refresh(conversationID, c.loadMessages(conversationID))
}

func (c *Client) refreshNotifications() {
	c.notifications.Refresh(c.scope.NotificationScope, c.loadNotifications)
}

func (c *Client) refreshUnread() {
	c.unread.Refresh(c.scope.NotificationScope, c.loadUnread)
}

// refreshAll closes whatever gap a reconnect may have left.
func (c *Client) refreshAll() {
	for _, key := range c.conversations.ObservedKeys() {
		c.conversations.Refresh(key, c.loadConversations)
	}
	for _, key := range c.messages.ObservedKeys() {
		c.refreshMessages(key)
	}
	for _, key := range c.notifications.ObservedKeys() {
		c.notifications.Refresh(key, c.loadNotifications)
	}
	for _, key := range c.unread.ObservedKeys() {
		c.unread.Refresh(key, c.loadUnread)
	}
}

// applyEvent merges a push event. Events only ever add information; the
// caches decide by version whether it is new.
func (c *Client) applyEvent(event events.Event) {
	switch event.Type {
	case events.MessageCreated, events.MessageRead, events.ConversationUpdated:
		for _, message := range event.Messages {
			c.messages.PushTracked(message.ConversationID, message)
		}
		if event.Conversation != nil && c.scope.CanSeeConversation(event.Conversation.ID) {
			c.conversations.Push(c.scope.ConversationsPath, *event.Conversation)
		}
	case events.NotificationCreated, events.NotificationRead, events.NotificationsReadAll:
		if event.Scope != "" && event.Scope != c.scope.NotificationScope {
			return
		}
		c.notifications.Push(c.scope.NotificationScope, event.Notifications...)
		c.refreshUnread()
	case events.NotificationDeleted:
		if event.Scope != "" && event.Scope != c.scope.NotificationScope {
			return
		}
		at := event.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		for _, notification := range event.Notifications {
			c.notifications.Remove(c.scope.NotificationScope, notification.Key(), at)
		}
		c.refreshUnread()
	default:
		c.logger.Debug("push event ignored", "type", event.Type)
	}
}
