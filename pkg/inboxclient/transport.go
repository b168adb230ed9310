package inboxclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/seabreeze-yc/clubinbox/pkg/scope"
)

// ErrUnauthorized means the server rejected the token. Reads turn it into
// empty data; mutations report it inside a MutationError.
var ErrUnauthorized = errors.New("inboxclient: unauthorized")

// StatusError is any other non-2xx answer.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inboxclient: status %d: %s", e.StatusCode, e.Message)
}

type notificationPage struct {
	Snapshot Snapshot[Notification]
	Unread   UnreadCount
}

type restTransport struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newRESTTransport(cfg Config, httpClient *http.Client) *restTransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &restTransport{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: httpClient,
	}
}

func (t *restTransport) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	target := t.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var apiErr struct {
			Error string `json:"error"`
		}
		message := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (t *restTransport) conversations(ctx context.Context, sc scope.Scope) (Snapshot[ConversationSummary], error) {
	var body struct {
		Conversations []ConversationSummary `json:"conversations"`
		AsOf          time.Time             `json:"as_of"`
	}
	if err := t.do(ctx, http.MethodGet, sc.ConversationsPath, nil, nil, &body); err != nil {
		return Snapshot[ConversationSummary]{}, err
	}
	return Snapshot[ConversationSummary]{Items: body.Conversations, AsOf: body.AsOf}, nil
}

func (t *restTransport) messages(ctx context.Context, conversationID string, limit int) (Snapshot[ChatMessage], error) {
	query := url.Values{}
	query.Set("page", "1")
	query.Set("limit", strconv.Itoa(limit))

	var body struct {
		Messages []ChatMessage `json:"messages"`
		AsOf     time.Time     `json:"as_of"`
	}
	if err := t.do(ctx, http.MethodGet, scope.MessagesPath(url.PathEscape(conversationID)), query, nil, &body); err != nil {
		return Snapshot[ChatMessage]{}, err
	}
	return Snapshot[ChatMessage]{Items: body.Messages, AsOf: body.AsOf}, nil
}

func (t *restTransport) notifications(ctx context.Context, sc scope.Scope) (notificationPage, error) {
	var body struct {
		Notifications []Notification `json:"notifications"`
		UnreadCount   int            `json:"unread_count"`
		AsOf          time.Time      `json:"as_of"`
	}
	if err := t.do(ctx, http.MethodGet, sc.NotificationsPath, nil, nil, &body); err != nil {
		return notificationPage{}, err
	}
	return notificationPage{
		Snapshot: Snapshot[Notification]{Items: body.Notifications, AsOf: body.AsOf},
		Unread: UnreadCount{
			Scope: sc.NotificationScope,
			Count: body.UnreadCount,
			AsOf:  body.AsOf,
		},
	}, nil
}

func (t *restTransport) unreadCount(ctx context.Context, sc scope.Scope) (UnreadCount, error) {
	var count UnreadCount
	if err := t.do(ctx, http.MethodGet, sc.NotificationsPath+"/unread-count", nil, nil, &count); err != nil {
		return UnreadCount{}, err
	}
	if count.Scope == "" {
		count.Scope = sc.NotificationScope
	}
	return count, nil
}

func (t *restTransport) sendMessage(ctx context.Context, conversationID, content string) (*ChatMessage, error) {
	var body struct {
		Message ChatMessage `json:"message"`
	}
	request := map[string]string{"content": content}
	if err := t.do(ctx, http.MethodPost, scope.MessagesPath(url.PathEscape(conversationID)), nil, request, &body); err != nil {
		return nil, err
	}
	return &body.Message, nil
}

func (t *restTransport) markConversationRead(ctx context.Context, conversationID string) (int, error) {
	var body struct {
		ReadCount int `json:"read_count"`
	}
	path := scope.ConversationsPath + "/" + url.PathEscape(conversationID) + "/read"
	if err := t.do(ctx, http.MethodPatch, path, nil, nil, &body); err != nil {
		return 0, err
	}
	return body.ReadCount, nil
}

func (t *restTransport) markMessageRead(ctx context.Context, messageID uuid.UUID) (*ChatMessage, bool, error) {
	var body struct {
		Message ChatMessage `json:"message"`
		Changed bool        `json:"changed"`
	}
	if err := t.do(ctx, http.MethodPatch, scope.MessageReadPath(messageID.String()), nil, nil, &body); err != nil {
		return nil, false, err
	}
	return &body.Message, body.Changed, nil
}

func (t *restTransport) markNotificationRead(ctx context.Context, sc scope.Scope, id uuid.UUID) (*Notification, bool, error) {
	var body struct {
		Notification Notification `json:"notification"`
		Changed      bool         `json:"changed"`
	}
	path := sc.NotificationsPath + "/" + id.String() + "/read"
	if err := t.do(ctx, http.MethodPatch, path, nil, nil, &body); err != nil {
		return nil, false, err
	}
	return &body.Notification, body.Changed, nil
}

func (t *restTransport) markAllNotificationsRead(ctx context.Context, sc scope.Scope) (int, error) {
	var body struct {
		ReadCount int `json:"read_count"`
	}
	if err := t.do(ctx, http.MethodPatch, sc.NotificationsPath+"/read-all", nil, nil, &body); err != nil {
		return 0, err
	}
	return body.ReadCount, nil
}

func (t *restTransport) deleteNotification(ctx context.Context, sc scope.Scope, id uuid.UUID) (bool, error) {
	var body struct {
		WasUnread bool `json:"was_unread"`
	}
	if err := t.do(ctx, http.MethodDelete, sc.NotificationsPath+"/"+id.String(), nil, nil, &body); err != nil {
		return false, err
	}
	return body.WasUnread, nil
}
