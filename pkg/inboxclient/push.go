package inboxclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/seabreeze-yc/clubinbox/internal/events"
)

const pingInterval = 25 * time.Second

// pushListener keeps one websocket open to the server and hands every event
// to onEvent. Losing the connection is not an error for callers: the poller
// keeps data fresh until the next connect, and every connect triggers a full
// refresh through onConnect.
type pushListener struct {
	url          string
	token        string
	dialer       *websocket.Dialer
	min          time.Duration
	max          time.Duration
	onEvent      func(events.Event)
	onConnect    func()
	onDisconnect func(error)
	logger       *log.Logger
}

// pushURL turns the REST base URL into the websocket endpoint.
func pushURL(baseURL, path string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(parsed.Scheme) {
	case "https":
		parsed.Scheme = "wss"
	case "http", "":
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + path
	return parsed.String(), nil
}

func (p *pushListener) run(ctx context.Context) {
	backoff := p.min
	for {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+p.token)

		conn, _, err := p.dialer.DialContext(ctx, p.url, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Debug("push dial failed", "url", p.url, "retry_in", backoff, "err", err)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, p.max)
			continue
		}

		backoff = p.min
		if p.onConnect != nil {
			p.onConnect()
		}
		err = p.read(ctx, conn)
		if p.onDisconnect != nil {
			p.onDisconnect(err)
		}
		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
	}
}

func (p *pushListener) read(ctx context.Context, conn *websocket.Conn) error {
	var writeMu sync.Mutex
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				writeMu.Lock()
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second),
				)
				writeMu.Unlock()
				_ = conn.Close()
				return
			case <-done:
				_ = conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteJSON(map[string]string{"type": "ping"})
				writeMu.Unlock()
				if err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event events.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			p.logger.Debug("push payload ignored", "err", err)
			continue
		}
		switch event.Type {
		case "", "pong", "error":
			continue
		}
		p.onEvent(event)
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
