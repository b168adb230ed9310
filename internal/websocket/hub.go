package chatws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/seabreeze-yc/clubinbox/internal/events"
	"github.com/seabreeze-yc/clubinbox/internal/models"
	"github.com/seabreeze-yc/clubinbox/internal/services"
	"github.com/seabreeze-yc/clubinbox/pkg/scope"
)

const sendTimeout = 10 * time.Second

type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan events.Envelope
	done       chan struct{}
	logger     *log.Logger
}

type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	principal models.Principal
	staff     bool
	send      chan []byte

	mu     sync.Mutex
	closed bool
}

type sender interface {
	SendMessage(
		ctx context.Context,
		principal models.Principal,
		conversationID string,
		content string,
	) (*services.ChatDelivery, error)
}

// frame is both the error frame we write and the pong reply.
type frame struct {
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan events.Envelope, 64),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, principal models.Principal) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		principal: principal,
		staff:     scope.IsStaff(principal.Role),
		send:      make(chan []byte, 32),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for userID, set := range h.clients {
				for client := range set {
					client.close()
				}
				delete(h.clients, userID)
			}
			return
		case client := <-h.register:
			set, ok := h.clients[client.principal.UserID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.principal.UserID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			h.remove(client)
		case envelope := <-h.broadcast:
			h.deliver(envelope)
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Deliver queues an envelope for the connected audience. It satisfies
// events.Deliverer.
func (h *Hub) Deliver(envelope events.Envelope) {
	select {
	case h.broadcast <- envelope:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) {
	set, ok := h.clients[client.principal.UserID]
	if !ok {
		return
	}
	if _, exists := set[client]; exists {
		delete(set, client)
		client.close()
	}
	if len(set) == 0 {
		delete(h.clients, client.principal.UserID)
	}
}

func (h *Hub) deliver(envelope events.Envelope) {
	encoded, err := json.Marshal(envelope.Event)
	if err != nil {
		h.logger.Error("chat hub encode event", "type", envelope.Event.Type, "err", err)
		return
	}

	targets := make(map[*Client]struct{})
	for _, userID := range envelope.Audience.UserIDs {
		for client := range h.clients[userID] {
			targets[client] = struct{}{}
		}
	}
	if envelope.Audience.Staff {
		for _, set := range h.clients {
			for client := range set {
				if client.staff {
					targets[client] = struct{}{}
				}
			}
		}
	}

	for client := range targets {
		if !client.enqueue(encoded) {
			// slow consumer; it falls back to polling until it reconnects
			h.remove(client)
		}
	}
}

// enqueue never blocks and never writes to a closed channel.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) ReadPump(service sender) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var incoming struct {
			Type           string `json:"type"`
			ConversationID string `json:"conversation_id"`
			Content        string `json:"content"`
		}
		if err := json.Unmarshal(payload, &incoming); err != nil {
			writeFrame(c, "error", "invalid message payload")
			continue
		}

		switch incoming.Type {
		case "ping":
			writeFrame(c, "pong", "")
		case "message":
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			_, err := service.SendMessage(ctx, c.principal, incoming.ConversationID, incoming.Content)
			cancel()
			if err != nil {
				writeFrame(c, "error", "failed to send message")
			}
		default:
			writeFrame(c, "error", "unsupported message type")
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func writeFrame(client *Client, kind, content string) {
	payload, err := json.Marshal(frame{
		Type:      kind,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if !client.enqueue(payload) {
		client.hub.Unregister(client)
	}
}
