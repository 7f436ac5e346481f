package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/internal/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// Message types exchanged over the event socket. Events flow to the
// client; permission responses flow back.
const (
	TypePermissionResponse = "permission-response"
	TypeAck                = "ack"
	TypeError              = "error"
)

// ErrNoClients is returned by Emit when no UI is connected.
var ErrNoClients = errors.New("server: no event clients connected")

// Message is the websocket envelope.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PermissionResponse answers an escalated permission request.
type PermissionResponse struct {
	ID       string `json:"id"`
	OptionID string `json:"option_id"`
}

// Responder receives the human's permission decisions.
type Responder interface {
	RespondToPermission(id, optionID string) error
}

// Hub fans session events out to every connected websocket client and
// implements agentbridge.Emitter.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	responder Responder
	logger    *logger.Logger
}

// NewHub creates a Hub. Permission responses from clients go to responder,
// which may be set later with SetResponder.
func NewHub(responder Responder, log *logger.Logger) *Hub {
	return &Hub{
		clients:   make(map[*Client]struct{}),
		responder: responder,
		logger:    log.WithFields(zap.String("component", "event_hub")),
	}
}

// SetResponder sets where permission responses are delivered.
func (h *Hub) SetResponder(r Responder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responder = r
}

// Emit broadcasts an event. It fails when no client is connected, or when
// no client could take the message, so permission requests nobody can see
// are cancelled instead of waiting forever.
func (h *Hub) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("server: marshal %s: %w", event, err)
	}
	msg, err := json.Marshal(Message{Type: event, Payload: data})
	if err != nil {
		return fmt.Errorf("server: marshal envelope: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return ErrNoClients
	}
	delivered := 0
	for c := range h.clients {
		select {
		case c.send <- msg:
			delivered++
		default:
			h.logger.Warn("client send buffer full, dropping client", zap.String("client_id", c.ID))
			h.removeLocked(c)
		}
	}
	if delivered == 0 {
		return ErrNoClients
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client registered", zap.String("client_id", c.ID))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
	h.logger.Debug("client unregistered", zap.String("client_id", c.ID))
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) respond(r PermissionResponse) error {
	h.mu.RLock()
	responder := h.responder
	h.mu.RUnlock()
	if responder == nil {
		return errors.New("server: no permission responder")
	}
	return responder.RespondToPermission(r.ID, r.OptionID)
}

// Client is one websocket connection.
type Client struct {
	ID     string
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	logger *logger.Logger
}

func newClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:     id,
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, sendBufferSize),
		logger: log.WithFields(zap.String("client_id", id)),
	}
}

// readPump handles messages from the client until the connection ends.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(Message{Type: TypeError}, "invalid message format")
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg Message) {
	switch msg.Type {
	case TypePermissionResponse:
		var r PermissionResponse
		if err := json.Unmarshal(msg.Payload, &r); err != nil || r.ID == "" || r.OptionID == "" {
			c.reply(msg, "payload requires id and option_id")
			return
		}
		if err := c.hub.respond(r); err != nil {
			c.reply(msg, err.Error())
			return
		}
		c.logger.Info("permission answered", zap.String("escalation_id", r.ID), zap.String("option", r.OptionID))
		c.reply(msg, "")
	default:
		c.reply(msg, "unknown message type: "+msg.Type)
	}
}

// reply acknowledges msg, or reports errMsg when it is not empty.
func (c *Client) reply(msg Message, errMsg string) {
	out := Message{Type: TypeAck, ID: msg.ID}
	if errMsg != "" {
		out.Type = TypeError
		out.Payload, _ = json.Marshal(map[string]string{"message": errMsg})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer full")
	}
}

// writePump writes queued messages and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ agentbridge.Emitter = (*Hub)(nil)
