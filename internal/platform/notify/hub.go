// Package notify pushes consent lifecycle events to connected users over
// WebSockets. Delivery is best-effort: a slow or absent client never blocks
// the request path.
package notify

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Event is a real-time notification delivered to one user.
type Event struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	DataHash  string          `json:"dataHash,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Notifier is the interface services use to push events. *Hub satisfies it;
// tests substitute a recorder.
type Notifier interface {
	Notify(userID int64, event Event)
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a single WebSocket connection belonging to one user.
type Client struct {
	ID     string
	UserID int64
	Send   chan []byte
	conn   Conn
}

// Hub tracks connected clients per user id. All operations are thread-safe.
type Hub struct {
	mu     sync.RWMutex
	byUser map[int64]map[*Client]struct{}
	all    map[*Client]struct{}
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		byUser: make(map[int64]map[*Client]struct{}),
		all:    make(map[*Client]struct{}),
		logger: logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	if h.byUser[client.UserID] == nil {
		h.byUser[client.UserID] = make(map[*Client]struct{})
	}
	h.byUser[client.UserID][client] = struct{}{}
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	if clients, ok := h.byUser[client.UserID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.byUser, client.UserID)
		}
	}

	delete(h.all, client)
	close(client.Send)
}

// Notify sends an event to every connection the user currently holds.
func (h *Hub) Notify(userID int64, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", event.Type).Msg("marshal notification")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.byUser[userID] {
		select {
		case client.Send <- data:
		default:
			// Client buffer full; skip to avoid blocking.
		}
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// UserConnectionCount returns the number of connections one user holds.
func (h *Hub) UserConnectionCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler handles HTTP-to-WebSocket upgrades.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes registers the WebSocket endpoint on the provided group. The
// group is expected to carry the JWT middleware; the connection is bound to
// the authenticated user.
func (wh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wh.HandleConnect)
}

// HandleConnect upgrades an HTTP connection to WebSocket, registers the
// client with the hub, and starts read/write pumps.
func (wh *Handler) HandleConnect(c echo.Context) error {
	userID, _ := c.Get("user_id").(int64)
	if userID <= 0 {
		// Fallback for unauthenticated dev connections.
		userID, _ = strconv.ParseInt(c.QueryParam("userId"), 10, 64)
	}
	if userID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "user id required")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Send:   make(chan []byte, 256),
		conn:   &gorillaConnAdapter{ws},
	}

	wh.hub.Register(client)

	go wh.writePump(client, ws)
	go wh.readPump(client, ws)

	return nil
}

// readPump drains inbound messages; clients send nothing meaningful, but the
// read loop detects disconnects.
func (wh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wh.hub.Unregister(client)
		ws.Close()
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump writes messages from the Send channel to the connection.
func (wh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy Conn.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
