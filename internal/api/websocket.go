package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rowanvale/heliograph/internal/infrastructure/config"
	"github.com/rowanvale/heliograph/internal/infrastructure/logging"
)

// Message types spoken on the WebSocket.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// sendQueueLen is the per-client outbound queue. At one reading per
// entry per poll cycle this covers minutes of backlog before drops.
const sendQueueLen = 256

// WSMessage is the frame exchanged with WebSocket clients in both
// directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload carries the channel list of a subscribe or
// unsubscribe request.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans events out to WebSocket clients.
//
// The poll coordinator pushes entry lifecycle changes, readings,
// realtime samples and availability flips through Broadcast; each
// client picks the channels it wants with subscribe messages
// ("entry.created", "entry.reading", "entry.availability", ...).
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subs map[string]struct{}
	mu   sync.RWMutex
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checking is the CORS middleware's job.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) register(client *wsClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client joined", "active", h.ClientCount())
}

// unregister removes the client. Only the goroutine that wins the map
// delete closes the send channel; shutdown and read-pump exits can race
// here and a double close would panic.
func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if present {
		close(client.send)
	}
	h.logger.Debug("websocket client left", "active", h.ClientCount())
}

// Broadcast delivers an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("broadcast payload not serializable", "channel", channel, "error", err)
		return
	}

	// Snapshot under the hub lock; sends happen outside it so a slow
	// client cannot stall registration.
	h.mu.RLock()
	recipients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		recipients = append(recipients, client)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range recipients {
		if client.subscribed(channel) {
			client.trySend(data)
			delivered++
		}
	}
	if delivered > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", delivered)
	}
}

// ClientCount reports how many clients are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll detaches the whole client map under the lock, then tears the
// connections down outside it. A racing unregister finds the client
// already gone from the live map and skips its close, so each send
// channel still closes exactly once.
func (h *Hub) closeAll() {
	h.mu.Lock()
	detached := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for client := range detached {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// handleWebSocket upgrades the connection after checking the one-shot
// ticket from POST /auth/ws-ticket. Browsers cannot set headers on a
// WebSocket dial, so the bearer token cannot be used directly.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "missing ticket")
		return
	}
	if !s.tickets.validate(ticket) {
		writeUnauthorized(w, "ticket expired or already used")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade rejected", "error", err)
		return
	}

	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, sendQueueLen),
		subs: make(map[string]struct{}),
	}
	s.hub.register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// wsDeadlines derives the pump deadlines from config once instead of
// recomputing them per message.
type wsDeadlines struct {
	ping time.Duration
	pong time.Duration
}

func deadlinesFrom(cfg config.WebSocketConfig) wsDeadlines {
	return wsDeadlines{
		ping: time.Duration(cfg.PingInterval) * time.Second,
		pong: time.Duration(cfg.PongTimeout) * time.Second,
	}
}

// readWait is the silence budget: one ping interval plus the grace the
// client has to answer it.
func (d wsDeadlines) readWait() time.Duration { return d.ping + d.pong }

func (c *wsClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	d := deadlinesFrom(cfg)
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // best-effort deadline on setup
	c.conn.SetReadDeadline(time.Now().Add(d.readWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(d.readWait()))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("abnormal websocket close", "error", err)
			} else {
				c.hub.logger.Debug("websocket client gone", "error", err)
			}
			return
		}
		// Any traffic proves the client alive, not just pongs; browsers
		// cannot always answer protocol-level pings.
		//nolint:errcheck // best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(d.readWait()))
		c.dispatch(data)
	}
}

func (c *wsClient) writePump(cfg config.WebSocketConfig) {
	d := deadlinesFrom(cfg)
	ticker := time.NewTicker(d.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				// Hub closed the queue.
				//nolint:errcheck // best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(d.pong))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(d.pong))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) dispatch(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "malformed frame")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.subscribe(msg)
	case WSTypeUnsubscribe:
		c.unsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unsupported message type: "+msg.Type)
	}
}

// decodeChannels extracts the channel list from a subscribe or
// unsubscribe payload. The payload arrives as already-decoded JSON, so
// it takes a marshal round trip to land in the typed struct.
func decodeChannels(payload any) ([]string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, err
	}
	return sub.Channels, nil
}

func (c *wsClient) subscribe(msg WSMessage) {
	channels, err := decodeChannels(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		c.subs[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed", "channels", channels)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"subscribed": channels})
}

func (c *wsClient) unsubscribe(msg WSMessage) {
	channels, err := decodeChannels(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subs, ch)
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
}

// trySend drops the message when the client's queue is full or already
// closed; a stalled browser must not hold up a poll cycle.
func (c *wsClient) trySend(data []byte) {
	defer func() { _ = recover() }()

	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

// sendResponse routes through trySend so replies are safe against a
// concurrent disconnect.
func (c *wsClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *wsClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
