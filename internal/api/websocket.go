package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/aclsync/internal/events"
	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/state"
)

// Websocket topics.
const (
	TopicEvents = "events"
	TopicTxns   = "txns"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Enforce same-origin for browser clients; CLI clients send no Origin.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		if host, ok := strings.CutPrefix(origin, "http://"); ok {
			return host == r.Host
		}
		if host, ok := strings.CutPrefix(origin, "https://"); ok {
			return host == r.Host
		}
		return false
	},
}

// WSMessage is a topic-based message sent to clients
type WSMessage struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// wsClient represents a connected WebSocket client with subscriptions
type wsClient struct {
	conn   *websocket.Conn
	topics map[string]bool
	send   chan []byte
}

// TxnSubscriber streams recorded transactions.
type TxnSubscriber interface {
	Subscribe(ctx context.Context) <-chan state.Txn
}

// WSManager fans hub events and journal transactions out to websocket
// clients by topic.
type WSManager struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	mutex      sync.RWMutex
	log        *logging.Logger

	sub    *events.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var allKinds = events.Mask(
	events.KindAttachPointUp, events.KindAttachPointDown,
	events.KindRulesetAdd, events.KindRulesetDelete,
	events.KindGroupAdd, events.KindGroupDelete,
	events.KindFeatureMode,
)

// NewWSManager starts a manager. hub and journal are optional sources.
func NewWSManager(hub *events.Hub, journal TxnSubscriber, logger *logging.Logger) (*WSManager, error) {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &WSManager{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		log:        logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	if hub != nil {
		// Hub handlers run synchronously; Publish never blocks.
		sub, err := hub.Subscribe(allKinds, func(ev events.Event) {
			m.Publish(TopicEvents, ev)
		})
		if err != nil {
			cancel()
			return nil, err
		}
		m.sub = sub
	}
	if journal != nil {
		txns := journal.Subscribe(ctx)
		go func() {
			for t := range txns {
				m.Publish(TopicTxns, t)
			}
		}()
	}
	go m.run()
	return m, nil
}

func (m *WSManager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			m.mutex.Lock()
			for client := range m.clients {
				delete(m.clients, client)
				close(client.send)
				client.conn.Close()
			}
			m.mutex.Unlock()
			return
		case client := <-m.register:
			m.mutex.Lock()
			m.clients[client] = true
			m.mutex.Unlock()
		case client := <-m.unregister:
			m.mutex.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
				client.conn.Close()
			}
			m.mutex.Unlock()
		}
	}
}

// Close stops the manager and disconnects every client.
func (m *WSManager) Close() {
	if m.sub != nil {
		m.sub.Cancel()
	}
	m.cancel()
	<-m.done
}

// Clients returns the number of connected clients.
func (m *WSManager) Clients() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// Publish sends a message to all clients subscribed to the given topic
func (m *WSManager) Publish(topic string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		m.log.Warn("Cannot encode websocket message", "topic", topic, "error", err)
		return
	}
	msgBytes, err := json.Marshal(WSMessage{Topic: topic, Data: raw})
	if err != nil {
		return
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for client := range m.clients {
		if client.topics[topic] {
			select {
			case client.send <- msgBytes:
			default:
				// Client buffer full, skip
			}
		}
	}
}

// readPump handles incoming messages from a client (subscriptions)
func (c *wsClient) readPump(m *WSManager) {
	defer func() {
		select {
		case m.unregister <- c:
		case <-m.ctx.Done():
		}
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Action string   `json:"action"`
			Topics []string `json:"topics"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		m.mutex.Lock()
		switch msg.Action {
		case "subscribe":
			for _, topic := range msg.Topics {
				c.topics[topic] = true
			}
		case "unsubscribe":
			for _, topic := range msg.Topics {
				delete(c.topics, topic)
			}
		}
		m.mutex.Unlock()
	}
}

// writePump sends messages to the client
func (c *wsClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// handleEventsWS upgrades the connection. Initial topics may be given as a
// comma-separated topics query parameter.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.ws == nil {
		WriteError(w, http.StatusServiceUnavailable, "Websockets not enabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Failed to upgrade websocket", "error", err)
		return
	}
	// Streams outlive the server's request write timeout.
	conn.NetConn().SetDeadline(time.Time{})

	client := &wsClient{
		conn:   conn,
		topics: make(map[string]bool),
		send:   make(chan []byte, 256),
	}
	for _, topic := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			client.topics[topic] = true
		}
	}

	select {
	case s.ws.register <- client:
	case <-s.ws.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(s.ws)
}
