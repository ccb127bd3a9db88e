package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Benevox/rapidpro/internal/infrastructure"
)

// Message types sent to clients
const (
	TypeConnection     = "connection"
	TypeExportFinished = "export:finished"
)

// ErrHubStopped is returned when broadcasting on a hub that is not running
var ErrHubStopped = errors.New("websocket hub is not running")

// Message is the JSON envelope of every server message
type Message struct {
	Type      string      `json:"type"`
	Scope     string      `json:"scope,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// outbound is a payload addressed to the clients of one organization, or
// to every client when orgID is empty
type outbound struct {
	orgID   string
	payload []byte
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	clients map[*Client]bool

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *Metrics

	quit    chan struct{}
	done    chan struct{}
	running bool
}

// NewHub creates a hub; metrics may be nil
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics, _ = NewMetrics(nil)
	}

	return &Hub{
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start starts the hub loop; it is a no-op when already running
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	go h.run()
}

// Stop stops the loop and closes every client's queue
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	ctx := client.context()
	h.metrics.RecordConnection(ctx)
	h.logger.InfoContext(ctx, "Client registered",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.String("org_id", client.orgID),
		slog.String("remote_addr", client.remoteAddr))

	payload, err := encode(ctx, TypeConnection, "", map[string]string{
		"status":    "connected",
		"client_id": client.id,
		"org_id":    client.orgID,
	})
	if err != nil {
		return
	}
	select {
	case client.send <- payload:
	default:
		h.logger.WarnContext(ctx, "Failed to send connection message, client buffer full",
			slog.String("client_id", client.id))
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	ctx := client.context()
	h.metrics.RecordDisconnection(ctx, time.Since(client.connectedAt))
	h.logger.InfoContext(ctx, "Client unregistered",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.Duration("connection_duration", time.Since(client.connectedAt)))
}

// deliver queues msg on every matching client. Clients whose queue is
// full are disconnected.
func (h *Hub) deliver(msg outbound) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if msg.orgID == "" || client.orgID == msg.orgID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	ctx := context.Background()
	failed := 0
	for _, client := range targets {
		select {
		case client.send <- msg.payload:
			h.metrics.RecordSent(ctx, len(msg.payload))
		default:
			failed++
			h.metrics.RecordDropped(ctx)
			h.removeClient(client)
			h.logger.WarnContext(client.context(), "Client send buffer full, disconnecting",
				slog.String("client_id", client.id))
		}
	}

	h.logger.Debug("Broadcast delivered",
		slog.String("org_id", msg.orgID),
		slog.Int("client_count", len(targets)),
		slog.Int("fail_count", failed),
		slog.Int("message_size", len(msg.payload)))
}

// Broadcast sends a message to the clients subscribed to orgID, or to all
// clients when orgID is empty. It returns once the message is queued.
func (h *Hub) Broadcast(ctx context.Context, orgID, msgType, scope string, data interface{}) error {
	payload, err := encode(ctx, msgType, scope, data)
	if err != nil {
		return err
	}

	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return ErrHubStopped
	}

	select {
	case h.broadcast <- outbound{orgID: orgID, payload: payload}:
		return nil
	case <-h.quit:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func encode(ctx context.Context, msgType, scope string, data interface{}) ([]byte, error) {
	msg := Message{
		Type:      msgType,
		Scope:     scope,
		Data:      data,
		Timestamp: time.Now().UTC(),
		TraceID:   infrastructure.GetTraceID(ctx),
	}
	if msg.TraceID == "" {
		msg.TraceID = infrastructure.TraceIDFromContext(ctx)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msgType, err)
	}
	return payload, nil
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Metrics returns the hub's counters
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}
