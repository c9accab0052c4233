package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"scriptgate/internal/entitlement"
	"scriptgate/internal/infrastructure"
	"scriptgate/pkg/contracts/events"
)

// TypeConnection is sent to each client right after it registers.
const TypeConnection = events.MessageTypeConnection

const broadcastBuffer = 256

// envelope is an encoded event addressed to one identity.
type envelope struct {
	userID  string
	payload []byte
}

// Message is the JSON frame sent to subscribers.
type Message = events.Message

// Hub fans entitlement events out to connected websocket clients. Each event
// is delivered only to the clients subscribed as the identity it concerns. It
// implements entitlement.EventPublisher; publishing never blocks the caller.
type Hub struct {
	// owned by the run loop
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope

	quit chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool

	clientCount  atomic.Int64
	messagesSent atomic.Int64
	dropped      atomic.Int64

	metrics *Metrics
	logger  *slog.Logger
}

var _ entitlement.EventPublisher = (*Hub)(nil)

// NewHub creates a hub. A nil metrics records nothing.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if metrics == nil {
		metrics = noopMetrics()
	}

	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, broadcastBuffer),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "websocket.hub")),
	}
}

// Start runs the hub loop in a goroutine. Calling it again has no effect.
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		h.started.Store(true)
		go h.run()
	})
}

// Stop closes every client and ends the hub loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
		if h.started.Load() {
			<-h.done
		}
		h.logger.Info("Hub stopped",
			slog.Int64("messages_sent", h.messagesSent.Load()),
			slog.Int64("messages_dropped", h.dropped.Load()))
	})
}

func (h *Hub) run() {
	defer close(h.done)
	ctx := context.Background()

	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				h.remove(ctx, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.clientCount.Store(int64(len(h.clients)))
			h.metrics.ConnectionsTotal.Add(ctx, 1)
			h.metrics.ConnectionsActive.Add(ctx, 1)

			h.logger.InfoContext(client.context(), "Client registered",
				slog.Int("total_clients", len(h.clients)),
				slog.String("client_id", client.id),
				slog.String("user_id", client.userID),
				slog.String("remote_addr", client.remoteAddr))

			if data, err := json.Marshal(Message{
				Type: TypeConnection,
				Data: map[string]interface{}{
					"status":    "connected",
					"client_id": client.id,
				},
				Timestamp: entitlement.Millis(client.connectedAt),
			}); err == nil {
				select {
				case client.send <- data:
				default:
				}
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(ctx, client)
				h.logger.InfoContext(client.context(), "Client unregistered",
					slog.Int("total_clients", len(h.clients)),
					slog.String("client_id", client.id))
			}

		case env := <-h.broadcast:
			for client := range h.clients {
				if client.userID != env.userID {
					continue
				}
				select {
				case client.send <- env.payload:
					h.messagesSent.Add(1)
					h.metrics.MessagesSent.Add(ctx, 1)
				default:
					h.remove(ctx, client)
					h.dropped.Add(1)
					h.metrics.MessagesDropped.Add(ctx, 1)
					h.logger.WarnContext(client.context(), "Client send buffer full, disconnecting",
						slog.String("client_id", client.id))
				}
			}
		}
	}
}

// remove must only be called from the run loop.
func (h *Hub) remove(ctx context.Context, client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.clientCount.Store(int64(len(h.clients)))
	h.metrics.ConnectionsActive.Add(ctx, -1)
}

// Register adds client. It returns false once the hub is stopping.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes client and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Publish implements entitlement.EventPublisher. The event reaches only
// clients subscribed as ev.UserID. Events are dropped when the broadcast
// queue is full.
func (h *Hub) Publish(ctx context.Context, ev entitlement.Event) {
	data := make(map[string]interface{}, len(ev.Data)+1)
	for k, v := range ev.Data {
		data[k] = v
	}
	data["user_id"] = ev.UserID

	payload, err := json.Marshal(Message{
		Type:      ev.Type,
		Data:      data,
		Timestamp: entitlement.Millis(ev.At),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "Error marshaling event",
			slog.String("event_type", ev.Type),
			slog.String("error", err.Error()))
		return
	}

	select {
	case <-h.quit:
		return
	default:
	}

	select {
	case h.broadcast <- envelope{userID: ev.UserID, payload: payload}:
	default:
		h.dropped.Add(1)
		h.metrics.MessagesDropped.Add(ctx, 1)
		h.logger.WarnContext(ctx, "Broadcast queue full, event dropped",
			slog.String("event_type", ev.Type))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// Stats returns hub counters.
func (h *Hub) Stats() map[string]int64 {
	return map[string]int64{
		"active_clients":   h.clientCount.Load(),
		"messages_sent":    h.messagesSent.Load(),
		"messages_dropped": h.dropped.Load(),
	}
}
