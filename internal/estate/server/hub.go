package server

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// MessageType defines the type of a broadcast message.
type MessageType string

const (
	// MessageTypeWelcome is sent once to each client on connect, carrying
	// the current dashboard.
	MessageTypeWelcome MessageType = "welcome"

	// MessageTypeRecordChange indicates a record was created, updated or
	// deleted through the API.
	MessageTypeRecordChange MessageType = "record_change"

	// MessageTypeSyncComplete indicates a reconcile run finished.
	MessageTypeSyncComplete MessageType = "sync_complete"
)

// Message is what clients receive on /ws.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RecordChangeData describes one change made through the API.
type RecordChangeData struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Action string `json:"action"` // created, updated, deleted
}

// DefaultHistorySize is how many broadcast messages a Hub remembers.
const DefaultHistorySize = 500

// Change is one remembered broadcast. Seq increases by one per message, so
// clients can tell whether they missed any.
type Change struct {
	Seq uint64 `json:"seq"`
	Message
}

// Hub fans messages out to connected WebSocket clients and keeps the most
// recent ones as change history.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu stdsync.RWMutex

	broadcast chan Message

	historyMu stdsync.Mutex
	history   []Change // ring buffer
	next      int      // slot the next change is written to
	seq       uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup

	logger *zap.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHistorySize sets how many messages History can return. Values below 1
// keep the default.
func WithHistorySize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.history = make([]Change, 0, n)
		}
	}
}

// NewHub creates a hub and starts its broadcast loop. Close stops it.
func NewHub(logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		history:   make([]Change, 0, DefaultHistorySize),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// Publish marshals data into a message of type t and queues it.
func (h *Hub) Publish(t MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("failed to marshal message", zap.String("type", string(t)), zap.Error(err))
		return
	}
	h.Broadcast(Message{Type: t, Timestamp: time.Now(), Data: raw})
}

// Broadcast records msg in the history and queues it for every connected
// client. Delivery is skipped when the queue is full; the history keeps it.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	h.record(msg)

	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
		return
	default:
		h.logger.Warn("broadcast channel full, dropping message", zap.String("type", string(msg.Type)))
	}
}

func (h *Hub) record(msg Message) {
	h.historyMu.Lock()
	defer h.historyMu.Unlock()
	h.seq++
	c := Change{Seq: h.seq, Message: msg}
	if len(h.history) < cap(h.history) {
		h.history = append(h.history, c)
	} else {
		h.history[h.next] = c
	}
	h.next = (h.next + 1) % cap(h.history)
}

// History returns up to limit of the most recent messages, oldest first.
// A limit below 1 returns everything remembered.
func (h *Hub) History(limit int) []Change {
	h.historyMu.Lock()
	defer h.historyMu.Unlock()

	n := len(h.history)
	if limit < 1 || limit > n {
		limit = n
	}
	out := make([]Change, 0, limit)
	// until the ring fills, next == n and the oldest entry is at 0
	oldest := 0
	if n == cap(h.history) {
		oldest = h.next
	}
	for i := n - limit; i < n; i++ {
		out = append(out, h.history[(oldest+i)%n])
	}
	return out
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg := <-h.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Warn("failed to marshal message", zap.Error(err))
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			// written outside the lock so a slow client does not block
			// registration
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.logger.Debug("failed to send to client", zap.Error(err))
					h.remove(conn)
				}
			}
		}
	}
}

// Serve registers conn, sends welcome and blocks reading until the client
// goes away or the hub closes.
func (h *Hub) Serve(conn *websocket.Conn, welcome Message) {
	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Info("client connected", zap.Int("clients", count))

	if data, err := json.Marshal(welcome); err == nil {
		ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}

	defer h.remove(conn)
	for {
		// client messages are ignored; reading detects disconnects
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("client disconnected", zap.Int("clients", count))
}

// ClientCount returns the current number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and stops the broadcast loop.
func (h *Hub) Close() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.CloseNow()
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}
