package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsMessage wraps an event with a sequence number so reconnecting clients can
// replay what they missed via the ?since= query parameter.
type wsMessage struct {
	Seq   uint64          `json:"seq"`
	Event json.RawMessage `json:"event"`
}

// ringBuffer holds the last N messages for replay.
type ringBuffer struct {
	mu    sync.RWMutex
	buf   []wsMessage
	size  int
	start int
	count int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{buf: make([]wsMessage, size), size: size}
}

func (r *ringBuffer) add(msg wsMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.start + r.count) % r.size
	if r.count == r.size {
		r.start = (r.start + 1) % r.size
		r.count--
	}
	r.buf[idx] = msg
	r.count++
}

func (r *ringBuffer) getSince(since uint64) []wsMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []wsMessage
	for i := 0; i < r.count; i++ {
		msg := r.buf[(r.start+i)%r.size]
		if msg.Seq > since {
			out = append(out, msg)
		}
	}
	return out
}

// wsClient is a single subscriber connection.
type wsClient struct {
	conn *websocket.Conn
	send chan wsMessage
}

// WSHub broadcasts engine events to WebSocket subscribers and implements
// Sink. Slow clients are disconnected rather than allowed to apply
// backpressure.
type WSHub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	replay   *ringBuffer
	seq      atomic.Uint64
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWSHub creates a hub whose replay buffer keeps the last replayDepth events.
func NewWSHub(replayDepth int, logger *zap.Logger) *WSHub {
	if replayDepth <= 0 {
		replayDepth = 256
	}
	return &WSHub{
		clients: make(map[*wsClient]struct{}),
		replay:  newRingBuffer(replayDepth),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Publish implements Sink: fan the event out to every connected client.
func (h *WSHub) Publish(_ context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := wsMessage{Seq: h.seq.Add(1), Event: raw}
	h.replay.add(msg)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			// Client cannot keep up; it drops the message and can catch up
			// later through the replay buffer.
		}
	}
	return nil
}

// ServeHTTP upgrades the request and streams events; ?since=<seq> replays
// missed messages first.
func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// Buffer covers a full replay so the pre-writeLoop enqueue below never blocks.
	client := &wsClient{conn: conn, send: make(chan wsMessage, h.replay.size+64)}

	// Register before replaying, with both under the hub lock so Publish
	// cannot slip an event between the replay snapshot and registration.
	// An event already in the replay buffer but still waiting on the lock
	// inside Publish is delivered twice; writeLoop drops it by seq.
	h.mu.Lock()
	h.clients[client] = struct{}{}
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if since, err := strconv.ParseUint(sinceStr, 10, 64); err == nil {
			for _, msg := range h.replay.getSince(since) {
				client.send <- msg
			}
		}
	}
	h.mu.Unlock()

	go h.writeLoop(client)
	go h.readLoop(client)
}

func (h *WSHub) writeLoop(client *wsClient) {
	defer client.conn.Close()
	var lastSeq uint64
	for msg := range client.send {
		if msg.Seq <= lastSeq {
			continue
		}
		lastSeq = msg.Seq
		if err := client.conn.WriteJSON(msg); err != nil {
			h.remove(client)
			return
		}
	}
}

// readLoop discards inbound frames and tears the client down on error.
func (h *WSHub) readLoop(client *wsClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *WSHub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		// Closing send lets writeLoop drain and exit. Publish only sends to
		// clients still in the map, so no send can race the close.
		close(client.send)
		client.conn.Close()
	}
}

// Close disconnects every client.
func (h *WSHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		client.conn.Close()
	}
	return nil
}
