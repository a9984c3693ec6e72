package realtime

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"jeditr/internal/monitoring"
	"jeditr/internal/protocol"
	"jeditr/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	defaultSendBuffer = 256
)

// Hub fans session events and server notifications out to every connected
// websocket client. It keeps the recent events of each live session so that
// clients connecting late can catch up.
type Hub struct {
	log         *zap.Logger
	metrics     *monitoring.Metrics
	historySize int
	sendBuffer  int

	// mu guards clients and history together so that a client registering
	// during an Emit sees every event exactly once.
	mu      sync.Mutex
	clients map[*client]struct{}
	history map[string]*session.RingBuffer
}

// NewHub creates a hub. historySize is the number of events kept per
// session for replay; zero disables replay.
func NewHub(log *zap.Logger, metrics *monitoring.Metrics, historySize, sendBuffer int) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Hub{
		log:         log.Named("hub"),
		metrics:     metrics,
		historySize: historySize,
		sendBuffer:  sendBuffer,
		clients:     make(map[*client]struct{}),
		history:     make(map[string]*session.RingBuffer),
	}
}

// Emit implements session.Emitter.
func (h *Hub) Emit(e session.Event) {
	msg, err := eventMessage(e)
	if err != nil {
		h.log.Error("encode session event", zap.String("session_id", e.SessionID), zap.Error(err))
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal session event", zap.String("session_id", e.SessionID), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case e.Kind == session.KindExit:
		delete(h.history, e.SessionID)
	case h.historySize > 0:
		rb, ok := h.history[e.SessionID]
		if !ok {
			rb = session.NewRingBuffer(h.historySize)
			h.history[e.SessionID] = rb
		}
		rb.Write(e)
	}

	for c := range h.clients {
		h.deliver(c, data)
	}
}

// Broadcast sends msg to all connected clients.
func (h *Hub) Broadcast(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal broadcast", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.deliver(c, data)
	}
}

// OnFileUpdate is the watcher callback.
func (h *Hub) OnFileUpdate(fileCount int) {
	msg, err := protocol.NewMessage(protocol.TypeFilesUpdate, protocol.FilesUpdatePayload{
		FileCount: fileCount,
	})
	if err != nil {
		return
	}
	h.Broadcast(msg)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// register adds c, sends it the greeting messages and then replays the
// history of every live session. It must run before the client's pumps
// start, since it may grow c.send to fit the replay.
func (h *Hub) register(c *client, greeting ...*protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var backlog [][]byte
	for _, msg := range greeting {
		if msg == nil {
			continue
		}
		if data, err := json.Marshal(msg); err == nil {
			backlog = append(backlog, data)
		}
	}

	ids := make([]string, 0, len(h.history))
	for id := range h.history {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for _, e := range h.history[id].ReadAll() {
			msg, err := eventMessage(e)
			if err != nil {
				continue
			}
			if data, err := json.Marshal(msg); err == nil {
				backlog = append(backlog, data)
			}
		}
	}

	if need := len(backlog) + h.sendBuffer; cap(c.send) < need {
		c.send = make(chan []byte, need)
	}
	for _, data := range backlog {
		c.send <- data
	}

	h.clients[c] = struct{}{}
	h.metrics.ClientConnected()
	h.log.Debug("client connected", zap.String("client_id", c.id), zap.Int("replayed", len(backlog)))
}

// unregister removes c and closes its send channel. It is safe to call
// more than once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(c)
}

// send delivers msg to a single client.
func (h *Hub) send(c *client, msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.deliver(c, data)
	}
}

// deliver must be called with h.mu held. A client that cannot keep up is
// disconnected rather than handed a stream with gaps; it catches up through
// the history replay when it reconnects.
func (h *Hub) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.log.Warn("client send buffer full, disconnecting", zap.String("client_id", c.id))
		h.drop(c)
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.ClientDisconnected()
	h.log.Debug("client disconnected", zap.String("client_id", c.id))
}

func eventMessage(e session.Event) (*protocol.Message, error) {
	switch e.Kind {
	case session.KindOutput:
		return protocol.NewMessage(protocol.TypeShellOutput, protocol.ShellOutputPayload{
			SessionID: e.SessionID,
			Output:    e.Output,
		})
	case session.KindError:
		return protocol.NewMessage(protocol.TypeShellError, protocol.ShellErrorPayload{
			SessionID: e.SessionID,
			Error:     e.Error,
		})
	default:
		return protocol.NewMessage(protocol.TypeShellExit, protocol.ShellExitPayload{
			SessionID:  e.SessionID,
			ExitStatus: e.ExitStatus,
		})
	}
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	handle func(c *client, raw []byte)
}

func (h *Hub) newClient(conn *websocket.Conn, handle func(*client, []byte)) *client {
	return &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
		hub:    h,
		handle: handle,
	}
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}

		c.handle(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
