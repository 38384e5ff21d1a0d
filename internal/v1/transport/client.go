package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/davidatlihan/codesafe/internal/v1/logging"
	"github.com/davidatlihan/codesafe/internal/v1/metrics"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// writeWait bounds how long a single frame write may block before the
// connection is considered dead.
const writeWait = 10 * time.Second

// sendBufferSize is the per-socket outbound queue depth. A client that
// cannot drain this many frames is too far behind to catch up frame by
// frame; it reconnects and receives a fresh snapshot instead.
const sendBufferSize = 256

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// roomSession is the slice of room behavior a connected socket drives.
// *room.Room satisfies it; tests substitute lighter fakes.
type roomSession interface {
	Attach(client types.ClientInterface) error
	Detach(client types.ClientInterface)
	ApplySync(client types.ClientInterface, update []byte)
	ApplyAwareness(client types.ClientInterface, update []byte)
	Chat(client types.ClientInterface, text string)
}

// frame is one outbound WebSocket message. Text and binary share a single
// queue so the join sequence (welcome, snapshot, presence) reaches the
// wire in the order the room produced it.
type frame struct {
	messageType int
	data        []byte
}

// Client is one WebSocket connection bound to a project room. It
// implements types.ClientInterface. The id is unique per socket, not per
// user: the same user may hold several connections to the same room.
type Client struct {
	conn wsConnection
	room roomSession

	id       string
	identity types.Identity

	mu          sync.RWMutex
	closed      bool
	closeCode   int
	closeReason string
	closeOnce   sync.Once

	send chan frame
}

func newClient(conn wsConnection, room roomSession, identity types.Identity) *Client {
	return &Client{
		conn:     conn,
		room:     room,
		id:       uuid.NewString(),
		identity: identity,
		send:     make(chan frame, sendBufferSize),
	}
}

// GetID returns the socket's unique identifier.
func (c *Client) GetID() string {
	return c.id
}

// GetIdentity returns the authenticated user behind this socket.
func (c *Client) GetIdentity() types.Identity {
	return c.identity
}

// SendText queues a text frame for delivery.
func (c *Client) SendText(data []byte) {
	c.enqueue(frame{messageType: websocket.TextMessage, data: data})
}

// SendBinary queues a binary frame for delivery.
func (c *Client) SendBinary(data []byte) {
	c.enqueue(frame{messageType: websocket.BinaryMessage, data: data})
}

func (c *Client) enqueue(f frame) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	// The channel may close between the check above and the send below.
	defer func() {
		if r := recover(); r != nil {
			logging.GetLogger().Debug("dropped frame for closing client",
				zap.String("client_id", c.id), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- f:
	default:
		logging.Warn(context.Background(), "client send buffer full, dropping frame",
			zap.String("client_id", c.id),
			zap.String("user_id", c.identity.UserID),
		)
	}
}

// Close stops the connection with the given close code. The writePump
// drains buffered frames, writes the close frame, and tears the socket
// down. Safe to call from any goroutine, any number of times.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.send)
	})
}

// readPump consumes inbound frames until the connection errors, then
// detaches from the room and shuts the writer down.
func (c *Client) readPump() {
	defer func() {
		c.room.Detach(c)
		c.Close(websocket.CloseNormalClosure, "")
		_ = c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			c.handleBinary(data)
		case websocket.TextMessage:
			c.handleText(data)
		}
	}
}

// writePump serializes all writes to the connection. It exits when the
// send channel closes, emitting the close frame recorded by Close.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for f := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(f.messageType, f.data); err != nil {
			logging.GetLogger().Debug("write failed, dropping connection",
				zap.String("client_id", c.id), zap.Error(err))
			return
		}
	}

	c.mu.RLock()
	code, reason := c.closeCode, c.closeReason
	c.mu.RUnlock()
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// handleBinary demultiplexes a binary frame by its leading type byte.
// Empty frames and unknown type bytes are dropped without a reply.
func (c *Client) handleBinary(data []byte) {
	if len(data) == 0 {
		return
	}
	start := time.Now()
	switch data[0] {
	case types.FrameSync:
		c.room.ApplySync(c, data[1:])
		metrics.MessageProcessingDuration.WithLabelValues("sync").Observe(time.Since(start).Seconds())
	case types.FrameAwareness:
		c.room.ApplyAwareness(c, data[1:])
		metrics.MessageProcessingDuration.WithLabelValues("awareness").Observe(time.Since(start).Seconds())
	default:
		metrics.WebsocketEvents.WithLabelValues("unknown", "dropped").Inc()
		logging.GetLogger().Debug("dropping binary frame with unknown type byte",
			zap.String("client_id", c.id), zap.Uint8("frame_type", data[0]))
	}
}

// textEnvelope is the minimal shape of inbound JSON text frames.
type textEnvelope struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// handleText answers bare "ping" probes and routes JSON messages by their
// type field. Unknown types are ignored so protocol additions stay
// backwards compatible.
func (c *Client) handleText(data []byte) {
	if string(data) == "ping" {
		c.SendText([]byte("pong"))
		return
	}

	var msg textEnvelope
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.WebsocketEvents.WithLabelValues("text", "dropped").Inc()
		logging.GetLogger().Debug("dropping unparseable text frame",
			zap.String("client_id", c.id))
		return
	}

	switch msg.Type {
	case "chat":
		start := time.Now()
		c.room.Chat(c, msg.Text)
		metrics.MessageProcessingDuration.WithLabelValues("chat").Observe(time.Since(start).Seconds())
	default:
		metrics.WebsocketEvents.WithLabelValues("text", "dropped").Inc()
	}
}
