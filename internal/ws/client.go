package ws

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ugaemi/patrol-server/internal/geom"
	"github.com/ugaemi/patrol-server/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// ObserverPose is the last pose a client reported for its player.
type ObserverPose struct {
	AreaID uint64     `json:"area_id"`
	Local  mgl64.Vec3 `json:"local"`
	World  mgl64.Vec3 `json:"world"`
}

// Within reports whether loc lies within radius of the observer. World
// locations (area 0) are compared in world space, others in the area frame.
func (p ObserverPose) Within(loc protocol.Location, radius float64) bool {
	if loc.AreaID == 0 {
		return geom.Distance(p.World, loc.Position) <= radius
	}
	if p.AreaID != loc.AreaID {
		return false
	}
	return geom.Distance(p.Local, loc.Position) <= radius
}

// Client represents a single WebSocket connection.
type Client struct {
	ID       string
	PlayerID uint64 // Set after hello
	Bound    bool
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte

	codec atomic.Uint32
	pose  atomic.Pointer[ObserverPose]

	// mu guards closed and the close of Send.
	mu     sync.RWMutex
	closed bool
}

// NewClient creates a new Client.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.NewString(),
		Hub:  hub,
		Conn: conn,
		Send: make(chan []byte, 256),
	}
}

// Codec returns the frame encoding negotiated by the client.
func (c *Client) Codec() Codec {
	return Codec(c.codec.Load())
}

// SetCodec changes the frame encoding for subsequent messages.
func (c *Client) SetCodec(codec Codec) {
	c.codec.Store(uint32(codec))
}

// Pose returns the last reported observer pose, if any.
func (c *Client) Pose() (ObserverPose, bool) {
	p := c.pose.Load()
	if p == nil {
		return ObserverPose{}, false
	}
	return *p, true
}

// SetPose records the observer pose reported by the client.
func (c *Client) SetPose(p ObserverPose) {
	c.pose.Store(&p)
}

// ReadPump pumps messages from the WebSocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("websocket read error", "client", c.ID, "error", err)
			}
			break
		}
		c.Hub.Incoming <- &ClientMessage{Client: c, Data: message}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			frameType := websocket.TextMessage
			if c.Codec() == CodecMsgpack {
				frameType = websocket.BinaryMessage
			}
			w, err := c.Conn.NextWriter(frameType)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Closed reports whether the hub has dropped this client.
func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// SendMessage sends a Message to this client. Delivery is best effort: a
// full send buffer drops the message, and a closed client accepts nothing.
func (c *Client) SendMessage(msg Message) bool {
	data, err := c.Codec().Encode(msg)
	if err != nil {
		slog.Error("failed to encode message", "type", msg.Type, "error", err)
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		slog.Warn("client send buffer full, dropping message", "client", c.ID, "type", msg.Type)
		return false
	}
}

// ClientMessage wraps a raw message with its source client.
type ClientMessage struct {
	Client *Client
	Data   []byte
}
