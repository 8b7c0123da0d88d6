package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig tunes the websocket transport.
type WSConfig struct {
	WriteWait      time.Duration // deadline for a single write
	PongWait       time.Duration // liveness window; a silent client is dropped after it
	PingPeriod     time.Duration // must be shorter than PongWait
	SendBuffer     int           // queued frames per connection before ErrChannelFull
	MaxMessageSize int64         // largest frame accepted from clients
}

func DefaultWSConfig() WSConfig {
	return WSConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		SendBuffer:     64,
		MaxMessageSize: 4096,
	}
}

func (c WSConfig) normalized() WSConfig {
	d := DefaultWSConfig()
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

// WSChannel adapts a gorilla websocket to Channel. Frames are queued on send and
// written by writePump, the only goroutine that writes to the socket.
type WSChannel struct {
	conn *websocket.Conn
	cfg  WSConfig
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
	send   chan []byte
	done   chan struct{}
}

// NewWSChannel wraps conn. Handler.Connect runs its pumps.
func NewWSChannel(conn *websocket.Conn, cfg WSConfig, log *slog.Logger) *WSChannel {
	cfg = cfg.normalized()
	return &WSChannel{
		conn: conn,
		cfg:  cfg,
		log:  log,
		send: make(chan []byte, cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

func (c *WSChannel) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// Close signals the write pump to say goodbye and close the socket.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// writePump drains the queue and pings the client. It owns the socket's
// write side and closes the socket when it returns.
func (c *WSChannel) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("websocket write failed", "error", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("websocket ping failed", "error", err)
				_ = c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

// readPump keeps the liveness window open. Pongs and client pings extend it;
// anything else is ignored. Returns when the socket fails or the window lapses.
func (c *WSChannel) readPump() {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read failed", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == MessageTypePing {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
			_ = c.Send(pongMessage)
		}
	}
}
