package relay

import (
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/echochamber/arena/pkg/protocol"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	sendBufSize = 256
)

// Client is one WebSocket connection. id and closed belong to the hub
// goroutine; the rate limit counters to readPump.
type Client struct {
	hub        *Hub
	conn       *ws.Conn
	send       chan []byte
	remoteAddr string

	id     string
	closed bool

	msgCount   int
	msgResetAt time.Time
}

func newClient(h *Hub, conn *ws.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
	}
}

// readPump forwards frames to the hub until the connection fails or the
// client exceeds its message rate.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.members <- membership{client: c}:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Str("addr", c.remoteAddr).Msg("Read failed")
			}
			return
		}

		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > c.hub.cfg.MessagesPerSec {
			c.hub.log.Warn().Str("addr", c.remoteAddr).Msg("Rate limit exceeded, disconnecting")
			return
		}

		select {
		case c.hub.inbox <- inbound{client: c, data: message, at: now}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendMessage(msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.hub.log.Error().Err(err).Msg("Encoding message")
		return
	}
	c.sendRaw(data)
}

// sendRaw queues data, dropping it when the client is too slow.
func (c *Client) sendRaw(data []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.log.Debug().Str("player", c.id).Msg("Send buffer full, dropping message")
	}
}

func (c *Client) close() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
