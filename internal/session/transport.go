package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendChSize     = 256

	// CloseNormal is the close code of a deliberate disconnect.
	CloseNormal = ws.CloseNormalClosure
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendQueueFull  = errors.New("send queue full")
	ErrNotConnected   = errors.New("not connected")
	ErrAlreadyStarted = errors.New("session already active")
)

// Conn is one established duplex connection. ReadMessage is called from a
// single goroutine; WriteMessage and Close may be called from any goroutine.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// CloseCode extracts the close code from a read error. Errors that carry no
// close frame count as abnormal closure.
func CloseCode(err error) int {
	var ce *ws.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ws.CloseAbnormalClosure
}

// WSDialer dials gorilla WebSocket connections.
type WSDialer struct {
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := ws.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := newWSConn(conn, logger)
	go c.writeLoop()
	return c, nil
}

// wsConn wraps a gorilla connection with a single write goroutine.
type wsConn struct {
	conn      *ws.Conn
	sendCh    chan []byte
	done      chan struct{} // closed on shutdown
	closeOnce sync.Once
	logger    *slog.Logger
}

func newWSConn(conn *ws.Conn, logger *slog.Logger) *wsConn {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &wsConn{
		conn:   conn,
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// ReadMessage returns the next text or binary frame.
func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// WriteMessage queues data for the write loop. Non-blocking; fails if the
// queue is full.
func (c *wsConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.sendCh <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// writeLoop drains sendCh and keeps the connection alive with pings.
// A write error closes the socket, which surfaces in ReadMessage.
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				_ = c.conn.Close()
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket ping error", "error", err)
				_ = c.conn.Close()
				return
			}
		}
	}
}

// Close sends a close frame with code and shuts the socket. Safe to call
// more than once.
func (c *wsConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait),
		)
		err = c.conn.Close()
	})
	return err
}
