package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultReadTimeout      = 60 * time.Second
	defaultHandshakeTimeout = 15 * time.Second
	defaultFrameBufferSize  = 64
)

// ErrClosed is returned by writes on a closed connection.
var ErrClosed = errors.New("connection closed")

// WebSocketConfig configures the websocket dialer.
type WebSocketConfig struct {
	// PingInterval is how often a ping is sent to keep the connection alive.
	PingInterval time.Duration
	// PongTimeout bounds the ping write.
	PongTimeout time.Duration
	// ReadTimeout is how long the connection may stay silent, pongs included.
	ReadTimeout time.Duration
	// HandshakeTimeout bounds the websocket upgrade.
	HandshakeTimeout time.Duration
	// FrameBufferSize is the capacity of the frame channel.
	FrameBufferSize int

	Logger *zap.Logger
}

func (c *WebSocketConfig) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.FrameBufferSize <= 0 {
		c.FrameBufferSize = defaultFrameBufferSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// WebSocketDialer dials gorilla websocket connections.
type WebSocketDialer struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
}

func NewWebSocketDialer(cfg WebSocketConfig) *WebSocketDialer {
	cfg.applyDefaults()
	return &WebSocketDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Dial connects to endpoint and starts the read and ping loops.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Connection, error) {
	conn, _, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout))
	})

	ws := &WebSocketConn{
		conn:   conn,
		cfg:    d.cfg,
		logger: d.cfg.Logger.With(zap.String("component", "websocket")),
		frames: make(chan Frame, d.cfg.FrameBufferSize),
		done:   make(chan struct{}),
	}
	ws.frames <- Frame{Kind: FrameConnected}

	go ws.readLoop()
	go ws.pingLoop()

	return ws, nil
}

// WebSocketConn is a Connection backed by gorilla/websocket.
type WebSocketConn struct {
	conn   *websocket.Conn
	cfg    WebSocketConfig
	logger *zap.Logger
	frames chan Frame

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool
	done      chan struct{}
}

func (c *WebSocketConn) Frames() <-chan Frame {
	return c.frames
}

// WriteText sends one text message.
func (c *WebSocketConn) WriteText(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("write text: %w", err)
	}
	return nil
}

// Close sends a close message and tears the socket down. It is safe to call
// more than once; the read loop reports FrameClosed.
func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.PongTimeout),
		)
		c.writeMu.Unlock()

		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *WebSocketConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *WebSocketConn) readLoop() {
	defer close(c.frames)

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				c.frames <- Frame{Kind: FrameClosed}
				return
			}
			c.logger.Warn("read error", zap.Error(err))
			c.frames <- Frame{Kind: FrameError, Err: fmt.Errorf("read: %w", err)}
			_ = c.Close()
			return
		}
		if msgType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text message", zap.Int("type", msgType))
			continue
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			c.frames <- Frame{Kind: FrameError, Err: fmt.Errorf("set read deadline: %w", err)}
			_ = c.Close()
			return
		}

		select {
		case c.frames <- Frame{Kind: FrameText, Text: string(payload)}:
		case <-c.done:
			c.frames <- Frame{Kind: FrameClosed}
			return
		}
	}
}

func (c *WebSocketConn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			if c.closed {
				c.writeMu.Unlock()
				return
			}
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.PongTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("ping failed", zap.Error(err))
				// unblocks the read loop, which reports the failure
				_ = c.conn.Close()
				return
			}
		}
	}
}
