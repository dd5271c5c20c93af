package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a single WebSocket connection to the backend stream.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Frames returns a channel of all raw inbound frames.
	// Each frame includes a local timestamp for when it was received.
	Frames() <-chan RawFrame

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface. Liveness is activity-based: any
// inbound traffic proves the connection alive, because the backend heartbeats
// at the application level ({"type":"heartbeat"} frames) and those arrive as
// ordinary messages, not WS control frames.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	frames chan RawFrame
	errors chan error
	done   chan struct{}

	// Writes are serialized separately so Send never blocks behind the
	// state mutex.
	writeMu sync.Mutex

	mu           sync.RWMutex
	connected    bool
	closed       bool
	lastActivity time.Time
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &client{
		cfg:    cfg,
		logger: logger,
		frames: make(chan RawFrame, cfg.BufferSize),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and
// liveness goroutines.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	// Control frames also count as activity.
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastActivity = time.Now()
	c.mu.Unlock()

	go c.readLoop()
	go c.livenessLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn == nil {
		return nil
	}
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Frames returns the frames channel.
func (c *client) Frames() <-chan RawFrame {
	return c.frames
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// touch records inbound activity for the stale check.
func (c *client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// readLoop reads frames from the WebSocket and forwards them. Every frame,
// heartbeat frames included, refreshes the liveness clock.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Read errors after Close are expected, drop them
			select {
			case <-c.done:
			default:
				select {
				case c.errors <- err:
				default:
				}
			}
			return
		}

		c.touch()

		select {
		case c.frames <- RawFrame{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		default:
			c.logger.Warn("frame buffer full, dropping frame")
		}
	}
}

// livenessLoop pings the server and flags the connection stale when nothing
// has arrived for a full PingTimeout. It checks several times per timeout
// window so one missed ping never races the stale verdict.
func (c *client) livenessLoop() {
	interval := c.cfg.PingTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			last := c.lastActivity
			c.mu.RUnlock()

			if conn != nil {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					c.logger.Debug("failed to send ping", "error", err)
				}
			}

			if time.Since(last) > c.cfg.PingTimeout {
				c.logger.Warn("no inbound activity, connection stale",
					"last_activity", last,
					"timeout", c.cfg.PingTimeout,
				)
				select {
				case c.errors <- ErrStaleConnection:
				default:
				}
				return
			}
		}
	}
}
