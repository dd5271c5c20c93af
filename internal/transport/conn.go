package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Conn is the managed connection: exactly one underlying Client at a time,
// reconnected with capped exponential backoff after unexpected closes.
type Conn interface {
	// Start begins the connect/reconnect loop.
	Start(ctx context.Context) error

	// Stop tears down the connection and cancels any pending backoff timer.
	Stop(ctx context.Context) error

	// Send marshals v to JSON and writes it to the connection.
	// Returns ErrNotConnected while the connection is not open.
	Send(v any) error

	// Frames returns the channel of raw inbound frames, stable across reconnects.
	Frames() <-chan RawFrame

	// States returns the channel of connection state transitions.
	States() <-chan State

	// State returns the current connection state.
	State() State

	// Stats returns current connection statistics.
	Stats() ConnStats
}

// conn implements the Conn interface.
type conn struct {
	cfg    ConnConfig
	logger *slog.Logger

	// Output channels, owned by the run loop.
	frames chan RawFrame
	states chan State

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Current state
	mu     sync.RWMutex
	state  State
	client Client

	// Stats
	connectCount   int64
	reconnectCount int64
	framesReceived int64
	framesSent     int64
	sendRejects    int64
}

// NewConn creates a new managed connection.
func NewConn(cfg ConnConfig, logger *slog.Logger) Conn {
	if logger == nil {
		logger = slog.Default()
	}

	return &conn{
		cfg:    cfg,
		logger: logger,
		frames: make(chan RawFrame, cfg.FrameBufferSize),
		states: make(chan State, 16),
		state:  StateClosed,
	}
}

// Start begins the connect/reconnect loop.
func (c *conn) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	c.logger.Info("transport started",
		"url", c.cfg.URL,
		"reconnect_base", c.cfg.ReconnectBaseDelay,
		"reconnect_max", c.cfg.ReconnectMaxDelay,
	)

	return nil
}

// Stop tears down the connection.
func (c *conn) Stop(ctx context.Context) error {
	c.logger.Info("stopping transport")

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		// The run loop is the only sender on these channels, so closing is
		// safe only once it has returned. A timed-out Stop must not close
		// them out from under a still-running loop.
		close(c.frames)
		close(c.states)
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("transport stopped")
	case <-ctx.Done():
		c.logger.Warn("transport stop timed out")
	}

	return nil
}

// Send marshals v to JSON and writes it to the open connection.
func (c *conn) Send(v any) error {
	c.mu.RLock()
	state := c.state
	client := c.client
	c.mu.RUnlock()

	if state != StateOpen || client == nil {
		c.mu.Lock()
		c.sendRejects++
		c.mu.Unlock()
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if err := client.Send(data); err != nil {
		return err
	}

	c.mu.Lock()
	c.framesSent++
	c.mu.Unlock()
	return nil
}

// Frames returns the frames channel.
func (c *conn) Frames() <-chan RawFrame {
	return c.frames
}

// States returns the state transition channel.
func (c *conn) States() <-chan State {
	return c.states
}

// State returns the current connection state.
func (c *conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stats returns current statistics.
func (c *conn) Stats() ConnStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConnStats{
		State:          c.state,
		ConnectCount:   c.connectCount,
		ReconnectCount: c.reconnectCount,
		FramesReceived: c.framesReceived,
		FramesSent:     c.framesSent,
		SendRejects:    c.sendRejects,
	}
}

// run is the connect/reconnect state machine. One iteration per connection
// lifetime; backoff doubles on failure and resets after a stable connection.
func (c *conn) run() {
	defer c.wg.Done()

	wait := c.cfg.ReconnectBaseDelay

	for {
		select {
		case <-c.ctx.Done():
			c.setState(StateClosed)
			return
		default:
		}

		c.setState(StateConnecting)

		client := NewClient(ClientConfig{
			URL:          c.cfg.URL,
			Token:        c.cfg.Token,
			PingTimeout:  c.cfg.PingTimeout,
			WriteTimeout: c.cfg.WriteTimeout,
			BufferSize:   c.cfg.FrameBufferSize,
		}, c.logger)

		if err := client.Connect(c.ctx); err != nil {
			c.logger.Warn("connect failed", "error", err, "retry_in", wait)
			c.mu.Lock()
			c.reconnectCount++
			c.mu.Unlock()
			c.setState(StateClosed)

			if !c.sleep(wait) {
				return
			}
			wait = c.nextWait(wait)
			continue
		}

		c.mu.Lock()
		c.client = client
		c.connectCount++
		c.mu.Unlock()

		openedAt := time.Now()
		c.setState(StateOpen)

		// Pump frames until the connection errors out or we shut down.
		alive := true
		for alive {
			select {
			case <-c.ctx.Done():
				client.Close()
				c.setState(StateClosed)
				return

			case err := <-client.Errors():
				c.logger.Warn("connection lost", "error", err)
				alive = false

			case frame, ok := <-client.Frames():
				if !ok {
					alive = false
					continue
				}
				c.mu.Lock()
				c.framesReceived++
				c.mu.Unlock()

				select {
				case c.frames <- frame:
				case <-c.ctx.Done():
					client.Close()
					c.setState(StateClosed)
					return
				default:
					c.logger.Warn("frame buffer full, dropping frame")
				}
			}
		}

		client.Close()
		c.mu.Lock()
		c.client = nil
		c.reconnectCount++
		c.mu.Unlock()
		c.setState(StateClosed)

		// A connection that stayed open long enough resets the backoff.
		if time.Since(openedAt) >= c.cfg.StableThreshold {
			wait = c.cfg.ReconnectBaseDelay
		}

		if !c.sleep(wait) {
			return
		}
		wait = c.nextWait(wait)
	}
}

// setState records and publishes a state transition.
func (c *conn) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	select {
	case c.states <- s:
	default:
		// Channel full, drop oldest by consuming one and retrying.
		select {
		case <-c.states:
			c.states <- s
		default:
		}
	}
}

// sleep waits for the backoff delay with jitter. Returns false on shutdown.
func (c *conn) sleep(wait time.Duration) bool {
	// Jitter: wait * (0.5 to 1.5)
	jittered := wait/2 + time.Duration(rand.Int63n(int64(wait)+1))

	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(jittered):
		return true
	}
}

// nextWait doubles the backoff up to the configured ceiling.
func (c *conn) nextWait(wait time.Duration) time.Duration {
	wait *= 2
	if wait > c.cfg.ReconnectMaxDelay {
		wait = c.cfg.ReconnectMaxDelay
	}
	return wait
}
