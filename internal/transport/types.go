package transport

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// State is the externally visible connection state.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// RawFrame wraps raw frame data with a receive timestamp.
type RawFrame struct {
	Data       []byte    // Raw frame bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a single WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL (e.g., wss://backend/ws)
	Token        string        // Bearer token, empty for no auth
	PingTimeout  time.Duration // Max time without ping/pong before stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// ConnConfig configures the managed connection.
type ConnConfig struct {
	URL                string        // WebSocket URL
	Token              string        // Bearer token, empty for no auth
	ReconnectBaseDelay time.Duration // Backoff floor
	ReconnectMaxDelay  time.Duration // Backoff ceiling
	StableThreshold    time.Duration // Connection held open this long resets backoff
	PingTimeout        time.Duration // Passed through to the client
	WriteTimeout       time.Duration // Passed through to the client
	FrameBufferSize    int           // Buffer size for the outbound frame channel
}

// DefaultConnConfig returns sensible defaults.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		StableThreshold:    30 * time.Second,
		PingTimeout:        60 * time.Second,
		WriteTimeout:       5 * time.Second,
		FrameBufferSize:    1000,
	}
}

// ConnStats provides statistics about the managed connection.
type ConnStats struct {
	State          State
	ConnectCount   int64 // Successful connections since Start
	ReconnectCount int64 // Reconnect attempts (failed or successful)
	FramesReceived int64
	FramesSent     int64
	SendRejects    int64 // Sends rejected with ErrNotConnected
}
