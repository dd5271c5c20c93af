package subscription

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"botsync/internal/model"
)

// Control frame actions understood by the backend.
const (
	actionSubscribe   = "SUBSCRIBE_BOT"
	actionUnsubscribe = "UNSUBSCRIBE_BOT"
)

// controlFrame is the outbound wire format for subscribe/unsubscribe.
type controlFrame struct {
	Action string `json:"action"`
	BotID  string `json:"bot_id"`
}

// Sender sends a control frame on the transport. Returns
// transport.ErrNotConnected while the connection is not open.
type Sender interface {
	Send(v any) error
}

// ChannelSink receives channel lifecycle events (store-side allocation).
type ChannelSink interface {
	EnsureChannel(ch model.Channel)
	ReleaseChannel(ch model.Channel)
}

// Token identifies one consumer's claim on a channel.
type Token struct {
	id      uuid.UUID
	channel model.Channel
}

// Channel returns the channel this token refers to.
func (t Token) Channel() model.Channel {
	return t.channel
}

// Config holds registry configuration.
type Config struct {
	// UnsubscribeGrace is how long a channel stays subscribed after its
	// last consumer leaves. A re-subscribe within the window cancels the
	// pending wire unsubscribe.
	UnsubscribeGrace time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UnsubscribeGrace: 5 * time.Second,
	}
}

// RegistryStats provides statistics about the registry.
type RegistryStats struct {
	Channels          int
	TotalRefs         int
	PendingSubscribes int
	FramesSent        int64
}

// Registry reference-counts channel subscriptions over one transport.
type Registry interface {
	// Subscribe registers interest in a channel. The first subscriber for a
	// channel sends the wire subscribe frame (deferred while disconnected).
	Subscribe(ch model.Channel) Token

	// Unsubscribe releases a token. When the last reference drops, the wire
	// unsubscribe is sent only after the grace window elapses with the
	// channel still unreferenced.
	Unsubscribe(tok Token)

	// Resync re-sends subscribe frames for every referenced channel.
	// Invoked on every transport open transition; the server answers each
	// with a fresh snapshot.
	Resync()

	// Channels returns the currently referenced channels.
	Channels() []model.Channel

	// Stats returns current registry statistics.
	Stats() RegistryStats

	// Close cancels all grace timers and clears the desired set without
	// sending wire frames (the connection is already gone on shutdown).
	Close()
}

// entry tracks one channel's reference count and wire state.
type entry struct {
	channel    model.Channel
	refs       int
	pending    bool // subscribe frame not yet on the wire
	graceTimer *time.Timer
}

// registry implements the Registry interface.
type registry struct {
	cfg    Config
	sender Sender
	sink   ChannelSink
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	tokens  map[uuid.UUID]string // token id -> channel key
	closed  bool

	framesSent int64
}

// NewRegistry creates a new subscription registry.
func NewRegistry(cfg Config, sender Sender, sink ChannelSink, logger *slog.Logger) Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UnsubscribeGrace <= 0 {
		cfg.UnsubscribeGrace = DefaultConfig().UnsubscribeGrace
	}

	return &registry{
		cfg:     cfg,
		sender:  sender,
		sink:    sink,
		logger:  logger,
		entries: make(map[string]*entry),
		tokens:  make(map[uuid.UUID]string),
	}
}

// Subscribe registers interest in a channel.
func (r *registry) Subscribe(ch model.Channel) Token {
	tok := Token{id: uuid.New(), channel: ch}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return tok
	}

	key := ch.Key()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{channel: ch}
		r.entries[key] = e
	}
	e.refs++
	r.tokens[tok.id] = key

	// Cancel a pending unsubscribe: quick remount must not churn the wire.
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}

	first := e.refs == 1 && !ok
	resurrect := e.refs == 1 && ok
	r.mu.Unlock()

	if first {
		r.sink.EnsureChannel(ch)
		r.sendSubscribe(ch)
	} else if resurrect {
		// Entry survived at refcount 0 inside the grace window; it is
		// still subscribed on the wire, nothing to send.
		r.logger.Debug("resubscribed within grace window", "channel", ch)
	}

	return tok
}

// Unsubscribe releases a token.
func (r *registry) Unsubscribe(tok Token) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	key, ok := r.tokens[tok.id]
	if !ok {
		return
	}
	delete(r.tokens, tok.id)

	e, ok := r.entries[key]
	if !ok || e.refs == 0 {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}

	// The global channel is always desired and never released.
	if e.channel.IsGlobal() {
		return
	}

	// Last reference gone: arm the grace timer. The wire unsubscribe fires
	// only if the channel is still unreferenced when it elapses.
	ch := e.channel
	e.graceTimer = time.AfterFunc(r.cfg.UnsubscribeGrace, func() {
		r.expire(ch)
	})
}

// expire finalizes an unsubscribe after the grace window.
func (r *registry) expire(ch model.Channel) {
	key := ch.Key()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	e, ok := r.entries[key]
	if !ok || e.refs > 0 {
		// Resubscribed in the window; nothing to do.
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)

	// Send and release while still holding the mutex: a Subscribe racing
	// this expiry must observe the deleted entry and order its subscribe
	// frame after the unsubscribe, never before, or the server drops a
	// channel the registry still holds refs on.
	// A subscribe that never reached the wire needs no wire unsubscribe.
	if !e.pending {
		if err := r.sender.Send(controlFrame{Action: actionUnsubscribe, BotID: ch.BotID}); err != nil {
			r.logger.Debug("unsubscribe frame not sent", "channel", ch, "error", err)
		} else {
			r.framesSent++
			r.logger.Debug("unsubscribed", "channel", ch)
		}
	}
	r.sink.ReleaseChannel(ch)
	r.mu.Unlock()
}

// Resync re-sends subscribe frames for every referenced channel, in
// arbitrary order. Mandatory after reconnect: without the replay a
// reconnected client holds stale pre-disconnect state forever.
func (r *registry) Resync() {
	r.mu.Lock()
	channels := make([]model.Channel, 0, len(r.entries))
	for _, e := range r.entries {
		if e.refs > 0 && !e.channel.IsGlobal() {
			channels = append(channels, e.channel)
		}
	}
	r.mu.Unlock()

	r.logger.Info("resubscribing channels", "count", len(channels))

	for _, ch := range channels {
		r.sendSubscribe(ch)
	}
}

// sendSubscribe puts a subscribe frame on the wire, deferring on failure.
// The global channel needs no wire frame (the server pushes it unprompted).
func (r *registry) sendSubscribe(ch model.Channel) {
	if ch.IsGlobal() {
		return
	}

	err := r.sender.Send(controlFrame{Action: actionSubscribe, BotID: ch.BotID})

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ch.Key()]
	if !ok {
		return
	}

	if err != nil {
		// Deferred, not failed: retried on the next open transition.
		e.pending = true
		r.logger.Debug("subscribe deferred", "channel", ch, "error", err)
		return
	}

	e.pending = false
	r.framesSent++
	r.logger.Debug("subscribed", "channel", ch)
}

// Channels returns the currently referenced channels.
func (r *registry) Channels() []model.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := make([]model.Channel, 0, len(r.entries))
	for _, e := range r.entries {
		if e.refs > 0 {
			channels = append(channels, e.channel)
		}
	}
	return channels
}

// Stats returns current statistics.
func (r *registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{
		Channels:   len(r.entries),
		FramesSent: r.framesSent,
	}
	for _, e := range r.entries {
		stats.TotalRefs += e.refs
		if e.pending {
			stats.PendingSubscribes++
		}
	}
	return stats
}

// Close clears the desired set without sending wire frames.
func (r *registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	for _, e := range r.entries {
		if e.graceTimer != nil {
			e.graceTimer.Stop()
		}
	}
	r.entries = make(map[string]*entry)
	r.tokens = make(map[uuid.UUID]string)
}
