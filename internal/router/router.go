package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"botsync/internal/model"
	"botsync/internal/state"
	"botsync/internal/transport"
)

// EventSink receives the typed events the router produces. Satisfied by
// *state.Store.
type EventSink interface {
	Enqueue(ev state.Event) bool
	SetChannelBot(ch model.Channel, bot model.Bot)
}

// Router parses raw frames and routes them as events to the store.
type Router interface {
	// Start begins routing frames from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router.
	Stop(ctx context.Context) error

	// Journals returns the archive buffers for writers to consume.
	Journals() RouterJournals

	// Stats returns current router statistics.
	Stats() RouterStats
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	logger *slog.Logger

	// Input from the transport
	input <-chan transport.RawFrame

	// Output to the store
	sink EventSink

	// Optional journal fan-out for the archive writers
	signalJournal *Buffer[SignalEntry]
	candleJournal *Buffer[CandleEntry]

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	mu            sync.RWMutex
	received      int64
	routed        int64
	parseErrors   int64
	unknownFrames int64
	heartbeats    int64
}

// NewRouter creates a new Message Router reading from input and emitting
// into sink.
func NewRouter(cfg RouterConfig, input <-chan transport.RawFrame, sink EventSink, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultRouterConfig()
	if cfg.SignalJournalSize < 1 {
		cfg.SignalJournalSize = def.SignalJournalSize
	}
	if cfg.CandleJournalSize < 1 {
		cfg.CandleJournalSize = def.CandleJournalSize
	}
	if cfg.JournalMaxCapacity < 1 {
		cfg.JournalMaxCapacity = def.JournalMaxCapacity
	}

	return &router{
		cfg:           cfg,
		logger:        logger,
		input:         input,
		sink:          sink,
		signalJournal: NewBuffer[SignalEntry](cfg.SignalJournalSize, cfg.JournalMaxCapacity),
		candleJournal: NewBuffer[CandleEntry](cfg.CandleJournalSize, cfg.JournalMaxCapacity),
	}
}

// Start begins routing frames.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started", "journal", r.cfg.Journal)
	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	r.signalJournal.Close()
	r.candleJournal.Close()

	return nil
}

// Journals returns the archive buffers.
func (r *router) Journals() RouterJournals {
	return RouterJournals{
		Signals: r.signalJournal,
		Candles: r.candleJournal,
	}
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		FramesReceived: r.received,
		EventsRouted:   r.routed,
		ParseErrors:    r.parseErrors,
		UnknownFrames:  r.unknownFrames,
		Heartbeats:     r.heartbeats,
		SignalJournal:  r.signalJournal.Stats(),
		CandleJournal:  r.candleJournal.Stats(),
	}
}

// routeLoop is the main routing goroutine.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(raw)
		}
	}
}

// route parses and routes a single frame. A corrupt frame is dropped with a
// warning; it never terminates the connection or the loop.
func (r *router) route(raw transport.RawFrame) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	var envelope frameEnvelope
	if err := json.Unmarshal(raw.Data, &envelope); err != nil {
		r.logger.Warn("failed to parse frame envelope", "error", err)
		r.countParseError()
		return
	}

	var routed bool

	switch envelope.Type {
	case "bot_snapshot":
		routed = r.routeBotSnapshot(raw, envelope)

	case "signal_new", "signal_update":
		routed = r.routeSignal(raw, envelope)

	case "position_update":
		routed = r.routePositions(raw, envelope)

	case "candle_update":
		routed = r.routeCandle(raw)

	case "heartbeat":
		r.mu.Lock()
		r.heartbeats++
		r.mu.Unlock()
		return

	default:
		// Forward-compatible: a newer server may push types we don't know.
		r.logger.Debug("skipping unknown frame type", "type", envelope.Type)
		r.mu.Lock()
		r.unknownFrames++
		r.mu.Unlock()
		return
	}

	if routed {
		r.mu.Lock()
		r.routed++
		r.mu.Unlock()
	}
}

// routeBotSnapshot handles a bot_snapshot frame: the authoritative full
// replacement of one bot channel's signals and positions.
func (r *router) routeBotSnapshot(raw transport.RawFrame, envelope frameEnvelope) bool {
	if envelope.BotID == "" {
		r.logger.Warn("bot_snapshot without bot_id")
		r.countParseError()
		return false
	}

	var wire botSnapshotWire
	if err := json.Unmarshal(raw.Data, &wire); err != nil {
		r.logger.Warn("failed to parse bot_snapshot", "bot_id", envelope.BotID, "error", err)
		r.countParseError()
		return false
	}

	ch := model.BotChannel(envelope.BotID)
	ev := state.SnapshotEvent{Channel: ch}

	if wire.Data.Bot != nil {
		bot := convertBot(*wire.Data.Bot)
		ev.Bot = &bot
		r.sink.SetChannelBot(ch, bot)
	}

	// A bad entity inside a snapshot skips that entity, not the snapshot.
	for _, sw := range wire.Data.Signals {
		sig, err := convertSignal(sw)
		if err != nil {
			r.logger.Warn("skipping invalid signal in snapshot",
				"bot_id", envelope.BotID, "signal_id", sw.ID, "error", err)
			continue
		}
		ev.Signals = append(ev.Signals, sig)
	}
	for _, pw := range wire.Data.Positions {
		ev.Positions = append(ev.Positions, convertPosition(pw))
	}

	return r.sink.Enqueue(ev)
}

// routeSignal handles signal_new and signal_update frames. Frames without a
// bot_id belong to the global feed.
func (r *router) routeSignal(raw transport.RawFrame, envelope frameEnvelope) bool {
	var wire signalFrameWire
	if err := json.Unmarshal(raw.Data, &wire); err != nil {
		r.logger.Warn("failed to parse signal frame", "error", err)
		r.countParseError()
		return false
	}

	sig, err := convertSignal(wire.Data)
	if err != nil {
		r.logger.Warn("invalid signal", "signal_id", wire.Data.ID, "error", err)
		r.countParseError()
		return false
	}

	ch := model.GlobalChannel()
	if envelope.BotID != "" {
		ch = model.BotChannel(envelope.BotID)
	}

	if r.cfg.Journal {
		r.signalJournal.Send(SignalEntry{Signal: sig, ObservedAt: raw.ReceivedAt})
	}

	return r.sink.Enqueue(state.SignalEvent{Channel: ch, Signal: sig})
}

// routePositions handles a position_update frame: a full list replacement.
func (r *router) routePositions(raw transport.RawFrame, envelope frameEnvelope) bool {
	if envelope.BotID == "" {
		r.logger.Warn("position_update without bot_id")
		r.countParseError()
		return false
	}

	var wire positionUpdateWire
	if err := json.Unmarshal(raw.Data, &wire); err != nil {
		r.logger.Warn("failed to parse position_update", "bot_id", envelope.BotID, "error", err)
		r.countParseError()
		return false
	}

	positions := make([]model.Position, 0, len(wire.Data.Positions))
	for _, pw := range wire.Data.Positions {
		positions = append(positions, convertPosition(pw))
	}

	return r.sink.Enqueue(state.PositionsEvent{
		Channel:   model.BotChannel(envelope.BotID),
		Positions: positions,
	})
}

// routeCandle handles a candle_update frame, keyed by series rather than bot.
func (r *router) routeCandle(raw transport.RawFrame) bool {
	var wire candleUpdateWire
	if err := json.Unmarshal(raw.Data, &wire); err != nil {
		r.logger.Warn("failed to parse candle_update", "error", err)
		r.countParseError()
		return false
	}
	if wire.Data.Symbol == "" || wire.Data.Timeframe == "" {
		r.logger.Warn("candle_update missing series key")
		r.countParseError()
		return false
	}

	candle := convertCandle(wire.Data.Candle)

	if r.cfg.Journal {
		r.candleJournal.Send(CandleEntry{
			Symbol:     wire.Data.Symbol,
			Timeframe:  wire.Data.Timeframe,
			Candle:     candle,
			ObservedAt: raw.ReceivedAt,
		})
	}

	return r.sink.Enqueue(state.CandleTickEvent{
		Symbol:    wire.Data.Symbol,
		Timeframe: wire.Data.Timeframe,
		Candle:    candle,
	})
}

func (r *router) countParseError() {
	r.mu.Lock()
	r.parseErrors++
	r.mu.Unlock()
}

// convertSignal validates and converts a wire signal.
func convertSignal(w signalWire) (model.Signal, error) {
	if w.ID == "" {
		return model.Signal{}, fmt.Errorf("signal missing id")
	}
	decision := model.Decision(w.Decision)
	if !decision.Valid() {
		return model.Signal{}, fmt.Errorf("unknown decision %q", w.Decision)
	}
	status := model.SignalStatus(w.Status)
	if !status.Valid() {
		return model.Signal{}, fmt.Errorf("unknown status %q", w.Status)
	}

	return model.Signal{
		ID:         w.ID,
		BotID:      w.BotID,
		Symbol:     w.Symbol,
		Decision:   decision,
		Price:      w.Price,
		Confidence: w.Confidence,
		Status:     status,
		CreatedTS:  w.CreatedTS,
	}, nil
}

func convertBot(w botWire) model.Bot {
	return model.Bot{
		ID:        w.ID,
		Name:      w.Name,
		Symbol:    w.Symbol,
		Timeframe: w.Timeframe,
		Status:    w.Status,
	}
}

func convertPosition(w positionWire) model.Position {
	return model.Position{
		BotID:         w.BotID,
		Symbol:        w.Symbol,
		Side:          model.PositionSide(w.Side),
		EntryPrice:    w.EntryPrice,
		Amount:        w.Amount,
		UnrealizedPnL: w.UnrealizedPnL,
	}
}

func convertCandle(w candleWire) model.Candle {
	return model.Candle{
		Time:   w.Time,
		Open:   w.Open,
		High:   w.High,
		Low:    w.Low,
		Close:  w.Close,
		Volume: w.Volume,
	}
}
