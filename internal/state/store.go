package state

import (
	"context"
	"log/slog"
	"sync"

	"botsync/internal/model"
	"botsync/internal/transport"
)

// channelState holds one channel's reconciled entities. Mutated only while
// the store's mutex is held; entity merges run only on the run loop.
type channelState struct {
	channel   model.Channel
	bot       *model.Bot
	candles   []model.Candle
	signals   []model.Signal
	sigIndex  map[string]int // signal id -> index in signals
	positions []model.Position
	stale     bool
	version   uint64
}

// Store is the Observable Store: the single owner of all reconciled state.
// Events are applied by one run loop goroutine; consumers read copies.
type Store struct {
	cfg    Config
	logger *slog.Logger

	input chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	channels map[string]*channelState
	conn     transport.State

	watchers    map[uint64]chan []Change
	nextWatcher uint64

	// Stats
	eventsApplied   int64
	eventsDiscarded int64
	notifications   int64
}

// NewStore creates a new store.
func NewStore(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.InputBuffer < 1 {
		cfg.InputBuffer = def.InputBuffer
	}
	if cfg.MaxCandles < 1 {
		cfg.MaxCandles = def.MaxCandles
	}
	if cfg.MaxSignals < 1 {
		cfg.MaxSignals = def.MaxSignals
	}

	return &Store{
		cfg:      cfg,
		logger:   logger,
		input:    make(chan Event, cfg.InputBuffer),
		channels: make(map[string]*channelState),
		conn:     transport.StateClosed,
		watchers: make(map[uint64]chan []Change),
	}
}

// Start begins the reconciliation loop.
func (s *Store) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("store started",
		"max_candles", s.cfg.MaxCandles,
		"max_signals", s.cfg.MaxSignals,
	)
	return nil
}

// Stop shuts down the reconciliation loop.
func (s *Store) Stop(ctx context.Context) error {
	s.logger.Info("stopping store")

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("store stopped")
	case <-ctx.Done():
		s.logger.Warn("store stop timed out")
	}
	return nil
}

// Enqueue submits an event for reconciliation. Returns false when the
// store is shutting down or not yet started.
func (s *Store) Enqueue(ev Event) bool {
	if s.ctx != nil {
		select {
		case s.input <- ev:
			return true
		case <-s.ctx.Done():
			return false
		}
	}

	// Not started yet: accept while the buffer has room (pre-start seeding).
	select {
	case s.input <- ev:
		return true
	default:
		return false
	}
}

// SetConnState routes a transport state transition through the run loop.
func (s *Store) SetConnState(state transport.State) {
	s.Enqueue(ConnStateEvent{State: state})
}

// EnsureChannel allocates a channel record if it does not exist.
// Called by the subscription registry on first subscribe.
func (s *Store) EnsureChannel(ch model.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ch.Key()
	if _, ok := s.channels[key]; ok {
		return
	}
	s.channels[key] = &channelState{
		channel:  ch,
		sigIndex: make(map[string]int),
		stale:    true, // No snapshot received yet
	}
}

// ReleaseChannel drops a channel's state. Called by the subscription
// registry after the unsubscribe grace window.
func (s *Store) ReleaseChannel(ch model.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, ch.Key())
}

// SetChannelBot attaches series metadata to a channel, enabling candle
// routing before the first snapshot arrives.
func (s *Store) SetChannelBot(ch model.Channel, bot model.Bot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cs, ok := s.channels[ch.Key()]; ok {
		b := bot
		cs.bot = &b
	}
}

// HydrateView pre-populates an ensured, empty channel from a cached view.
// Hydrated state is marked stale until the transport resynchronizes it.
func (s *Store) HydrateView(v View) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.channels[v.Channel.Key()]
	if !ok || cs.version != 0 {
		return false
	}

	cs.bot = copyBot(v.Bot)
	cs.applyCandleSeries(v.Candles, s.cfg.MaxCandles)
	cs.applySignalSnapshot(v.Signals, s.cfg.MaxSignals)
	cs.applyPositions(v.Positions)
	cs.stale = true
	cs.version = 1
	return true
}

// GetState returns a deep-copied view of one channel. Reads are always
// served from the last fully reconciled state; no torn reads.
func (s *Store) GetState(ch model.Channel) (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.channels[ch.Key()]
	if !ok {
		return View{}, false
	}
	return s.viewLocked(cs), true
}

// Views returns deep-copied views of all channels.
func (s *Store) Views() []View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]View, 0, len(s.channels))
	for _, cs := range s.channels {
		views = append(views, s.viewLocked(cs))
	}
	return views
}

// CandleSeries returns the distinct candle series watched by live channels.
func (s *Store) CandleSeries() []Series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[Series]struct{})
	var series []Series
	for _, cs := range s.channels {
		if cs.bot == nil || cs.bot.Symbol == "" || cs.bot.Timeframe == "" {
			continue
		}
		sr := Series{Symbol: cs.bot.Symbol, Timeframe: cs.bot.Timeframe}
		if _, ok := seen[sr]; ok {
			continue
		}
		seen[sr] = struct{}{}
		series = append(series, sr)
	}
	return series
}

// Watch registers a change watcher. Each dispatch tick delivers at most one
// batch with exactly one Change per affected channel. Slow watchers drop
// batches rather than block reconciliation.
func (s *Store) Watch(buffer int) (<-chan []Change, func()) {
	if buffer < 1 {
		buffer = 1
	}

	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	ch := make(chan []Change, buffer)
	s.watchers[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}
	return ch, cancel
}

// Stats returns current statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Channels:        len(s.channels),
		EventsApplied:   s.eventsApplied,
		EventsDiscarded: s.eventsDiscarded,
		Notifications:   s.notifications,
		Watchers:        len(s.watchers),
		Connection:      s.conn,
	}
}

// run is the reconciliation loop: apply one event, drain whatever else is
// already queued, then notify watchers once per affected channel.
func (s *Store) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.input:
			dirty := make(map[string]model.Channel)
			s.apply(ev, dirty)

		drain:
			for {
				select {
				case next := <-s.input:
					s.apply(next, dirty)
				default:
					break drain
				}
			}

			s.notify(dirty)
		}
	}
}

// apply reconciles one event, recording affected channels in dirty.
func (s *Store) apply(ev Event, dirty map[string]model.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case ConnStateEvent:
		s.applyConnState(e, dirty)

	case SnapshotEvent:
		cs, ok := s.channels[e.Channel.Key()]
		if !ok {
			s.eventsDiscarded++
			s.logger.Debug("snapshot for unknown channel", "channel", e.Channel)
			return
		}
		if e.Bot != nil {
			cs.bot = copyBot(e.Bot)
		}
		cs.applySignalSnapshot(e.Signals, s.cfg.MaxSignals)
		cs.applyPositions(e.Positions)
		cs.stale = false
		s.bump(cs, dirty)

	case SignalEvent:
		cs, ok := s.channels[e.Channel.Key()]
		if !ok {
			s.eventsDiscarded++
			return
		}
		if !cs.applySignal(e.Signal, s.cfg.MaxSignals) {
			// Stale status delta, silently discarded.
			s.eventsDiscarded++
			return
		}
		s.bump(cs, dirty)

	case PositionsEvent:
		cs, ok := s.channels[e.Channel.Key()]
		if !ok {
			s.eventsDiscarded++
			return
		}
		cs.applyPositions(e.Positions)
		s.bump(cs, dirty)

	case CandleTickEvent:
		matched := false
		for _, cs := range s.channels {
			if !cs.watchesSeries(e.Symbol, e.Timeframe) {
				continue
			}
			matched = true
			if cs.applyCandleTick(e.Candle, s.cfg.MaxCandles) {
				s.bump(cs, dirty)
			} else {
				s.eventsDiscarded++
			}
		}
		if !matched {
			s.eventsDiscarded++
		}

	case CandleSeriesEvent:
		for _, cs := range s.channels {
			if !cs.watchesSeries(e.Symbol, e.Timeframe) {
				continue
			}
			cs.applyCandleSeries(e.Candles, s.cfg.MaxCandles)
			s.bump(cs, dirty)
		}

	default:
		s.logger.Warn("unknown event type")
	}
}

// applyConnState handles transport transitions. Leaving open marks every
// channel stale but retains reconciled state; snapshots clear staleness
// per channel once the server resynchronizes it.
func (s *Store) applyConnState(e ConnStateEvent, dirty map[string]model.Channel) {
	if s.conn == e.State {
		return
	}
	wasOpen := s.conn == transport.StateOpen
	s.conn = e.State

	if wasOpen && e.State != transport.StateOpen {
		for _, cs := range s.channels {
			cs.stale = true
			s.bump(cs, dirty)
		}
		return
	}

	// Connectivity changes are visible in every view.
	for key, cs := range s.channels {
		dirty[key] = cs.channel
	}
	s.eventsApplied++
}

// bump advances a channel version and marks it dirty. Caller holds the lock.
func (s *Store) bump(cs *channelState, dirty map[string]model.Channel) {
	cs.version++
	dirty[cs.channel.Key()] = cs.channel
	s.eventsApplied++
}

// notify delivers one Change per dirty channel to every watcher.
func (s *Store) notify(dirty map[string]model.Channel) {
	if len(dirty) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changes := make([]Change, 0, len(dirty))
	for key, ch := range dirty {
		version := uint64(0)
		if cs, ok := s.channels[key]; ok {
			version = cs.version
		}
		changes = append(changes, Change{Channel: ch, Version: version})
	}

	for _, w := range s.watchers {
		select {
		case w <- changes:
		default:
			s.logger.Warn("watcher buffer full, dropping change batch")
		}
	}
	s.notifications++
}

// viewLocked deep-copies a channel state. Caller holds at least a read lock.
func (s *Store) viewLocked(cs *channelState) View {
	v := View{
		Channel:    cs.channel,
		Bot:        copyBot(cs.bot),
		Connection: s.conn,
		Stale:      cs.stale,
		Version:    cs.version,
	}
	if len(cs.candles) > 0 {
		v.Candles = make([]model.Candle, len(cs.candles))
		copy(v.Candles, cs.candles)
	}
	if len(cs.signals) > 0 {
		v.Signals = make([]model.Signal, len(cs.signals))
		copy(v.Signals, cs.signals)
	}
	if len(cs.positions) > 0 {
		v.Positions = make([]model.Position, len(cs.positions))
		copy(v.Positions, cs.positions)
	}
	return v
}

func copyBot(b *model.Bot) *model.Bot {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}
