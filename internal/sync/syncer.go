package sync

import (
	"context"
	"log/slog"
	gosync "sync"

	"botsync/internal/model"
	"botsync/internal/router"
	"botsync/internal/state"
	"botsync/internal/subscription"
	"botsync/internal/transport"
)

// Config aggregates the component configurations the syncer wires together.
type Config struct {
	Transport    transport.ConnConfig
	Subscription subscription.Config
	Router       router.RouterConfig
	Store        state.Config
}

// Stats aggregates every component's statistics for the health surface.
type Stats struct {
	Conn     transport.ConnStats
	Registry subscription.RegistryStats
	Router   router.RouterStats
	Store    state.Stats
}

// Syncer owns the synchronization pipeline: one managed connection feeding
// the router, the registry multiplexing channel interest over it, and the
// store reconciling everything into observable views.
type Syncer struct {
	logger *slog.Logger

	conn     transport.Conn
	registry subscription.Registry
	router   router.Router
	store    *state.Store

	globalTok subscription.Token

	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewSyncer builds the pipeline. Nothing runs until Start.
func NewSyncer(cfg Config, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}

	store := state.NewStore(cfg.Store, logger.With("component", "store"))
	conn := transport.NewConn(cfg.Transport, logger.With("component", "transport"))
	rtr := router.NewRouter(cfg.Router, conn.Frames(), store, logger.With("component", "router"))
	reg := subscription.NewRegistry(cfg.Subscription, conn, store, logger.With("component", "subscription"))

	return &Syncer{
		logger:   logger,
		conn:     conn,
		registry: reg,
		router:   rtr,
		store:    store,
	}
}

// Start brings the pipeline up in dependency order: store, router, then the
// connection, with the state pump running for the life of the syncer. The
// global feed is subscribed immediately and held until Stop.
func (s *Syncer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.store.Start(runCtx); err != nil {
		return err
	}
	if err := s.router.Start(runCtx); err != nil {
		return err
	}

	s.globalTok = s.registry.Subscribe(model.GlobalChannel())

	s.wg.Add(1)
	go s.stateLoop()

	if err := s.conn.Start(runCtx); err != nil {
		return err
	}

	s.logger.Info("syncer started")
	return nil
}

// Stop tears the pipeline down: connection first so the frame stream ends,
// then the router drains, then the store. The registry is closed without
// wire frames; the connection is already gone.
func (s *Syncer) Stop(ctx context.Context) error {
	s.logger.Info("stopping syncer")

	if err := s.conn.Stop(ctx); err != nil {
		s.logger.Warn("transport stop", "error", err)
	}
	s.wg.Wait()

	s.registry.Close()

	if err := s.router.Stop(ctx); err != nil {
		s.logger.Warn("router stop", "error", err)
	}
	if err := s.store.Stop(ctx); err != nil {
		s.logger.Warn("store stop", "error", err)
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.logger.Info("syncer stopped")
	return nil
}

// stateLoop pumps connection transitions into the store and replays the
// desired subscription set on every open. Exits when the transport closes
// its state channel on Stop.
func (s *Syncer) stateLoop() {
	defer s.wg.Done()

	for st := range s.conn.States() {
		s.store.SetConnState(st)
		if st == transport.StateOpen {
			s.registry.Resync()
		}
	}
}

// Subscribe registers dashboard interest in a channel.
func (s *Syncer) Subscribe(ch model.Channel) subscription.Token {
	return s.registry.Subscribe(ch)
}

// Unsubscribe releases a subscription token.
func (s *Syncer) Unsubscribe(tok subscription.Token) {
	s.registry.Unsubscribe(tok)
}

// GetState returns the reconciled view of one channel.
func (s *Syncer) GetState(ch model.Channel) (state.View, bool) {
	return s.store.GetState(ch)
}

// Watch registers a store change watcher.
func (s *Syncer) Watch(buffer int) (<-chan []state.Change, func()) {
	return s.store.Watch(buffer)
}

// Store exposes the store for collaborators (poller seeding, cache mirror).
func (s *Syncer) Store() *state.Store {
	return s.store
}

// Journals exposes the router's archive buffers for the writers.
func (s *Syncer) Journals() router.RouterJournals {
	return s.router.Journals()
}

// Stats returns the aggregated component statistics.
func (s *Syncer) Stats() Stats {
	return Stats{
		Conn:     s.conn.Stats(),
		Registry: s.registry.Stats(),
		Router:   s.router.Stats(),
		Store:    s.store.Stats(),
	}
}
