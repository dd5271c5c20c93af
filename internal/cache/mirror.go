package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"botsync/internal/model"
	"botsync/internal/state"
)

// ViewSaver is the cache surface the mirror writes through.
type ViewSaver interface {
	Save(ctx context.Context, v state.View) error
	Delete(ctx context.Context, ch model.Channel) error
}

// ViewSource is the store surface the mirror reads from.
type ViewSource interface {
	GetState(ch model.Channel) (state.View, bool)
	Watch(buffer int) (<-chan []state.Change, func())
}

// MirrorStats reports mirror activity.
type MirrorStats struct {
	Saves   uint64
	Deletes uint64
	Errors  uint64
}

// Mirror tails store changes and persists the affected views. Writes are
// best effort: a Redis error is logged and counted, never propagated to
// the store.
type Mirror struct {
	saver  ViewSaver
	source ViewSource
	logger *slog.Logger

	writeTimeout time.Duration

	mu    sync.Mutex
	stats MirrorStats

	cancelWatch func()
	wg          sync.WaitGroup
}

// NewMirror creates a mirror from store to cache.
func NewMirror(saver ViewSaver, source ViewSource, logger *slog.Logger) *Mirror {
	return &Mirror{
		saver:        saver,
		source:       source,
		logger:       logger.With("component", "cache_mirror"),
		writeTimeout: 5 * time.Second,
	}
}

// Start registers a watcher and begins mirroring.
func (m *Mirror) Start(ctx context.Context) error {
	changes, cancel := m.source.Watch(64)
	m.cancelWatch = cancel

	m.wg.Add(1)
	go m.run(changes)

	m.logger.Info("cache mirror started")
	return nil
}

// Stop cancels the watch and waits for in-flight writes.
func (m *Mirror) Stop(ctx context.Context) error {
	if m.cancelWatch != nil {
		m.cancelWatch()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.logger.Info("cache mirror stopped")
	return nil
}

// Stats returns a snapshot of mirror counters.
func (m *Mirror) Stats() MirrorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Mirror) run(changes <-chan []state.Change) {
	defer m.wg.Done()

	for batch := range changes {
		for _, ch := range batch {
			m.persist(ch.Channel)
		}
	}
}

func (m *Mirror) persist(ch model.Channel) {
	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()

	view, ok := m.source.GetState(ch)
	if !ok {
		// Channel released between the change and this read
		if err := m.saver.Delete(ctx, ch); err != nil {
			m.countError()
			m.logger.Warn("delete cached view failed", "channel", ch, "error", err)
			return
		}
		m.mu.Lock()
		m.stats.Deletes++
		m.mu.Unlock()
		return
	}

	if err := m.saver.Save(ctx, view); err != nil {
		m.countError()
		m.logger.Warn("save cached view failed", "channel", ch, "error", err)
		return
	}
	m.mu.Lock()
	m.stats.Saves++
	m.mu.Unlock()
}

func (m *Mirror) countError() {
	m.mu.Lock()
	m.stats.Errors++
	m.mu.Unlock()
}
