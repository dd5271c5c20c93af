package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"botsync/internal/api"
	"botsync/internal/model"
	"botsync/internal/state"
)

// SeriesSource provides the candle series currently watched by live channels.
type SeriesSource interface {
	CandleSeries() []state.Series
}

// SeriesSink receives fetched candle history. Satisfied by *state.Store via
// Enqueue; declared narrow so tests can fake it.
type SeriesSink interface {
	Enqueue(ev state.Event) bool
}

// CandleFetcher fetches candle history for one series.
type CandleFetcher interface {
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]api.APICandle, error)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Refresh interval (default: 5m)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 10s)
	Limit       int           // Candles fetched per series (default: 500)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		Concurrency: 4,
		Timeout:     10 * time.Second,
		Limit:       500,
	}
}

// Poller periodically fetches candle history for every watched series.
type Poller struct {
	cfg     Config
	fetcher CandleFetcher
	source  SeriesSource
	sink    SeriesSink
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, fetcher CandleFetcher, source SeriesSource, sink SeriesSink, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Limit < 1 {
		cfg.Limit = def.Limit
	}

	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		source:  source,
		sink:    sink,
		logger:  logger,
	}
}

// Start begins the seeding loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("candle poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
		"limit", p.cfg.Limit,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("candle poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main seeding loop. Seeds immediately on start.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.seedAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.seedAll()
		}
	}
}

// SeedNow runs one seeding pass outside the interval schedule. Used after a
// new channel subscription so its chart does not wait for the next tick.
func (p *Poller) SeedNow() {
	p.seedAll()
}

// seedAll fetches history for all watched series with bounded concurrency.
func (p *Poller) seedAll() {
	start := time.Now()

	series := p.source.CandleSeries()
	if len(series) == 0 {
		p.logger.Debug("no candle series to seed")
		return
	}

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var fetched, errors atomic.Int64

	for _, sr := range series {
		wg.Add(1)
		go func(sr state.Series) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			if err := p.seedSeries(sr); err != nil {
				p.logger.Warn("failed to seed series",
					"symbol", sr.Symbol,
					"timeframe", sr.Timeframe,
					"err", err,
				)
				errors.Add(1)
				return
			}

			fetched.Add(1)
		}(sr)
	}

	wg.Wait()

	p.logger.Info("seed cycle complete",
		"series", len(series),
		"fetched", fetched.Load(),
		"errors", errors.Load(),
		"duration", time.Since(start),
	)
}

// seedSeries fetches one series and applies it as an authoritative snapshot.
func (p *Poller) seedSeries(sr state.Series) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	raw, err := p.fetcher.GetCandles(ctx, sr.Symbol, sr.Timeframe, p.cfg.Limit)
	if err != nil {
		return err
	}

	candles := make([]model.Candle, 0, len(raw))
	for _, c := range raw {
		candles = append(candles, c.ToModel())
	}

	p.sink.Enqueue(state.CandleSeriesEvent{
		Symbol:    sr.Symbol,
		Timeframe: sr.Timeframe,
		Candles:   candles,
	})
	return nil
}
