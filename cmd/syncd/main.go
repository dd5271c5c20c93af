package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"botsync/internal/api"
	"botsync/internal/cache"
	"botsync/internal/config"
	"botsync/internal/database"
	"botsync/internal/model"
	"botsync/internal/poller"
	"botsync/internal/router"
	"botsync/internal/state"
	"botsync/internal/subscription"
	"botsync/internal/sync"
	"botsync/internal/transport"
	"botsync/internal/version"
	"botsync/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/syncd.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"rest_url", cfg.Backend.RestURL,
		"ws_url", cfg.Backend.WSURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create API client
	apiClient := api.NewClient(
		cfg.Backend.RestURL,
		cfg.Backend.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Backend.Timeout),
		api.WithRetries(cfg.Backend.MaxRetries, time.Second),
	)

	// Check backend status
	logger.Info("checking backend status")
	status, err := apiClient.GetStatus(ctx)
	if err != nil {
		logger.Error("failed to get backend status", "error", err)
		os.Exit(1)
	}
	logger.Info("backend status",
		"status", status.Status,
		"backend_version", status.Version,
	)

	// Connect to archive database (optional)
	var pool *pgxpool.Pool
	if cfg.Archive.Enabled {
		logger.Info("connecting to archive database",
			"host", cfg.Archive.DB.Host,
			"port", cfg.Archive.DB.Port,
			"database", cfg.Archive.DB.Name,
		)
		pool, err = database.Connect(ctx, cfg.Archive.DB, logger)
		if err != nil {
			logger.Error("failed to connect to archive database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	}

	// Build the sync pipeline
	syncCfg := sync.Config{
		Transport: transport.ConnConfig{
			URL:                cfg.Backend.WSURL,
			Token:              cfg.Backend.Token,
			ReconnectBaseDelay: cfg.Stream.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.Stream.ReconnectMaxDelay,
			StableThreshold:    cfg.Stream.StableThreshold,
			PingTimeout:        cfg.Stream.PingTimeout,
			WriteTimeout:       cfg.Stream.WriteTimeout,
			FrameBufferSize:    cfg.Stream.FrameBufferSize,
		},
		Subscription: subscription.Config{
			UnsubscribeGrace: cfg.Stream.UnsubscribeGrace,
		},
		Router: router.RouterConfig{
			Journal: cfg.Archive.Enabled,
		},
		Store: state.Config{
			InputBuffer: cfg.Stream.FrameBufferSize,
			MaxCandles:  cfg.Store.MaxCandles,
			MaxSignals:  cfg.Store.MaxSignals,
		},
	}
	syncer := sync.NewSyncer(syncCfg, logger)

	// Pre-register every known bot so its channel exists before the
	// stream connects; snapshots then land in waiting channels.
	bots, err := apiClient.GetBots(ctx)
	if err != nil {
		logger.Error("failed to list bots", "error", err)
		os.Exit(1)
	}
	for _, b := range bots {
		ch := model.BotChannel(b.ID)
		syncer.Subscribe(ch)
		syncer.Store().SetChannelBot(ch, b.ToModel())
	}
	logger.Info("bot channels registered", "bots", len(bots))

	// Warm start from the view cache (optional)
	var viewCache *cache.ViewCache
	if cfg.Cache.Enabled {
		viewCache, err = cache.New(cfg.Cache, logger)
		if err != nil {
			logger.Error("failed to connect to view cache", "error", err)
			os.Exit(1)
		}
		defer viewCache.Close()

		views, err := viewCache.LoadAll(ctx)
		if err != nil {
			logger.Warn("view cache load failed, starting cold", "error", err)
		} else {
			// The global channel is subscribed during Start; ensure it now
			// so its cached view survives hydration.
			syncer.Store().EnsureChannel(model.GlobalChannel())
			hydrated := 0
			for _, v := range views {
				if syncer.Store().HydrateView(v) {
					hydrated++
				}
			}
			logger.Info("warm start from view cache",
				"cached", len(views),
				"hydrated", hydrated,
			)
		}
	}

	// Create and start writers BEFORE the stream connects, so journal
	// entries are consumed as soon as frames arrive.
	var signalWriter *writer.SignalWriter
	var candleWriter *writer.CandleWriter
	if cfg.Archive.Enabled {
		writerCfg := writer.WriterConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		}
		journals := syncer.Journals()
		signalWriter = writer.NewSignalWriter(writerCfg, journals.Signals, pool, logger)
		candleWriter = writer.NewCandleWriter(writerCfg, journals.Candles, pool, logger)

		logger.Info("starting archive writers...")
		if err := signalWriter.Start(ctx); err != nil {
			logger.Error("failed to start signal writer", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			signalWriter.Stop(shutdownCtx)
		}()
		if err := candleWriter.Start(ctx); err != nil {
			logger.Error("failed to start candle writer", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			candleWriter.Stop(shutdownCtx)
		}()
		logger.Info("archive writers started")
	}

	// Start the sync pipeline (store, router, registry, connection)
	logger.Info("starting sync pipeline...")
	if err := syncer.Start(ctx); err != nil {
		logger.Error("failed to start sync pipeline", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		syncer.Stop(shutdownCtx)
	}()
	logger.Info("sync pipeline started")

	// Mirror views back into the cache
	var mirror *cache.Mirror
	if viewCache != nil {
		mirror = cache.NewMirror(viewCache, syncer.Store(), logger)
		if err := mirror.Start(ctx); err != nil {
			logger.Error("failed to start cache mirror", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			mirror.Stop(shutdownCtx)
		}()
	}

	// Start the candle poller (seeds history REST-side)
	pollerCfg := poller.Config{
		Interval:    cfg.Poller.Interval,
		Concurrency: cfg.Poller.Concurrency,
		Limit:       cfg.Poller.Limit,
	}
	candlePoller := poller.New(pollerCfg, apiClient, syncer.Store(), syncer.Store(), logger)
	logger.Info("starting candle poller...")
	if err := candlePoller.Start(ctx); err != nil {
		logger.Error("failed to start candle poller", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		candlePoller.Stop(shutdownCtx)
	}()
	logger.Info("candle poller started")

	// Start health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(syncer, pool, signalWriter, candleWriter, mirror),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("syncd running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	logger.Info("syncd stopped")
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(
	syncer *sync.Syncer,
	pool *pgxpool.Pool,
	signalWriter *writer.SignalWriter,
	candleWriter *writer.CandleWriter,
	mirror *cache.Mirror,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		stats := syncer.Stats()
		health.Components["stream"] = map[string]interface{}{
			"state":      string(stats.Conn.State),
			"connects":   stats.Conn.ConnectCount,
			"reconnects": stats.Conn.ReconnectCount,
		}
		if stats.Conn.State != transport.StateOpen {
			health.Status = "degraded"
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["archive_db"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["archive_db"] = "connected"
			}
		}

		health.Components["channels"] = stats.Store.Channels

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/channels", func(w http.ResponseWriter, r *http.Request) {
		views := syncer.Store().Views()

		type channelSummary struct {
			Channel   string `json:"channel"`
			Bot       string `json:"bot,omitempty"`
			Candles   int    `json:"candles"`
			Signals   int    `json:"signals"`
			Positions int    `json:"positions"`
			Stale     bool   `json:"stale"`
			Version   uint64 `json:"version"`
		}
		summaries := make([]channelSummary, 0, len(views))
		for _, v := range views {
			s := channelSummary{
				Channel:   v.Channel.Key(),
				Candles:   len(v.Candles),
				Signals:   len(v.Signals),
				Positions: len(v.Positions),
				Stale:     v.Stale,
				Version:   v.Version,
			}
			if v.Bot != nil {
				s.Bot = v.Bot.Name
			}
			summaries = append(summaries, s)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count":    len(summaries),
			"channels": summaries,
		})
	})

	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]interface{}{
			"pipeline": syncer.Stats(),
		}
		if signalWriter != nil {
			out["signal_writer"] = signalWriter.Stats()
		}
		if candleWriter != nil {
			out["candle_writer"] = candleWriter.Stats()
		}
		if mirror != nil {
			out["cache_mirror"] = mirror.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})

	return mux
}
