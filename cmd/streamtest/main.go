// streamtest connects to the backend stream and prints channel changes to
// the console. Useful for eyeballing the feed without a dashboard attached.
// Usage: go run ./cmd/streamtest --config configs/syncd.yaml --bots bot-1,bot-2
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"botsync/internal/api"
	"botsync/internal/config"
	"botsync/internal/model"
	"botsync/internal/router"
	"botsync/internal/state"
	"botsync/internal/subscription"
	"botsync/internal/sync"
	"botsync/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/syncd.yaml", "path to config file")
	botList := flag.String("bots", "", "comma-separated bot IDs (default: all bots from the backend)")
	verbose := flag.Bool("verbose", false, "print full view JSON on every change")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Resolve the bot list
	var botIDs []string
	if *botList != "" {
		botIDs = strings.Split(*botList, ",")
	} else {
		apiClient := api.NewClient(cfg.Backend.RestURL, cfg.Backend.Token, api.WithLogger(logger))
		bots, err := apiClient.GetBots(ctx)
		if err != nil {
			logger.Error("failed to list bots", "error", err)
			os.Exit(1)
		}
		for _, b := range bots {
			botIDs = append(botIDs, b.ID)
		}
	}
	logger.Info("watching bots", "count", len(botIDs))

	syncer := sync.NewSyncer(sync.Config{
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
		Subscription: subscription.Config{UnsubscribeGrace: cfg.Stream.UnsubscribeGrace},
		Router:       router.RouterConfig{},
		Store: state.Config{
			MaxCandles: cfg.Store.MaxCandles,
			MaxSignals: cfg.Store.MaxSignals,
		},
	}, logger)

	for _, id := range botIDs {
		syncer.Subscribe(model.BotChannel(strings.TrimSpace(id)))
	}

	changes, cancelWatch := syncer.Watch(64)
	defer cancelWatch()

	logger.Info("starting sync pipeline")
	if err := syncer.Start(ctx); err != nil {
		logger.Error("failed to start sync pipeline", "error", err)
		os.Exit(1)
	}

	go printChanges(ctx, syncer, changes, *verbose)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := syncer.Stats()
				logger.Info("stats",
					"conn_state", stats.Conn.State,
					"connects", stats.Conn.ConnectCount,
					"frames_received", stats.Router.FramesReceived,
					"events_routed", stats.Router.EventsRouted,
					"parse_errors", stats.Router.ParseErrors,
					"events_applied", stats.Store.EventsApplied,
					"events_discarded", stats.Store.EventsDiscarded,
					"channels", stats.Store.Channels,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	syncer.Stop(shutdownCtx)
	logger.Info("shutdown complete")
}

func printChanges(ctx context.Context, syncer *sync.Syncer, changes <-chan []state.Change, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-changes:
			if !ok {
				return
			}
			for _, c := range batch {
				view, ok := syncer.GetState(c.Channel)
				if !ok {
					continue
				}
				if verbose {
					data, _ := json.MarshalIndent(view, "", "  ")
					fmt.Printf("[CHANGE] %s\n", data)
					continue
				}
				stale := ""
				if view.Stale {
					stale = " STALE"
				}
				fmt.Printf("[%s v%d%s] candles=%d signals=%d positions=%d",
					c.Channel, view.Version, stale,
					len(view.Candles), len(view.Signals), len(view.Positions))
				if n := len(view.Signals); n > 0 {
					last := view.Signals[n-1]
					fmt.Printf(" last_signal=%s/%s/%s", last.ID, last.Decision, last.Status)
				}
				fmt.Println()
			}
		}
	}
}
