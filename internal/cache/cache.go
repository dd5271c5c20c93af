package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"botsync/internal/config"
	"botsync/internal/model"
	"botsync/internal/state"
)

// ViewCache stores one JSON document per channel in a single Redis hash
// (field = channel key). The whole hash carries the TTL, so an abandoned
// cache ages out together.
type ViewCache struct {
	rdb      *redis.Client
	keyViews string
	ttl      time.Duration
	logger   *slog.Logger
}

// New connects to Redis and verifies connectivity with a ping.
func New(cfg config.CacheConfig, logger *slog.Logger) (*ViewCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &ViewCache{
		rdb:      rdb,
		keyViews: cfg.Prefix + ":views",
		ttl:      cfg.TTL,
		logger:   logger,
	}, nil
}

// Save writes one channel view. Version and payload travel together, so a
// loader never sees a half-updated view.
func (c *ViewCache) Save(ctx context.Context, v state.View) error {
	b, err := encodeView(v)
	if err != nil {
		return fmt.Errorf("encode view %s: %w", v.Channel, err)
	}

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, c.keyViews, v.Channel.Key(), string(b))
	if c.ttl > 0 {
		pipe.Expire(ctx, c.keyViews, c.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Delete removes a released channel's cached view.
func (c *ViewCache) Delete(ctx context.Context, ch model.Channel) error {
	return c.rdb.HDel(ctx, c.keyViews, ch.Key()).Err()
}

// LoadAll returns every cached view. Corrupt entries are skipped with a
// warning rather than failing the whole warm start.
func (c *ViewCache) LoadAll(ctx context.Context) ([]state.View, error) {
	fields, err := c.rdb.HGetAll(ctx, c.keyViews).Result()
	if err != nil {
		return nil, fmt.Errorf("load cached views: %w", err)
	}

	views := make([]state.View, 0, len(fields))
	for key, raw := range fields {
		v, err := decodeView([]byte(raw))
		if err != nil {
			c.logger.Warn("skipping corrupt cached view", "channel", key, "error", err)
			continue
		}
		views = append(views, v)
	}
	return views, nil
}

// Close releases the Redis connection.
func (c *ViewCache) Close() error {
	return c.rdb.Close()
}

// cachedView is the persisted form of a view. Connection state is not
// stored: a loaded view is always stale until the stream re-syncs it.
type cachedView struct {
	Kind      string           `json:"kind"`
	BotID     string           `json:"bot_id,omitempty"`
	Bot       *model.Bot       `json:"bot,omitempty"`
	Candles   []model.Candle   `json:"candles,omitempty"`
	Signals   []model.Signal   `json:"signals,omitempty"`
	Positions []model.Position `json:"positions,omitempty"`
	Version   uint64           `json:"version"`
	SavedAt   int64            `json:"saved_at"`
}

func encodeView(v state.View) ([]byte, error) {
	return json.Marshal(cachedView{
		Kind:      string(v.Channel.Kind),
		BotID:     v.Channel.BotID,
		Bot:       v.Bot,
		Candles:   v.Candles,
		Signals:   v.Signals,
		Positions: v.Positions,
		Version:   v.Version,
		SavedAt:   time.Now().UnixMilli(),
	})
}

func decodeView(b []byte) (state.View, error) {
	var cv cachedView
	if err := json.Unmarshal(b, &cv); err != nil {
		return state.View{}, err
	}
	if cv.Kind != string(model.KindGlobal) && cv.Kind != string(model.KindBot) {
		return state.View{}, fmt.Errorf("unknown channel kind %q", cv.Kind)
	}
	return state.View{
		Channel:   model.Channel{Kind: model.ChannelKind(cv.Kind), BotID: cv.BotID},
		Bot:       cv.Bot,
		Candles:   cv.Candles,
		Signals:   cv.Signals,
		Positions: cv.Positions,
		Stale:     true,
		Version:   cv.Version,
	}, nil
}
