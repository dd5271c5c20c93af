package config

import "time"

// SyncConfig is the root configuration for a syncd instance.
type SyncConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Backend  BackendConfig  `yaml:"backend"`
	Stream   StreamConfig   `yaml:"stream"`
	Store    StoreConfig    `yaml:"store"`
	Poller   PollerConfig   `yaml:"poller"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Cache    CacheConfig    `yaml:"cache"`
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this syncd.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// BackendConfig holds the trading backend endpoints and auth token.
type BackendConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	Token      string        `yaml:"token"` // Bearer token; sessions are managed elsewhere
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// StreamConfig holds the WebSocket stream and subscription settings.
type StreamConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	StableThreshold    time.Duration `yaml:"stable_threshold"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	FrameBufferSize    int           `yaml:"frame_buffer_size"`
	UnsubscribeGrace   time.Duration `yaml:"unsubscribe_grace"`
}

// StoreConfig holds per-channel state caps.
type StoreConfig struct {
	MaxCandles int `yaml:"max_candles"`
	MaxSignals int `yaml:"max_signals"`
}

// PollerConfig holds candle seeder settings.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Limit       int           `yaml:"limit"`
}

// ArchiveConfig holds the optional Postgres event journal.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DB            DBConfig      `yaml:"db"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// CacheConfig holds the optional Redis warm-start view cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
