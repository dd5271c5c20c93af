package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBackendTimeout     = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultStableThreshold    = 30 * time.Second
	DefaultPingTimeout        = 30 * time.Second
	DefaultWriteTimeout       = 10 * time.Second
	DefaultFrameBufferSize    = 1024
	DefaultUnsubscribeGrace   = 5 * time.Second
	DefaultMaxCandles         = 500
	DefaultMaxSignals         = 200
	DefaultPollInterval       = 5 * time.Minute
	DefaultPollConcurrency    = 4
	DefaultPollLimit          = 500
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultArchiveBatchSize   = 500
	DefaultArchiveFlush       = 5 * time.Second
	DefaultCachePrefix        = "botsync"
	DefaultCacheTTL           = 24 * time.Hour
	DefaultHealthPort         = 8090
)

func (c *SyncConfig) applyDefaults() {
	// Backend defaults
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultBackendTimeout
	}
	if c.Backend.MaxRetries == 0 {
		c.Backend.MaxRetries = DefaultMaxRetries
	}

	// Stream defaults
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.StableThreshold == 0 {
		c.Stream.StableThreshold = DefaultStableThreshold
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.FrameBufferSize == 0 {
		c.Stream.FrameBufferSize = DefaultFrameBufferSize
	}
	if c.Stream.UnsubscribeGrace == 0 {
		c.Stream.UnsubscribeGrace = DefaultUnsubscribeGrace
	}

	// Store defaults
	if c.Store.MaxCandles == 0 {
		c.Store.MaxCandles = DefaultMaxCandles
	}
	if c.Store.MaxSignals == 0 {
		c.Store.MaxSignals = DefaultMaxSignals
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.Limit == 0 {
		c.Poller.Limit = DefaultPollLimit
	}

	// Archive defaults
	if c.Archive.Enabled {
		applyDBDefaults(&c.Archive.DB)
		if c.Archive.BatchSize == 0 {
			c.Archive.BatchSize = DefaultArchiveBatchSize
		}
		if c.Archive.FlushInterval == 0 {
			c.Archive.FlushInterval = DefaultArchiveFlush
		}
	}

	// Cache defaults
	if c.Cache.Enabled {
		if c.Cache.Prefix == "" {
			c.Cache.Prefix = DefaultCachePrefix
		}
		if c.Cache.TTL == 0 {
			c.Cache.TTL = DefaultCacheTTL
		}
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
