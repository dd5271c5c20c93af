package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *SyncConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Backend.RestURL == "" {
		return errors.New("backend.rest_url is required")
	}
	if c.Backend.WSURL == "" {
		return errors.New("backend.ws_url is required")
	}

	if c.Stream.ReconnectMaxDelay < c.Stream.ReconnectBaseDelay {
		return fmt.Errorf("stream.reconnect_max_delay must be >= stream.reconnect_base_delay (%v)",
			c.Stream.ReconnectBaseDelay)
	}
	if c.Stream.FrameBufferSize < 1 {
		return errors.New("stream.frame_buffer_size must be >= 1")
	}

	if c.Store.MaxCandles < 1 {
		return errors.New("store.max_candles must be >= 1")
	}
	if c.Store.MaxSignals < 1 {
		return errors.New("store.max_signals must be >= 1")
	}

	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Archive.Enabled {
		if err := c.Archive.DB.validate("archive.db"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		return errors.New("cache.addr is required when cache is enabled")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
