package database

import (
	"fmt"
	"net/url"

	"botsync/internal/config"
)

// BuildConnString builds a postgres connection string from config.
// The password is URL-escaped so special characters survive.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}
