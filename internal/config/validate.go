package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *SignalConfig) Validate() error {
	if c.Hub.URL == "" {
		return errors.New("hub.url is required")
	}
	u, err := url.Parse(c.Hub.URL)
	if err != nil {
		return fmt.Errorf("hub.url is invalid: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("hub.url scheme must be http, https, ws or wss, got %q", u.Scheme)
	}
	if c.Hub.AccessToken == "" {
		return errors.New("hub.access_token is required")
	}
	if c.Hub.ReconnectMaxAttempts < UnlimitedReconnectAttempts {
		return fmt.Errorf("hub.reconnect_max_attempts must be >= 1, or %d to retry until stopped", UnlimitedReconnectAttempts)
	}
	if c.Hub.ReconnectBaseDelay > c.Hub.ReconnectMaxDelay {
		return fmt.Errorf("hub.reconnect_base_delay (%v) cannot exceed reconnect_max_delay (%v)",
			c.Hub.ReconnectBaseDelay, c.Hub.ReconnectMaxDelay)
	}

	if c.Conference.ID == "" {
		return errors.New("conference.id is required")
	}
	for i, name := range c.Conference.Events {
		if name == "" {
			return fmt.Errorf("conference.events[%d] is empty", i)
		}
	}

	if c.Journal.Enabled {
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 0 and 65535, got %d", c.Metrics.Port)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") || c.Metrics.Path == "/health" {
		return fmt.Errorf("metrics.path must start with / and not be /health, got %q", c.Metrics.Path)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
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
