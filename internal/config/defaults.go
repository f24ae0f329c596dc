package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout     = 15 * time.Second
	DefaultKeepAliveInterval    = 15 * time.Second
	DefaultServerTimeout        = 30 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultReconnectMaxAttempts = 4
	UnlimitedReconnectAttempts  = -1
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 100
	DefaultFlushInterval        = 1 * time.Second
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

func (c *SignalConfig) applyDefaults() {
	// Hub defaults
	if c.Hub.HandshakeTimeout == 0 {
		c.Hub.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Hub.KeepAliveInterval == 0 {
		c.Hub.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.Hub.ServerTimeout == 0 {
		c.Hub.ServerTimeout = DefaultServerTimeout
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = DefaultWriteTimeout
	}
	if c.Hub.ReconnectBaseDelay == 0 {
		c.Hub.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Hub.ReconnectMaxDelay == 0 {
		c.Hub.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Hub.ReconnectMaxAttempts == 0 {
		c.Hub.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	applyDBDefaults(&c.Journal.Database)

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
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
