package config

import "time"

// SignalConfig is the root configuration for a signalctl instance.
type SignalConfig struct {
	Hub        HubConfig        `yaml:"hub"`
	Conference ConferenceConfig `yaml:"conference"`
	Journal    JournalConfig    `yaml:"journal"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// HubConfig holds hub connection settings.
type HubConfig struct {
	URL                  string        `yaml:"url"`          // Base URL of the conference hub
	AccessToken          string        `yaml:"access_token"` // Sent as the access_token query parameter
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	KeepAliveInterval    time.Duration `yaml:"keep_alive_interval"`
	ServerTimeout        time.Duration `yaml:"server_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"` // -1 retries until stopped
}

// ConferenceConfig selects the conference to join.
type ConferenceConfig struct {
	ID     string   `yaml:"id"`
	Events []string `yaml:"events"` // Extra server events to subscribe after joining
}

// JournalConfig holds the optional action journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Database      DBConfig      `yaml:"database"`
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

// MetricsConfig holds the health and metrics endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"` // 0 disables the endpoint
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
