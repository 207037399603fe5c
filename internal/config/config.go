package config

import "time"

// RealtimeConfig is the root configuration for a realtimed instance.
type RealtimeConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Connections ConnectionsConfig `yaml:"connections"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	Queue       QueueConfig       `yaml:"queue"`
	Store       StoreConfig       `yaml:"store"`
	Cache       CacheConfig       `yaml:"cache"`
	Journal     JournalConfig     `yaml:"journal"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Workflows   []string          `yaml:"workflows"` // Connected at startup
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// GatewayConfig describes the realtime gateway endpoint.
type GatewayConfig struct {
	Origin           string        `yaml:"origin"`        // http(s) origin of the dashboard API
	PathTemplate     string        `yaml:"path_template"` // Must contain {workflowId}
	Subprotocols     []string      `yaml:"subprotocols"`
	Token            string        `yaml:"token"`      // Bearer token for the handshake
	TokenFile        string        `yaml:"token_file"` // Alternative to token
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ReadLimit        int64         `yaml:"read_limit"` // Max inbound frame size in bytes
}

// ConnectionsConfig holds reconnection settings applied to every workflow.
type ConnectionsConfig struct {
	AutoReconnect        *bool         `yaml:"auto_reconnect"` // nil means true
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMultiplier  float64       `yaml:"reconnect_multiplier"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // Negative = unlimited
	ReconnectRate        float64       `yaml:"reconnect_rate"`         // Reconnects/second across all workflows, negative = unlimited
	ReconnectBurst       int           `yaml:"reconnect_burst"`
}

// HeartbeatConfig holds liveness probing settings.
type HeartbeatConfig struct {
	Interval  time.Duration `yaml:"interval"`
	MaxMissed int           `yaml:"max_missed"`
}

// QueueConfig holds outbound queue and ack settings.
type QueueConfig struct {
	MaxQueued     int           `yaml:"max_queued"`
	AckTimeout    time.Duration `yaml:"ack_timeout"`     // Negative disables ack timeouts
	MaxAckRetries int           `yaml:"max_ack_retries"` // Negative = drop on first timeout
}

// StoreConfig holds in-memory state store settings.
type StoreConfig struct {
	HistoryLimit     int `yaml:"history_limit"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// CacheConfig holds query cache settings.
type CacheConfig struct {
	Size int        `yaml:"size"`
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig enables cross-instance invalidation when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// JournalConfig holds event journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
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

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// AutoReconnectEnabled reports the effective auto_reconnect value.
func (c ConnectionsConfig) AutoReconnectEnabled() bool {
	return c.AutoReconnect == nil || *c.AutoReconnect
}

// ReconnectLimit returns the attempt limit with unlimited mapped to 0.
func (c ConnectionsConfig) ReconnectLimit() int {
	if c.MaxReconnectAttempts < 0 {
		return 0
	}
	return c.MaxReconnectAttempts
}

// EffectiveAckTimeout returns the ack timeout with disabled mapped to 0.
func (q QueueConfig) EffectiveAckTimeout() time.Duration {
	if q.AckTimeout < 0 {
		return 0
	}
	return q.AckTimeout
}

// EffectiveAckRetries returns the retry budget with negative mapped to 0.
func (q QueueConfig) EffectiveAckRetries() int {
	if q.MaxAckRetries < 0 {
		return 0
	}
	return q.MaxAckRetries
}
