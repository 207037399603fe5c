package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPathTemplate         = "/realtime/workflow/{workflowId}"
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultReadLimit            = 1 << 20
	DefaultReconnectDelay       = 3 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultReconnectMultiplier  = 2.0
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectRate        = 10.0
	DefaultReconnectBurst       = 10
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHeartbeatMaxMissed   = 3
	DefaultMaxQueued            = 1000
	DefaultAckTimeout           = 30 * time.Second
	DefaultMaxAckRetries        = 2
	DefaultHistoryLimit         = 50
	DefaultSubscriberBuffer     = 128
	DefaultCacheSize            = 4096
	DefaultNATSSubject          = "workflow.cache.invalidate"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
)

func (c *RealtimeConfig) applyDefaults() {
	// Gateway defaults
	if c.Gateway.PathTemplate == "" {
		c.Gateway.PathTemplate = DefaultPathTemplate
	}
	if c.Gateway.HandshakeTimeout == 0 {
		c.Gateway.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = DefaultWriteTimeout
	}
	if c.Gateway.ReadLimit == 0 {
		c.Gateway.ReadLimit = DefaultReadLimit
	}

	// Connections defaults
	if c.Connections.AutoReconnect == nil {
		enabled := true
		c.Connections.AutoReconnect = &enabled
	}
	if c.Connections.MaxReconnectAttempts == 0 {
		c.Connections.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connections.ReconnectDelay == 0 {
		c.Connections.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Connections.ReconnectMaxDelay == 0 {
		c.Connections.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connections.ReconnectMultiplier == 0 {
		c.Connections.ReconnectMultiplier = DefaultReconnectMultiplier
	}
	if c.Connections.ReconnectRate == 0 {
		c.Connections.ReconnectRate = DefaultReconnectRate
	}
	if c.Connections.ReconnectBurst == 0 {
		c.Connections.ReconnectBurst = DefaultReconnectBurst
	}

	// Heartbeat defaults
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = DefaultHeartbeatInterval
	}
	if c.Heartbeat.MaxMissed == 0 {
		c.Heartbeat.MaxMissed = DefaultHeartbeatMaxMissed
	}

	// Queue defaults
	if c.Queue.MaxQueued == 0 {
		c.Queue.MaxQueued = DefaultMaxQueued
	}
	if c.Queue.AckTimeout == 0 {
		c.Queue.AckTimeout = DefaultAckTimeout
	}
	if c.Queue.MaxAckRetries == 0 {
		c.Queue.MaxAckRetries = DefaultMaxAckRetries
	}

	// Store defaults
	if c.Store.HistoryLimit == 0 {
		c.Store.HistoryLimit = DefaultHistoryLimit
	}
	if c.Store.SubscriberBuffer == 0 {
		c.Store.SubscriberBuffer = DefaultSubscriberBuffer
	}

	// Cache defaults
	if c.Cache.Size == 0 {
		c.Cache.Size = DefaultCacheSize
	}
	if c.Cache.NATS.Subject == "" {
		c.Cache.NATS.Subject = DefaultNATSSubject
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
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
