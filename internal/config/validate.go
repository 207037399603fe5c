package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *RealtimeConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Gateway.Origin == "" {
		return errors.New("gateway.origin is required")
	}
	u, err := url.Parse(c.Gateway.Origin)
	if err != nil || u.Host == "" {
		return fmt.Errorf("gateway.origin %q is not an absolute URL", c.Gateway.Origin)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("gateway.origin scheme must be http, https, ws or wss, got %q", u.Scheme)
	}
	if !strings.Contains(c.Gateway.PathTemplate, "{workflowId}") {
		return errors.New("gateway.path_template must contain {workflowId}")
	}
	if c.Gateway.Token != "" && c.Gateway.TokenFile != "" {
		return errors.New("gateway.token and gateway.token_file are mutually exclusive")
	}

	if c.Connections.ReconnectDelay <= 0 {
		return errors.New("connections.reconnect_delay must be > 0")
	}
	if c.Connections.ReconnectMaxDelay < c.Connections.ReconnectDelay {
		return fmt.Errorf("connections.reconnect_max_delay (%v) cannot be less than reconnect_delay (%v)",
			c.Connections.ReconnectMaxDelay, c.Connections.ReconnectDelay)
	}
	if c.Connections.ReconnectMultiplier < 1 {
		return errors.New("connections.reconnect_multiplier must be >= 1")
	}

	if c.Heartbeat.Interval <= 0 {
		return errors.New("heartbeat.interval must be > 0")
	}
	if c.Heartbeat.MaxMissed < 1 {
		return errors.New("heartbeat.max_missed must be >= 1")
	}

	if c.Queue.MaxQueued < 1 {
		return errors.New("queue.max_queued must be >= 1")
	}

	if c.Store.HistoryLimit < 1 {
		return errors.New("store.history_limit must be >= 1")
	}
	if c.Cache.Size < 1 {
		return errors.New("cache.size must be >= 1")
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	seen := make(map[string]bool, len(c.Workflows))
	for i, id := range c.Workflows {
		if id == "" {
			return fmt.Errorf("workflows[%d] is empty", i)
		}
		if seen[id] {
			return fmt.Errorf("workflows[%d] %q is listed twice", i, id)
		}
		seen[id] = true
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
