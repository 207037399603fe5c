package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/rickgao/workflow-realtime/internal/auth"
	"github.com/rickgao/workflow-realtime/internal/config"
	"github.com/rickgao/workflow-realtime/internal/connection"
)

// managerConfig maps the file config onto the connection manager's.
// Negative limits in the file mean unlimited.
func managerConfig(cfg *config.RealtimeConfig) connection.ManagerConfig {
	rate := cfg.Connections.ReconnectRate
	if rate < 0 {
		rate = 0
	}
	return connection.ManagerConfig{
		Origin:               cfg.Gateway.Origin,
		PathTemplate:         cfg.Gateway.PathTemplate,
		Subprotocols:         cfg.Gateway.Subprotocols,
		ReconnectDelay:       cfg.Connections.ReconnectDelay,
		ReconnectMaxDelay:    cfg.Connections.ReconnectMaxDelay,
		ReconnectMultiplier:  cfg.Connections.ReconnectMultiplier,
		MaxReconnectAttempts: cfg.Connections.ReconnectLimit(),
		AutoReconnect:        cfg.Connections.AutoReconnectEnabled(),
		ReconnectRate:        rate,
		ReconnectBurst:       cfg.Connections.ReconnectBurst,
		Heartbeat: connection.HeartbeatConfig{
			Interval:  cfg.Heartbeat.Interval,
			MaxMissed: cfg.Heartbeat.MaxMissed,
		},
		MaxQueued:     cfg.Queue.MaxQueued,
		AckTimeout:    cfg.Queue.EffectiveAckTimeout(),
		MaxAckRetries: cfg.Queue.EffectiveAckRetries(),
	}
}

// dialerConfig builds the transport settings. creds may be nil.
func dialerConfig(gw config.GatewayConfig, creds *auth.Credentials) connection.DialerConfig {
	return connection.DialerConfig{
		Header:           creds.Header(),
		HandshakeTimeout: gw.HandshakeTimeout,
		WriteTimeout:     gw.WriteTimeout,
		ReadLimit:        gw.ReadLimit,
	}
}

// startupWorkflows merges the configured and flag-supplied workflow IDs,
// dropping blanks and duplicates while keeping first-seen order.
func startupWorkflows(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, id := range list {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
