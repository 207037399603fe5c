package main

import (
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/rickgao/workflow-realtime/internal/auth"
	"github.com/rickgao/workflow-realtime/internal/config"
)

func TestManagerConfig(t *testing.T) {
	disabled := false
	cfg := &config.RealtimeConfig{
		Gateway: config.GatewayConfig{
			Origin:       "https://dashboard.example.com",
			PathTemplate: "/rt/{workflowId}",
			Subprotocols: []string{"workflow.v1"},
		},
		Connections: config.ConnectionsConfig{
			AutoReconnect:        &disabled,
			ReconnectDelay:       time.Second,
			ReconnectMaxDelay:    time.Minute,
			ReconnectMultiplier:  1.5,
			MaxReconnectAttempts: -1,
			ReconnectRate:        -1,
			ReconnectBurst:       4,
		},
		Heartbeat: config.HeartbeatConfig{Interval: 10 * time.Second, MaxMissed: 2},
		Queue:     config.QueueConfig{MaxQueued: 50, AckTimeout: -1, MaxAckRetries: -1},
	}

	got := managerConfig(cfg)

	if got.Origin != "https://dashboard.example.com" {
		t.Errorf("Origin = %s, want https://dashboard.example.com", got.Origin)
	}
	if got.PathTemplate != "/rt/{workflowId}" {
		t.Errorf("PathTemplate = %s, want /rt/{workflowId}", got.PathTemplate)
	}
	if got.AutoReconnect {
		t.Error("AutoReconnect = true, want false")
	}
	if got.MaxReconnectAttempts != 0 {
		t.Errorf("MaxReconnectAttempts = %d, want 0 (unlimited)", got.MaxReconnectAttempts)
	}
	if got.ReconnectRate != 0 {
		t.Errorf("ReconnectRate = %v, want 0 (unlimited)", got.ReconnectRate)
	}
	if got.ReconnectMultiplier != 1.5 {
		t.Errorf("ReconnectMultiplier = %v, want 1.5", got.ReconnectMultiplier)
	}
	if got.Heartbeat.Interval != 10*time.Second || got.Heartbeat.MaxMissed != 2 {
		t.Errorf("Heartbeat = %+v, want 10s/2", got.Heartbeat)
	}
	if got.AckTimeout != 0 {
		t.Errorf("AckTimeout = %v, want 0 (disabled)", got.AckTimeout)
	}
	if got.MaxAckRetries != 0 {
		t.Errorf("MaxAckRetries = %d, want 0", got.MaxAckRetries)
	}
	if got.MaxQueued != 50 {
		t.Errorf("MaxQueued = %d, want 50", got.MaxQueued)
	}
}

func TestDialerConfig(t *testing.T) {
	gw := config.GatewayConfig{
		HandshakeTimeout: 3 * time.Second,
		WriteTimeout:     time.Second,
		ReadLimit:        4096,
	}

	withToken := dialerConfig(gw, &auth.Credentials{Token: "secret"})
	if got := withToken.Header.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer secret")
	}
	if withToken.HandshakeTimeout != 3*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 3s", withToken.HandshakeTimeout)
	}
	if withToken.ReadLimit != 4096 {
		t.Errorf("ReadLimit = %d, want 4096", withToken.ReadLimit)
	}

	anonymous := dialerConfig(gw, nil)
	if got := anonymous.Header.Get("Authorization"); got != "" {
		t.Errorf("Authorization = %q, want empty", got)
	}
}

func TestStartupWorkflows(t *testing.T) {
	got := startupWorkflows([]string{"wf-1", " wf-2 ", ""}, []string{"wf-2", "wf-3"})
	want := []string{"wf-1", "wf-2", "wf-3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("startupWorkflows() = %v, want %v", got, want)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
