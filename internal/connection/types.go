package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrWorkflowRequired = errors.New("workflow id is required")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrInvalidURL       = errors.New("invalid gateway url")
)

// Status is the connection status of a workflow.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"

	// Reported by Manager.Status from the live transport only.
	StatusClosing Status = "closing"
	StatusUnknown Status = "unknown"
)

// TransportState mirrors the WebSocket ready states.
type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportOpen
	TransportClosing
	TransportClosed
)

// String returns the lower-case state name.
func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportOpen:
		return "open"
	case TransportClosing:
		return "closing"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WebSocket close codes used by the manager.
const (
	CloseNormal           = 1000
	CloseAbnormal         = 1006
	CloseHeartbeatTimeout = 4000
)

// Close reasons used by the manager.
const (
	ReasonUserInitiated    = "user initiated"
	ReasonHeartbeatTimeout = "Heartbeat timeout"
	ReasonAttemptsExceeded = "maximum reconnect attempts reached"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	MessageID  string          `json:"messageId,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`  // RFC 3339
	WorkflowID string          `json:"workflowId,omitempty"` // Heartbeats only
}

// Message is an outbound application message before framing.
type Message struct {
	Type    string
	Payload any
}

// RawMessage is an inbound frame handed to the Message Router.
type RawMessage struct {
	WorkflowID string    // Workflow whose connection received the frame
	Data       []byte    // Raw frame bytes
	ReceivedAt time.Time // Local time the transport delivered the frame
}

// Handler consumes inbound frames. It is called on the transport's read
// goroutine, so frames for one workflow arrive in receipt order.
type Handler interface {
	Route(msg RawMessage)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg RawMessage)

// Route calls f(msg).
func (f HandlerFunc) Route(msg RawMessage) { f(msg) }

// LastError describes the most recent failure on a workflow's connection.
type LastError struct {
	Message   string
	Timestamp time.Time
	Retryable bool
}

// HeartbeatState is the liveness bookkeeping of an open connection.
type HeartbeatState struct {
	LastSent     time.Time
	LastReceived time.Time
	MissedCount  int
}

// OutboundEntry is a frame waiting for a connection.
type OutboundEntry struct {
	WorkflowID string
	MessageID  string
	Message    Frame
	Data       []byte // Encoded Message
	QueuedAt   time.Time

	attempts int    // Transmissions before it was re-queued
	seq      uint64 // Send order
}

// PendingAck is a sent frame awaiting acknowledgement.
type PendingAck struct {
	WorkflowID string
	MessageID  string
	Message    Frame
	Data       []byte
	SentAt     time.Time
	Attempts   int

	seq uint64 // Send order, used to retransmit in order
}

// ConnectionState is a point-in-time snapshot of a workflow's connection.
type ConnectionState struct {
	WorkflowID        string
	Status            Status
	ConnectionID      string // Empty until the first successful open
	URL               string
	ConnectedAt       time.Time
	LastActivity      time.Time
	ReconnectAttempts int
	LastError         *LastError
	Heartbeat         *HeartbeatState // Nil unless connected
	Queued            int
	PendingAcks       int
	Options           Options
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Workflows   int
	Connected   int
	Connecting  int
	Errored     int
	Queued      int
	PendingAcks int
}

// HeartbeatConfig configures the heartbeat supervisor.
type HeartbeatConfig struct {
	Interval  time.Duration // Time between heartbeat frames
	MaxMissed int           // Misses tolerated before the connection is torn down
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Origin       string   // http(s) or ws(s) origin of the gateway
	PathTemplate string   // Endpoint path, {workflowId} is substituted
	Subprotocols []string // Default WebSocket subprotocols

	ReconnectDelay       time.Duration // First reconnect delay
	ReconnectMaxDelay    time.Duration // Backoff ceiling
	ReconnectMultiplier  float64       // Backoff growth factor, 1 = fixed delay
	MaxReconnectAttempts int           // 0 = unlimited
	AutoReconnect        bool
	ReconnectRate        float64 // Reconnects/second across all workflows, 0 = unlimited
	ReconnectBurst       int

	Heartbeat HeartbeatConfig

	MaxQueued     int           // Per-workflow outbound queue bound
	AckTimeout    time.Duration // 0 disables ack timeouts
	MaxAckRetries int           // Retransmissions before a pending frame is dropped
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PathTemplate:         "/realtime/workflow/{workflowId}",
		ReconnectDelay:       3 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectMultiplier:  2,
		MaxReconnectAttempts: 5,
		AutoReconnect:        true,
		ReconnectRate:        10,
		ReconnectBurst:       10,
		Heartbeat: HeartbeatConfig{
			Interval:  30 * time.Second,
			MaxMissed: 3,
		},
		MaxQueued:     1000,
		AckTimeout:    30 * time.Second,
		MaxAckRetries: 2,
	}
}

// Options are the per-workflow connection options, captured on the first
// Connect and kept for every reconnect.
type Options struct {
	URL                  string // Full URL, overrides origin and template
	PathTemplate         string
	Subprotocols         []string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int // 0 = unlimited
	AutoReconnect        bool
}

// ConnectOption customizes Options for one Connect call.
type ConnectOption func(*Options)

// WithURL connects to url instead of the configured origin and template.
func WithURL(url string) ConnectOption {
	return func(o *Options) { o.URL = url }
}

// WithPathTemplate overrides the endpoint path template.
func WithPathTemplate(tmpl string) ConnectOption {
	return func(o *Options) { o.PathTemplate = tmpl }
}

// WithSubprotocols sets the WebSocket subprotocols.
func WithSubprotocols(protocols ...string) ConnectOption {
	return func(o *Options) { o.Subprotocols = protocols }
}

// WithReconnectDelay sets the first reconnect delay.
func WithReconnectDelay(d time.Duration) ConnectOption {
	return func(o *Options) { o.ReconnectDelay = d }
}

// WithMaxReconnectAttempts bounds reconnects. 0 means unlimited.
func WithMaxReconnectAttempts(n int) ConnectOption {
	return func(o *Options) { o.MaxReconnectAttempts = n }
}

// WithAutoReconnect enables or disables reconnects after abnormal closes.
func WithAutoReconnect(enabled bool) ConnectOption {
	return func(o *Options) { o.AutoReconnect = enabled }
}
