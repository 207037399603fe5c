package store

import (
	"encoding/json"
	"time"

	"github.com/rickgao/workflow-realtime/internal/model"
)

// EventType names an event for logging, metrics and the journal.
type EventType string

const (
	EventConnectionEstablished EventType = "connection_established"
	EventConnectionLost        EventType = "connection_lost"
	EventConnectionError       EventType = "connection_error"
	EventConnectionStatus      EventType = "connection_status_changed"
	EventReconnectScheduled    EventType = "reconnect_scheduled"
	EventLiveUpdate            EventType = "live_update_received"
	EventAgentStatus           EventType = "agent_status_updated"
	EventAgentMessage          EventType = "agent_message_appended"
	EventAgentOutput           EventType = "agent_output_set"
	EventArtifact              EventType = "artifact_appended"
	EventWorkflowStatus        EventType = "workflow_status_changed"
	EventMessageSent           EventType = "message_sent"
	EventMessageQueued         EventType = "message_queued"
	EventMessageAcknowledged   EventType = "message_acknowledged"
	EventMessageAckTimeout     EventType = "message_ack_timeout"
	EventHeartbeatSent         EventType = "heartbeat_sent"
)

// Event is anything the realtime layer reports to the application state.
type Event interface {
	Type() EventType
	Workflow() string
}

// -----------------------------------------------------------------------------
// Connection Events
// -----------------------------------------------------------------------------

// ConnectionEstablished is emitted when a transport opens.
type ConnectionEstablished struct {
	WorkflowID   string    `json:"workflowId"`
	ConnectionID string    `json:"connectionId"`
	At           time.Time `json:"at"`
}

// ConnectionLost is emitted when a transport closes, including user
// initiated disconnects.
type ConnectionLost struct {
	WorkflowID string    `json:"workflowId"`
	Reason     string    `json:"reason"`
	Code       int       `json:"code"`
	WasClean   bool      `json:"wasClean"`
	At         time.Time `json:"at"`
}

// ConnectionError is emitted for transport failures. Retryable is false only
// when the reconnect budget is exhausted.
type ConnectionError struct {
	WorkflowID string    `json:"workflowId"`
	Error      string    `json:"error"`
	Retryable  bool      `json:"retryable"`
	At         time.Time `json:"at"`
}

// ConnectionStatusChanged is emitted when the status moves without a
// transport event, e.g. on heartbeat timeout.
type ConnectionStatusChanged struct {
	WorkflowID string    `json:"workflowId"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// ReconnectScheduled is emitted when a reconnect timer is armed.
type ReconnectScheduled struct {
	WorkflowID string        `json:"workflowId"`
	Attempt    int           `json:"attempt"`
	Delay      time.Duration `json:"delay"`
	At         time.Time     `json:"at"`
}

// -----------------------------------------------------------------------------
// Inbound Events
// -----------------------------------------------------------------------------

// LiveUpdateReceived is emitted for every well-formed inbound frame.
type LiveUpdateReceived struct {
	WorkflowID string          `json:"workflowId"`
	UpdateType string          `json:"updateType"`
	Update     json.RawMessage `json:"update"`
	MessageID  string          `json:"messageId,omitempty"`
	At         time.Time       `json:"at"`
}

// AgentStatusUpdated reports an agent lifecycle change.
type AgentStatusUpdated struct {
	WorkflowID  string            `json:"workflowId"`
	AgentID     string            `json:"agentId"`
	Status      model.AgentStatus `json:"status"`
	Detail      string            `json:"detail,omitempty"`
	HeartbeatAt time.Time         `json:"heartbeatAt"`
}

// AgentMessageAppended adds an entry to the workflow's message log.
type AgentMessageAppended struct {
	WorkflowID string             `json:"workflowId"`
	Message    model.AgentMessage `json:"message"`
}

// AgentOutputSet replaces an agent's latest output.
type AgentOutputSet struct {
	WorkflowID string          `json:"workflowId"`
	AgentID    string          `json:"agentId"`
	Output     json.RawMessage `json:"output"`
	At         time.Time       `json:"at"`
}

// ArtifactAppended records a generated artifact.
type ArtifactAppended struct {
	WorkflowID string         `json:"workflowId"`
	Artifact   model.Artifact `json:"artifact"`
}

// WorkflowStatusChanged reports a workflow-level status transition.
type WorkflowStatusChanged struct {
	WorkflowID     string    `json:"workflowId"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	At             time.Time `json:"at"`
}

// -----------------------------------------------------------------------------
// Outbound Events
// -----------------------------------------------------------------------------

// MessageSent is emitted when a frame is written to an open transport.
type MessageSent struct {
	WorkflowID  string    `json:"workflowId"`
	MessageID   string    `json:"messageId"`
	MessageType string    `json:"messageType"`
	Attempt     int       `json:"attempt"`
	At          time.Time `json:"at"`
}

// MessageQueued is emitted when a frame is held for a later connection.
type MessageQueued struct {
	WorkflowID  string    `json:"workflowId"`
	MessageID   string    `json:"messageId"`
	MessageType string    `json:"messageType"`
	QueueLength int       `json:"queueLength"`
	At          time.Time `json:"at"`
}

// MessageAcknowledged is emitted when the server acks a pending frame.
type MessageAcknowledged struct {
	WorkflowID string        `json:"workflowId"`
	MessageID  string        `json:"messageId"`
	RoundTrip  time.Duration `json:"roundTrip"`
	At         time.Time     `json:"at"`
}

// Ack timeout actions.
const (
	AckActionRetried  = "retried"
	AckActionRequeued = "requeued"
	AckActionDropped  = "dropped"
)

// MessageAckTimeout is emitted when a pending frame outlives the ack
// timeout. Action is one of the AckAction constants.
type MessageAckTimeout struct {
	WorkflowID string    `json:"workflowId"`
	MessageID  string    `json:"messageId"`
	Attempts   int       `json:"attempts"`
	Action     string    `json:"action"`
	At         time.Time `json:"at"`
}

// HeartbeatSent is emitted for every heartbeat frame written.
type HeartbeatSent struct {
	WorkflowID string    `json:"workflowId"`
	At         time.Time `json:"at"`
}

func (ConnectionEstablished) Type() EventType   { return EventConnectionEstablished }
func (ConnectionLost) Type() EventType          { return EventConnectionLost }
func (ConnectionError) Type() EventType         { return EventConnectionError }
func (ConnectionStatusChanged) Type() EventType { return EventConnectionStatus }
func (ReconnectScheduled) Type() EventType      { return EventReconnectScheduled }
func (LiveUpdateReceived) Type() EventType      { return EventLiveUpdate }
func (AgentStatusUpdated) Type() EventType      { return EventAgentStatus }
func (AgentMessageAppended) Type() EventType    { return EventAgentMessage }
func (AgentOutputSet) Type() EventType          { return EventAgentOutput }
func (ArtifactAppended) Type() EventType        { return EventArtifact }
func (WorkflowStatusChanged) Type() EventType   { return EventWorkflowStatus }
func (MessageSent) Type() EventType             { return EventMessageSent }
func (MessageQueued) Type() EventType           { return EventMessageQueued }
func (MessageAcknowledged) Type() EventType     { return EventMessageAcknowledged }
func (MessageAckTimeout) Type() EventType       { return EventMessageAckTimeout }
func (HeartbeatSent) Type() EventType           { return EventHeartbeatSent }

func (e ConnectionEstablished) Workflow() string   { return e.WorkflowID }
func (e ConnectionLost) Workflow() string          { return e.WorkflowID }
func (e ConnectionError) Workflow() string         { return e.WorkflowID }
func (e ConnectionStatusChanged) Workflow() string { return e.WorkflowID }
func (e ReconnectScheduled) Workflow() string      { return e.WorkflowID }
func (e LiveUpdateReceived) Workflow() string      { return e.WorkflowID }
func (e AgentStatusUpdated) Workflow() string      { return e.WorkflowID }
func (e AgentMessageAppended) Workflow() string    { return e.WorkflowID }
func (e AgentOutputSet) Workflow() string          { return e.WorkflowID }
func (e ArtifactAppended) Workflow() string        { return e.WorkflowID }
func (e WorkflowStatusChanged) Workflow() string   { return e.WorkflowID }
func (e MessageSent) Workflow() string             { return e.WorkflowID }
func (e MessageQueued) Workflow() string           { return e.WorkflowID }
func (e MessageAcknowledged) Workflow() string     { return e.WorkflowID }
func (e MessageAckTimeout) Workflow() string       { return e.WorkflowID }
func (e HeartbeatSent) Workflow() string           { return e.WorkflowID }
