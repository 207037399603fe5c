package router

import "encoding/json"

// Inbound frame types.
const (
	TypeAgentActivated          = "agent_activated"
	TypeAgentCompleted          = "agent_completed"
	TypeAgentPaused             = "agent_paused"
	TypeAgentError              = "agent_error"
	TypeAgentMessage            = "agent_message"
	TypeInterAgentCommunication = "inter_agent_communication"
	TypeAgentOutput             = "agent_output"
	TypeArtifactGenerated       = "artifact_generated"
	TypeWorkflowStatusChanged   = "workflow_status_changed"
	TypeHeartbeat               = "heartbeat"
	TypeMessageAck              = "message_ack"
)

// Tracker is the part of the connection layer the router reports liveness
// and acknowledgements to.
type Tracker interface {
	HeartbeatReceived(workflowID string)
	Acknowledge(workflowID, messageID string) bool
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived   int64
	MessagesRouted     int64
	ParseErrors        int64
	UnknownMessages    int64
	InvalidationErrors int64
	UnmatchedAcks      int64
}

// -----------------------------------------------------------------------------
// Wire payloads
// -----------------------------------------------------------------------------

type agentStatusWire struct {
	AgentID string `json:"agentId"`
	Detail  string `json:"detail"`
	Error   string `json:"error"`
}

type agentMessageWire struct {
	ID        string `json:"id"`
	FromAgent string `json:"fromAgent"`
	ToAgent   string `json:"toAgent"`
	Content   string `json:"content"`
}

type agentOutputWire struct {
	AgentID string          `json:"agentId"`
	Output  json.RawMessage `json:"output"`
}

type artifactWire struct {
	AgentID  string `json:"agentId"`
	Artifact struct {
		ID       string          `json:"id"`
		AgentID  string          `json:"agentId"`
		Name     string          `json:"name"`
		Type     string          `json:"type"`
		URL      string          `json:"url"`
		Metadata json.RawMessage `json:"metadata"`
	} `json:"artifact"`
}

type workflowStatusWire struct {
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus"`
}

type ackWire struct {
	MessageID string `json:"messageId"`
}
