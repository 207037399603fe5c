package model

import (
	"encoding/json"
	"time"
)

// -----------------------------------------------------------------------------
// Agent Types
// -----------------------------------------------------------------------------

// AgentStatus is the lifecycle state of an agent inside a workflow.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentCompleted AgentStatus = "completed"
	AgentPaused    AgentStatus = "paused"
	AgentError     AgentStatus = "error"
)

// Valid reports whether s is a known agent status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentActive, AgentCompleted, AgentPaused, AgentError:
		return true
	}
	return false
}

// AgentState is the latest known status of one agent.
type AgentState struct {
	AgentID       string
	Status        AgentStatus
	Detail        string    // Error text or status message, if any
	LastHeartbeat time.Time // Refreshed on every status update
	UpdatedAt     time.Time
}

// AgentMessage is one entry in a workflow's inter-agent message log.
type AgentMessage struct {
	ID        string // Frame messageId
	From      string
	To        string // Empty for broadcasts
	Content   string
	Kind      string // "agent_message" or "inter_agent_communication"
	Timestamp time.Time
}

// Artifact is a file or document produced by an agent.
type Artifact struct {
	ID        string
	AgentID   string
	Name      string
	Kind      string
	URI       string
	Metadata  json.RawMessage
	CreatedAt time.Time
}

// -----------------------------------------------------------------------------
// Workflow View
// -----------------------------------------------------------------------------

// ConnectionView is the store-side picture of a workflow's connection.
type ConnectionView struct {
	Status       string // connecting, connected, disconnected, error
	ConnectionID string
	LastError    string
	Retryable    bool
	CloseReason  string
	CloseCode    int
	UpdatedAt    time.Time
}

// WorkflowView is the reduced state of one workflow as seen by dashboards.
type WorkflowView struct {
	WorkflowID   string
	Status       string // Last workflow_status_changed value
	Connection   ConnectionView
	Agents       map[string]AgentState
	Messages     []AgentMessage // Oldest first, bounded by the store
	Outputs      map[string]json.RawMessage
	Artifacts    map[string][]Artifact // Keyed by agent ID
	UpdateCount  int64
	LastUpdateAt time.Time
}

// NewWorkflowView returns an empty view for workflowID.
func NewWorkflowView(workflowID string) *WorkflowView {
	return &WorkflowView{
		WorkflowID: workflowID,
		Connection: ConnectionView{Status: "disconnected"},
		Agents:     make(map[string]AgentState),
		Outputs:    make(map[string]json.RawMessage),
		Artifacts:  make(map[string][]Artifact),
	}
}

// Clone returns a deep copy safe to hand to readers outside the store lock.
func (v *WorkflowView) Clone() WorkflowView {
	out := *v

	out.Agents = make(map[string]AgentState, len(v.Agents))
	for id, a := range v.Agents {
		out.Agents[id] = a
	}

	out.Messages = append([]AgentMessage(nil), v.Messages...)

	out.Outputs = make(map[string]json.RawMessage, len(v.Outputs))
	for id, o := range v.Outputs {
		out.Outputs[id] = append(json.RawMessage(nil), o...)
	}

	out.Artifacts = make(map[string][]Artifact, len(v.Artifacts))
	for id, list := range v.Artifacts {
		out.Artifacts[id] = append([]Artifact(nil), list...)
	}

	return out
}
