package model

import (
	"encoding/json"
	"testing"
)

func TestAgentStatus_Valid(t *testing.T) {
	tests := []struct {
		status AgentStatus
		want   bool
	}{
		{AgentActive, true},
		{AgentCompleted, true},
		{AgentPaused, true},
		{AgentError, true},
		{"running", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("AgentStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestNewWorkflowView(t *testing.T) {
	v := NewWorkflowView("wf-1")

	if v.WorkflowID != "wf-1" {
		t.Errorf("WorkflowID = %q, want %q", v.WorkflowID, "wf-1")
	}
	if v.Connection.Status != "disconnected" {
		t.Errorf("Connection.Status = %q, want %q", v.Connection.Status, "disconnected")
	}
	if v.Agents == nil || v.Outputs == nil || v.Artifacts == nil {
		t.Error("maps should be initialized")
	}
}

func TestWorkflowView_CloneIsIndependent(t *testing.T) {
	v := NewWorkflowView("wf-1")
	v.Agents["a1"] = AgentState{AgentID: "a1", Status: AgentActive}
	v.Messages = append(v.Messages, AgentMessage{ID: "m1", Content: "hello"})
	v.Outputs["a1"] = json.RawMessage(`{"n":1}`)
	v.Artifacts["a1"] = []Artifact{{ID: "art-1"}}

	c := v.Clone()

	v.Agents["a1"] = AgentState{AgentID: "a1", Status: AgentError}
	v.Messages[0].Content = "changed"
	v.Outputs["a1"][2] = 'x'
	v.Artifacts["a1"][0].ID = "art-2"

	if c.Agents["a1"].Status != AgentActive {
		t.Errorf("clone agent status = %q, want %q", c.Agents["a1"].Status, AgentActive)
	}
	if c.Messages[0].Content != "hello" {
		t.Errorf("clone message content = %q, want %q", c.Messages[0].Content, "hello")
	}
	if string(c.Outputs["a1"]) != `{"n":1}` {
		t.Errorf("clone output = %s, want %s", c.Outputs["a1"], `{"n":1}`)
	}
	if c.Artifacts["a1"][0].ID != "art-1" {
		t.Errorf("clone artifact ID = %q, want %q", c.Artifacts["a1"][0].ID, "art-1")
	}
}
