package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/workflow-realtime/internal/connection"
	"github.com/rickgao/workflow-realtime/internal/model"
	"github.com/rickgao/workflow-realtime/internal/store"
)

var receivedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// keyRecorder records every invalidation request.
type keyRecorder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
	ch    chan []string
}

func (k *keyRecorder) Invalidate(keys []string) error {
	k.mu.Lock()
	k.calls = append(k.calls, append([]string(nil), keys...))
	k.mu.Unlock()
	if k.ch != nil {
		k.ch <- keys
	}
	return k.err
}

func (k *keyRecorder) all() [][]string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([][]string(nil), k.calls...)
}

type fakeTracker struct {
	heartbeats []string
	acks       []string
	known      map[string]bool
}

func (f *fakeTracker) HeartbeatReceived(workflowID string) {
	f.heartbeats = append(f.heartbeats, workflowID)
}

func (f *fakeTracker) Acknowledge(workflowID, messageID string) bool {
	f.acks = append(f.acks, messageID)
	return f.known[messageID]
}

func raw(workflowID, data string) connection.RawMessage {
	return connection.RawMessage{WorkflowID: workflowID, Data: []byte(data), ReceivedAt: receivedAt}
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRouter_AgentStatusTypes(t *testing.T) {
	tests := []struct {
		frameType string
		want      model.AgentStatus
	}{
		{TypeAgentActivated, model.AgentActive},
		{TypeAgentCompleted, model.AgentCompleted},
		{TypeAgentPaused, model.AgentPaused},
		{TypeAgentError, model.AgentError},
	}

	for _, tt := range tests {
		t.Run(tt.frameType, func(t *testing.T) {
			rec := &store.Recorder{}
			keys := &keyRecorder{}
			r := NewRouter(rec, keys, nil)

			r.Route(raw("wf-1", `{"type":"`+tt.frameType+`","payload":{"agentId":"architect","detail":"step 2"},"messageId":"m-1"}`))

			live := rec.OfType(store.EventLiveUpdate)
			if len(live) != 1 {
				t.Fatalf("live_update_received events = %d, want 1", len(live))
			}
			if ev := live[0].(store.LiveUpdateReceived); ev.MessageID != "m-1" || ev.UpdateType != tt.frameType {
				t.Errorf("live update = %+v", ev)
			}

			updates := rec.OfType(store.EventAgentStatus)
			if len(updates) != 1 {
				t.Fatalf("agent_status_updated events = %d, want 1", len(updates))
			}
			ev := updates[0].(store.AgentStatusUpdated)
			if ev.AgentID != "architect" || ev.Status != tt.want || ev.Detail != "step 2" {
				t.Errorf("agent_status_updated = %+v, want architect %s", ev, tt.want)
			}
			if !ev.HeartbeatAt.Equal(receivedAt) {
				t.Errorf("HeartbeatAt = %v, want %v", ev.HeartbeatAt, receivedAt)
			}

			calls := keys.all()
			if len(calls) != 1 || !equalKeys(calls[0], []string{"executions:wf-1", "workflow:wf-1"}) {
				t.Errorf("invalidated = %v, want [[executions:wf-1 workflow:wf-1]]", calls)
			}
		})
	}
}

func TestRouter_AgentMessages(t *testing.T) {
	for _, frameType := range []string{TypeAgentMessage, TypeInterAgentCommunication} {
		t.Run(frameType, func(t *testing.T) {
			rec := &store.Recorder{}
			keys := &keyRecorder{}
			r := NewRouter(rec, keys, nil)

			r.Route(raw("wf-1", `{"type":"`+frameType+`","messageId":"m-7","timestamp":"2026-03-01T11:59:00Z",
				"payload":{"fromAgent":"architect","toAgent":"coder","content":"ship it"}}`))

			msgs := rec.OfType(store.EventAgentMessage)
			if len(msgs) != 1 {
				t.Fatalf("agent_message_appended events = %d, want 1", len(msgs))
			}
			got := msgs[0].(store.AgentMessageAppended).Message
			want := model.AgentMessage{
				ID:        "m-7",
				From:      "architect",
				To:        "coder",
				Content:   "ship it",
				Kind:      frameType,
				Timestamp: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
			}
			if got != want {
				t.Errorf("message = %+v, want %+v", got, want)
			}

			calls := keys.all()
			if len(calls) != 1 || !equalKeys(calls[0], []string{"messages:wf-1"}) {
				t.Errorf("invalidated = %v, want [[messages:wf-1]]", calls)
			}
		})
	}
}

func TestRouter_AgentOutput(t *testing.T) {
	rec := &store.Recorder{}
	r := NewRouter(rec, nil, nil)

	r.Route(raw("wf-1", `{"type":"agent_output","payload":{"agentId":"coder","output":{"files":2}}}`))

	outs := rec.OfType(store.EventAgentOutput)
	if len(outs) != 1 {
		t.Fatalf("agent_output_set events = %d, want 1", len(outs))
	}
	ev := outs[0].(store.AgentOutputSet)
	if ev.AgentID != "coder" || string(ev.Output) != `{"files":2}` {
		t.Errorf("agent_output_set = %+v", ev)
	}
	if !ev.At.Equal(receivedAt) {
		t.Errorf("At = %v, want receive time %v", ev.At, receivedAt)
	}
}

func TestRouter_ArtifactGenerated(t *testing.T) {
	rec := &store.Recorder{}
	keys := &keyRecorder{}
	r := NewRouter(rec, keys, nil)

	r.Route(raw("wf-1", `{"type":"artifact_generated","messageId":"m-2","payload":{"artifact":
		{"id":"a-1","agentId":"coder","name":"main.go","type":"code","url":"s3://bucket/main.go","metadata":{"lines":40}}}}`))

	arts := rec.OfType(store.EventArtifact)
	if len(arts) != 1 {
		t.Fatalf("artifact_appended events = %d, want 1", len(arts))
	}
	a := arts[0].(store.ArtifactAppended).Artifact
	if a.ID != "a-1" || a.AgentID != "coder" || a.Name != "main.go" || a.Kind != "code" || a.URI != "s3://bucket/main.go" {
		t.Errorf("artifact = %+v", a)
	}
	if string(a.Metadata) != `{"lines":40}` {
		t.Errorf("Metadata = %s, want {\"lines\":40}", a.Metadata)
	}

	calls := keys.all()
	if len(calls) != 1 || !equalKeys(calls[0], []string{"artifacts:wf-1:coder"}) {
		t.Errorf("invalidated = %v, want [[artifacts:wf-1:coder]]", calls)
	}
}

func TestRouter_WorkflowStatusChanged(t *testing.T) {
	rec := &store.Recorder{}
	keys := &keyRecorder{}
	r := NewRouter(rec, keys, nil)

	r.Route(raw("wf-1", `{"type":"workflow_status_changed","payload":{"status":"completed","previousStatus":"running"}}`))

	evs := rec.OfType(store.EventWorkflowStatus)
	if len(evs) != 1 {
		t.Fatalf("workflow_status_changed events = %d, want 1", len(evs))
	}
	if ev := evs[0].(store.WorkflowStatusChanged); ev.Status != "completed" || ev.PreviousStatus != "running" {
		t.Errorf("workflow_status_changed = %+v", ev)
	}
	if n := len(rec.OfType(store.EventAgentStatus)); n != 0 {
		t.Errorf("agent_status_updated events = %d, want 0", n)
	}

	calls := keys.all()
	if len(calls) != 1 || !equalKeys(calls[0], []string{"workflow:wf-1", "workflows"}) {
		t.Errorf("invalidated = %v, want [[workflow:wf-1 workflows]]", calls)
	}
}

func TestRouter_HeartbeatAndAck(t *testing.T) {
	rec := &store.Recorder{}
	keys := &keyRecorder{}
	tracker := &fakeTracker{known: map[string]bool{"m-1": true}}
	r := NewRouter(rec, keys, tracker)

	r.Route(raw("wf-1", `{"type":"heartbeat","payload":{"workflowId":"wf-1"}}`))
	r.Route(raw("wf-1", `{"type":"message_ack","payload":{"messageId":"m-1"}}`))
	r.Route(raw("wf-1", `{"type":"message_ack","messageId":"m-9"}`))

	if len(tracker.heartbeats) != 1 || tracker.heartbeats[0] != "wf-1" {
		t.Errorf("heartbeats = %v, want [wf-1]", tracker.heartbeats)
	}
	if len(tracker.acks) != 2 || tracker.acks[0] != "m-1" || tracker.acks[1] != "m-9" {
		t.Errorf("acks = %v, want [m-1 m-9]", tracker.acks)
	}
	if calls := keys.all(); len(calls) != 0 {
		t.Errorf("invalidated = %v, want none", calls)
	}

	stats := r.Stats()
	if stats.MessagesRouted != 3 || stats.UnmatchedAcks != 1 {
		t.Errorf("Stats() = %+v, want 3 routed and 1 unmatched ack", stats)
	}
}

func TestRouter_UnknownTypeIsSafe(t *testing.T) {
	rec := &store.Recorder{}
	keys := &keyRecorder{}
	r := NewRouter(rec, keys, nil)

	r.Route(raw("wf-1", `{"type":"mystery","payload":{"agentId":"architect"}}`))

	events := rec.Events()
	if len(events) != 1 || events[0].Type() != store.EventLiveUpdate {
		t.Errorf("events = %v, want only live_update_received", events)
	}
	if calls := keys.all(); len(calls) != 0 {
		t.Errorf("invalidated = %v, want none", calls)
	}
	if stats := r.Stats(); stats.UnknownMessages != 1 || stats.MessagesRouted != 0 {
		t.Errorf("Stats() = %+v, want 1 unknown", stats)
	}
}

func TestRouter_MalformedFramesDropped(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantLive int
	}{
		{"not json", `{"type":`, 0},
		{"array", `[1,2,3]`, 0},
		{"missing type", `{"payload":{}}`, 0},
		{"payload wrong shape", `{"type":"agent_activated","payload":"architect"}`, 1},
		{"missing agent", `{"type":"agent_completed","payload":{}}`, 1},
		{"artifact without agent", `{"type":"artifact_generated","payload":{"artifact":{"id":"a"}}}`, 1},
		{"status without value", `{"type":"workflow_status_changed","payload":{}}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &store.Recorder{}
			keys := &keyRecorder{}
			r := NewRouter(rec, keys, nil)

			r.Route(raw("wf-1", tt.data))

			if n := len(rec.Events()); n != tt.wantLive {
				t.Errorf("events = %d, want %d", n, tt.wantLive)
			}
			if n := len(rec.OfType(store.EventLiveUpdate)); n != tt.wantLive {
				t.Errorf("live_update_received events = %d, want %d", n, tt.wantLive)
			}
			if calls := keys.all(); len(calls) != 0 {
				t.Errorf("invalidated = %v, want none", calls)
			}
			if stats := r.Stats(); stats.ParseErrors != 1 {
				t.Errorf("ParseErrors = %d, want 1", stats.ParseErrors)
			}
		})
	}
}

func TestRouter_InvalidationFailuresContained(t *testing.T) {
	rec := &store.Recorder{}
	failing := &keyRecorder{err: errors.New("cache unavailable")}
	panicking := invalidatorFunc(func([]string) error { panic("boom") })

	for _, inv := range []interface{ Invalidate([]string) error }{failing, panicking} {
		r := NewRouter(rec, inv, nil)
		r.Route(raw("wf-1", `{"type":"agent_activated","payload":{"agentId":"architect"}}`))

		if stats := r.Stats(); stats.InvalidationErrors != 1 || stats.MessagesRouted != 1 {
			t.Errorf("Stats() = %+v, want 1 routed and 1 invalidation error", stats)
		}
	}
	if n := len(rec.OfType(store.EventAgentStatus)); n != 2 {
		t.Errorf("agent_status_updated events = %d, want 2", n)
	}
}

type invalidatorFunc func([]string) error

func (f invalidatorFunc) Invalidate(keys []string) error { return f(keys) }

func TestRouter_EndToEnd(t *testing.T) {
	paths := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		frame, _ := json.Marshal(map[string]any{
			"type":      "agent_activated",
			"payload":   map[string]string{"agentId": "architect"},
			"messageId": "srv-1",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		conn.WriteMessage(websocket.TextMessage, frame)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	mem := store.NewMemory(store.DefaultMemoryConfig(), nil)
	defer mem.Close()
	keys := &keyRecorder{ch: make(chan []string, 4)}

	cfg := connection.DefaultManagerConfig()
	cfg.Origin = server.URL
	mgr := connection.NewManager(cfg, mem)
	defer mgr.Stop(context.Background())
	mgr.SetHandler(NewRouter(mem, keys, mgr))

	if err := mgr.Connect("W"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case path := <-paths:
		if path != "/realtime/workflow/W" {
			t.Errorf("request path = %q, want /realtime/workflow/W", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for handshake")
	}

	select {
	case got := <-keys.ch:
		if !equalKeys(got, []string{"executions:W", "workflow:W"}) {
			t.Errorf("invalidated = %v, want [executions:W workflow:W]", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for cache invalidation")
	}

	view, ok := mem.Select("W")
	if !ok {
		t.Fatal("store has no view for W")
	}
	agent, ok := view.Agents["architect"]
	if !ok {
		t.Fatalf("Agents = %v, want architect", view.Agents)
	}
	if agent.Status != model.AgentActive {
		t.Errorf("architect status = %q, want active", agent.Status)
	}
	if view.Connection.Status != "connected" {
		t.Errorf("Connection.Status = %q, want connected", view.Connection.Status)
	}
	if active := mgr.ActiveConnections(); len(active) != 1 || active[0] != "W" {
		t.Errorf("ActiveConnections() = %v, want [W]", active)
	}
}
