package store

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/cskr/pubsub"

	"github.com/rickgao/workflow-realtime/internal/model"
)

// AllTopic receives every event regardless of workflow.
const AllTopic = "*"

// MemoryConfig configures the in-memory store.
type MemoryConfig struct {
	HistoryLimit     int // Max entries kept in each workflow's message log
	SubscriberBuffer int // Channel capacity per subscriber
}

// DefaultMemoryConfig returns sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		HistoryLimit:     50,
		SubscriberBuffer: 128,
	}
}

// Subscription is a channel of Event values published by Memory.
type Subscription chan any

// Memory reduces events into per-workflow views and republishes them.
type Memory struct {
	cfg    MemoryConfig
	logger *slog.Logger
	ps     *pubsub.PubSub

	pubMu  sync.RWMutex // Held shared while publishing, exclusive on Close
	closed bool

	mu        sync.RWMutex
	workflows map[string]*model.WorkflowView
}

var _ Dispatcher = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory(cfg MemoryConfig, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = DefaultMemoryConfig().HistoryLimit
	}
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = DefaultMemoryConfig().SubscriberBuffer
	}
	return &Memory{
		cfg:       cfg,
		logger:    logger,
		ps:        pubsub.New(cfg.SubscriberBuffer),
		workflows: make(map[string]*model.WorkflowView),
	}
}

// Dispatch applies ev to the workflow's view and publishes it.
// Subscribers must keep draining their channel; a full channel stalls
// publication for every subscriber.
func (m *Memory) Dispatch(ev Event) {
	if ev == nil {
		return
	}

	m.pubMu.RLock()
	defer m.pubMu.RUnlock()
	if m.closed {
		return
	}

	m.mu.Lock()
	m.apply(ev)
	m.mu.Unlock()

	m.logger.Debug("event dispatched", "type", ev.Type(), "workflow_id", ev.Workflow())
	m.ps.Pub(ev, ev.Workflow(), AllTopic)
}

// Subscribe returns a channel receiving events for the given workflow IDs.
// Pass AllTopic to receive everything.
func (m *Memory) Subscribe(topics ...string) Subscription {
	if len(topics) == 0 {
		topics = []string{AllTopic}
	}
	return m.ps.Sub(topics...)
}

// Unsubscribe detaches ch from topics, or from everything when none are
// given. The channel is closed once it has no topics left. Call it from a
// goroutine other than the reader, and keep reading until the channel is
// closed.
func (m *Memory) Unsubscribe(ch Subscription, topics ...string) {
	m.ps.Unsub(ch, topics...)
}

// Select returns a copy of the view for workflowID.
func (m *Memory) Select(workflowID string) (model.WorkflowView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.workflows[workflowID]
	if !ok {
		return model.WorkflowView{}, false
	}
	return v.Clone(), true
}

// Workflows returns the IDs of every workflow with state, sorted.
func (m *Memory) Workflows() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.workflows))
	for id := range m.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Forget drops all state for workflowID.
func (m *Memory) Forget(workflowID string) {
	m.mu.Lock()
	delete(m.workflows, workflowID)
	m.mu.Unlock()
}

// Close shuts down the publisher. Subscription channels are closed.
func (m *Memory) Close() {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.ps.Shutdown()
}

// apply reduces ev into the workflow's view. Must hold mu.
func (m *Memory) apply(ev Event) {
	v := m.view(ev.Workflow())
	v.UpdateCount++

	switch e := ev.(type) {
	case ConnectionEstablished:
		v.Connection.Status = "connected"
		v.Connection.ConnectionID = e.ConnectionID
		v.Connection.CloseReason = ""
		v.Connection.CloseCode = 0
		v.Connection.UpdatedAt = e.At

	case ConnectionLost:
		v.Connection.Status = "disconnected"
		v.Connection.CloseReason = e.Reason
		v.Connection.CloseCode = e.Code
		v.Connection.UpdatedAt = e.At

	case ConnectionError:
		v.Connection.LastError = e.Error
		v.Connection.Retryable = e.Retryable
		if !e.Retryable {
			v.Connection.Status = "error"
		}
		v.Connection.UpdatedAt = e.At

	case ConnectionStatusChanged:
		v.Connection.Status = e.Status
		if e.Reason != "" {
			v.Connection.LastError = e.Reason
		}
		v.Connection.UpdatedAt = e.At

	case LiveUpdateReceived:
		v.LastUpdateAt = e.At

	case AgentStatusUpdated:
		v.Agents[e.AgentID] = model.AgentState{
			AgentID:       e.AgentID,
			Status:        e.Status,
			Detail:        e.Detail,
			LastHeartbeat: e.HeartbeatAt,
			UpdatedAt:     e.HeartbeatAt,
		}

	case AgentMessageAppended:
		v.Messages = append(v.Messages, e.Message)
		if over := len(v.Messages) - m.cfg.HistoryLimit; over > 0 {
			v.Messages = append([]model.AgentMessage(nil), v.Messages[over:]...)
		}

	case AgentOutputSet:
		v.Outputs[e.AgentID] = e.Output

	case ArtifactAppended:
		v.Artifacts[e.Artifact.AgentID] = append(v.Artifacts[e.Artifact.AgentID], e.Artifact)

	case WorkflowStatusChanged:
		v.Status = e.Status
	}
}

func (m *Memory) view(workflowID string) *model.WorkflowView {
	v, ok := m.workflows[workflowID]
	if !ok {
		v = model.NewWorkflowView(workflowID)
		m.workflows[workflowID] = v
	}
	return v
}
