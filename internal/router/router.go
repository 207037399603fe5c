package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/workflow-realtime/internal/cache"
	"github.com/rickgao/workflow-realtime/internal/connection"
	"github.com/rickgao/workflow-realtime/internal/metrics"
	"github.com/rickgao/workflow-realtime/internal/model"
	"github.com/rickgao/workflow-realtime/internal/store"
)

var errMissingAgent = errors.New("payload has no agentId")

// Router parses inbound frames, turns them into store events and
// invalidates the cached queries they affect.
type Router interface {
	connection.Handler

	// Stats returns current router statistics.
	Stats() RouterStats
}

// Option configures a Router.
type Option func(*router)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *router) { r.logger = logger }
}

// WithMetrics records frame metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *router) { r.metrics = m }
}

// router is the internal implementation.
type router struct {
	dispatcher  store.Dispatcher
	invalidator cache.Invalidator
	tracker     Tracker
	metrics     *metrics.Metrics
	logger      *slog.Logger

	// Stats
	mu                 sync.RWMutex
	received           int64
	routed             int64
	parseErrors        int64
	unknownMessages    int64
	invalidationErrors int64
	unmatchedAcks      int64
}

// NewRouter creates a Message Router. invalidator and tracker may be nil.
func NewRouter(dispatcher store.Dispatcher, invalidator cache.Invalidator, tracker Tracker, opts ...Option) Router {
	r := &router{
		dispatcher:  dispatcher,
		invalidator: invalidator,
		tracker:     tracker,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		MessagesReceived:   r.received,
		MessagesRouted:     r.routed,
		ParseErrors:        r.parseErrors,
		UnknownMessages:    r.unknownMessages,
		InvalidationErrors: r.invalidationErrors,
		UnmatchedAcks:      r.unmatchedAcks,
	}
}

func (r *router) incr(counter *int64) {
	r.mu.Lock()
	*counter++
	r.mu.Unlock()
}

// Route parses and routes a single frame. Malformed frames are logged and
// dropped.
func (r *router) Route(raw connection.RawMessage) {
	r.incr(&r.received)
	logger := r.logger.With("workflow_id", raw.WorkflowID)

	var frame connection.Frame
	if err := json.Unmarshal(raw.Data, &frame); err != nil {
		r.parseFailed(logger, "", err)
		return
	}
	if frame.Type == "" {
		r.parseFailed(logger, "", errors.New("frame has no type"))
		return
	}

	r.dispatch(store.LiveUpdateReceived{
		WorkflowID: raw.WorkflowID,
		UpdateType: frame.Type,
		Update:     append(json.RawMessage(nil), raw.Data...),
		MessageID:  frame.MessageID,
		At:         raw.ReceivedAt,
	})

	keys, err := r.routeFrame(raw, frame)
	if err != nil {
		r.parseFailed(logger, frame.Type, err)
		return
	}
	if !isKnownType(frame.Type) {
		logger.Warn("unknown message type", "type", frame.Type)
		r.incr(&r.unknownMessages)
		r.metrics.UnknownType()
		r.metrics.FrameReceived("unknown")
		return
	}

	r.incr(&r.routed)
	r.metrics.FrameReceived(frame.Type)
	r.invalidate(logger, keys)
}

func (r *router) parseFailed(logger *slog.Logger, frameType string, err error) {
	logger.Warn("dropping malformed message", "type", frameType, "error", err)
	r.incr(&r.parseErrors)
	r.metrics.ParseError()
}

// routeFrame dispatches the typed event for frame and returns the cache
// keys it invalidates.
func (r *router) routeFrame(raw connection.RawMessage, frame connection.Frame) ([]string, error) {
	w := raw.WorkflowID
	at := frameTime(frame, raw.ReceivedAt)

	switch frame.Type {
	case TypeAgentActivated, TypeAgentCompleted, TypeAgentPaused, TypeAgentError:
		var p agentStatusWire
		if err := decodePayload(frame, &p); err != nil {
			return nil, err
		}
		if p.AgentID == "" {
			return nil, errMissingAgent
		}
		detail := p.Detail
		if detail == "" {
			detail = p.Error
		}
		r.dispatch(store.AgentStatusUpdated{
			WorkflowID:  w,
			AgentID:     p.AgentID,
			Status:      agentStatus(frame.Type),
			Detail:      detail,
			HeartbeatAt: raw.ReceivedAt,
		})
		return []string{cache.ExecutionsKey(w), cache.WorkflowKey(w)}, nil

	case TypeAgentMessage, TypeInterAgentCommunication:
		var p agentMessageWire
		if err := decodePayload(frame, &p); err != nil {
			return nil, err
		}
		id := p.ID
		if id == "" {
			id = frame.MessageID
		}
		r.dispatch(store.AgentMessageAppended{
			WorkflowID: w,
			Message: model.AgentMessage{
				ID:        id,
				From:      p.FromAgent,
				To:        p.ToAgent,
				Content:   p.Content,
				Kind:      frame.Type,
				Timestamp: at,
			},
		})
		return []string{cache.MessagesKey(w)}, nil

	case TypeAgentOutput:
		var p agentOutputWire
		if err := decodePayload(frame, &p); err != nil {
			return nil, err
		}
		if p.AgentID == "" {
			return nil, errMissingAgent
		}
		r.dispatch(store.AgentOutputSet{
			WorkflowID: w,
			AgentID:    p.AgentID,
			Output:     p.Output,
			At:         at,
		})
		return []string{cache.ExecutionsKey(w)}, nil

	case TypeArtifactGenerated:
		var p artifactWire
		if err := decodePayload(frame, &p); err != nil {
			return nil, err
		}
		agentID := p.Artifact.AgentID
		if agentID == "" {
			agentID = p.AgentID
		}
		if agentID == "" {
			return nil, errMissingAgent
		}
		id := p.Artifact.ID
		if id == "" {
			id = frame.MessageID
		}
		r.dispatch(store.ArtifactAppended{
			WorkflowID: w,
			Artifact: model.Artifact{
				ID:        id,
				AgentID:   agentID,
				Name:      p.Artifact.Name,
				Kind:      p.Artifact.Type,
				URI:       p.Artifact.URL,
				Metadata:  p.Artifact.Metadata,
				CreatedAt: at,
			},
		})
		return []string{cache.ArtifactsKey(w, agentID)}, nil

	case TypeWorkflowStatusChanged:
		var p workflowStatusWire
		if err := decodePayload(frame, &p); err != nil {
			return nil, err
		}
		if p.Status == "" {
			return nil, errors.New("payload has no status")
		}
		r.dispatch(store.WorkflowStatusChanged{
			WorkflowID:     w,
			Status:         p.Status,
			PreviousStatus: p.PreviousStatus,
			At:             at,
		})
		return []string{cache.WorkflowKey(w), cache.WorkflowsKey()}, nil

	case TypeHeartbeat:
		if r.tracker != nil {
			r.tracker.HeartbeatReceived(w)
		}
		return nil, nil

	case TypeMessageAck:
		var p ackWire
		if err := decodePayload(frame, &p); err != nil {
			return nil, err
		}
		id := p.MessageID
		if id == "" {
			id = frame.MessageID
		}
		if r.tracker != nil && !r.tracker.Acknowledge(w, id) {
			r.logger.Debug("ack for unknown message", "workflow_id", w, "message_id", id)
			r.incr(&r.unmatchedAcks)
		}
		return nil, nil
	}

	return nil, nil
}

// invalidate asks the cache layer to drop keys. Failures and panics are
// logged and never reach the caller.
func (r *router) invalidate(logger *slog.Logger, keys []string) {
	if r.invalidator == nil || len(keys) == 0 {
		return
	}

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("invalidator panic: %v", p)
			}
		}()
		return r.invalidator.Invalidate(keys)
	}()

	r.metrics.Invalidation(err == nil)
	if err != nil {
		logger.Warn("cache invalidation failed", "keys", keys, "error", err)
		r.incr(&r.invalidationErrors)
	}
}

func (r *router) dispatch(ev store.Event) {
	if r.dispatcher != nil {
		r.dispatcher.Dispatch(ev)
	}
}

func decodePayload(frame connection.Frame, v any) error {
	if len(frame.Payload) == 0 || string(frame.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(frame.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", frame.Type, err)
	}
	return nil
}

// frameTime returns the frame's own timestamp, or fallback when it is
// missing or malformed.
func frameTime(frame connection.Frame, fallback time.Time) time.Time {
	if frame.Timestamp == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, frame.Timestamp)
	if err != nil {
		return fallback
	}
	return t
}

func agentStatus(frameType string) model.AgentStatus {
	switch frameType {
	case TypeAgentCompleted:
		return model.AgentCompleted
	case TypeAgentPaused:
		return model.AgentPaused
	case TypeAgentError:
		return model.AgentError
	default:
		return model.AgentActive
	}
}

func isKnownType(frameType string) bool {
	switch frameType {
	case TypeAgentActivated, TypeAgentCompleted, TypeAgentPaused, TypeAgentError,
		TypeAgentMessage, TypeInterAgentCommunication, TypeAgentOutput,
		TypeArtifactGenerated, TypeWorkflowStatusChanged, TypeHeartbeat, TypeMessageAck:
		return true
	}
	return false
}
