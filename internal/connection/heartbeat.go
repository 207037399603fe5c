package connection

import (
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/rickgao/workflow-realtime/internal/store"
)

// heartbeat is the liveness supervisor of one open connection.
type heartbeat struct {
	timer        *clock.Timer
	lastSent     time.Time
	lastReceived time.Time
	missed       int
	awaiting     bool // A heartbeat was sent and not yet answered
}

// startHeartbeatLocked replaces any running supervisor. Must hold mu.
func (m *manager) startHeartbeatLocked(s *session) {
	m.stopHeartbeatLocked(s)
	hb := &heartbeat{}
	s.heartbeat = hb
	m.armHeartbeatLocked(s, hb)
}

func (m *manager) stopHeartbeatLocked(s *session) {
	if s.heartbeat == nil {
		return
	}
	if t := s.heartbeat.timer; t != nil {
		t.Stop()
	}
	s.heartbeat = nil
}

func (m *manager) armHeartbeatLocked(s *session, hb *heartbeat) {
	hb.timer = m.clock.AfterFunc(m.cfg.Heartbeat.Interval, func() {
		m.heartbeatTick(s, hb)
	})
}

// heartbeatTick counts a miss when the transport is not open or the last
// heartbeat went unanswered, then sends the next one. Reaching MaxMissed
// tears the connection down.
func (m *manager) heartbeatTick(s *session, hb *heartbeat) {
	var fx effects
	m.mu.Lock()
	if m.sessions[s.workflowID] != s || s.heartbeat != hb {
		m.mu.Unlock()
		return
	}
	hb.timer = nil

	open := s.isOpen()
	if !open || hb.awaiting {
		hb.missed++
		m.metrics.HeartbeatMissed()
		s.logger.Debug("heartbeat missed", "missed", hb.missed, "open", open)
	}

	if hb.missed >= m.cfg.Heartbeat.MaxMissed {
		m.heartbeatTimeoutLocked(s, &fx)
		m.mu.Unlock()
		m.apply(&fx)
		return
	}

	if open {
		m.sendHeartbeatLocked(s, hb, &fx)
	}
	m.armHeartbeatLocked(s, hb)
	m.mu.Unlock()

	m.apply(&fx)
}

func (m *manager) sendHeartbeatLocked(s *session, hb *heartbeat, fx *effects) {
	now := m.clock.Now()
	payload, _ := json.Marshal(struct {
		WorkflowID string `json:"workflowId"`
	}{s.workflowID})

	frame := Frame{
		Type:       "heartbeat",
		Payload:    payload,
		MessageID:  uuid.NewString(),
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		WorkflowID: s.workflowID,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("failed to encode heartbeat", "error", err)
		return
	}

	// Awaiting from reservation, not from the write.
	hb.lastSent = now
	hb.awaiting = true
	m.reserveLocked(s.link, &outFrame{data: data, heartbeat: true, at: now}, fx)
}

// heartbeatTimeoutLocked forces the session to error, closes the stale
// transport and arms a reconnect. Must hold mu.
func (m *manager) heartbeatTimeoutLocked(s *session, fx *effects) {
	m.stopHeartbeatLocked(s)

	now := m.clock.Now()
	s.lastError = &LastError{Message: ReasonHeartbeatTimeout, Timestamp: now, Retryable: true}
	m.setStatusLocked(s, StatusError, ReasonHeartbeatTimeout, fx)
	fx.emit(store.ConnectionError{
		WorkflowID: s.workflowID,
		Error:      ReasonHeartbeatTimeout,
		Retryable:  true,
		At:         now,
	})

	if l := s.link; l != nil {
		s.link = nil
		fx.close(l.transport, CloseHeartbeatTimeout, ReasonHeartbeatTimeout)
	}

	m.metrics.HeartbeatTimeout()
	s.logger.Warn("heartbeat timeout, closing connection", "max_missed", m.cfg.Heartbeat.MaxMissed)

	if s.opts.AutoReconnect {
		m.scheduleReconnectLocked(s, fx)
	}
}

// HeartbeatReceived implements Manager.
func (m *manager) HeartbeatReceived(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[workflowID]
	if !ok || s.heartbeat == nil {
		return
	}
	s.heartbeat.lastReceived = m.clock.Now()
	s.heartbeat.missed = 0
	s.heartbeat.awaiting = false
}
