package connection

import (
	"github.com/rickgao/workflow-realtime/internal/store"
)

// scheduleReconnectLocked arms the session's single reconnect timer. Once
// MaxReconnectAttempts is reached the session is parked in error instead.
// Must hold mu.
func (m *manager) scheduleReconnectLocked(s *session, fx *effects) {
	if s.reconnectTimer != nil {
		return
	}

	now := m.clock.Now()
	if limit := s.opts.MaxReconnectAttempts; limit > 0 && s.reconnectAttempts >= limit {
		s.lastError = &LastError{Message: ReasonAttemptsExceeded, Timestamp: now, Retryable: false}
		m.setStatusLocked(s, StatusError, ReasonAttemptsExceeded, fx)
		fx.emit(store.ConnectionError{
			WorkflowID: s.workflowID,
			Error:      ReasonAttemptsExceeded,
			Retryable:  false,
			At:         now,
		})
		m.metrics.ReconnectExhausted()
		s.logger.Warn("giving up on reconnecting", "attempts", s.reconnectAttempts)
		return
	}

	delay := s.backoff.NextBackOff()
	if m.limiter != nil {
		if r := m.limiter.ReserveN(now, 1); r.OK() {
			if wait := r.DelayFrom(now); wait > delay {
				delay = wait
			}
		}
	}

	s.reconnectGen++
	gen := s.reconnectGen
	s.reconnectTimer = m.clock.AfterFunc(delay, func() {
		m.reconnectFired(s, gen)
	})

	attempt := s.reconnectAttempts + 1
	fx.emit(store.ReconnectScheduled{
		WorkflowID: s.workflowID,
		Attempt:    attempt,
		Delay:      delay,
		At:         now,
	})
	m.metrics.ReconnectScheduled()
	s.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// reconnectFired re-opens the session unless it was removed, already has
// a transport, or the timer that fired is no longer the armed one.
func (m *manager) reconnectFired(s *session, gen uint64) {
	var fx effects
	m.mu.Lock()
	if m.stopped || m.sessions[s.workflowID] != s || s.reconnectTimer == nil || s.reconnectGen != gen {
		m.mu.Unlock()
		return
	}
	s.reconnectTimer = nil
	if s.link != nil {
		m.mu.Unlock()
		return
	}

	s.reconnectAttempts++
	m.openLocked(s, &fx)
	m.mu.Unlock()

	m.apply(&fx)
}
