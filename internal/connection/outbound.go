package connection

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/workflow-realtime/internal/store"
)

// encodeFrame stamps msg with a fresh message ID and timestamp. A
// json.RawMessage payload is sent verbatim.
func encodeFrame(msg Message, now time.Time) (Frame, []byte, error) {
	frame := Frame{
		Type:      msg.Type,
		MessageID: uuid.NewString(),
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}

	switch p := msg.Payload.(type) {
	case nil:
	case json.RawMessage:
		frame.Payload = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return Frame{}, nil, fmt.Errorf("marshal payload: %w", err)
		}
		frame.Payload = b
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return Frame{}, nil, fmt.Errorf("marshal frame: %w", err)
	}
	return frame, data, nil
}

// Send implements Manager.
func (m *manager) Send(workflowID string, msg Message) (string, error) {
	if workflowID == "" {
		return "", ErrWorkflowRequired
	}

	frame, data, err := encodeFrame(msg, m.clock.Now())
	if err != nil {
		return "", fmt.Errorf("encode %q message: %w", msg.Type, err)
	}

	var fx effects
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return "", ErrAlreadyClosed
	}

	m.sendSeq++
	s := m.sessionLocked(workflowID)
	if s.status == StatusConnected && s.isOpen() {
		m.transmitLocked(s, &PendingAck{
			WorkflowID: workflowID,
			MessageID:  frame.MessageID,
			Message:    frame,
			Data:       data,
			Attempts:   1,
			seq:        m.sendSeq,
		}, &fx)
		m.armAckTimerLocked(s)
	} else {
		m.enqueueLocked(s, OutboundEntry{
			WorkflowID: workflowID,
			MessageID:  frame.MessageID,
			Message:    frame,
			Data:       data,
			QueuedAt:   m.clock.Now(),
			seq:        m.sendSeq,
		}, &fx)
	}
	m.mu.Unlock()

	m.apply(&fx)
	return frame.MessageID, nil
}

// transmitLocked records p as pending and reserves its write on the
// session's link. The caller arms the ack sweep. Must hold mu and s must
// have a link.
func (m *manager) transmitLocked(s *session, p *PendingAck, fx *effects) {
	now := m.clock.Now()
	p.SentAt = now
	s.pending[p.MessageID] = p

	m.reserveLocked(s.link, &outFrame{
		data:    p.Data,
		pending: p,
		attempt: p.Attempts,
		at:      now,
	}, fx)
}

// reserveLocked appends f to l's outbox. Frames reserved under mu are
// written in reservation order. Must hold mu.
func (m *manager) reserveLocked(l *link, f *outFrame, fx *effects) {
	l.outMu.Lock()
	l.outbox = append(l.outbox, f)
	l.outMu.Unlock()
	fx.write(l)
}

// drain writes l's outbox. Only one goroutine writes to a link at a time;
// the others return at once and leave their frames to it. manager.mu is
// never held while the transport writes.
func (l *link) drain() {
	l.outMu.Lock()
	if l.writing {
		l.outMu.Unlock()
		return
	}
	l.writing = true
	for len(l.outbox) > 0 {
		batch := l.outbox
		l.outbox = nil
		l.outMu.Unlock()

		n, err := l.write(batch)
		var failed []*outFrame
		if err != nil {
			l.outMu.Lock()
			failed = append(failed, batch[n:]...)
			failed = append(failed, l.outbox...)
			l.outbox = nil
			l.outMu.Unlock()
		}
		l.m.settleWrites(l, batch[:n], failed, err)

		l.outMu.Lock()
	}
	l.writing = false
	l.outMu.Unlock()
}

// write sends batch in order and stops at the first failure. Returns the
// number of frames written.
func (l *link) write(batch []*outFrame) (int, error) {
	for i, f := range batch {
		if err := l.transport.Send(f.data); err != nil {
			return i, err
		}
	}
	return len(batch), nil
}

// settleWrites reports written frames and moves failed messages from
// pending back to the queue.
func (m *manager) settleWrites(l *link, sent, failed []*outFrame, writeErr error) {
	var fx effects
	m.mu.Lock()
	s := l.s
	if m.sessions[s.workflowID] != s {
		m.mu.Unlock()
		return
	}

	for _, f := range sent {
		if f.heartbeat {
			m.metrics.HeartbeatSent()
			fx.emit(store.HeartbeatSent{WorkflowID: s.workflowID, At: f.at})
			continue
		}
		m.metrics.MessageSent()
		fx.emit(store.MessageSent{
			WorkflowID:  s.workflowID,
			MessageID:   f.pending.MessageID,
			MessageType: f.pending.Message.Type,
			Attempt:     f.attempt,
			At:          f.at,
		})
	}

	if writeErr != nil {
		s.logger.Debug("write failed", "frames", len(failed), "error", writeErr)
	}

	now := m.clock.Now()
	var requeue []OutboundEntry
	for _, f := range failed {
		p := f.pending
		if p == nil || s.pending[p.MessageID] != p {
			continue
		}
		delete(s.pending, p.MessageID)
		requeue = append(requeue, OutboundEntry{
			WorkflowID: p.WorkflowID,
			MessageID:  p.MessageID,
			Message:    p.Message,
			Data:       p.Data,
			QueuedAt:   now,
			attempts:   f.attempt - 1,
			seq:        p.seq,
		})
	}
	if len(requeue) > 0 {
		m.requeueLocked(s, requeue)
		s.logger.Warn("send failed, queueing", "count", len(requeue), "error", writeErr)
	}
	m.mu.Unlock()

	m.apply(&fx)
}

// enqueueLocked holds entry until the next open. A full queue evicts its
// oldest entry. Must hold mu.
func (m *manager) enqueueLocked(s *session, entry OutboundEntry, fx *effects) {
	dropped, evicted, ok := s.queue.Push(entry)
	if !ok {
		s.logger.Error("outbound queue closed, dropping message", "message_id", entry.MessageID)
		m.metrics.MessageDropped("closed")
		return
	}
	if evicted {
		s.logger.Warn("outbound queue full, dropped oldest message",
			"dropped_id", dropped.MessageID,
			"limit", m.cfg.MaxQueued,
		)
		m.metrics.MessageDropped("queue_full")
	}

	m.metrics.MessageQueued()
	fx.emit(store.MessageQueued{
		WorkflowID:  s.workflowID,
		MessageID:   entry.MessageID,
		MessageType: entry.Message.Type,
		QueueLength: s.queue.Len(),
		At:          entry.QueuedAt,
	})
}

// requeueLocked returns entries to the queue in send order, among whatever
// was queued meanwhile. Must hold mu.
func (m *manager) requeueLocked(s *session, entries []OutboundEntry) {
	all := append(entries, s.queue.DrainTo(0)...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	s.queue.PushFront(all)
}

// flushLocked transmits every queued entry in insertion order. Must hold
// mu and s must have a link.
func (m *manager) flushLocked(s *session, fx *effects) {
	entries := s.queue.DrainTo(0)
	if len(entries) == 0 {
		return
	}

	for _, e := range entries {
		m.transmitLocked(s, &PendingAck{
			WorkflowID: e.WorkflowID,
			MessageID:  e.MessageID,
			Message:    e.Message,
			Data:       e.Data,
			Attempts:   e.attempts + 1,
			seq:        e.seq,
		}, fx)
	}

	m.armAckTimerLocked(s)
	s.logger.Debug("flushed outbound queue", "count", len(entries))
}

// armAckTimerLocked schedules the next ack sweep for the oldest pending
// frame. No-op when acks never time out. Must hold mu.
func (m *manager) armAckTimerLocked(s *session) {
	if m.cfg.AckTimeout <= 0 || s.ackTimer != nil || len(s.pending) == 0 {
		return
	}

	var oldest time.Time
	for _, p := range s.pending {
		if oldest.IsZero() || p.SentAt.Before(oldest) {
			oldest = p.SentAt
		}
	}

	delay := oldest.Add(m.cfg.AckTimeout).Sub(m.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.ackGen++
	gen := s.ackGen
	s.ackTimer = m.clock.AfterFunc(delay, func() {
		m.ackSweep(s, gen)
	})
}

// ackSweep handles pending frames older than AckTimeout, oldest first:
// retransmit while open and retries remain, re-queue while not open, and
// drop once retries are spent. A sweep whose timer was cancelled or
// replaced does nothing.
func (m *manager) ackSweep(s *session, gen uint64) {
	var fx effects
	m.mu.Lock()
	if m.sessions[s.workflowID] != s || s.ackTimer == nil || s.ackGen != gen {
		m.mu.Unlock()
		return
	}
	s.ackTimer = nil

	now := m.clock.Now()
	var expired []*PendingAck
	for _, p := range s.pending {
		if now.Sub(p.SentAt) >= m.cfg.AckTimeout {
			expired = append(expired, p)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].seq < expired[j].seq })

	open := s.status == StatusConnected && s.isOpen()
	var requeue []OutboundEntry
	for _, p := range expired {
		var action string
		switch {
		case p.Attempts > m.cfg.MaxAckRetries:
			delete(s.pending, p.MessageID)
			m.metrics.MessageDropped("ack_timeout")
			action = store.AckActionDropped

		case open:
			p.Attempts++
			m.transmitLocked(s, p, &fx)
			action = store.AckActionRetried

		default:
			delete(s.pending, p.MessageID)
			requeue = append(requeue, OutboundEntry{
				WorkflowID: p.WorkflowID,
				MessageID:  p.MessageID,
				Message:    p.Message,
				Data:       p.Data,
				QueuedAt:   now,
				attempts:   p.Attempts,
				seq:        p.seq,
			})
			action = store.AckActionRequeued
		}

		m.metrics.AckTimeout(action)
		fx.emit(store.MessageAckTimeout{
			WorkflowID: s.workflowID,
			MessageID:  p.MessageID,
			Attempts:   p.Attempts,
			Action:     action,
			At:         now,
		})
		s.logger.Warn("ack timeout", "message_id", p.MessageID, "attempts", p.Attempts, "action", action)
	}

	if len(requeue) > 0 {
		m.requeueLocked(s, requeue)
	}
	m.armAckTimerLocked(s)
	m.mu.Unlock()

	m.apply(&fx)
}

// Acknowledge implements Manager.
func (m *manager) Acknowledge(workflowID, messageID string) bool {
	var fx effects
	m.mu.Lock()
	s, ok := m.sessions[workflowID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	p, ok := s.pending[messageID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(s.pending, messageID)
	if len(s.pending) == 0 {
		s.cancelAckSweep()
	}

	now := m.clock.Now()
	rtt := now.Sub(p.SentAt)
	m.metrics.AckReceived(rtt.Seconds())
	fx.emit(store.MessageAcknowledged{
		WorkflowID: workflowID,
		MessageID:  messageID,
		RoundTrip:  rtt,
		At:         now,
	})
	m.mu.Unlock()

	m.apply(&fx)
	return true
}
