package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rickgao/workflow-realtime/internal/buffer"
	"github.com/rickgao/workflow-realtime/internal/metrics"
	"github.com/rickgao/workflow-realtime/internal/store"
)

// Manager owns one real-time connection per workflow.
type Manager interface {
	// Connect opens the workflow's connection unless one already exists.
	// Failures are reported through the dispatcher and retried; the only
	// errors returned are for a missing workflow ID or a stopped manager.
	Connect(workflowID string, opts ...ConnectOption) error

	// Disconnect closes the workflow's connection with a user initiated
	// close and forgets everything held for it. No-op for unknown workflows.
	Disconnect(workflowID string)

	// Send transmits msg if the workflow is connected and queues it
	// otherwise. Returns the assigned message ID.
	Send(workflowID string, msg Message) (string, error)

	// Status returns the transport state of the workflow's connection.
	Status(workflowID string) Status

	// ActiveConnections returns the workflows whose transport is open.
	ActiveConnections() []string

	// State returns a snapshot of the workflow's connection record.
	State(workflowID string) (ConnectionState, bool)

	// HeartbeatReceived records a heartbeat from the server.
	HeartbeatReceived(workflowID string)

	// Acknowledge settles a pending frame. Returns false if it was unknown.
	Acknowledge(workflowID, messageID string) bool

	// SetHandler installs the consumer of inbound frames.
	SetHandler(h Handler)

	// Stats returns current connection statistics.
	Stats() ManagerStats

	// Stop disconnects every workflow. Connect fails afterwards.
	Stop(ctx context.Context) error
}

// Option configures a Manager.
type Option func(*manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *manager) { m.logger = logger }
}

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(m *manager) { m.clock = c }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *manager) { m.dialer = d }
}

// WithMetrics records connection metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *manager) { m.metrics = mt }
}

// WithHandler installs the inbound frame handler.
func WithHandler(h Handler) Option {
	return func(m *manager) { m.handler = h }
}

// manager implements the Manager interface.
type manager struct {
	cfg        ManagerConfig
	dispatcher store.Dispatcher
	dialer     Dialer
	clock      clock.Clock
	metrics    *metrics.Metrics
	limiter    *rate.Limiter
	logger     *slog.Logger

	handlerMu sync.RWMutex
	handler   Handler

	// Registry
	mu       sync.Mutex
	sessions map[string]*session
	sendSeq  uint64
	stopped  bool
}

// NewManager creates a Connection Manager that reports to dispatcher.
func NewManager(cfg ManagerConfig, dispatcher store.Dispatcher, opts ...Option) Manager {
	m := &manager{
		dispatcher: dispatcher,
		sessions:   make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.dialer == nil {
		m.dialer = NewWSDialer(DefaultDialerConfig(), m.logger)
	}

	m.cfg = normalizeConfig(cfg)
	if m.cfg.ReconnectRate > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(m.cfg.ReconnectRate), m.cfg.ReconnectBurst)
	}

	return m
}

// normalizeConfig fills zero values with defaults.
func normalizeConfig(cfg ManagerConfig) ManagerConfig {
	def := DefaultManagerConfig()
	if cfg.PathTemplate == "" {
		cfg.PathTemplate = def.PathTemplate
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.ReconnectMultiplier < 1 {
		cfg.ReconnectMultiplier = 1
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if cfg.ReconnectBurst <= 0 {
		cfg.ReconnectBurst = 1
	}
	if cfg.Heartbeat.Interval <= 0 {
		cfg.Heartbeat.Interval = def.Heartbeat.Interval
	}
	if cfg.Heartbeat.MaxMissed <= 0 {
		cfg.Heartbeat.MaxMissed = def.Heartbeat.MaxMissed
	}
	if cfg.MaxQueued <= 0 {
		cfg.MaxQueued = def.MaxQueued
	}
	if cfg.AckTimeout < 0 {
		cfg.AckTimeout = 0
	}
	if cfg.MaxAckRetries < 0 {
		cfg.MaxAckRetries = 0
	}
	return cfg
}

// defaultOptions returns the per-workflow options implied by the config.
func (m *manager) defaultOptions() Options {
	return Options{
		PathTemplate:         m.cfg.PathTemplate,
		Subprotocols:         m.cfg.Subprotocols,
		ReconnectDelay:       m.cfg.ReconnectDelay,
		MaxReconnectAttempts: m.cfg.MaxReconnectAttempts,
		AutoReconnect:        m.cfg.AutoReconnect,
	}
}

// Connect implements Manager.
func (m *manager) Connect(workflowID string, opts ...ConnectOption) error {
	if workflowID == "" {
		return ErrWorkflowRequired
	}

	var fx effects
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}

	s := m.sessionLocked(workflowID)
	if !s.configured {
		o := m.defaultOptions()
		for _, opt := range opts {
			opt(&o)
		}
		if o.ReconnectDelay <= 0 {
			o.ReconnectDelay = m.cfg.ReconnectDelay
		}
		if o.MaxReconnectAttempts < 0 {
			o.MaxReconnectAttempts = 0
		}
		s.configure(o, m.cfg)
	}

	if s.link != nil {
		m.mu.Unlock()
		return nil
	}

	// An explicit connect starts a fresh retry budget.
	s.cancelReconnect()
	s.reconnectAttempts = 0
	s.backoff.Reset()

	m.openLocked(s, &fx)
	m.mu.Unlock()

	m.apply(&fx)
	return nil
}

// sessionLocked returns the workflow's record, creating a queue-only one
// if none exists. Must hold mu.
func (m *manager) sessionLocked(workflowID string) *session {
	if s, ok := m.sessions[workflowID]; ok {
		return s
	}
	s := &session{
		workflowID: workflowID,
		logger:     m.logger.With("workflow_id", workflowID),
		status:     StatusDisconnected,
		queue:      buffer.NewQueue[OutboundEntry](16, m.cfg.MaxQueued),
		pending:    make(map[string]*PendingAck),
	}
	m.sessions[workflowID] = s
	return s
}

// openLocked constructs a transport for s and schedules its start. Must
// hold mu.
func (m *manager) openLocked(s *session, fx *effects) {
	m.setStatusLocked(s, StatusConnecting, "", fx)

	rawURL := s.opts.URL
	var err error
	if rawURL == "" {
		rawURL, err = BuildURL(m.cfg.Origin, s.opts.PathTemplate, s.workflowID)
	}
	s.url = rawURL

	var t Transport
	l := &link{m: m, s: s}
	if err == nil {
		t, err = m.dialer.NewTransport(rawURL, s.opts.Subprotocols, l)
	}
	if err != nil {
		s.logger.Warn("failed to create transport", "url", rawURL, "error", err)
		m.metrics.ConnectFailed()

		now := m.clock.Now()
		s.lastError = &LastError{Message: err.Error(), Timestamp: now, Retryable: true}
		m.setStatusLocked(s, StatusError, err.Error(), fx)
		fx.emit(store.ConnectionError{
			WorkflowID: s.workflowID,
			Error:      err.Error(),
			Retryable:  true,
			At:         now,
		})
		if s.opts.AutoReconnect {
			m.scheduleReconnectLocked(s, fx)
		}
		return
	}

	l.transport = t
	s.link = l
	s.linked = true
	fx.start(t)

	s.logger.Debug("connecting", "url", rawURL, "attempt", s.reconnectAttempts)
}

// setStatusLocked moves s through the connection FSM. Statuses without a
// dedicated event are reported as connection_status_changed. Must hold mu.
func (m *manager) setStatusLocked(s *session, to Status, reason string, fx *effects) bool {
	from := s.status
	if from == to {
		return true
	}
	if !canTransition(from, to) {
		s.logger.Warn("rejected status transition", "from", from, "to", to)
		return false
	}
	if from == StatusConnected {
		m.metrics.ConnectionClosed()
	}
	s.status = to

	if to == StatusConnecting || to == StatusError {
		fx.emit(store.ConnectionStatusChanged{
			WorkflowID: s.workflowID,
			Status:     string(to),
			Reason:     reason,
			At:         m.clock.Now(),
		})
	}
	return true
}

// currentLocked reports whether l is still the live link of a registered
// session. Must hold mu.
func (m *manager) currentLocked(l *link) bool {
	return m.sessions[l.s.workflowID] == l.s && l.s.link == l
}

func (m *manager) handleOpen(l *link) {
	var fx effects
	m.mu.Lock()
	if !m.currentLocked(l) {
		m.mu.Unlock()
		return
	}

	s := l.s
	if !m.setStatusLocked(s, StatusConnected, "", &fx) {
		m.mu.Unlock()
		m.apply(&fx)
		return
	}

	now := m.clock.Now()
	s.connectionID = uuid.NewString()
	s.connectedAt = now
	s.lastActivity = now
	s.reconnectAttempts = 0
	s.backoff.Reset()
	s.cancelReconnect()
	s.lastError = nil
	m.metrics.ConnectionOpened()

	m.startHeartbeatLocked(s)
	m.flushLocked(s, &fx)

	fx.emit(store.ConnectionEstablished{
		WorkflowID:   s.workflowID,
		ConnectionID: s.connectionID,
		At:           now,
	})
	s.logger.Info("connected", "connection_id", s.connectionID, "url", s.url)
	m.mu.Unlock()

	m.apply(&fx)
}

func (m *manager) handleMessage(l *link, data []byte, receivedAt time.Time) {
	m.mu.Lock()
	if !m.currentLocked(l) {
		m.mu.Unlock()
		return
	}
	l.s.lastActivity = receivedAt
	m.mu.Unlock()

	m.handlerMu.RLock()
	h := m.handler
	m.handlerMu.RUnlock()
	if h == nil {
		return
	}

	h.Route(RawMessage{
		WorkflowID: l.s.workflowID,
		Data:       data,
		ReceivedAt: receivedAt,
	})
}

func (m *manager) handleClose(l *link, code int, reason string, wasClean bool) {
	var fx effects
	m.mu.Lock()
	if !m.currentLocked(l) {
		m.mu.Unlock()
		return
	}

	s := l.s
	s.link = nil
	m.stopHeartbeatLocked(s)
	if s.status == StatusConnecting {
		m.metrics.ConnectFailed()
	}
	m.setStatusLocked(s, StatusDisconnected, reason, &fx)

	now := m.clock.Now()
	fx.emit(store.ConnectionLost{
		WorkflowID: s.workflowID,
		Reason:     reason,
		Code:       code,
		WasClean:   wasClean,
		At:         now,
	})
	s.logger.Info("connection closed", "code", code, "reason", reason, "clean", wasClean)

	if !wasClean {
		msg := reason
		if msg == "" {
			msg = fmt.Sprintf("connection closed with code %d", code)
		}
		s.lastError = &LastError{Message: msg, Timestamp: now, Retryable: true}
		if s.opts.AutoReconnect {
			m.scheduleReconnectLocked(s, &fx)
		}
	}
	m.mu.Unlock()

	m.apply(&fx)
}

func (m *manager) handleError(l *link, err error) {
	var fx effects
	m.mu.Lock()
	if !m.currentLocked(l) {
		m.mu.Unlock()
		return
	}

	s := l.s
	now := m.clock.Now()
	s.lastError = &LastError{Message: err.Error(), Timestamp: now, Retryable: true}
	fx.emit(store.ConnectionError{
		WorkflowID: s.workflowID,
		Error:      err.Error(),
		Retryable:  true,
		At:         now,
	})
	s.logger.Warn("transport error", "error", err)
	m.mu.Unlock()

	m.apply(&fx)
}

// Disconnect implements Manager.
func (m *manager) Disconnect(workflowID string) {
	var fx effects
	m.mu.Lock()
	s, ok := m.sessions[workflowID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, workflowID)

	s.cancelReconnect()
	s.cancelAckSweep()
	m.stopHeartbeatLocked(s)

	l := s.link
	s.link = nil
	if s.status == StatusConnected {
		m.metrics.ConnectionClosed()
	}
	s.status = StatusDisconnected

	dropped := len(s.queue.DrainTo(0)) + len(s.pending)
	s.pending = make(map[string]*PendingAck)
	for i := 0; i < dropped; i++ {
		m.metrics.MessageDropped("disconnected")
	}
	if dropped > 0 {
		s.logger.Info("discarded undelivered messages", "count", dropped)
	}

	// A queue-only record never had a connection to lose.
	if s.linked {
		fx.emit(store.ConnectionLost{
			WorkflowID: workflowID,
			Reason:     ReasonUserInitiated,
			Code:       CloseNormal,
			WasClean:   true,
			At:         m.clock.Now(),
		})
	}
	if l != nil {
		fx.close(l.transport, CloseNormal, ReasonUserInitiated)
	}
	s.logger.Info("disconnected")
	m.mu.Unlock()

	m.apply(&fx)
}

// Status implements Manager.
func (m *manager) Status(workflowID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[workflowID]
	if !ok || s.link == nil {
		return StatusDisconnected
	}

	switch s.link.transport.State() {
	case TransportConnecting:
		return StatusConnecting
	case TransportOpen:
		return StatusConnected
	case TransportClosing:
		return StatusClosing
	case TransportClosed:
		return StatusDisconnected
	default:
		return StatusUnknown
	}
}

// ActiveConnections implements Manager.
func (m *manager) ActiveConnections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, s := range m.sessions {
		if s.isOpen() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// State implements Manager.
func (m *manager) State(workflowID string) (ConnectionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[workflowID]
	if !ok {
		return ConnectionState{}, false
	}

	st := ConnectionState{
		WorkflowID:        s.workflowID,
		Status:            s.status,
		ConnectionID:      s.connectionID,
		URL:               s.url,
		ConnectedAt:       s.connectedAt,
		LastActivity:      s.lastActivity,
		ReconnectAttempts: s.reconnectAttempts,
		Queued:            s.queue.Len(),
		PendingAcks:       len(s.pending),
		Options:           s.opts,
	}
	if s.lastError != nil {
		le := *s.lastError
		st.LastError = &le
	}
	if hb := s.heartbeat; hb != nil {
		st.Heartbeat = &HeartbeatState{
			LastSent:     hb.lastSent,
			LastReceived: hb.lastReceived,
			MissedCount:  hb.missed,
		}
	}
	st.Options.Subprotocols = append([]string(nil), s.opts.Subprotocols...)
	return st, true
}

// SetHandler implements Manager.
func (m *manager) SetHandler(h Handler) {
	m.handlerMu.Lock()
	m.handler = h
	m.handlerMu.Unlock()
}

// Stats implements Manager.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{Workflows: len(m.sessions)}
	for _, s := range m.sessions {
		switch s.status {
		case StatusConnected:
			stats.Connected++
		case StatusConnecting:
			stats.Connecting++
		case StatusError:
			stats.Errored++
		}
		stats.Queued += s.queue.Len()
		stats.PendingAcks += len(s.pending)
	}
	return stats
}

// Stop implements Manager.
func (m *manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	m.logger.Info("stopping connection manager", "workflows", len(ids))

	sort.Strings(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stop connection manager: %w", err)
		}
		m.Disconnect(id)
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// apply runs the side effects collected under mu, in order, after mu is
// released.
func (m *manager) apply(fx *effects) {
	if m.dispatcher != nil {
		for _, ev := range fx.events {
			m.dispatcher.Dispatch(ev)
		}
	}
	for _, l := range fx.writes {
		l.drain()
	}
	for _, c := range fx.closes {
		if err := c.transport.Close(c.code, c.reason); err != nil {
			m.logger.Debug("transport close failed", "error", err)
		}
	}
	for _, t := range fx.starts {
		t.Start()
	}
}
