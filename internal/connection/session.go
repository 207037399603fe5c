package connection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/rickgao/workflow-realtime/internal/buffer"
	"github.com/rickgao/workflow-realtime/internal/store"
)

// session is the registry record for one workflow. Every field is guarded
// by manager.mu.
type session struct {
	workflowID string
	opts       Options
	configured bool // opts captured by the first Connect
	logger     *slog.Logger

	url          string
	status       Status
	link         *link // Nil when no transport exists
	linked       bool  // A transport was created at least once
	connectionID string
	connectedAt  time.Time
	lastActivity time.Time

	reconnectAttempts int
	reconnectTimer    *clock.Timer
	reconnectGen      uint64
	backoff           *backoff.ExponentialBackOff
	lastError         *LastError

	heartbeat *heartbeat // Nil unless connected

	queue    *buffer.Queue[OutboundEntry]
	pending  map[string]*PendingAck
	ackTimer *clock.Timer
	ackGen   uint64
}

// link binds one transport to its session. Events from a link that is no
// longer the session's current link are ignored.
type link struct {
	m         *manager
	s         *session
	transport Transport

	// Writes reserved under manager.mu, drained in order outside it.
	outMu   sync.Mutex
	outbox  []*outFrame
	writing bool
}

// outFrame is one reserved write: a pending message or a heartbeat.
type outFrame struct {
	data      []byte
	pending   *PendingAck
	attempt   int
	heartbeat bool
	at        time.Time
}

var _ TransportEvents = (*link)(nil)

func (l *link) OnOpen() { l.m.handleOpen(l) }

func (l *link) OnMessage(data []byte, receivedAt time.Time) {
	l.m.handleMessage(l, data, receivedAt)
}

func (l *link) OnClose(code int, reason string, wasClean bool) {
	l.m.handleClose(l, code, reason, wasClean)
}

func (l *link) OnError(err error) { l.m.handleError(l, err) }

func (s *session) isOpen() bool {
	return s.link != nil && s.link.transport.State() == TransportOpen
}

func (s *session) cancelReconnect() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *session) cancelAckSweep() {
	if s.ackTimer != nil {
		s.ackTimer.Stop()
		s.ackTimer = nil
	}
}

// canTransition reports whether the connection FSM allows from → to.
func canTransition(from, to Status) bool {
	switch from {
	case StatusDisconnected:
		return to == StatusConnecting || to == StatusError
	case StatusError:
		return to == StatusConnecting
	case StatusConnecting:
		return to == StatusConnected || to == StatusDisconnected || to == StatusError
	case StatusConnected:
		return to == StatusDisconnected || to == StatusError
	}
	return false
}

// configure captures the options of the first Connect.
func (s *session) configure(opts Options, cfg ManagerConfig) {
	s.opts = opts
	s.configured = true

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.ReconnectDelay
	b.RandomizationFactor = 0
	b.Multiplier = cfg.ReconnectMultiplier
	b.MaxInterval = cfg.ReconnectMaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	s.backoff = b
}

// effects collects the work produced under manager.mu that must run after
// it is released: store dispatch, then link writes, then transport closes,
// then starts.
type effects struct {
	events []store.Event
	writes []*link
	closes []closeRequest
	starts []Transport
}

type closeRequest struct {
	transport Transport
	code      int
	reason    string
}

func (fx *effects) emit(ev store.Event) {
	fx.events = append(fx.events, ev)
}

// write schedules a drain of l's outbox.
func (fx *effects) write(l *link) {
	for _, w := range fx.writes {
		if w == l {
			return
		}
	}
	fx.writes = append(fx.writes, l)
}

func (fx *effects) close(t Transport, code int, reason string) {
	fx.closes = append(fx.closes, closeRequest{transport: t, code: code, reason: reason})
}

func (fx *effects) start(t Transport) {
	fx.starts = append(fx.starts, t)
}
