package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TransportEvents receives a transport's lifecycle callbacks. OnOpen,
// OnMessage and the final OnClose are delivered from one goroutine in that
// order. OnClose is delivered at most once.
type TransportEvents interface {
	OnOpen()
	OnMessage(data []byte, receivedAt time.Time)
	OnClose(code int, reason string, wasClean bool)
	OnError(err error)
}

// Transport is a single bidirectional connection to the gateway.
type Transport interface {
	// Start begins connecting. Events are delivered asynchronously.
	Start()

	// Send writes one text frame. Returns ErrNotConnected unless open.
	Send(data []byte) error

	// Close starts the close handshake with the given code and reason.
	// Closing a transport that is still connecting aborts the dial.
	Close(code int, reason string) error

	// State returns the current ready state.
	State() TransportState
}

// Dialer constructs transports. NewTransport must not block on the
// network; connection failures are reported through events.
type Dialer interface {
	NewTransport(rawURL string, subprotocols []string, events TransportEvents) (Transport, error)
}

// DialerConfig configures WebSocket transports.
type DialerConfig struct {
	Header           http.Header   // Sent with every handshake
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	WriteTimeout     time.Duration // Write deadline for sends
	ReadLimit        int64         // Max inbound frame size, 0 = unlimited
}

// DefaultDialerConfig returns sensible defaults.
func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// WSDialer creates gorilla/websocket transports.
type WSDialer struct {
	cfg    DialerConfig
	logger *slog.Logger
}

var _ Dialer = (*WSDialer)(nil)

// NewWSDialer creates a dialer.
func NewWSDialer(cfg DialerConfig, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSDialer{cfg: cfg, logger: logger}
}

// NewTransport validates rawURL and returns an unstarted transport.
func (d *WSDialer) NewTransport(rawURL string, subprotocols []string, events TransportEvents) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	return &wsTransport{
		cfg:          d.cfg,
		url:          rawURL,
		subprotocols: append([]string(nil), subprotocols...),
		events:       events,
		logger:       d.logger.With("url", rawURL),
		state:        TransportConnecting,
	}, nil
}

// wsTransport implements Transport over gorilla/websocket.
type wsTransport struct {
	cfg          DialerConfig
	url          string
	subprotocols []string
	events       TransportEvents
	logger       *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	// State
	mu             sync.Mutex
	conn           *websocket.Conn
	state          TransportState
	started        bool
	cancelDial     context.CancelFunc
	closeRequested bool
	closeCode      int
	closeReason    string
}

// Start dials in a new goroutine.
func (t *wsTransport) Start() {
	t.mu.Lock()
	if t.started || t.state != TransportConnecting {
		t.mu.Unlock()
		return
	}
	t.started = true
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelDial = cancel
	t.mu.Unlock()

	go t.run(ctx)
}

// run owns the connection for its whole life: dial, read, report close.
func (t *wsTransport) run(ctx context.Context) {
	defer t.cancelDial()

	var header http.Header
	if t.cfg.Header != nil {
		header = t.cfg.Header.Clone()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.cfg.HandshakeTimeout,
		Subprotocols:     t.subprotocols,
	}

	conn, _, err := dialer.DialContext(ctx, t.url, header)

	t.mu.Lock()
	requested, code, reason := t.closeRequested, t.closeCode, t.closeReason
	if err != nil {
		t.state = TransportClosed
		t.mu.Unlock()

		if requested {
			t.events.OnClose(code, reason, true)
			return
		}
		t.logger.Debug("websocket dial failed", "error", err)
		t.events.OnError(fmt.Errorf("dial: %w", err))
		t.events.OnClose(CloseAbnormal, err.Error(), false)
		return
	}
	if requested {
		// Close arrived while the handshake was in flight.
		t.state = TransportClosed
		t.mu.Unlock()

		t.writeClose(conn, code, reason)
		conn.Close()
		t.events.OnClose(code, reason, true)
		return
	}
	t.conn = conn
	t.state = TransportOpen
	t.mu.Unlock()

	if t.cfg.ReadLimit > 0 {
		conn.SetReadLimit(t.cfg.ReadLimit)
	}

	t.logger.Debug("websocket connected", "subprotocol", conn.Subprotocol())
	t.events.OnOpen()
	t.readLoop(conn)
}

// readLoop delivers frames until the connection fails or is closed.
func (t *wsTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			t.finish(conn, err)
			return
		}
		t.events.OnMessage(data, receivedAt)
	}
}

// finish reports the terminal close for a connection that was open.
func (t *wsTransport) finish(conn *websocket.Conn, err error) {
	t.mu.Lock()
	requested, code, reason := t.closeRequested, t.closeCode, t.closeReason
	t.state = TransportClosed
	t.mu.Unlock()

	conn.Close()

	if requested {
		t.events.OnClose(code, reason, true)
		return
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		// A close frame from the peer completes the handshake; 1006 is
		// synthesized locally for a dropped connection.
		clean := ce.Code != websocket.CloseAbnormalClosure
		if !clean {
			t.events.OnError(err)
		}
		t.events.OnClose(ce.Code, ce.Text, clean)
		return
	}

	t.events.OnError(err)
	t.events.OnClose(CloseAbnormal, err.Error(), false)
}

// Send writes one text frame.
func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	if t.state != TransportOpen {
		t.mu.Unlock()
		return ErrNotConnected
	}
	conn := t.conn
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and tears the connection down.
func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	switch t.state {
	case TransportClosing, TransportClosed:
		t.mu.Unlock()
		return nil

	case TransportConnecting:
		t.closeRequested = true
		t.closeCode, t.closeReason = code, reason
		if !t.started {
			t.state = TransportClosed
			t.mu.Unlock()
			return nil
		}
		t.state = TransportClosing
		cancel := t.cancelDial
		t.mu.Unlock()
		cancel()
		return nil
	}

	t.closeRequested = true
	t.closeCode, t.closeReason = code, reason
	t.state = TransportClosing
	conn := t.conn
	t.mu.Unlock()

	t.writeClose(conn, code, reason)
	// Unblocks readLoop, which reports OnClose.
	return conn.Close()
}

// State returns the current ready state.
func (t *wsTransport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *wsTransport) writeClose(conn *websocket.Conn, code int, reason string) {
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	if err != nil {
		t.logger.Debug("failed to send close frame", "error", err)
	}
}
