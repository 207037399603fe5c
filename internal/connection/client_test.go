package connection

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin:  func(r *http.Request) bool { return true },
		Subprotocols: []string{"workflow.v1"},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

type closeEvent struct {
	code     int
	reason   string
	wasClean bool
}

// eventRecorder collects transport events on channels.
type eventRecorder struct {
	opened   chan struct{}
	messages chan []byte
	closed   chan closeEvent
	errs     chan error
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		opened:   make(chan struct{}, 1),
		messages: make(chan []byte, 16),
		closed:   make(chan closeEvent, 1),
		errs:     make(chan error, 4),
	}
}

func (r *eventRecorder) OnOpen() { r.opened <- struct{}{} }

func (r *eventRecorder) OnMessage(data []byte, _ time.Time) { r.messages <- data }

func (r *eventRecorder) OnError(err error) { r.errs <- err }

func (r *eventRecorder) OnClose(code int, reason string, wasClean bool) {
	r.closed <- closeEvent{code: code, reason: reason, wasClean: wasClean}
}

func (r *eventRecorder) waitOpen(t *testing.T) {
	t.Helper()
	select {
	case <-r.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for open")
	}
}

func (r *eventRecorder) waitClose(t *testing.T) closeEvent {
	t.Helper()
	select {
	case ev := <-r.closed:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for close")
		return closeEvent{}
	}
}

func newTestTransport(t *testing.T, rawURL string, rec *eventRecorder) Transport {
	t.Helper()
	d := NewWSDialer(DefaultDialerConfig(), nil)
	tr, err := d.NewTransport(rawURL, []string{"workflow.v1"}, rec)
	if err != nil {
		t.Fatalf("NewTransport failed: %v", err)
	}
	return tr
}

func TestTransport_OpenSendReceive(t *testing.T) {
	received := make(chan []byte, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- msg
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	rec := newEventRecorder()
	tr := newTestTransport(t, wsURL(server), rec)

	if tr.State() != TransportConnecting {
		t.Errorf("State() before Start = %v, want connecting", tr.State())
	}
	if err := tr.Send([]byte("early")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send before open error = %v, want ErrNotConnected", err)
	}

	tr.Start()
	rec.waitOpen(t)

	if tr.State() != TransportOpen {
		t.Errorf("State() = %v, want open", tr.State())
	}
	if err := tr.Send([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg) != `{"type":"ping"}` {
			t.Errorf("server received %q, want %q", msg, `{"type":"ping"}`)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for server to receive")
	}

	select {
	case msg := <-rec.messages:
		if string(msg) != `{"type":"heartbeat"}` {
			t.Errorf("OnMessage data = %q, want heartbeat frame", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	tr.Close(CloseNormal, ReasonUserInitiated)
	ev := rec.waitClose(t)
	if ev.code != CloseNormal || ev.reason != ReasonUserInitiated || !ev.wasClean {
		t.Errorf("close = %+v, want {1000 %q true}", ev, ReasonUserInitiated)
	}
	if tr.State() != TransportClosed {
		t.Errorf("State() after close = %v, want closed", tr.State())
	}
}

func TestTransport_ServerCloseIsClean(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		conn.ReadMessage()
	})
	defer server.Close()

	rec := newEventRecorder()
	tr := newTestTransport(t, wsURL(server), rec)
	tr.Start()
	rec.waitOpen(t)

	ev := rec.waitClose(t)
	if ev.code != CloseNormal {
		t.Errorf("close code = %d, want %d", ev.code, CloseNormal)
	}
	if ev.reason != "bye" {
		t.Errorf("close reason = %q, want %q", ev.reason, "bye")
	}
	if !ev.wasClean {
		t.Error("wasClean = false, want true")
	}
}

func TestTransport_DroppedConnectionIsUnclean(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Return without a close frame; the deferred Close drops the TCP connection.
	})
	defer server.Close()

	rec := newEventRecorder()
	tr := newTestTransport(t, wsURL(server), rec)
	tr.Start()
	rec.waitOpen(t)

	ev := rec.waitClose(t)
	if ev.code != CloseAbnormal {
		t.Errorf("close code = %d, want %d", ev.code, CloseAbnormal)
	}
	if ev.wasClean {
		t.Error("wasClean = true, want false")
	}

	select {
	case <-rec.errs:
	default:
		t.Error("expected OnError before an unclean close")
	}
}

func TestTransport_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	rec := newEventRecorder()
	tr := newTestTransport(t, wsURL(server), rec)
	tr.Start()

	ev := rec.waitClose(t)
	if ev.code != CloseAbnormal || ev.wasClean {
		t.Errorf("close = %+v, want abnormal and unclean", ev)
	}
	select {
	case <-rec.opened:
		t.Error("OnOpen called for a failed dial")
	default:
	}
	select {
	case <-rec.errs:
	default:
		t.Error("expected OnError for a failed dial")
	}
}

func TestTransport_CloseBeforeStart(t *testing.T) {
	rec := newEventRecorder()
	tr := newTestTransport(t, "ws://127.0.0.1:1/realtime", rec)

	if err := tr.Close(CloseNormal, ReasonUserInitiated); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if tr.State() != TransportClosed {
		t.Errorf("State() = %v, want closed", tr.State())
	}

	// Start after Close is a no-op.
	tr.Start()
	select {
	case <-rec.opened:
		t.Error("OnOpen called after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransport_HandshakeHeaders(t *testing.T) {
	gotAuth := make(chan string, 1)
	upgrader := websocket.Upgrader{Subprotocols: []string{"workflow.v1"}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer server.Close()

	cfg := DefaultDialerConfig()
	cfg.Header = http.Header{"Authorization": []string{"Bearer secret"}}
	d := NewWSDialer(cfg, nil)

	rec := newEventRecorder()
	tr, err := d.NewTransport(wsURL(server), []string{"workflow.v1"}, rec)
	if err != nil {
		t.Fatalf("NewTransport failed: %v", err)
	}
	tr.Start()
	rec.waitOpen(t)
	defer tr.Close(CloseNormal, ReasonUserInitiated)

	if auth := <-gotAuth; auth != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", auth, "Bearer secret")
	}
	if ws, ok := tr.(*wsTransport); ok {
		ws.mu.Lock()
		proto := ws.conn.Subprotocol()
		ws.mu.Unlock()
		if proto != "workflow.v1" {
			t.Errorf("Subprotocol() = %q, want %q", proto, "workflow.v1")
		}
	}
}

func TestWSDialer_InvalidURL(t *testing.T) {
	d := NewWSDialer(DefaultDialerConfig(), nil)

	tests := []struct {
		name string
		url  string
	}{
		{"http scheme", "http://example.com/realtime"},
		{"missing host", "ws:///realtime"},
		{"unparseable", "ws://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.NewTransport(tt.url, nil, newEventRecorder())
			if !errors.Is(err, ErrInvalidURL) {
				t.Errorf("NewTransport(%q) error = %v, want ErrInvalidURL", tt.url, err)
			}
		})
	}
}

func TestTransportState_String(t *testing.T) {
	tests := []struct {
		state TransportState
		want  string
	}{
		{TransportConnecting, "connecting"},
		{TransportOpen, "open"},
		{TransportClosing, "closing"},
		{TransportClosed, "closed"},
		{TransportState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("TransportState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
