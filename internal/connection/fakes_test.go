package connection

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// testClock is a clock.Mock whose Add returns once the timer callbacks it
// fired have finished. The mock runs each callback on its own goroutine.
type testClock struct {
	*clock.Mock
	running atomic.Int64
}

func newTestClock() *testClock {
	c := &testClock{Mock: clock.NewMock()}
	c.Set(testEpoch)
	return c
}

func (c *testClock) AfterFunc(d time.Duration, f func()) *clock.Timer {
	return c.Mock.AfterFunc(d, func() {
		c.running.Add(1)
		defer c.running.Add(-1)
		f()
	})
}

func (c *testClock) Add(d time.Duration) {
	c.Mock.Add(d)
	for c.running.Load() > 0 {
		time.Sleep(time.Millisecond)
	}
}

// fakeTransport is a Transport driven by the test. Events are delivered
// synchronously on the calling goroutine.
type fakeTransport struct {
	url          string
	subprotocols []string
	events       TransportEvents

	mu      sync.Mutex
	state   TransportState
	started bool
	sent    [][]byte
	sendErr error
	closes  []closeEvent
	gate    chan struct{} // Send blocks until closed
	blocked chan struct{}
}

func (t *fakeTransport) Start() {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	gate, blocked := t.gate, t.blocked
	t.mu.Unlock()
	if gate != nil {
		select {
		case blocked <- struct{}{}:
		default:
		}
		<-gate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TransportOpen {
		return ErrNotConnected
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes = append(t.closes, closeEvent{code: code, reason: reason, wasClean: true})
	t.state = TransportClosed
	return nil
}

func (t *fakeTransport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) setState(s TransportState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *fakeTransport) setSendErr(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

// stall makes Send block until release is called.
func (t *fakeTransport) stall() (release func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	gate := make(chan struct{})
	t.gate = gate
	t.blocked = make(chan struct{}, 1)

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// waitBlocked waits until a Send is held by stall.
func (t *fakeTransport) waitBlocked(tb testing.TB) {
	tb.Helper()
	t.mu.Lock()
	blocked := t.blocked
	t.mu.Unlock()

	select {
	case <-blocked:
	case <-time.After(time.Second):
		tb.Fatal("no Send reached the transport")
	}
}

// open moves the transport to open and fires OnOpen.
func (t *fakeTransport) open() {
	t.setState(TransportOpen)
	t.events.OnOpen()
}

// drop closes the transport from the server side.
func (t *fakeTransport) drop(code int, reason string, wasClean bool) {
	t.setState(TransportClosed)
	t.events.OnClose(code, reason, wasClean)
}

func (t *fakeTransport) receive(data string) {
	t.events.OnMessage([]byte(data), testEpoch)
}

func (t *fakeTransport) isStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func (t *fakeTransport) closeRequests() []closeEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]closeEvent(nil), t.closes...)
}

// frames decodes every frame written so far.
func (t *fakeTransport) frames(tb testing.TB) []Frame {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()

	frames := make([]Frame, 0, len(t.sent))
	for _, data := range t.sent {
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			tb.Fatalf("unmarshal sent frame %q: %v", data, err)
		}
		frames = append(frames, f)
	}
	return frames
}

// framesOfType filters frames by type.
func (t *fakeTransport) framesOfType(tb testing.TB, frameType string) []Frame {
	tb.Helper()
	var out []Frame
	for _, f := range t.frames(tb) {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

// fakeDialer records every transport it creates.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	err        error
}

func (d *fakeDialer) NewTransport(rawURL string, subprotocols []string, events TransportEvents) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	t := &fakeTransport{
		url:          rawURL,
		subprotocols: subprotocols,
		events:       events,
		state:        TransportConnecting,
	}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) last(tb testing.TB) *fakeTransport {
	tb.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		tb.Fatal("no transport created")
	}
	return d.transports[len(d.transports)-1]
}
