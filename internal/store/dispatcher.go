package store

import "sync"

// Dispatcher accepts events. Implementations must be safe for concurrent
// use and should not block for long; the connection layer calls Dispatch
// on transport and timer goroutines.
type Dispatcher interface {
	Dispatch(ev Event)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ev Event)

// Dispatch calls f(ev).
func (f DispatcherFunc) Dispatch(ev Event) { f(ev) }

// Fanout dispatches every event to each target in order.
type Fanout []Dispatcher

// Dispatch forwards ev to every non-nil target.
func (f Fanout) Dispatch(ev Event) {
	for _, d := range f {
		if d != nil {
			d.Dispatch(ev)
		}
	}
}

// Recorder is a Dispatcher that keeps every event in memory. Used by tests
// and by cmd/streamtest.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Dispatch appends ev.
func (r *Recorder) Dispatch(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events with the given type, in order.
func (r *Recorder) OfType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type() == t {
			out = append(out, ev)
		}
	}
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
